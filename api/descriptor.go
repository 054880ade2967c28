/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"encoding/binary"
	"errors"
)

// Exchange layout, little endian:
//
//	handle: u32
//	info:   label u32 | handle u32 | base u64 | length u64 | perms u32
const (
	HandleSize = 4
	InfoSize   = 4 + 4 + 8 + 8 + 4

	infoLabelOffset  = 0
	infoHandleOffset = infoLabelOffset + 4
	infoBaseOffset   = infoHandleOffset + 4
	infoLenOffset    = infoBaseOffset + 8
	infoPermsOffset  = infoLenOffset + 8
)

// ErrShortDescriptor is returned when an exchange buffer is smaller than the layout it holds.
var ErrShortDescriptor = errors.New("descriptor buffer too short")

// Info is the descriptor the kernel reports for a region.
type Info struct {
	Label  Label
	Handle Handle
	Base   uintptr
	Length uint
	Perms  Permission
}

// AppendBinary appends the wire form of h to b.
func (h Handle) AppendBinary(b []byte) ([]byte, error) {
	return binary.LittleEndian.AppendUint32(b, uint32(h)), nil
}

// UnmarshalBinary decodes a handle from the first HandleSize bytes of b.
func (h *Handle) UnmarshalBinary(b []byte) error {
	if len(b) < HandleSize {
		return ErrShortDescriptor
	}
	*h = Handle(binary.LittleEndian.Uint32(b))
	return nil
}

// AppendBinary appends the wire form of i to b.
func (i Info) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, uint32(i.Label))
	b = binary.LittleEndian.AppendUint32(b, uint32(i.Handle))
	b = binary.LittleEndian.AppendUint64(b, uint64(i.Base))
	b = binary.LittleEndian.AppendUint64(b, uint64(i.Length))
	b = binary.LittleEndian.AppendUint32(b, uint32(i.Perms))
	return b, nil
}

// UnmarshalBinary decodes a descriptor from the first InfoSize bytes of b.
func (i *Info) UnmarshalBinary(b []byte) error {
	if len(b) < InfoSize {
		return ErrShortDescriptor
	}
	i.Label = Label(binary.LittleEndian.Uint32(b[infoLabelOffset:]))
	i.Handle = Handle(binary.LittleEndian.Uint32(b[infoHandleOffset:]))
	i.Base = uintptr(binary.LittleEndian.Uint64(b[infoBaseOffset:]))
	i.Length = uint(binary.LittleEndian.Uint64(b[infoLenOffset:]))
	i.Perms = Permission(binary.LittleEndian.Uint32(b[infoPermsOffset:]))
	return nil
}
