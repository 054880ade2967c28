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

// Package shm contains platform-specific helpers that back simulated regions with host memory.
package shm

import (
	"errors"
	"unsafe"
)

var errInvalidSize = errors.New("invalid region size")

// MappedRegion is host memory standing in for a kernel-mapped region.
type MappedRegion struct {
	Data []byte
	name string
	fd   int
}

// MapOptions defines options for mapping host memory.
type MapOptions struct {
	// Name selects a file under /dev/shm; empty means anonymous memory.
	Name string
	Size int
}

// Base returns the address of the first byte of the region, or 0 once unmapped.
func (r *MappedRegion) Base() uintptr {
	if r == nil || len(r.Data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.Data[0]))
}

// Len returns the mapped length in bytes.
func (r *MappedRegion) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Data)
}

// MapRegion and UnmapRegion are provided in platform-specific files.
