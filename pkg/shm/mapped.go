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

package shm

import (
	"go.uber.org/zap"

	"github.com/srediag/sentry-shm/api"
)

// Mapped is a region mapped into the task.
//
// A nil, zero or copied Mapped behaves as a released value.
type Mapped struct {
	a accessor
}

func (m *Mapped) acc() *accessor {
	if m == nil {
		return nil
	}
	return &m.a
}

// Unmap removes the mapping and returns the region in the unmapped state,
// releasing m. On failure m is unchanged.
func (m *Mapped) Unmap() (*Unmapped, error) {
	r := m.acc().live()
	if r == nil {
		return nil, ErrReleased
	}

	span := r.tel.start("unmap", r)
	err := r.kernel.UnmapShm(r.handle).Err()
	r.tel.end(span, err)
	if err != nil {
		r.tel.log.Debug("unmap failed", r.fields(zap.Error(err))...)
		return nil, err
	}

	r.invalidate()
	m.a.release()
	u := &Unmapped{}
	u.a.own(r)
	r.tel.transitioned("unmap")
	r.tel.log.Debug("region unmapped", r.fields()...)
	return u, nil
}

func (m *Mapped) Handle() api.Handle                   { return m.acc().handle() }
func (m *Mapped) Label() api.Label                     { return m.acc().label() }
func (m *Mapped) Cached() bool                         { return m.acc().cached() }
func (m *Mapped) Info() (api.Info, error)              { return m.acc().info() }
func (m *Mapped) Permissions() (api.Permission, error) { return m.acc().permissions() }
func (m *Mapped) BaseAddress() (uintptr, error)        { return m.acc().baseAddress() }
func (m *Mapped) Length() (uint, error)                { return m.acc().length() }
func (m *Mapped) IsReadable() bool                     { return m.acc().hasPermission(api.PermRead) }
func (m *Mapped) IsWritable() bool                     { return m.acc().hasPermission(api.PermWrite) }
func (m *Mapped) IsTransferable() bool                 { return m.acc().hasPermission(api.PermTransfer) }
func (m *Mapped) IsMappable() bool                     { return m.acc().hasPermission(api.PermMap) }
