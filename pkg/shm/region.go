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
	"fmt"

	"go.uber.org/zap"

	"github.com/srediag/sentry-shm/api"
)

// Region is the read-only capability set shared by Unmapped and Mapped.
type Region interface {
	// Handle returns the kernel handle, or 0 for a released value.
	Handle() api.Handle
	// Label returns the label the region was created with, or 0 for a released value.
	Label() api.Label
	// Cached reports whether a descriptor is currently cached.
	Cached() bool

	// Info returns the cached descriptor, querying the kernel on a miss.
	Info() (api.Info, error)
	Permissions() (api.Permission, error)
	BaseAddress() (uintptr, error)
	Length() (uint, error)

	// The capability queries report false when the descriptor cannot be obtained.
	IsReadable() bool
	IsWritable() bool
	IsTransferable() bool
	IsMappable() bool
}

var (
	_ Region = (*Unmapped)(nil)
	_ Region = (*Mapped)(nil)
)

// region is the state carried across transitions.
type region struct {
	kernel api.Kernel
	handle api.Handle
	label  api.Label
	cache  *api.Info
	tel    *telemetry
	owner  *accessor
}

func (r *region) fields(extra ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.Uint32("label", uint32(r.label)),
		zap.Uint32("handle", uint32(r.handle)),
	}, extra...)
}

func (r *region) invalidate() {
	r.cache = nil
}

func (r *region) refresh() error {
	var info api.Info
	err := fetch(r.kernel, func() api.Status { return r.kernel.ShmGetInfo(r.handle) }, &info, api.InfoSize)
	if err != nil {
		return err
	}
	if info.Handle != r.handle {
		r.tel.log.Error("kernel described another region", r.fields(zap.Uint32("reported", uint32(info.Handle)))...)
		return fmt.Errorf("descriptor for handle %d: %w", info.Handle, api.StatusCritical)
	}
	r.cache = &info
	return nil
}

func (r *region) info() (api.Info, error) {
	if r.cache != nil {
		return *r.cache, nil
	}

	span := r.tel.start("info", r)
	err := r.refresh()
	if err == nil && r.cache == nil {
		r.tel.log.Error("info refresh left the cache empty", r.fields()...)
		err = ErrCacheMissing
	}
	r.tel.refreshed(err)
	r.tel.end(span, err)
	if err != nil {
		return api.Info{}, err
	}
	return *r.cache, nil
}

// accessor backs the Region methods of Unmapped and Mapped. Only
// the accessor a region names as its owner may use it, so copies of a
// Mapped or Unmapped value behave as released values.
type accessor struct {
	r *region
}

func (a *accessor) live() *region {
	if a == nil || a.r == nil || a.r.owner != a {
		return nil
	}
	return a.r
}

func (a *accessor) handle() api.Handle {
	if r := a.live(); r != nil {
		return r.handle
	}
	return 0
}

func (a *accessor) label() api.Label {
	if r := a.live(); r != nil {
		return r.label
	}
	return 0
}

func (a *accessor) cached() bool {
	r := a.live()
	return r != nil && r.cache != nil
}

func (a *accessor) info() (api.Info, error) {
	r := a.live()
	if r == nil {
		return api.Info{}, ErrReleased
	}
	return r.info()
}

func (a *accessor) permissions() (api.Permission, error) {
	info, err := a.info()
	if err != nil {
		return api.PermNone, err
	}
	return info.Perms, nil
}

func (a *accessor) baseAddress() (uintptr, error) {
	info, err := a.info()
	if err != nil {
		return 0, err
	}
	return info.Base, nil
}

func (a *accessor) length() (uint, error) {
	info, err := a.info()
	if err != nil {
		return 0, err
	}
	return info.Length, nil
}

func (a *accessor) hasPermission(perm api.Permission) bool {
	info, err := a.info()
	if err != nil {
		return false
	}
	return info.Perms.Has(perm)
}

// own makes a the only accessor of r.
func (a *accessor) own(r *region) {
	a.r = r
	r.owner = a
}

// release detaches a from its region.
func (a *accessor) release() {
	a.r = nil
}
