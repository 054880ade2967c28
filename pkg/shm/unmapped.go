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
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/srediag/sentry-shm/api"
)

// Unmapped is a region the kernel knows about but that is not mapped into the task.
//
// A nil, zero or copied Unmapped behaves as a released value.
type Unmapped struct {
	a accessor
}

// New resolves label to a handle and returns the region in the unmapped state.
//
// It returns the kernel status of whichever step of the resolution failed.
func New(k api.Kernel, label api.Label, opts ...Option) (*Unmapped, error) {
	if k == nil {
		return nil, ErrNilKernel
	}
	tel := newTelemetry(opts)
	handle, err := resolve(k, label)
	if err != nil {
		tel.log.Debug("resolve failed", zap.Uint32("label", uint32(label)), zap.Error(err))
		return nil, err
	}
	r := &region{
		kernel: k,
		handle: handle,
		label:  label,
		tel:    tel,
	}
	tel.log.Debug("region resolved", r.fields()...)
	u := &Unmapped{}
	u.a.own(r)
	return u, nil
}

func (u *Unmapped) acc() *accessor {
	if u == nil {
		return nil
	}
	return &u.a
}

// Map maps the region and returns it in the mapped state, releasing u.
//
// task names the task the mapping is requested for; the kernel maps into the
// calling task. On failure u is unchanged and Map may be retried on it.
func (u *Unmapped) Map(task api.TaskHandle) (*Mapped, error) {
	r := u.acc().live()
	if r == nil {
		return nil, ErrReleased
	}

	span := r.tel.start("map", r, attribute.Int64("shm.task", int64(task)))
	err := r.kernel.MapShm(r.handle).Err()
	r.tel.end(span, err)
	if err != nil {
		r.tel.log.Debug("map failed", r.fields(zap.Uint32("task", uint32(task)), zap.Error(err))...)
		return nil, err
	}

	r.invalidate()
	u.a.release()
	m := &Mapped{}
	m.a.own(r)
	r.tel.transitioned("map")
	r.tel.log.Debug("region mapped", r.fields(zap.Uint32("task", uint32(task)))...)
	return m, nil
}

// SetCredentials grants perms on the region to task. It is only possible
// before the region is mapped.
func (u *Unmapped) SetCredentials(task api.TaskHandle, perms api.Permission) error {
	r := u.acc().live()
	if r == nil {
		return ErrReleased
	}

	span := r.tel.start("set_credentials", r,
		attribute.Int64("shm.task", int64(task)),
		attribute.String("shm.perms", perms.String()),
	)
	err := r.kernel.ShmSetCredential(r.handle, task, perms).Err()
	r.tel.end(span, err)
	if err != nil {
		r.tel.log.Debug("set credentials failed", r.fields(zap.Uint32("task", uint32(task)), zap.Error(err))...)
		return err
	}

	r.invalidate()
	r.tel.log.Debug("credentials set", r.fields(
		zap.Uint32("task", uint32(task)),
		zap.Stringer("perms", perms),
	)...)
	return nil
}

func (u *Unmapped) Handle() api.Handle                   { return u.acc().handle() }
func (u *Unmapped) Label() api.Label                     { return u.acc().label() }
func (u *Unmapped) Cached() bool                         { return u.acc().cached() }
func (u *Unmapped) Info() (api.Info, error)              { return u.acc().info() }
func (u *Unmapped) Permissions() (api.Permission, error) { return u.acc().permissions() }
func (u *Unmapped) BaseAddress() (uintptr, error)        { return u.acc().baseAddress() }
func (u *Unmapped) Length() (uint, error)                { return u.acc().length() }
func (u *Unmapped) IsReadable() bool                     { return u.acc().hasPermission(api.PermRead) }
func (u *Unmapped) IsWritable() bool                     { return u.acc().hasPermission(api.PermWrite) }
func (u *Unmapped) IsTransferable() bool                 { return u.acc().hasPermission(api.PermTransfer) }
func (u *Unmapped) IsMappable() bool                     { return u.acc().hasPermission(api.PermMap) }
