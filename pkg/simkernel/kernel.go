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

// Package simkernel is an in-process kernel that implements api.Kernel.
//
// It keeps a table of declared regions, their credentials and their mapping
// state, and answers the shared memory syscalls the way a microkernel would.
// Regions declared without a base address are backed by host memory each time
// they are mapped. Every call is counted and recorded in an audit journal, and
// a one-shot status can be injected for any call.
package simkernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"

	"github.com/srediag/sentry-shm/api"
	"github.com/srediag/sentry-shm/internal/audit"
	internalshm "github.com/srediag/sentry-shm/internal/shm"
)

// Call names a kernel entry point.
type Call string

const (
	CallGetHandle     Call = "get_shm_handle"
	CallMap           Call = "map_shm"
	CallUnmap         Call = "unmap_shm"
	CallSetCredential Call = "shm_set_credential"
	CallGetInfo       Call = "shm_get_infos"
	CallCopy          Call = "copy_from_kernel"
)

var (
	ErrInvalidDescriptor = errors.New("invalid region descriptor")
	ErrDuplicateLabel    = errors.New("label already declared")
	ErrDuplicateHandle   = errors.New("handle already assigned")
)

// Descriptor declares a region.
type Descriptor struct {
	Label api.Label
	// Handle is the kernel handle to assign; 0 picks the next free one.
	Handle api.Handle
	// Base is the fixed address reported for the region; 0 backs it with
	// host memory while it is mapped.
	Base   uintptr
	Length uint
	// Perms are the initial credentials.
	Perms api.Permission
}

type entry struct {
	desc    Descriptor
	handle  api.Handle
	perms   api.Permission
	grantee api.TaskHandle
	mapped  bool
	owner   api.TaskHandle
	backing *internalshm.MappedRegion
}

func (e *entry) info() api.Info {
	base := e.desc.Base
	if base == 0 {
		base = e.backing.Base()
	}
	return api.Info{
		Label:  e.desc.Label,
		Handle: e.handle,
		Base:   base,
		Length: e.desc.Length,
		Perms:  e.perms,
	}
}

// Kernel is safe for concurrent use. Each task talks to it through its own
// Task, which holds that task's exchange area.
type Kernel struct {
	mu      sync.Mutex
	labels  cmap.ConcurrentMap[api.Label, *entry]
	handles cmap.ConcurrentMap[api.Handle, *entry]
	next    api.Handle
	faults  map[Call][]api.Status
	counts  map[Call]int
	journal *audit.Journal
	log     *zap.Logger
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger every call is reported to at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(k *Kernel) {
		k.log = l
	}
}

// WithJournal records calls into j instead of a private journal.
func WithJournal(j *audit.Journal) Option {
	return func(k *Kernel) {
		k.journal = j
	}
}

func shard[K ~uint32](key K) uint32 {
	return uint32(key)
}

// New creates a kernel with no regions.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		labels:  cmap.NewWithCustomShardingFunction[api.Label, *entry](shard[api.Label]),
		handles: cmap.NewWithCustomShardingFunction[api.Handle, *entry](shard[api.Handle]),
		faults:  make(map[Call][]api.Status),
		counts:  make(map[Call]int),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.log == nil {
		k.log = zap.NewNop()
	}
	if k.journal == nil {
		k.journal = audit.NewJournal(64)
	}
	k.log = k.log.Named("simkernel")
	return k
}

// Provision declares a region and returns its handle.
func (k *Kernel) Provision(d Descriptor) (api.Handle, error) {
	if d.Length == 0 {
		return 0, fmt.Errorf("label %d: zero length: %w", d.Label, ErrInvalidDescriptor)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.labels.Has(d.Label) {
		return 0, fmt.Errorf("label %d: %w", d.Label, ErrDuplicateLabel)
	}
	handle := d.Handle
	if handle == 0 {
		for {
			k.next++
			if !k.handles.Has(k.next) {
				break
			}
		}
		handle = k.next
	} else if k.handles.Has(handle) {
		return 0, fmt.Errorf("handle %d: %w", handle, ErrDuplicateHandle)
	}

	e := &entry{desc: d, handle: handle, perms: d.Perms}
	k.labels.Set(d.Label, e)
	k.handles.Set(handle, e)
	k.log.Debug("region declared",
		zap.Uint32("label", uint32(d.Label)),
		zap.Uint32("handle", uint32(handle)),
		zap.Uint("length", d.Length),
		zap.Stringer("perms", d.Perms),
	)
	return handle, nil
}

// Inject makes the next call of kind c return status without executing.
// Injections for the same call queue up in order.
func (k *Kernel) Inject(c Call, status api.Status) {
	if status == api.StatusOk {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.faults[c] = append(k.faults[c], status)
}

// Count returns how many calls of kind c were issued.
func (k *Kernel) Count(c Call) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.counts[c]
}

// Journal returns the journal calls are recorded into.
func (k *Kernel) Journal() *audit.Journal {
	return k.journal
}

// Mapped reports whether the region with handle h is currently mapped.
func (k *Kernel) Mapped(h api.Handle) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.handles.Get(h)
	return ok && e.mapped
}

// Credential returns the task last granted access to the region with handle h
// and the permissions it holds.
func (k *Kernel) Credential(h api.Handle) (api.TaskHandle, api.Permission, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.handles.Get(h)
	if !ok {
		return 0, api.PermNone, false
	}
	return e.grantee, e.perms, true
}

// Close releases the host memory of every mapped region.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var errs []error
	for item := range k.handles.IterBuffered() {
		e := item.Val
		if e.backing == nil {
			continue
		}
		if err := internalshm.UnmapRegion(context.Background(), e.backing); err != nil {
			errs = append(errs, fmt.Errorf("handle %d: %w", e.handle, err))
		}
		e.backing = nil
		e.mapped = false
	}
	return errors.Join(errs...)
}

// Task returns the view of the kernel seen by task id.
func (k *Kernel) Task(id api.TaskHandle) *Task {
	return &Task{k: k, id: id}
}

// do runs fn under the kernel lock unless a fault is queued for c.
func (k *Kernel) do(task api.TaskHandle, c Call, label api.Label, handle api.Handle, fn func() api.Status) api.Status {
	k.mu.Lock()
	var status api.Status
	if queued := k.faults[c]; len(queued) > 0 {
		status = queued[0]
		k.faults[c] = queued[1:]
	} else {
		status = fn()
	}
	k.counts[c]++
	k.mu.Unlock()

	k.journal.Record(audit.Event{Task: task, Call: string(c), Label: label, Handle: handle, Status: status})
	k.log.Debug("syscall",
		zap.Uint32("task", uint32(task)),
		zap.String("call", string(c)),
		zap.Uint32("label", uint32(label)),
		zap.Uint32("handle", uint32(handle)),
		zap.Stringer("status", status),
	)
	return status
}

func (k *Kernel) mapShm(task api.TaskHandle, h api.Handle) api.Status {
	e, ok := k.handles.Get(h)
	if !ok {
		return api.StatusInvalid
	}
	if e.mapped {
		return api.StatusBusy
	}
	if !e.perms.Has(api.PermMap) {
		return api.StatusDenied
	}
	if e.desc.Base == 0 {
		backing, err := internalshm.MapRegion(context.Background(), internalshm.MapOptions{Size: int(e.desc.Length)})
		if err != nil {
			k.log.Warn("host backing failed", zap.Uint32("handle", uint32(h)), zap.Error(err))
			return api.StatusAborted
		}
		e.backing = backing
	}
	e.mapped = true
	e.owner = task
	return api.StatusOk
}

func (k *Kernel) unmapShm(task api.TaskHandle, h api.Handle) api.Status {
	e, ok := k.handles.Get(h)
	if !ok || !e.mapped {
		return api.StatusInvalid
	}
	if e.owner != task {
		return api.StatusDenied
	}
	if e.backing != nil {
		if err := internalshm.UnmapRegion(context.Background(), e.backing); err != nil {
			k.log.Warn("host backing release failed", zap.Uint32("handle", uint32(h)), zap.Error(err))
			return api.StatusAborted
		}
		e.backing = nil
	}
	e.mapped = false
	return api.StatusOk
}

func (k *Kernel) setCredential(h api.Handle, task api.TaskHandle, perms api.Permission) api.Status {
	e, ok := k.handles.Get(h)
	if !ok {
		return api.StatusInvalid
	}
	if e.mapped {
		return api.StatusBusy
	}
	e.grantee = task
	e.perms = perms
	return api.StatusOk
}
