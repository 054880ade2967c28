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

package simkernel

import (
	"encoding"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/sentry-shm/api"
)

var _ api.Kernel = (*Task)(nil)

// Task is one task's view of the kernel. Like a real task it issues one
// exchange at a time, so a Task must not be shared between goroutines.
type Task struct {
	k       *Kernel
	id      api.TaskHandle
	pending *bytebufferpool.ByteBuffer
}

func (t *Task) prepare(v encoding.BinaryAppender) {
	t.drop()
	buf := bytebufferpool.Get()
	b, err := v.AppendBinary(buf.B[:0])
	if err != nil {
		bytebufferpool.Put(buf)
		return
	}
	buf.B = b
	t.pending = buf
}

func (t *Task) drop() {
	if t.pending != nil {
		bytebufferpool.Put(t.pending)
		t.pending = nil
	}
}

func (t *Task) GetShmHandle(label api.Label) api.Status {
	t.drop()
	return t.k.do(t.id, CallGetHandle, label, 0, func() api.Status {
		e, ok := t.k.labels.Get(label)
		if !ok {
			return api.StatusNoEntity
		}
		t.prepare(e.handle)
		return api.StatusOk
	})
}

func (t *Task) MapShm(handle api.Handle) api.Status {
	return t.k.do(t.id, CallMap, 0, handle, func() api.Status {
		return t.k.mapShm(t.id, handle)
	})
}

func (t *Task) UnmapShm(handle api.Handle) api.Status {
	return t.k.do(t.id, CallUnmap, 0, handle, func() api.Status {
		return t.k.unmapShm(t.id, handle)
	})
}

func (t *Task) ShmSetCredential(handle api.Handle, task api.TaskHandle, perms api.Permission) api.Status {
	return t.k.do(t.id, CallSetCredential, 0, handle, func() api.Status {
		return t.k.setCredential(handle, task, perms)
	})
}

func (t *Task) ShmGetInfo(handle api.Handle) api.Status {
	t.drop()
	return t.k.do(t.id, CallGetInfo, 0, handle, func() api.Status {
		e, ok := t.k.handles.Get(handle)
		if !ok {
			return api.StatusInvalid
		}
		t.prepare(e.info())
		return api.StatusOk
	})
}

// CopyFromKernel hands over the value prepared by the last GetShmHandle or
// ShmGetInfo. The value is consumed by a successful copy.
func (t *Task) CopyFromKernel(dst []byte) (int, api.Status) {
	var n int
	status := t.k.do(t.id, CallCopy, 0, 0, func() api.Status {
		if t.pending == nil || len(dst) < t.pending.Len() {
			return api.StatusInvalid
		}
		n = copy(dst, t.pending.B)
		t.drop()
		return api.StatusOk
	})
	return n, status
}
