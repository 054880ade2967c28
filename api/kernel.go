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

// Label is the stable identifier a region is declared with.
type Label uint32

// Handle is the kernel-assigned identifier of a region. A handle is never
// reused across distinct regions while it is valid.
type Handle uint32

// TaskHandle identifies a task.
type TaskHandle uint32

// Kernel is the syscall boundary for shared memory, as seen by one task.
//
// Every call blocks until the kernel answers. GetShmHandle and ShmGetInfo
// only prepare their result; the caller retrieves it with CopyFromKernel
// before issuing the next exchange.
type Kernel interface {
	// GetShmHandle asks the kernel for the handle of the region declared with label.
	GetShmHandle(label Label) Status
	// MapShm maps the region into the calling task.
	MapShm(handle Handle) Status
	// UnmapShm removes the mapping of the region from the calling task.
	UnmapShm(handle Handle) Status
	// ShmSetCredential grants perms on the region to task.
	ShmSetCredential(handle Handle, task TaskHandle, perms Permission) Status
	// ShmGetInfo prepares the descriptor of the region.
	ShmGetInfo(handle Handle) Status
	// CopyFromKernel copies the value prepared by the last exchange into dst
	// and returns the number of bytes written.
	CopyFromKernel(dst []byte) (int, Status)
}
