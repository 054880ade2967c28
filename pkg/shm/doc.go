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

// Package shm provides typed handles on kernel-owned shared memory regions.
//
// A region is either Unmapped or Mapped, and each state is its own Go type:
// Map exists only on *Unmapped, Unmap only on *Mapped, and SetCredentials only
// on *Unmapped. A successful transition returns the value for the new state and
// releases the receiver; a failed one leaves the receiver untouched so the
// caller may retry on it.
//
// Both types implement Region. The region descriptor reported by the kernel is
// cached on first use and dropped by every successful state change.
//
// Example usage:
//
//	u, err := shm.New(kernel, label, shm.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	m, err := u.Map(self)
//	if err != nil {
//		return err // u is still usable
//	}
//	base, err := m.BaseAddress()
//	// ...
//	u, err = m.Unmap()
//
// Values are not safe for concurrent use; a value has exactly one owner.
package shm
