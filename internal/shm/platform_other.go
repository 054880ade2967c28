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

//go:build !linux

package shm

import "context"

// MapRegion allocates heap memory; named regions are not shared with other processes.
func MapRegion(_ context.Context, opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, errInvalidSize
	}
	return &MappedRegion{Data: make([]byte, opts.Size), name: opts.Name, fd: -1}, nil
}

// UnmapRegion drops the heap memory.
func UnmapRegion(_ context.Context, region *MappedRegion) error {
	if region != nil {
		region.Data = nil
	}
	return nil
}
