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

// Package health exposes liveness and readiness endpoints for the daemon.
package health

import (
	"errors"
	"fmt"

	"github.com/heptiolabs/healthcheck"
	"github.com/shirou/gopsutil/v3/disk"
)

var ErrLowShmSpace = errors.New("not enough shared memory space left")

// Options configures the checks of a Handler.
type Options struct {
	// Ready reports whether the supervised regions are provisioned.
	Ready func() error
	// ShmPath is the shared memory filesystem checked for free space. An
	// empty path or a zero MinFreeBytes disables the check.
	ShmPath      string
	MinFreeBytes uint64
	// MaxGoroutines fails liveness when exceeded; zero disables the check.
	MaxGoroutines int
}

// NewHandler returns a handler serving /live and /ready.
func NewHandler(opts Options) healthcheck.Handler {
	h := healthcheck.NewHandler()
	if opts.MaxGoroutines > 0 {
		h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.MaxGoroutines))
	}
	if opts.Ready != nil {
		h.AddReadinessCheck("regions", opts.Ready)
	}
	if opts.ShmPath != "" && opts.MinFreeBytes > 0 {
		h.AddReadinessCheck("shm-space", ShmSpaceCheck(opts.ShmPath, opts.MinFreeBytes))
	}
	return h
}

// ShmSpaceCheck fails when the filesystem holding path has less than minFree
// bytes free.
func ShmSpaceCheck(path string, minFree uint64) healthcheck.Check {
	return func() error {
		stat, err := disk.Usage(path)
		if err != nil {
			return fmt.Errorf("usage of %s: %w", path, err)
		}
		if stat.Free < minFree {
			return fmt.Errorf("%w: %s has %d bytes free, need %d", ErrLowShmSpace, path, stat.Free, minFree)
		}
		return nil
	}
}
