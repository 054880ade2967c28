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
	"errors"
	"fmt"

	"github.com/srediag/sentry-shm/api"
)

var (
	// ErrReleased is returned by a value whose state was moved into another
	// value by a successful transition, and by zero values.
	ErrReleased = fmt.Errorf("region released by a state transition: %w", api.StatusInvalid)

	// ErrCacheMissing reports an info refresh that succeeded without leaving
	// a cached descriptor.
	ErrCacheMissing = fmt.Errorf("info refresh left no cached descriptor: %w", api.StatusCritical)

	// ErrNilKernel is returned by New when no kernel is given.
	ErrNilKernel = fmt.Errorf("nil kernel: %w", api.StatusInvalid)
)

// Retryable reports whether err is a transient kernel status that the same
// operation on the same value may clear.
func Retryable(err error) bool {
	return errors.Is(err, api.StatusBusy) ||
		errors.Is(err, api.StatusAgain) ||
		errors.Is(err, api.StatusTimeout)
}
