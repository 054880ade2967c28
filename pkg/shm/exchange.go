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
	"encoding"
	"fmt"
	"slices"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/sentry-shm/api"
)

// fetch issues a request and copies the value the kernel prepared for it
// into dst. The first failing step ends the exchange.
func fetch(k api.Kernel, issue func() api.Status, dst encoding.BinaryUnmarshaler, size int) error {
	if err := issue().Err(); err != nil {
		return err
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = slices.Grow(buf.B[:0], size)[:size]
	clear(buf.B)

	n, status := k.CopyFromKernel(buf.B)
	if err := status.Err(); err != nil {
		return err
	}
	if n < size {
		return api.StatusInvalid
	}
	if err := dst.UnmarshalBinary(buf.B[:n]); err != nil {
		return fmt.Errorf("%w: %w", api.StatusInvalid, err)
	}
	return nil
}

func resolve(k api.Kernel, label api.Label) (api.Handle, error) {
	var handle api.Handle
	err := fetch(k, func() api.Status { return k.GetShmHandle(label) }, &handle, api.HandleSize)
	return handle, err
}
