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
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/sentry-shm/api"
)

// MapWithRetry calls u.Map until it succeeds, fails with a status that is not
// Retryable, b gives up, or ctx is done. u is unchanged unless a Mapped value
// is returned.
func MapWithRetry(ctx context.Context, u *Unmapped, task api.TaskHandle, b backoff.BackOff) (*Mapped, error) {
	return backoff.RetryWithData(func() (*Mapped, error) {
		m, err := u.Map(task)
		if err != nil && !Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return m, err
	}, backoff.WithContext(b, ctx))
}
