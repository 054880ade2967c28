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

// Package api defines the contracts between sentry-shm and the kernel it runs on.
package api

import "strconv"

// Status is the status code returned by every kernel exchange.
//
// Any value other than StatusOk is an error; callers compare with errors.Is.
type Status uint32

const (
	StatusOk Status = iota
	StatusInvalid
	StatusDenied
	StatusNoEntity
	StatusBusy
	StatusAlreadyMapped
	StatusTimeout
	StatusCritical
	StatusAborted
	StatusAgain
)

var statusNames = [...]string{
	StatusOk:            "ok",
	StatusInvalid:       "invalid",
	StatusDenied:        "denied",
	StatusNoEntity:      "no entity",
	StatusBusy:          "busy",
	StatusAlreadyMapped: "already mapped",
	StatusTimeout:       "timeout",
	StatusCritical:      "critical",
	StatusAborted:       "aborted",
	StatusAgain:         "again",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "status(" + strconv.FormatUint(uint64(s), 10) + ")"
}

func (s Status) Error() string {
	return "kernel status: " + s.String()
}

// Err returns nil for StatusOk and the status itself otherwise.
func (s Status) Err() error {
	if s == StatusOk {
		return nil
	}
	return s
}
