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

// Package audit records the kernel exchanges issued on behalf of tasks.
package audit

import (
	"fmt"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"

	"github.com/srediag/sentry-shm/api"
)

// Event is one kernel exchange.
type Event struct {
	Task   api.TaskHandle
	Call   string
	Label  api.Label
	Handle api.Handle
	Status api.Status
	At     time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("task=%d call=%s label=%d handle=%d status=%s", e.Task, e.Call, e.Label, e.Handle, e.Status.String())
}

// Journal is an ordered, unbounded log of events. It is safe for concurrent use.
type Journal struct {
	q *queuepkg.Queue
}

// NewJournal creates a journal sized for hint events before it grows.
func NewJournal(hint int64) *Journal {
	return &Journal{q: queuepkg.New(hint)}
}

// Record appends e. Events recorded after Close are dropped.
func (j *Journal) Record(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_ = j.q.Put(e)
}

// Len returns the number of events not yet drained.
func (j *Journal) Len() int {
	return int(j.q.Len())
}

// Drain removes and returns every pending event in recording order.
func (j *Journal) Drain() []Event {
	n := j.q.Len()
	if n == 0 || j.q.Disposed() {
		return nil
	}
	// A concurrent drain may empty the queue between Len and Poll.
	items, err := j.q.Poll(n, time.Millisecond)
	if err != nil {
		return nil
	}
	events := make([]Event, 0, len(items))
	for _, item := range items {
		if e, ok := item.(Event); ok {
			events = append(events, e)
		}
	}
	return events
}

// Close disposes the journal and returns the events still pending.
func (j *Journal) Close() []Event {
	items := j.q.Dispose()
	events := make([]Event, 0, len(items))
	for _, item := range items {
		if e, ok := item.(Event); ok {
			events = append(events, e)
		}
	}
	return events
}
