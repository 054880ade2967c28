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

// Package metrics exports Prometheus metrics for kernel exchanges.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/srediag/sentry-shm/api"
)

const namespace = "sentry_shm"

// Metrics holds the collectors shared by every instrumented kernel.
type Metrics struct {
	Syscalls *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
	Regions  *prometheus.GaugeVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Syscalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syscalls_total",
			Help:      "Kernel exchanges by call and returned status.",
		}, []string{"call", "status"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "syscall_duration_seconds",
			Help:      "Kernel exchange latency.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"call"}),
		Regions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "regions",
			Help:      "Supervised regions by lifecycle state.",
		}, []string{"state"}),
	}
}

// Instrument returns a kernel that records every call made through it.
func (m *Metrics) Instrument(k api.Kernel) api.Kernel {
	return &instrumented{next: k, m: m}
}

type instrumented struct {
	next api.Kernel
	m    *Metrics
}

func (i *instrumented) observe(call string, start time.Time, status api.Status) api.Status {
	i.m.Latency.WithLabelValues(call).Observe(time.Since(start).Seconds())
	i.m.Syscalls.WithLabelValues(call, status.String()).Inc()
	return status
}

func (i *instrumented) GetShmHandle(label api.Label) api.Status {
	start := time.Now()
	return i.observe("get_shm_handle", start, i.next.GetShmHandle(label))
}

func (i *instrumented) MapShm(handle api.Handle) api.Status {
	start := time.Now()
	return i.observe("map_shm", start, i.next.MapShm(handle))
}

func (i *instrumented) UnmapShm(handle api.Handle) api.Status {
	start := time.Now()
	return i.observe("unmap_shm", start, i.next.UnmapShm(handle))
}

func (i *instrumented) ShmSetCredential(handle api.Handle, task api.TaskHandle, perms api.Permission) api.Status {
	start := time.Now()
	return i.observe("shm_set_credential", start, i.next.ShmSetCredential(handle, task, perms))
}

func (i *instrumented) ShmGetInfo(handle api.Handle) api.Status {
	start := time.Now()
	return i.observe("shm_get_infos", start, i.next.ShmGetInfo(handle))
}

func (i *instrumented) CopyFromKernel(dst []byte) (int, api.Status) {
	start := time.Now()
	n, status := i.next.CopyFromKernel(dst)
	return n, i.observe("copy_from_kernel", start, status)
}
