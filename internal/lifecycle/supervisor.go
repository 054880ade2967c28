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

// Package lifecycle provisions the regions of a manifest and tears them down
// on shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/srediag/sentry-shm/api"
	"github.com/srediag/sentry-shm/internal/config"
	"github.com/srediag/sentry-shm/internal/metrics"
	"github.com/srediag/sentry-shm/pkg/shm"
)

var (
	ErrNotProvisioned = errors.New("regions not provisioned")
	ErrClosed         = errors.New("supervisor closed")
	ErrNilFactory     = errors.New("nil kernel factory")

	errPanicked = errors.New("provisioning job panicked")
)

// State is the lifecycle state of a supervised region.
type State string

const (
	StateUnmapped State = "unmapped"
	StateMapped   State = "mapped"
	StateFailed   State = "failed"
)

var states = []State{StateUnmapped, StateMapped, StateFailed}

// Status describes one supervised region.
type Status struct {
	Label  api.Label
	Handle api.Handle
	State  State
	// Info is the descriptor read when the region reached its state. It is
	// zero for failed regions.
	Info api.Info
	Err  error
}

// KernelFactory returns a fresh kernel view. Each provisioning job gets its
// own, so exchanges of concurrent jobs never interleave.
type KernelFactory func() api.Kernel

// Options configures a Supervisor.
type Options struct {
	// Task is the task regions are mapped by.
	Task    api.TaskHandle
	Workers int
	// Backoff returns the policy for one region's map retries. The default
	// retries 5 times at a 50ms interval.
	Backoff       func() backoff.BackOff
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	RegionOptions []shm.Option
}

type entry struct {
	status   Status
	unmapped *shm.Unmapped
	mapped   *shm.Mapped
}

// Supervisor owns the regions it provisions.
type Supervisor struct {
	factory KernelFactory
	opts    Options
	log     *zap.Logger
	pool    *ants.Pool

	mu          sync.Mutex
	entries     []*entry
	provisioned bool
	closed      bool
}

// New creates a supervisor backed by a pool of opts.Workers goroutines.
func New(factory KernelFactory, opts Options) (*Supervisor, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 5)
		}
	}
	log := opts.Logger.Named("lifecycle")
	pool, err := ants.NewPool(opts.Workers, ants.WithPanicHandler(func(p interface{}) {
		log.Error("provisioning job panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	return &Supervisor{
		factory: factory,
		opts:    opts,
		log:     log,
		pool:    pool,
	}, nil
}

// Provision declares every region in specs, applies its grant and maps it if
// requested. Regions are provisioned concurrently; the returned error joins
// the failures of every region that did not reach its requested state.
func (s *Supervisor) Provision(ctx context.Context, specs []config.RegionSpec) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	results := make([]*entry, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			results[i] = s.provision(ctx, spec)
		})
		if err != nil {
			wg.Done()
			results[i] = failed(spec, fmt.Errorf("submit: %w", err))
		}
	}
	wg.Wait()

	var errs []error
	for i, e := range results {
		if e == nil {
			e = failed(specs[i], errPanicked)
			results[i] = e
		}
		if e.status.Err != nil {
			errs = append(errs, fmt.Errorf("label %#x: %w", e.status.Label, e.status.Err))
		}
	}

	s.mu.Lock()
	s.entries = append(s.entries, results...)
	s.provisioned = true
	s.mu.Unlock()
	s.observe()
	return errors.Join(errs...)
}

func failed(spec config.RegionSpec, err error) *entry {
	return &entry{status: Status{Label: api.Label(spec.Label), State: StateFailed, Err: err}}
}

func (s *Supervisor) provision(ctx context.Context, spec config.RegionSpec) *entry {
	label := api.Label(spec.Label)
	log := s.log.With(zap.Uint32("label", spec.Label))

	u, err := shm.New(s.factory(), label, s.opts.RegionOptions...)
	if err != nil {
		log.Warn("region lookup failed", zap.Error(err))
		return failed(spec, err)
	}
	e := &entry{status: Status{Label: label, Handle: u.Handle(), State: StateUnmapped}, unmapped: u}

	task, perms, ok, err := spec.GrantPermissions()
	if err == nil && ok {
		err = u.SetCredentials(task, perms)
	}
	if err != nil {
		log.Warn("grant failed", zap.Error(err))
		e.status.State, e.status.Err = StateFailed, err
		return e
	}

	var region shm.Region = u
	if spec.Map {
		m, err := shm.MapWithRetry(ctx, u, s.opts.Task, s.opts.Backoff())
		if err != nil {
			log.Warn("map failed", zap.Error(err))
			e.status.State, e.status.Err = StateFailed, err
			return e
		}
		e.unmapped, e.mapped = nil, m
		e.status.State = StateMapped
		region = m
	}
	if e.status.Info, err = region.Info(); err != nil {
		log.Warn("info unavailable", zap.Error(err))
	}
	log.Info("region provisioned",
		zap.Uint32("handle", uint32(e.status.Handle)),
		zap.String("state", string(e.status.State)),
	)
	return e
}

// Snapshot returns the status of every supervised region in provisioning order.
func (s *Supervisor) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.status
	}
	return out
}

// Ready returns nil once Provision has run and no region failed.
func (s *Supervisor) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.provisioned {
		return ErrNotProvisioned
	}
	var errs []error
	for _, e := range s.entries {
		if e.status.State == StateFailed {
			errs = append(errs, fmt.Errorf("label %#x: %w", e.status.Label, e.status.Err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown unmaps every mapped region and stops the worker pool. Regions that
// fail to unmap stay mapped and their errors are joined.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var errs []error
	for _, e := range s.entries {
		if e.mapped == nil {
			continue
		}
		u, err := e.mapped.Unmap()
		if err != nil {
			s.log.Warn("unmap failed", zap.Uint32("label", uint32(e.status.Label)), zap.Error(err))
			errs = append(errs, fmt.Errorf("label %#x: %w", e.status.Label, err))
			continue
		}
		e.mapped, e.unmapped = nil, u
		e.status.State = StateUnmapped
		if e.status.Info, err = u.Info(); err != nil {
			s.log.Warn("info unavailable", zap.Uint32("label", uint32(e.status.Label)), zap.Error(err))
		}
		s.log.Info("region unmapped", zap.Uint32("label", uint32(e.status.Label)))
	}
	s.mu.Unlock()

	s.observe()
	s.pool.Release()
	return errors.Join(errs...)
}

func (s *Supervisor) observe() {
	if s.opts.Metrics == nil {
		return
	}
	counts := make(map[State]int, len(states))
	for _, st := range s.Snapshot() {
		counts[st.State]++
	}
	for _, st := range states {
		s.opts.Metrics.Regions.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
