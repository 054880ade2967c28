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

// Command shmsim runs a simulated kernel, provisions the regions declared in
// a manifest and serves health and metrics endpoints until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/srediag/sentry-shm/api"
	"github.com/srediag/sentry-shm/internal/audit"
	"github.com/srediag/sentry-shm/internal/config"
	"github.com/srediag/sentry-shm/internal/health"
	"github.com/srediag/sentry-shm/internal/lifecycle"
	"github.com/srediag/sentry-shm/internal/logging"
	"github.com/srediag/sentry-shm/internal/metrics"
	"github.com/srediag/sentry-shm/internal/telemetry"
	"github.com/srediag/sentry-shm/pkg/shm"
	"github.com/srediag/sentry-shm/pkg/simkernel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewDefault().Error("invalid configuration", zap.Error(err))
		os.Exit(2)
	}
	flag.StringVar(&cfg.Manifest.Path, "manifest", cfg.Manifest.Path, "Region manifest (YAML)")
	flag.StringVar(&cfg.Admin.Addr, "addr", cfg.Admin.Addr, "Health and metrics listen address")
	flag.Parse()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		logging.NewDefault().Error("invalid log configuration", zap.Error(err))
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("shmsim stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Manifest.Path == "" {
		return errors.New("no manifest given, set -manifest or SHM_MANIFEST_PATH")
	}
	manifest, err := config.LoadManifest(cfg.Manifest.Path)
	if err != nil {
		return err
	}
	descs, err := manifest.Descriptors()
	if err != nil {
		return err
	}

	journal := audit.NewJournal(256)
	defer journal.Close()
	kernel := simkernel.New(simkernel.WithLogger(logger), simkernel.WithJournal(journal))
	defer func() {
		if err := kernel.Close(); err != nil {
			logger.Warn("kernel close", zap.Error(err))
		}
	}()
	for _, d := range descs {
		if _, err := kernel.Provision(d); err != nil {
			return fmt.Errorf("declare region: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tel, err := telemetry.New(reg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()
	sup, err := lifecycle.New(func() api.Kernel {
		return m.Instrument(kernel.Task(cfg.Kernel.Task))
	}, lifecycle.Options{
		Task:    cfg.Kernel.Task,
		Workers: cfg.Kernel.Workers,
		Backoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Retry.Interval), cfg.Retry.MaxRetries)
		},
		Logger:        logger,
		Metrics:       m,
		RegionOptions: append(tel.RegionOptions(), shm.WithLogger(logger)),
	})
	if err != nil {
		return err
	}

	checks := health.NewHandler(health.Options{
		Ready:         sup.Ready,
		ShmPath:       cfg.Health.ShmPath,
		MinFreeBytes:  cfg.Health.MinFreeBytes,
		MaxGoroutines: cfg.Health.MaxGoroutines,
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/live", checks.LiveEndpoint)
	mux.HandleFunc("/ready", checks.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Admin.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin listening", zap.String("addr", cfg.Admin.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if err := sup.Provision(ctx, manifest.Regions); err != nil {
		logger.Warn("provisioning incomplete", zap.Error(err))
	}
	for _, st := range sup.Snapshot() {
		logger.Info("region",
			zap.Uint32("label", uint32(st.Label)),
			zap.Uint32("handle", uint32(st.Handle)),
			zap.String("state", string(st.State)),
			zap.Stringer("perms", st.Info.Perms),
		)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = errors.Join(serveErr, sup.Shutdown(), srv.Shutdown(shutdownCtx))
	for _, ev := range journal.Drain() {
		logger.Debug("journal", zap.Stringer("event", ev))
	}
	return err
}
