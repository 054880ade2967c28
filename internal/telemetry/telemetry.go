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

// Package telemetry builds the OpenTelemetry providers behind region spans
// and counters. Metrics are exported through a Prometheus registry and ended
// spans are written to a zap logger.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/srediag/sentry-shm/pkg/shm"
)

const scope = "github.com/srediag/sentry-shm"

// Providers holds the meter and tracer providers of the process.
type Providers struct {
	Meter  *sdkmetric.MeterProvider
	Tracer *sdktrace.TracerProvider
}

// New creates providers exporting metrics to reg and spans to logger.
func New(reg prometheus.Registerer, logger *zap.Logger) (*Providers, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	return &Providers{
		Meter:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
		Tracer: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewSpanLogger(logger))),
	}, nil
}

// RegionOptions returns the shm options that report into p.
func (p *Providers) RegionOptions() []shm.Option {
	return []shm.Option{
		shm.WithMeter(p.Meter.Meter(scope)),
		shm.WithTracer(p.Tracer.Tracer(scope)),
	}
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.Tracer.Shutdown(ctx), p.Meter.Shutdown(ctx))
}

// SpanLogger is a span processor that logs every ended span. Failed spans are
// logged at info, the rest at debug.
type SpanLogger struct {
	log *zap.Logger
}

var _ sdktrace.SpanProcessor = (*SpanLogger)(nil)

func NewSpanLogger(logger *zap.Logger) *SpanLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpanLogger{log: logger.Named("trace")}
}

func (l *SpanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (l *SpanLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	fields := []zap.Field{
		zap.String("span", s.Name()),
		zap.String("trace_id", s.SpanContext().TraceID().String()),
		zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
	}
	for _, kv := range s.Attributes() {
		fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
	}
	if st := s.Status(); st.Code == codes.Error {
		l.log.Info("span failed", append(fields, zap.String("error", st.Description))...)
		return
	}
	l.log.Debug("span", fields...)
}

func (l *SpanLogger) Shutdown(context.Context) error   { return nil }
func (l *SpanLogger) ForceFlush(context.Context) error { return nil }
