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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/srediag/sentry-shm/pkg/shm"

type telemetry struct {
	log         *zap.Logger
	tracer      trace.Tracer
	transitions metric.Int64Counter
	refreshes   metric.Int64Counter
}

func newTelemetry(opts []Option) *telemetry {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meter == nil {
		o.meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if o.tracer == nil {
		o.tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}

	t := &telemetry{
		log:    o.logger.Named("shm"),
		tracer: o.tracer,
	}
	var err error
	t.transitions, err = o.meter.Int64Counter("shm.region.transitions",
		metric.WithDescription("Successful region state transitions."))
	if err != nil {
		t.log.Warn("transition counter unavailable", zap.Error(err))
		t.transitions = metricnoop.Int64Counter{}
	}
	t.refreshes, err = o.meter.Int64Counter("shm.region.info_refreshes",
		metric.WithDescription("Region descriptor queries issued on a cache miss."))
	if err != nil {
		t.log.Warn("refresh counter unavailable", zap.Error(err))
		t.refreshes = metricnoop.Int64Counter{}
	}
	return t
}

func (t *telemetry) start(op string, r *region, attrs ...attribute.KeyValue) trace.Span {
	attrs = append(attrs,
		attribute.Int64("shm.label", int64(r.label)),
		attribute.Int64("shm.handle", int64(r.handle)),
	)
	_, span := t.tracer.Start(context.Background(), "shm."+op, trace.WithAttributes(attrs...))
	return span
}

func (t *telemetry) end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *telemetry) transitioned(op string) {
	t.transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}

func (t *telemetry) refreshed(err error) {
	t.refreshes.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("ok", err == nil)))
}
