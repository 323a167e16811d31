/*
 * Copyright 2025 Carver Automation Corporation.
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

package hub

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/probehub/pkg/wire"
)

const (
	hubMeterName = "probehub.hub"

	metricFramesName         = "probehub_frames_total"
	metricAuthFailuresName   = "probehub_auth_failures_total"
	metricViolationsName     = "probehub_protocol_violations_total"
	metricActiveSessionsName = "probehub_active_sessions"
	metricEvictionsName      = "probehub_evictions_total"
	metricMetricsChangedName = "probehub_metrics_changed_total"
)

var (
	//nolint:gochecknoglobals // metric instruments are shared singletons
	hubMetricsOnce sync.Once
	//nolint:gochecknoglobals // metric instruments are shared singletons
	hubMetrics struct {
		frames         metric.Int64Counter
		authFailures   metric.Int64Counter
		violations     metric.Int64Counter
		activeSessions metric.Int64UpDownCounter
		evictions      metric.Int64Counter
		metricsChanged metric.Int64Counter
	}
)

func initHubMetrics() {
	meter := otel.Meter(hubMeterName)

	var err error

	hubMetrics.frames, err = meter.Int64Counter(
		metricFramesName,
		metric.WithDescription("Frames received from probes, by opcode"),
	)
	if err != nil {
		otel.Handle(err)
	}

	hubMetrics.authFailures, err = meter.Int64Counter(
		metricAuthFailuresName,
		metric.WithDescription("HELLO frames rejected for bad credentials"),
	)
	if err != nil {
		otel.Handle(err)
	}

	hubMetrics.violations, err = meter.Int64Counter(
		metricViolationsName,
		metric.WithDescription("Sessions closed for a protocol violation"),
	)
	if err != nil {
		otel.Handle(err)
	}

	hubMetrics.activeSessions, err = meter.Int64UpDownCounter(
		metricActiveSessionsName,
		metric.WithDescription("Open probe connections"),
	)
	if err != nil {
		otel.Handle(err)
	}

	hubMetrics.evictions, err = meter.Int64Counter(
		metricEvictionsName,
		metric.WithDescription("Sessions closed because the probe authenticated again elsewhere"),
	)
	if err != nil {
		otel.Handle(err)
	}

	hubMetrics.metricsChanged, err = meter.Int64Counter(
		metricMetricsChangedName,
		metric.WithDescription("METRICS frames whose fingerprint differed from the previous set"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

func addCounter(ctx context.Context, c metric.Int64Counter, opts ...metric.AddOption) {
	if c != nil {
		c.Add(ctx, 1, opts...)
	}
}

func recordFrame(ctx context.Context, op wire.Opcode) {
	hubMetricsOnce.Do(initHubMetrics)
	addCounter(ctx, hubMetrics.frames, metric.WithAttributes(attribute.String("opcode", op.String())))
}

func recordAuthFailure(ctx context.Context) {
	hubMetricsOnce.Do(initHubMetrics)
	addCounter(ctx, hubMetrics.authFailures)
}

func recordViolation(ctx context.Context) {
	hubMetricsOnce.Do(initHubMetrics)
	addCounter(ctx, hubMetrics.violations)
}

func recordEviction(ctx context.Context) {
	hubMetricsOnce.Do(initHubMetrics)
	addCounter(ctx, hubMetrics.evictions)
}

func recordMetricsChanged(ctx context.Context) {
	hubMetricsOnce.Do(initHubMetrics)
	addCounter(ctx, hubMetrics.metricsChanged)
}

func recordSessionDelta(ctx context.Context, delta int64) {
	hubMetricsOnce.Do(initHubMetrics)

	if hubMetrics.activeSessions != nil {
		hubMetrics.activeSessions.Add(ctx, delta)
	}
}
