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

package sweeper

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	sweeperMeterName = "probehub.sweeper"

	metricStaleMarksName    = "probehub_stale_marks_total"
	metricArchivedName      = "probehub_warm_archived_total"
	metricSweepDurationName = "probehub_sweep_duration_seconds"
	metricSweepFailuresName = "probehub_sweep_failures_total"
)

var (
	//nolint:gochecknoglobals // metric instruments are shared singletons
	sweeperMetricsOnce sync.Once
	//nolint:gochecknoglobals // metric instruments are shared singletons
	sweeperMetrics struct {
		staleMarks    metric.Int64Counter
		archived      metric.Int64Counter
		sweepDuration metric.Float64Histogram
		sweepFailures metric.Int64Counter
	}
)

func initSweeperMetrics() {
	meter := otel.Meter(sweeperMeterName)

	var err error

	sweeperMetrics.staleMarks, err = meter.Int64Counter(
		metricStaleMarksName,
		metric.WithDescription("Hot entries marked stale by the sweeper"),
	)
	if err != nil {
		otel.Handle(err)
	}

	sweeperMetrics.archived, err = meter.Int64Counter(
		metricArchivedName,
		metric.WithDescription("Warm entries moved into cold history"),
	)
	if err != nil {
		otel.Handle(err)
	}

	sweeperMetrics.sweepDuration, err = meter.Float64Histogram(
		metricSweepDurationName,
		metric.WithDescription("Wall time of one sweep cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}

	sweeperMetrics.sweepFailures, err = meter.Int64Counter(
		metricSweepFailuresName,
		metric.WithDescription("Sweep cycles that panicked"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

func recordSweep(ctx context.Context, marked, archived int, elapsed time.Duration) {
	sweeperMetricsOnce.Do(initSweeperMetrics)

	if sweeperMetrics.staleMarks != nil {
		sweeperMetrics.staleMarks.Add(ctx, int64(marked))
	}

	if sweeperMetrics.archived != nil {
		sweeperMetrics.archived.Add(ctx, int64(archived))
	}

	if sweeperMetrics.sweepDuration != nil {
		sweeperMetrics.sweepDuration.Record(ctx, elapsed.Seconds())
	}
}

func recordSweepFailure(ctx context.Context) {
	sweeperMetricsOnce.Do(initSweeperMetrics)

	if sweeperMetrics.sweepFailures != nil {
		sweeperMetrics.sweepFailures.Add(ctx, 1)
	}
}
