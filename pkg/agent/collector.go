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

package agent

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/carverauto/probehub/pkg/logger"
)

// Collector produces the metric set sent in each METRICS frame.
type Collector interface {
	Collect(ctx context.Context) (map[string]any, error)
}

// HostCollector gathers host metrics with gopsutil. A source that fails is
// left out of the set and logged.
type HostCollector struct {
	log      logger.Logger
	diskPath string

	usageCollector func(context.Context, time.Duration, bool) ([]float64, error)
}

// NewHostCollector returns a collector reporting usage of the filesystem
// mounted at diskPath.
func NewHostCollector(log logger.Logger, diskPath string) *HostCollector {
	if diskPath == "" {
		diskPath = "/"
	}

	return &HostCollector{
		log:            log,
		diskPath:       diskPath,
		usageCollector: cpu.PercentWithContext,
	}
}

func (c *HostCollector) Collect(ctx context.Context) (map[string]any, error) {
	metrics := map[string]any{
		"os_realm":  runtime.GOOS,
		"cpu_arch":  runtime.GOARCH,
		"cpu_cores": int64(runtime.NumCPU()),
	}

	if hostname, err := os.Hostname(); err == nil {
		metrics["hostname"] = hostname
	}

	if usage, err := c.usageCollector(ctx, 0, false); err != nil {
		c.log.Debug().Err(err).Msg("cpu.PercentWithContext failed")
	} else if len(usage) > 0 {
		metrics["cpu_percent"] = round2(usage[0])
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		c.log.Debug().Err(err).Msg("mem.VirtualMemoryWithContext failed")
	} else {
		metrics["memory"] = map[string]any{
			"total":        clampInt64(vm.Total),
			"used":         clampInt64(vm.Used),
			"available":    clampInt64(vm.Available),
			"used_percent": round2(vm.UsedPercent),
		}
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		c.log.Debug().Err(err).Msg("load.AvgWithContext failed")
	} else {
		metrics["load"] = []any{round2(avg.Load1), round2(avg.Load5), round2(avg.Load15)}
	}

	if usage, err := disk.UsageWithContext(ctx, c.diskPath); err != nil {
		c.log.Debug().Err(err).Str("path", c.diskPath).Msg("disk.UsageWithContext failed")
	} else {
		metrics["disk"] = map[string]any{
			"path":         c.diskPath,
			"total":        clampInt64(usage.Total),
			"used":         clampInt64(usage.Used),
			"used_percent": round2(usage.UsedPercent),
		}
	}

	if info, err := host.InfoWithContext(ctx); err != nil {
		c.log.Debug().Err(err).Msg("host.InfoWithContext failed")
	} else {
		metrics["platform"] = info.Platform
		metrics["kernel"] = info.KernelVersion
		metrics["uptime_seconds"] = clampInt64(info.Uptime)
	}

	return metrics, nil
}

// round2 rounds to two decimals.
func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func clampInt64(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}

	return int64(v)
}
