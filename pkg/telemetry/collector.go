// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
)

// DefaultSampleInterval is how often the collector queries the host.
const DefaultSampleInterval = 2 * time.Second

// HostStats is the last host sample.
type HostStats struct {
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	SampledAt     time.Time `json:"sampledAt"`
}

// SampleFunc reads host usage.
type SampleFunc func(ctx context.Context) (HostStats, error)

// Collector samples host usage at most once per interval.
type Collector struct {
	mu       sync.Mutex
	sample   SampleFunc
	interval time.Duration
	last     HostStats
	lastErr  error
}

// NewCollector returns a collector using gopsutil. A nil sample func selects the default.
func NewCollector(interval time.Duration, sample SampleFunc) *Collector {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}

	if sample == nil {
		sample = SampleHost
	}

	return &Collector{sample: sample, interval: interval}
}

// SampleHost reads CPU and memory usage.
// The CPU value is measured since the previous call, so the first one may read 0.
func SampleHost(ctx context.Context) (HostStats, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return HostStats{}, err
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostStats{}, err
	}

	stats := HostStats{MemoryPercent: vm.UsedPercent}
	if len(cpuPercent) > 0 {
		stats.CPUPercent = cpuPercent[0]
	}

	return stats, nil
}

// Collect returns the cached sample and refreshes it when it is older than the interval.
// On error the previous sample is kept.
func (c *Collector) Collect(ctx context.Context, now time.Time) (HostStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.last.SampledAt.IsZero() && now.Sub(c.last.SampledAt) < c.interval {
		return c.last, c.lastErr
	}

	stats, err := c.sample(ctx)
	if err != nil {
		c.lastErr = err
		c.last.SampledAt = now

		return c.last, err
	}

	stats.SampledAt = now
	c.last, c.lastErr = stats, nil

	metrics.SetHostUsage("cpu", stats.CPUPercent)
	metrics.SetHostUsage("memory", stats.MemoryPercent)

	return c.last, nil
}
