// Copyright 2026 Alibaba Group Holding Ltd.
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

package proc

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// Sample is one system-wide resource reading.
type Sample struct {
	Time        time.Time `json:"time"`
	CPUCount    int       `json:"cpu_count"`
	CPUPercent  float64   `json:"cpu_used_pct"`
	MemTotalMiB float64   `json:"mem_total_mib"`
	MemUsedMiB  float64   `json:"mem_used_mib"`
	MemPercent  float64   `json:"mem_used_pct"`
}

// Sampler reads system-wide CPU and memory usage.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// HostSampler samples the local host. The CPU figure is the utilisation since
// the previous call, so the first sample after start may read zero.
type HostSampler struct{}

var _ Sampler = HostSampler{}

func (HostSampler) Sample(ctx context.Context) (Sample, error) {
	s := Sample{
		Time:     time.Now(),
		CPUCount: runtime.GOMAXPROCS(-1),
	}

	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to get CPU percent: %w", err)
	}
	if len(cpuPercent) > 0 {
		s.CPUPercent = clampPercent(cpuPercent[0])
	}

	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	s.MemTotalMiB = float64(vmStat.Total) / 1024 / 1024
	s.MemUsedMiB = float64(vmStat.Used) / 1024 / 1024
	s.MemPercent = clampPercent(vmStat.UsedPercent)

	return s, nil
}
