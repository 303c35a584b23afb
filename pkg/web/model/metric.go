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

package model

import (
	"time"

	"github.com/alibaba/opensandbox/procguard/pkg/proc"
)

// Metrics represents system resource usage metrics
type Metrics struct {
	CpuCount    float64 `json:"cpu_count"`
	CpuUsedPct  float64 `json:"cpu_used_pct"`
	MemTotalMiB float64 `json:"mem_total_mib"`
	MemUsedMiB  float64 `json:"mem_used_mib"`
	MemUsedPct  float64 `json:"mem_used_pct"`
	Timestamp   int64   `json:"timestamp"`
}

// NewMetrics converts a host sample; a zero sample time is stamped now.
func NewMetrics(s proc.Sample) *Metrics {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Metrics{
		CpuCount:    float64(s.CPUCount),
		CpuUsedPct:  s.CPUPercent,
		MemTotalMiB: s.MemTotalMiB,
		MemUsedMiB:  s.MemUsedMiB,
		MemUsedPct:  s.MemPercent,
		Timestamp:   ts.UnixMilli(),
	}
}
