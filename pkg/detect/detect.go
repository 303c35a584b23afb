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

package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/alibaba/opensandbox/procguard/pkg/kernel"
	"github.com/alibaba/opensandbox/procguard/pkg/registry"
)

// Reason is why a process was flagged.
type Reason string

const (
	ReasonCPUExcess         Reason = "CPU_EXCESS"
	ReasonMemoryExcess      Reason = "MEMORY_EXCESS"
	ReasonForkBombSuspect   Reason = "FORK_BOMB_SUSPECT"
	ReasonStarvationSuspect Reason = "STARVATION_SUSPECT"
)

// Reasons lists every reason in evaluation order.
var Reasons = []Reason{ReasonCPUExcess, ReasonMemoryExcess, ReasonForkBombSuspect, ReasonStarvationSuspect}

// SystemPID is carried by flags that concern the whole host.
const SystemPID = 0

// Thresholds are the limits a record is compared against. All comparisons
// are strict: a value equal to its limit never fires.
type Thresholds struct {
	CPUPercent        float64
	MemoryPercent     float64
	ProcessCountLimit int
	CreationRateLimit float64
	WaitingTimeLimit  registry.Units
}

// Flag is immutable evidence that one rule fired.
type Flag struct {
	PID        int       `json:"pid"`
	Name       string    `json:"name"`
	Owner      string    `json:"owner"`
	Reason     Reason    `json:"reason"`
	Measured   float64   `json:"measured"`
	Threshold  float64   `json:"threshold"`
	DetectedAt time.Time `json:"detected_at"`
}

func (f Flag) String() string {
	return fmt.Sprintf("%s measured=%.2f threshold=%.2f", f.Reason, f.Measured, f.Threshold)
}

// Skip names a record that was not evaluated.
type Skip struct {
	PID    int    `json:"pid"`
	Reason string `json:"reason"`
}

// Report is the result of one evaluation pass.
type Report struct {
	Flags        []Flag    `json:"flags"`
	Skipped      []Skip    `json:"skipped,omitempty"`
	ProcessCount int       `json:"process_count"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// ByPID groups the flags by pid, keeping reason order.
func (r *Report) ByPID() map[int][]Flag {
	out := make(map[int][]Flag)
	for _, f := range r.Flags {
		out[f.PID] = append(out[f.PID], f)
	}
	return out
}

// Detector evaluates records against fixed heuristics.
type Detector struct {
	backend kernel.Backend
	now     func() time.Time
}

func New(backend kernel.Backend) *Detector {
	return &Detector{backend: backend, now: time.Now}
}

// WithClock overrides the time stamped on flags.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Evaluate runs every rule against records. Records whose last read failed,
// that have terminated, or whose metrics are out of range are skipped and the
// rest are evaluated.
func (d *Detector) Evaluate(records []*registry.Record, th Thresholds) *Report {
	now := d.now()
	report := &Report{EvaluatedAt: now}

	usable := make([]*registry.Record, 0, len(records))
	for _, rec := range records {
		if !rec.Live() {
			continue
		}
		report.ProcessCount++
		if reason := unusable(rec); reason != "" {
			report.Skipped = append(report.Skipped, Skip{PID: rec.PID, Reason: reason})
			continue
		}
		usable = append(usable, rec)
	}

	if report.ProcessCount > th.ProcessCountLimit {
		report.Flags = append(report.Flags, Flag{
			PID:        SystemPID,
			Name:       "system",
			Reason:     ReasonForkBombSuspect,
			Measured:   float64(report.ProcessCount),
			Threshold:  float64(th.ProcessCountLimit),
			DetectedAt: now,
		})
	}

	cpu := make([]float64, len(usable))
	mem := make([]float64, len(usable))
	for i, rec := range usable {
		cpu[i] = rec.CPUPercent
		mem[i] = rec.MemPercent
	}
	cpuHits, memHits := d.backend.FlagUsage(cpu, mem, th.CPUPercent, th.MemoryPercent)

	for i, rec := range usable {
		flag := func(reason Reason, measured, threshold float64) {
			report.Flags = append(report.Flags, Flag{
				PID:        rec.PID,
				Name:       rec.Name,
				Owner:      rec.Owner,
				Reason:     reason,
				Measured:   measured,
				Threshold:  threshold,
				DetectedAt: now,
			})
		}
		if cpuHits[i] {
			flag(ReasonCPUExcess, rec.CPUPercent, th.CPUPercent)
		}
		if memHits[i] {
			flag(ReasonMemoryExcess, rec.MemPercent, th.MemoryPercent)
		}
		if rec.CreationRate > th.CreationRateLimit {
			flag(ReasonForkBombSuspect, rec.CreationRate, th.CreationRateLimit)
		}
		if rec.Waiting > th.WaitingTimeLimit {
			flag(ReasonStarvationSuspect, float64(rec.Waiting), float64(th.WaitingTimeLimit))
		}
	}
	return report
}

func unusable(rec *registry.Record) string {
	switch {
	case rec.Missed > 0:
		return "transient read failure"
	case !percent(rec.CPUPercent) || !percent(rec.MemPercent):
		return "metric out of range"
	case math.IsNaN(rec.CreationRate) || rec.CreationRate < 0:
		return "creation rate out of range"
	case rec.Waiting < 0:
		return "waiting time out of range"
	}
	return ""
}

func percent(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}
