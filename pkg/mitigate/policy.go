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

package mitigate

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/alibaba/opensandbox/procguard/pkg/detect"
)

type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityModerate Severity = "moderate"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{SeverityInfo: 0, SeverityModerate: 1, SeverityHigh: 2}

// PolicyConfig maps flag severities to remediations.
type PolicyConfig struct {
	CPUHardCeiling float64
	HighAction     Kind
	ModerateAction Kind
	// Protected holds glob patterns of process names that are never acted on
	// automatically.
	Protected []string
}

// Decision is a remediation the policy wants applied.
type Decision struct {
	Target   Target          `json:"target"`
	Kind     Kind            `json:"kind"`
	Severity Severity        `json:"severity"`
	Reasons  []detect.Reason `json:"reasons"`
}

// Trigger renders the reasons that led to the decision.
func (d Decision) Trigger() string {
	parts := make([]string, len(d.Reasons))
	for i, r := range d.Reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

type Policy struct {
	cfg PolicyConfig
}

func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	switch cfg.HighAction {
	case KindTerminate, KindSuspend:
	default:
		return nil, fmt.Errorf("high severity action must be Terminate or Suspend, got %q", cfg.HighAction)
	}
	switch cfg.ModerateAction {
	case KindThrottle, KindRestrictAffinity:
	default:
		return nil, fmt.Errorf("moderate action must be Throttle or RestrictAffinity, got %q", cfg.ModerateAction)
	}
	for _, pattern := range cfg.Protected {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid protected pattern %q", pattern)
		}
	}
	return &Policy{cfg: cfg}, nil
}

// Classify grades a single flag.
func (p *Policy) Classify(f detect.Flag) Severity {
	switch f.Reason {
	case detect.ReasonForkBombSuspect:
		return SeverityHigh
	case detect.ReasonCPUExcess:
		if f.Measured > p.cfg.CPUHardCeiling {
			return SeverityHigh
		}
		return SeverityModerate
	case detect.ReasonMemoryExcess:
		return SeverityModerate
	default:
		return SeverityInfo
	}
}

// Protected reports whether name matches a protected pattern.
func (p *Policy) Protected(name string) bool {
	for _, pattern := range p.cfg.Protected {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Decide turns a report into at most one decision per pid, in the order the
// pids first appear. System-wide flags, informational flags and protected
// processes produce no decision.
func (p *Policy) Decide(report *detect.Report) []Decision {
	var order []int
	byPID := make(map[int]*Decision)

	for _, f := range report.Flags {
		if f.PID == detect.SystemPID {
			continue
		}
		sev := p.Classify(f)
		if sev == SeverityInfo {
			continue
		}
		d, ok := byPID[f.PID]
		if !ok {
			d = &Decision{
				Target:   Target{PID: f.PID, Name: f.Name, Owner: f.Owner},
				Severity: sev,
			}
			byPID[f.PID] = d
			order = append(order, f.PID)
		}
		if severityRank[sev] > severityRank[d.Severity] {
			d.Severity = sev
		}
		d.Reasons = append(d.Reasons, f.Reason)
	}

	out := make([]Decision, 0, len(order))
	for _, pid := range order {
		d := byPID[pid]
		if p.Protected(d.Target.Name) {
			continue
		}
		if d.Severity == SeverityHigh {
			d.Kind = p.cfg.HighAction
		} else {
			d.Kind = p.cfg.ModerateAction
		}
		out = append(out, *d)
	}
	return out
}
