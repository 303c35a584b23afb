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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alibaba/opensandbox/procguard/pkg/proc"
)

// Kind is the remediation applied to a process.
type Kind string

const (
	KindThrottle         Kind = "Throttle"
	KindSuspend          Kind = "Suspend"
	KindResume           Kind = "Resume"
	KindTerminate        Kind = "Terminate"
	KindRestrictAffinity Kind = "RestrictAffinity"
	// KindKill is never chosen automatically.
	KindKill Kind = "Kill"
)

var kindNames = map[string]Kind{
	"throttle":          KindThrottle,
	"suspend":           KindSuspend,
	"resume":            KindResume,
	"terminate":         KindTerminate,
	"restrict-affinity": KindRestrictAffinity,
	"restrictaffinity":  KindRestrictAffinity,
	"kill":              KindKill,
}

var ErrUnknownKind = errors.New("unknown mitigation kind")

// ParseKind accepts both the canonical name and the lower-case config form.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) Valid() bool {
	switch k {
	case KindThrottle, KindSuspend, KindResume, KindTerminate, KindRestrictAffinity, KindKill:
		return true
	}
	return false
}

// Event is the audit event type for the kind.
func (k Kind) Event() string {
	if k == KindRestrictAffinity {
		return "RESTRICT_AFFINITY"
	}
	return strings.ToUpper(string(k))
}

type Outcome string

const (
	OutcomePending Outcome = "Pending"
	OutcomeSuccess Outcome = "Success"
	OutcomeFailed  Outcome = "Failed"
)

// Target identifies the process an action is aimed at.
type Target struct {
	PID   int    `json:"pid"`
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// Action is one requested or completed remediation.
type Action struct {
	ID          string     `json:"id"`
	PID         int        `json:"pid"`
	Name        string     `json:"name"`
	Owner       string     `json:"owner"`
	Kind        Kind       `json:"kind"`
	Automatic   bool       `json:"automatic"`
	Trigger     string     `json:"trigger,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	Outcome     Outcome    `json:"outcome"`
	Cause       proc.Cause `json:"cause,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	OldPriority *int       `json:"old_priority,omitempty"`
	NewPriority *int       `json:"new_priority,omitempty"`
	Managed     *bool      `json:"managed,omitempty"`
}

func (a *Action) Failed() bool {
	return a.Outcome == OutcomeFailed
}

func (a *Action) clone() *Action {
	c := *a
	if a.OldPriority != nil {
		v := *a.OldPriority
		c.OldPriority = &v
	}
	if a.NewPriority != nil {
		v := *a.NewPriority
		c.NewPriority = &v
	}
	if a.Managed != nil {
		v := *a.Managed
		c.Managed = &v
	}
	return &c
}

// summary renders the audit details column.
func (a *Action) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "outcome=%s", a.Outcome)
	if a.Cause != proc.CauseNone {
		fmt.Fprintf(&b, " cause=%s", a.Cause)
	}
	if a.OldPriority != nil && a.NewPriority != nil {
		fmt.Fprintf(&b, " priority=%d->%d", *a.OldPriority, *a.NewPriority)
	}
	if a.Managed != nil && !*a.Managed {
		b.WriteString(" unmanaged")
	}
	if a.Automatic {
		b.WriteString(" auto")
	}
	if a.Trigger != "" {
		fmt.Fprintf(&b, " trigger=%s", a.Trigger)
	}
	if a.Detail != "" {
		fmt.Fprintf(&b, " detail=%q", a.Detail)
	}
	fmt.Fprintf(&b, " id=%s", a.ID)
	return b.String()
}
