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
	"github.com/go-playground/validator/v10"

	"github.com/alibaba/opensandbox/procguard/pkg/detect"
	"github.com/alibaba/opensandbox/procguard/pkg/mitigate"
	"github.com/alibaba/opensandbox/procguard/pkg/sched"
)

// SpawnRequest starts a process under the guard.
type SpawnRequest struct {
	Path string   `json:"path" validate:"required"`
	Args []string `json:"args,omitempty"`
}

func (r *SpawnRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

type SpawnResponse struct {
	PID int `json:"pid"`
}

// ApplyActionRequest asks for one manual remediation.
type ApplyActionRequest struct {
	PID  int    `json:"pid" validate:"gt=0"`
	Kind string `json:"kind" validate:"required,oneof=throttle suspend resume terminate kill restrict-affinity"`
}

func (r *ApplyActionRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// ParsedKind returns the validated kind.
func (r *ApplyActionRequest) ParsedKind() (mitigate.Kind, error) {
	return mitigate.ParseKind(r.Kind)
}

// StepRequest advances the scheduler. Zero steps means one.
type StepRequest struct {
	Steps int `json:"steps,omitempty" validate:"gte=0,lte=1000"`
}

func (r *StepRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

type StepResponse struct {
	Dispatches []*sched.Dispatch `json:"dispatches"`
	Idle       bool              `json:"idle"`
}

// PolicyRequest switches the scheduling policy.
type PolicyRequest struct {
	Policy string `json:"policy" validate:"required,oneof=priority round-robin"`
}

func (r *PolicyRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// ScheduleResponse describes the scheduler and, for the priority policy, the
// current run order.
type ScheduleResponse struct {
	sched.State `json:",inline"`
	Rank        []sched.RankEntry `json:"rank,omitempty"`
}

// AlertsResponse pairs the retained alert history with the last report.
type AlertsResponse struct {
	Alerts     []detect.Flag  `json:"alerts"`
	LastReport *detect.Report `json:"last_report,omitempty"`
}
