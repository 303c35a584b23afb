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

package registry

import (
	"time"

	"github.com/looplab/fsm"

	"github.com/alibaba/opensandbox/procguard/pkg/proc"
)

// Units counts abstract scheduling work. It is never a wall-clock quantity.
type Units int64

// Record is one tracked process.
type Record struct {
	PID   int    `json:"pid"`
	PPID  int    `json:"ppid"`
	Name  string `json:"name"`
	Owner string `json:"owner"`
	// Priority is the niceness, lower runs first.
	Priority  int       `json:"priority"`
	ArrivedAt time.Time `json:"arrived_at"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`

	Burst     Units `json:"burst"`
	Remaining Units `json:"remaining"`
	Serviced  Units `json:"serviced"`
	Waiting   Units `json:"waiting"`
	Completed bool  `json:"completed"`

	CPUPercent   float64 `json:"cpu_pct"`
	MemPercent   float64 `json:"mem_pct"`
	CreationRate float64 `json:"creation_rate"`

	State  proc.State `json:"state"`
	Missed int        `json:"missed"`
	// Seq is the discovery index, unique for the life of the registry.
	Seq uint64 `json:"seq"`

	lifecycle *fsm.FSM
}

// Clone returns a detached copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.lifecycle = nil
	return &c
}

// Live reports whether the record has not been observed as terminated.
func (r *Record) Live() bool {
	return r.State != proc.StateTerminated
}

func (r *Record) merge(obs proc.Observation, now time.Time) {
	r.PPID = obs.PPID
	r.Name = obs.Name
	r.Owner = obs.Owner
	r.Priority = obs.Priority
	r.CPUPercent = obs.CPUPercent
	r.MemPercent = obs.MemPercent
	r.Missed = 0
	r.LastSeen = now
}
