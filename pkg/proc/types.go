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
	"time"
)

// State is the lifecycle state of a tracked process.
type State string

const (
	StateReady      State = "Ready"
	StateRunning    State = "Running"
	StateBlocked    State = "Blocked"
	StateSuspended  State = "Suspended"
	StateTerminated State = "Terminated"
)

// Observation is one read of a live process.
type Observation struct {
	PID        int       `json:"pid"`
	PPID       int       `json:"ppid"`
	Name       string    `json:"name"`
	Owner      string    `json:"owner"`
	CPUPercent float64   `json:"cpu_pct"`
	MemPercent float64   `json:"mem_pct"`
	Priority   int       `json:"priority"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReadFailure records a pid that could not be read during an enumeration.
type ReadFailure struct {
	PID int
	Err error
}

// Listing is the result of one enumeration of the process table. Pids that
// failed to read are reported in Failures instead of aborting the listing.
type Listing struct {
	Processes []Observation
	Failures  []ReadFailure
}

// Adapter is the only boundary allowed to touch the live process table.
type Adapter interface {
	// Enumerate lists every visible process with its metrics.
	Enumerate(ctx context.Context) (*Listing, error)
	// Read observes a single pid.
	Read(ctx context.Context, pid int) (Observation, error)
	// SetPriority sets the niceness of pid.
	SetPriority(ctx context.Context, pid int, value int) error
	// SignalTerminate requests a graceful exit.
	SignalTerminate(ctx context.Context, pid int) error
	// SignalKill forces an exit.
	SignalKill(ctx context.Context, pid int) error
	// SignalSuspend stops scheduling of pid.
	SignalSuspend(ctx context.Context, pid int) error
	// SignalResume continues a stopped pid.
	SignalResume(ctx context.Context, pid int) error
	// SetAffinity pins pid to the given cores.
	SetAffinity(ctx context.Context, pid int, cores []int) error
	// Spawn starts path with argv and returns the child pid.
	Spawn(ctx context.Context, path string, argv []string) (int, error)
	// Wait blocks until pid exits, timeout elapses or ctx is done.
	Wait(ctx context.Context, pid int, timeout time.Duration) error
}

// stateFromStatus maps a single-letter /proc status to a State.
// R: Running S: Sleep T: Stop I: Idle Z: Zombie W: Wait L: Lock D: Disk sleep
func stateFromStatus(status string) State {
	if status == "" {
		return StateReady
	}
	switch status[0] {
	case 'R':
		return StateRunning
	case 'S', 'I':
		return StateReady
	case 'D', 'W', 'L':
		return StateBlocked
	case 'T', 't':
		return StateSuspended
	case 'Z', 'X', 'x':
		return StateTerminated
	default:
		return StateReady
	}
}
