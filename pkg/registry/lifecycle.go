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
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/alibaba/opensandbox/procguard/pkg/proc"
)

// ErrInvalidTransition is returned when a record is asked to leave a state it
// cannot leave, such as Terminated.
var ErrInvalidTransition = errors.New("invalid state transition")

const (
	eventReady     = "ready"
	eventRun       = "run"
	eventBlock     = "block"
	eventSuspend   = "suspend"
	eventTerminate = "terminate"
)

var (
	stReady      = string(proc.StateReady)
	stRunning    = string(proc.StateRunning)
	stBlocked    = string(proc.StateBlocked)
	stSuspended  = string(proc.StateSuspended)
	stTerminated = string(proc.StateTerminated)
)

// Ready, Running and Blocked follow whatever the OS reports. Suspended only
// leaves through Running, and Terminated is final.
var lifecycleEvents = fsm.Events{
	{Name: eventReady, Src: []string{stRunning, stBlocked}, Dst: stReady},
	{Name: eventRun, Src: []string{stReady, stBlocked, stSuspended}, Dst: stRunning},
	{Name: eventBlock, Src: []string{stReady, stRunning}, Dst: stBlocked},
	{Name: eventSuspend, Src: []string{stReady, stRunning, stBlocked}, Dst: stSuspended},
	{Name: eventTerminate, Src: []string{stReady, stRunning, stBlocked, stSuspended}, Dst: stTerminated},
}

var eventFor = map[proc.State]string{
	proc.StateReady:      eventReady,
	proc.StateRunning:    eventRun,
	proc.StateBlocked:    eventBlock,
	proc.StateSuspended:  eventSuspend,
	proc.StateTerminated: eventTerminate,
}

func newLifecycle(initial proc.State) *fsm.FSM {
	if initial == "" {
		initial = proc.StateReady
	}
	return fsm.NewFSM(string(initial), lifecycleEvents, fsm.Callbacks{})
}

// transition moves r to state to, routing Suspended through Running when the
// target is Ready or Blocked.
func (r *Record) transition(to proc.State) error {
	if r.lifecycle == nil {
		r.lifecycle = newLifecycle(r.State)
	}
	from := proc.State(r.lifecycle.Current())
	if from == to {
		return nil
	}
	event, ok := eventFor[to]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}

	ctx := context.Background()
	if from == proc.StateSuspended && (to == proc.StateReady || to == proc.StateBlocked) {
		if err := r.lifecycle.Event(ctx, eventRun); err != nil {
			return fmt.Errorf("%w: %s -> %s: %v", ErrInvalidTransition, from, to, err)
		}
	}
	if err := r.lifecycle.Event(ctx, event); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", ErrInvalidTransition, from, to, err)
	}
	r.State = proc.State(r.lifecycle.Current())
	return nil
}
