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
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alibaba/opensandbox/procguard/pkg/audit"
	"github.com/alibaba/opensandbox/procguard/pkg/log"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
)

const (
	maxNiceness = 19

	persistTimeout = 5 * time.Second
)

var (
	ErrActionInFlight = errors.New("an action is already pending for this pid")
	ErrSelfTarget     = errors.New("refusing to act on the guard's own process")
	ErrInvalidTarget  = errors.New("invalid target pid")
)

// Recorder receives one audit entry per completed action.
type Recorder interface {
	Record(e audit.Entry) error
}

// Sink persists completed actions.
type Sink interface {
	SaveAction(ctx context.Context, a *Action) error
}

// Options are the tunables of the engine.
type Options struct {
	ThrottleStep     int
	TerminateTimeout time.Duration
	AffinityCores    []int
	HistorySize      int
	// SelfPID is never acted on. Defaults to os.Getpid().
	SelfPID int
}

type EngineOption func(*Engine)

func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		e.recorder = r
	}
}

func WithSink(s Sink) EngineOption {
	return func(e *Engine) {
		e.sink = s
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine applies one remediation at a time per pid and owns the resulting
// action records.
type Engine struct {
	adapter  proc.Adapter
	opts     Options
	recorder Recorder
	sink     Sink
	now      func() time.Time

	mu        sync.Mutex
	pending   map[int]*Action
	suspended map[int]string
	history   []*Action
}

func NewEngine(adapter proc.Adapter, opts Options, options ...EngineOption) *Engine {
	if opts.SelfPID == 0 {
		opts.SelfPID = os.Getpid()
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 1000
	}
	e := &Engine{
		adapter:   adapter,
		opts:      opts,
		now:       time.Now,
		pending:   make(map[int]*Action),
		suspended: make(map[int]string),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Request carries the optional context of an Apply call.
type Request struct {
	Automatic bool
	Trigger   string
}

// Apply performs exactly one remediation against target. The returned error
// is non-nil only when the request was rejected; an action that was attempted
// and failed comes back with Outcome Failed and a Cause.
func (e *Engine) Apply(ctx context.Context, target Target, kind Kind, req ...Request) (*Action, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if target.PID <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTarget, target.PID)
	}
	if target.PID == e.opts.SelfPID {
		return nil, ErrSelfTarget
	}

	action := &Action{
		ID:          uuid.New().String(),
		PID:         target.PID,
		Name:        target.Name,
		Owner:       target.Owner,
		Kind:        kind,
		RequestedAt: e.now(),
		Outcome:     OutcomePending,
	}
	if len(req) > 0 {
		action.Automatic = req[0].Automatic
		action.Trigger = req[0].Trigger
	}

	e.mu.Lock()
	if inflight, ok := e.pending[target.PID]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: pid %d action %s", ErrActionInFlight, target.PID, inflight.ID)
	}
	e.pending[target.PID] = action.clone()
	managed := e.suspended[target.PID] != ""
	e.mu.Unlock()

	err := e.execute(ctx, action, managed)
	e.finish(action, err)

	done := action.clone()
	e.report(ctx, done)
	return done, nil
}

func (e *Engine) execute(ctx context.Context, a *Action, managed bool) error {
	switch a.Kind {
	case KindThrottle:
		return e.throttle(ctx, a)
	case KindSuspend:
		return e.adapter.SignalSuspend(ctx, a.PID)
	case KindResume:
		a.Managed = &managed
		if !managed {
			log.Warn("resuming pid %d which was not suspended by procguard (unmanaged)", a.PID)
		}
		return e.adapter.SignalResume(ctx, a.PID)
	case KindTerminate:
		if err := e.adapter.SignalTerminate(ctx, a.PID); err != nil {
			return err
		}
		return e.awaitExit(ctx, a)
	case KindKill:
		if err := e.adapter.SignalKill(ctx, a.PID); err != nil {
			return err
		}
		return e.awaitExit(ctx, a)
	case KindRestrictAffinity:
		a.Detail = fmt.Sprintf("cores=%v", e.opts.AffinityCores)
		return e.adapter.SetAffinity(ctx, a.PID, e.opts.AffinityCores)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, a.Kind)
	}
}

func (e *Engine) throttle(ctx context.Context, a *Action) error {
	obs, err := e.adapter.Read(ctx, a.PID)
	if err != nil {
		return err
	}
	old := obs.Priority
	next := min(old+e.opts.ThrottleStep, maxNiceness)
	a.OldPriority = &old
	a.NewPriority = &next
	if next == old {
		a.Detail = "already at lowest priority"
		return nil
	}
	return e.adapter.SetPriority(ctx, a.PID, next)
}

func (e *Engine) awaitExit(ctx context.Context, a *Action) error {
	err := e.adapter.Wait(ctx, a.PID, e.opts.TerminateTimeout)
	if err != nil && proc.CauseOf(err) == proc.CauseTimeout {
		a.Detail = "did not exit within timeout"
	}
	return err
}

func (e *Engine) finish(a *Action, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a.CompletedAt = e.now()
	if err != nil {
		a.Outcome = OutcomeFailed
		a.Cause = proc.CauseOf(err)
		if a.Detail == "" {
			a.Detail = err.Error()
		}
	} else {
		a.Outcome = OutcomeSuccess
		switch a.Kind {
		case KindSuspend:
			e.suspended[a.PID] = a.ID
		case KindResume, KindTerminate, KindKill:
			delete(e.suspended, a.PID)
		}
	}
	if a.Failed() && a.Cause == proc.CauseNotFound {
		delete(e.suspended, a.PID)
	}

	delete(e.pending, a.PID)
	e.history = append(e.history, a)
	if over := len(e.history) - e.opts.HistorySize; over > 0 {
		clear(e.history[:over])
		e.history = e.history[over:]
	}
}

func (e *Engine) report(ctx context.Context, a *Action) {
	if a.Failed() {
		log.Warn("%s pid %d failed: %s (%s)", a.Kind, a.PID, a.Cause, a.Detail)
	} else {
		log.Info("%s pid %d succeeded", a.Kind, a.PID)
	}
	if e.recorder != nil {
		err := e.recorder.Record(audit.Entry{
			Time:    a.CompletedAt,
			Event:   a.Kind.Event(),
			PID:     a.PID,
			Name:    a.Name,
			Owner:   a.Owner,
			Details: a.summary(),
		})
		if err != nil {
			log.Error("failed to write action audit entry for pid %d: %v", a.PID, err)
		}
	}
	if e.sink != nil {
		// the action already happened; persist it even if the caller is gone
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := e.sink.SaveAction(ctx, a); err != nil {
			log.Warn("failed to persist action %s: %v", a.ID, err)
		}
	}
}

// History returns completed actions, oldest first.
func (e *Engine) History() []*Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Action, len(e.history))
	for i, a := range e.history {
		out[i] = a.clone()
	}
	return out
}

// Pending returns the actions currently in flight, ordered by pid.
func (e *Engine) Pending() []*Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Action, 0, len(e.pending))
	for _, a := range e.pending {
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Suspended reports whether pid is currently stopped by this engine.
func (e *Engine) Suspended(pid int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.suspended[pid] != ""
}
