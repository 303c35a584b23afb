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

package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alibaba/opensandbox/procguard/pkg/audit"
	"github.com/alibaba/opensandbox/procguard/pkg/detect"
	"github.com/alibaba/opensandbox/procguard/pkg/log"
	"github.com/alibaba/opensandbox/procguard/pkg/mitigate"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
	"github.com/alibaba/opensandbox/procguard/pkg/registry"
	"github.com/alibaba/opensandbox/procguard/pkg/sched"
)

// CycleResult summarises one refresh, detect, mitigate and schedule pass.
type CycleResult struct {
	StartedAt  time.Time               `json:"started_at"`
	Duration   time.Duration           `json:"duration"`
	Refresh    *registry.RefreshResult `json:"refresh"`
	Removed    []int                   `json:"removed,omitempty"`
	Report     *detect.Report          `json:"report"`
	Actions    []*mitigate.Action      `json:"actions,omitempty"`
	Deferred   []mitigate.Decision     `json:"deferred,omitempty"`
	Dispatches []*sched.Dispatch       `json:"dispatches,omitempty"`
}

// RunCycle refreshes the registry, evaluates it, applies automatic
// mitigations when enabled and advances the scheduler. A failed enumeration
// leaves the registry untouched and returns an error; every later failure is
// logged and the cycle continues.
func (s *Session) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !s.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer s.cycleMu.Unlock()

	start := s.now()
	refresh, err := s.registry.Refresh(ctx, s.adapter)
	if err != nil {
		s.metrics.cycleErrors.Inc()
		return nil, fmt.Errorf("refresh process registry: %w", err)
	}
	for _, f := range refresh.Failures {
		log.Debug("skipped pid %d this cycle: %v", f.PID, f.Err)
	}

	res := &CycleResult{StartedAt: start, Refresh: refresh}
	res.Removed = s.registry.RemoveStale(s.cfg.MaxMissed)

	s.sample(ctx)

	report := s.detector.Evaluate(s.registry.Records(), s.cfg.Thresholds())
	res.Report = report
	s.recordAlerts(report)

	if s.cfg.AutoMitigate {
		s.mitigate(ctx, report, res)
	}

	for i := 0; i < s.cfg.ScheduleSteps; i++ {
		d, ok, err := s.Step()
		if err != nil {
			log.Error("scheduler step failed: %v", err)
			break
		}
		if !ok {
			break
		}
		res.Dispatches = append(res.Dispatches, d)
	}

	res.Duration = s.now().Sub(start)
	s.metrics.cycles.Inc()
	s.metrics.cycleDuration.Observe(res.Duration.Seconds())
	s.metrics.tracked.Set(float64(report.ProcessCount))
	s.metrics.skipped.Set(float64(len(report.Skipped)))

	s.mu.Lock()
	s.lastCycle = res
	s.mu.Unlock()
	return res, nil
}

func (s *Session) sample(ctx context.Context) {
	if s.sampler == nil {
		return
	}
	smp, err := s.sampler.Sample(ctx)
	if err != nil {
		log.Warn("failed to sample host resources: %v", err)
		return
	}
	if smp.Time.IsZero() {
		smp.Time = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = appendBounded(s.samples, smp, s.cfg.SampleHistory)
}

func (s *Session) recordAlerts(report *detect.Report) {
	for _, f := range report.Flags {
		s.metrics.flags.WithLabelValues(string(f.Reason)).Inc()
		if s.alertLog == nil {
			continue
		}
		err := s.alertLog.Record(audit.Entry{
			Time:    report.EvaluatedAt,
			Event:   string(f.Reason),
			PID:     f.PID,
			Name:    f.Name,
			Owner:   f.Owner,
			Details: f.String(),
		})
		if err != nil {
			log.Error("failed to write alert for pid %d: %v", f.PID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReport = report
	for _, f := range report.Flags {
		s.alerts = appendBounded(s.alerts, f, s.cfg.HistorySize)
		for _, ch := range s.subscribers {
			select {
			case ch <- f:
			default:
			}
		}
	}
}

func (s *Session) mitigate(ctx context.Context, report *detect.Report, res *CycleResult) {
	for _, d := range s.policy.Decide(report) {
		if !s.limiter.Allow() {
			s.metrics.deferred.Inc()
			log.Warn("mitigation rate limit reached, deferring %s on pid %d", d.Kind, d.Target.PID)
			res.Deferred = append(res.Deferred, d)
			continue
		}
		a, err := s.mitigator.Apply(ctx, d.Target, d.Kind, mitigate.Request{Automatic: true, Trigger: d.Trigger()})
		if err != nil {
			if errors.Is(err, mitigate.ErrActionInFlight) || errors.Is(err, mitigate.ErrSelfTarget) {
				log.Debug("skipped %s on pid %d: %v", d.Kind, d.Target.PID, err)
			} else {
				log.Warn("rejected %s on pid %d: %v", d.Kind, d.Target.PID, err)
			}
			continue
		}
		s.observe(a)
		res.Actions = append(res.Actions, a)
	}
}

// observe folds a completed action into the registry and the metrics.
func (s *Session) observe(a *mitigate.Action) {
	s.metrics.actions.WithLabelValues(string(a.Kind), string(a.Outcome)).Inc()
	if a.Failed() {
		return
	}

	var err error
	switch a.Kind {
	case mitigate.KindSuspend:
		err = s.registry.SetState(a.PID, proc.StateSuspended)
	case mitigate.KindResume:
		err = s.registry.SetState(a.PID, proc.StateRunning)
	case mitigate.KindTerminate, mitigate.KindKill:
		err = s.registry.SetState(a.PID, proc.StateTerminated)
	case mitigate.KindThrottle:
		if a.NewPriority != nil {
			s.registry.SetPriority(a.PID, *a.NewPriority)
		}
	}
	if err != nil && !errors.Is(err, proc.ErrNotFound) {
		log.Debug("registry not updated after %s on pid %d: %v", a.Kind, a.PID, err)
	}
}

// Step advances the scheduler by one dispatch.
func (s *Session) Step() (*sched.Dispatch, bool, error) {
	var (
		d  *sched.Dispatch
		ok bool
	)
	err := s.registry.Mutate(func(records []*registry.Record) error {
		var err error
		d, ok, err = s.scheduler.Step(records)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if ok {
		s.metrics.dispatches.WithLabelValues(d.Policy).Inc()
	}
	return d, ok, nil
}

// Apply performs a manual remediation against pid. Protected names are not
// consulted; only automatic mitigation honours them.
func (s *Session) Apply(ctx context.Context, pid int, kind mitigate.Kind) (*mitigate.Action, error) {
	target := mitigate.Target{PID: pid}
	if rec, ok := s.registry.Lookup(pid); ok {
		target.Name = rec.Name
		target.Owner = rec.Owner
	} else if pid > 0 {
		if obs, err := s.adapter.Read(ctx, pid); err == nil {
			target.Name = obs.Name
			target.Owner = obs.Owner
		}
	}

	a, err := s.mitigator.Apply(ctx, target, kind)
	if err != nil {
		return nil, err
	}
	s.observe(a)
	return a, nil
}

// Spawn starts a process; it joins the registry on the next refresh.
func (s *Session) Spawn(ctx context.Context, path string, argv []string) (int, error) {
	pid, err := s.adapter.Spawn(ctx, path, argv)
	if err != nil {
		return -1, err
	}
	return pid, nil
}

func appendBounded[T any](items []T, item T, limit int) []T {
	items = append(items, item)
	if limit > 0 && len(items) > limit {
		items = append(items[:0:0], items[len(items)-limit:]...)
	}
	return items
}
