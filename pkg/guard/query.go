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
	"sort"

	"github.com/alibaba/opensandbox/procguard/pkg/detect"
	"github.com/alibaba/opensandbox/procguard/pkg/log"
	"github.com/alibaba/opensandbox/procguard/pkg/mitigate"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
	"github.com/alibaba/opensandbox/procguard/pkg/registry"
	"github.com/alibaba/opensandbox/procguard/pkg/sched"
)

// ListProcesses returns copies of the tracked records in discovery order.
// Terminated records are left out unless all is set.
func (s *Session) ListProcesses(all bool) []*registry.Record {
	records := s.registry.Records()
	if all {
		return records
	}
	out := records[:0]
	for _, rec := range records {
		if rec.Live() {
			out = append(out, rec)
		}
	}
	return out
}

// Process returns a copy of the record for pid.
func (s *Session) Process(pid int) (*registry.Record, bool) {
	return s.registry.Lookup(pid)
}

// ListAlerts returns the retained threat flags, oldest first.
func (s *Session) ListAlerts() []detect.Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]detect.Flag(nil), s.alerts...)
}

// LastReport returns the report of the most recent cycle, or nil.
func (s *Session) LastReport() *detect.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastReport
}

// LastCycle returns the result of the most recent successful cycle, or nil.
func (s *Session) LastCycle() *CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastCycle
}

// ListResourceSamples returns the retained host samples, oldest first.
func (s *Session) ListResourceSamples() []proc.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]proc.Sample(nil), s.samples...)
}

// ListActions returns completed actions, oldest first, followed by any that
// are still pending.
func (s *Session) ListActions() []*mitigate.Action {
	return append(s.mitigator.History(), s.mitigator.Pending()...)
}

// StoredActions reads the most recent persisted actions, newest first.
func (s *Session) StoredActions(ctx context.Context, limit int) ([]*mitigate.Action, error) {
	if s.store == nil {
		return nil, ErrNoHistoryStore
	}
	return s.store.RecentActions(ctx, limit)
}

// SchedulerState describes the active policy.
func (s *Session) SchedulerState() sched.State {
	return s.scheduler.State()
}

// UsePolicy switches the scheduling policy. Work accounting carries over.
func (s *Session) UsePolicy(name string) error {
	policy, err := sched.NewPolicy(name, s.backend, s.cfg.AgingFactor, s.cfg.TimeQuantum)
	if err != nil {
		return err
	}
	s.scheduler.Use(policy)
	log.Info("scheduling policy switched to %s", name)
	return nil
}

// Rank returns the aged priority order of the eligible records when the
// priority policy is active.
func (s *Session) Rank() ([]sched.RankEntry, error) {
	p, ok := s.scheduler.Policy().(*sched.Priority)
	if !ok {
		return nil, ErrNotRankable
	}
	return p.Rank(s.registry.Records())
}

// Subscribe streams flags raised by later cycles. Flags are dropped for a
// subscriber whose buffer is full. The channel is closed by cancel or Close.
func (s *Session) Subscribe(buffer int) (<-chan detect.Flag, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan detect.Flag, buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(c)
		}
	}
	return ch, cancel
}

// Suspended lists pids currently held suspended by this session.
func (s *Session) Suspended() []int {
	var pids []int
	for _, rec := range s.registry.Records() {
		if s.mitigator.Suspended(rec.PID) {
			pids = append(pids, rec.PID)
		}
	}
	sort.Ints(pids)
	return pids
}
