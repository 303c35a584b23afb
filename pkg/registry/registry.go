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
	"sort"
	"sync"
	"time"

	"github.com/alibaba/opensandbox/procguard/pkg/log"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
)

// ErrTransientRead marks a pid that could not be read during a refresh.
var ErrTransientRead = errors.New("transient read failure")

// lineageDepth is how many ancestors a new process is credited to: its parent
// and grandparent. Long-lived supervisors further up do not accumulate the
// children of every job they host.
const lineageDepth = 2

// Source enumerates processes with their metrics. proc.Adapter satisfies it.
type Source interface {
	Enumerate(ctx context.Context) (*proc.Listing, error)
}

// RefreshResult describes what one refresh changed.
type RefreshResult struct {
	At       time.Time
	Added    []int
	Updated  []int
	Replaced []int
	Exited   []int
	Missed   []int
	Failures []proc.ReadFailure
}

type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithDefaultBurst sets the work units assigned to newly discovered processes.
func WithDefaultBurst(burst Units) Option {
	return func(r *Registry) {
		r.defaultBurst = burst
	}
}

// Registry holds the tracked processes in discovery order.
type Registry struct {
	mu           sync.RWMutex
	records      []*Record
	index        map[int]*Record
	seq          uint64
	lastRefresh  time.Time
	refreshed    bool
	now          func() time.Time
	defaultBurst Units
}

func New(opts ...Option) *Registry {
	r := &Registry{
		index:        make(map[int]*Record),
		now:          time.Now,
		defaultBurst: 10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh merges one enumeration from src. A failed enumeration leaves the
// registry untouched; per-pid read failures count as missed observations.
func (r *Registry) Refresh(ctx context.Context, src Source) (*RefreshResult, error) {
	listing, err := src.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	result := &RefreshResult{At: now}

	failed := make(map[int]struct{}, len(listing.Failures))
	for _, f := range listing.Failures {
		failed[f.PID] = struct{}{}
		result.Failures = append(result.Failures, proc.ReadFailure{
			PID: f.PID,
			Err: fmt.Errorf("%w: %w", ErrTransientRead, f.Err),
		})
	}

	seen := make(map[int]struct{}, len(listing.Processes))
	var fresh []proc.Observation
	for _, obs := range listing.Processes {
		if _, dup := seen[obs.PID]; dup {
			continue
		}
		seen[obs.PID] = struct{}{}

		rec, ok := r.index[obs.PID]
		if ok && reused(rec, obs) {
			r.drop(rec)
			result.Replaced = append(result.Replaced, obs.PID)
			ok = false
		}
		if !ok {
			fresh = append(fresh, obs)
			continue
		}

		rec.merge(obs, now)
		if obs.State != "" {
			if err := rec.transition(obs.State); err != nil {
				log.Debug("pid %d keeps state %s: %v", rec.PID, rec.State, err)
			}
		}
		result.Updated = append(result.Updated, obs.PID)
	}

	for _, rec := range r.records {
		if _, ok := seen[rec.PID]; ok {
			continue
		}
		if _, ok := failed[rec.PID]; ok {
			rec.Missed++
			result.Missed = append(result.Missed, rec.PID)
			continue
		}
		if rec.Live() {
			rec.Missed++
			if err := rec.transition(proc.StateTerminated); err == nil {
				result.Exited = append(result.Exited, rec.PID)
			}
		}
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		if !fresh[i].CreatedAt.Equal(fresh[j].CreatedAt) {
			return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
		}
		return fresh[i].PID < fresh[j].PID
	})
	added := make([]*Record, 0, len(fresh))
	for _, obs := range fresh {
		rec := r.admit(obs, now)
		added = append(added, rec)
		result.Added = append(result.Added, rec.PID)
	}

	r.attributeCreation(added, now)
	r.lastRefresh = now
	r.refreshed = true

	return result, nil
}

// reused reports whether obs is a different process that inherited rec's pid.
func reused(rec *Record, obs proc.Observation) bool {
	if !rec.Live() {
		return true
	}
	if rec.CreatedAt.IsZero() || obs.CreatedAt.IsZero() {
		return false
	}
	return !rec.CreatedAt.Equal(obs.CreatedAt)
}

func (r *Registry) admit(obs proc.Observation, now time.Time) *Record {
	state := obs.State
	if state == "" {
		state = proc.StateReady
	}
	rec := &Record{
		PID:       obs.PID,
		ArrivedAt: now,
		CreatedAt: obs.CreatedAt,
		Burst:     r.defaultBurst,
		Remaining: r.defaultBurst,
		State:     state,
		Seq:       r.seq,
	}
	rec.merge(obs, now)
	rec.lifecycle = newLifecycle(state)
	r.seq++

	r.records = append(r.records, rec)
	r.index[rec.PID] = rec
	return rec
}

// drop must be called with r.mu held.
func (r *Registry) drop(rec *Record) {
	delete(r.index, rec.PID)
	for i, cur := range r.records {
		if cur == rec {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return
		}
	}
}

// attributeCreation credits each new process to its nearest tracked ancestors
// and turns the counts into per-second rates. The first refresh has no interval
// to divide by and attributes nothing.
func (r *Registry) attributeCreation(added []*Record, now time.Time) {
	counts := make(map[int]int)
	elapsed := now.Sub(r.lastRefresh).Seconds()
	if r.refreshed && elapsed > 0 {
		for _, rec := range added {
			visited := map[int]struct{}{rec.PID: {}}
			ppid := rec.PPID
			for depth := 0; depth < lineageDepth; depth++ {
				parent, ok := r.index[ppid]
				if !ok {
					break
				}
				if _, loop := visited[ppid]; loop {
					break
				}
				visited[ppid] = struct{}{}
				counts[ppid]++
				ppid = parent.PPID
			}
		}
	}

	for _, rec := range r.records {
		if n := counts[rec.PID]; n > 0 {
			rec.CreationRate = float64(n) / elapsed
		} else {
			rec.CreationRate = 0
		}
	}
}

// RemoveStale purges terminated records and records missed more than
// maxMissed consecutive times. It returns the removed pids in order.
func (r *Registry) RemoveStale(maxMissed int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []int
	kept := r.records[:0]
	for _, rec := range r.records {
		if !rec.Live() || rec.Missed > maxMissed {
			removed = append(removed, rec.PID)
			if r.index[rec.PID] == rec {
				delete(r.index, rec.PID)
			}
			continue
		}
		kept = append(kept, rec)
	}
	for i := len(kept); i < len(r.records); i++ {
		r.records[i] = nil
	}
	r.records = kept
	return removed
}

// Records returns detached copies of all records in discovery order.
func (r *Registry) Records() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	return out
}

// Mutate runs fn with exclusive access to the records.
func (r *Registry) Mutate(fn func(records []*Record) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return fn(r.records)
}

// Lookup returns a copy of the record for pid.
func (r *Registry) Lookup(pid int) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.index[pid]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Len returns the number of records, terminated ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

// SetState moves pid to state through the lifecycle machine.
func (r *Registry) SetState(pid int, state proc.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.index[pid]
	if !ok {
		return fmt.Errorf("pid %d: %w", pid, proc.ErrNotFound)
	}
	return rec.transition(state)
}

// SetPriority records a niceness change made outside a refresh.
func (r *Registry) SetPriority(pid int, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.index[pid]; ok {
		rec.Priority = priority
	}
}
