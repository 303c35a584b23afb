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

package sched

import (
	"errors"
	"fmt"
	"sort"

	"github.com/alibaba/opensandbox/procguard/pkg/kernel"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
	"github.com/alibaba/opensandbox/procguard/pkg/registry"
)

const (
	PolicyPriority   = "priority"
	PolicyRoundRobin = "round-robin"
)

var (
	ErrInvalidAgingFactor = errors.New("aging factor must be positive")
	ErrInvalidQuantum     = errors.New("time quantum must be positive")
	ErrUnknownPolicy      = errors.New("unknown scheduling policy")
)

// Policy picks the next record to dispatch.
type Policy interface {
	Name() string
	// Select returns the index of the next record, or ok=false when no record
	// has work left.
	Select(records []*registry.Record) (index int, ok bool, err error)
	// Slice returns how many units rec may consume in one dispatch.
	Slice(rec *registry.Record) registry.Units
	// Dispatched records that index was served.
	Dispatched(index int)
	State() State
}

// State is the bookkeeping a policy carries between dispatches.
type State struct {
	Policy      string `json:"policy"`
	Backend     string `json:"backend"`
	LastIndex   int    `json:"last_index"`
	AgingFactor int    `json:"aging_factor,omitempty"`
	Quantum     int    `json:"quantum,omitempty"`
}

// NewPolicy builds the named policy.
func NewPolicy(name string, backend kernel.Backend, agingFactor, quantum int) (Policy, error) {
	switch name {
	case PolicyPriority:
		return NewPriority(backend, agingFactor)
	case PolicyRoundRobin:
		return NewRoundRobin(backend, quantum)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// eligible reports whether rec can be dispatched.
func eligible(rec *registry.Record) bool {
	return rec.Remaining > 0 && rec.State != proc.StateSuspended && rec.State != proc.StateTerminated
}

type columns struct {
	priorities []int
	arrivals   []int64
	remaining  []int64
	waiting    []int64
}

func columnsOf(records []*registry.Record) columns {
	c := columns{
		priorities: make([]int, len(records)),
		arrivals:   make([]int64, len(records)),
		remaining:  make([]int64, len(records)),
		waiting:    make([]int64, len(records)),
	}
	for i, rec := range records {
		c.priorities[i] = rec.Priority
		c.arrivals[i] = rec.ArrivedAt.UnixNano()
		c.waiting[i] = int64(rec.Waiting)
		if eligible(rec) {
			c.remaining[i] = int64(rec.Remaining)
		}
	}
	return c
}

// Priority runs the record with the lowest aged priority to completion.
type Priority struct {
	backend kernel.Backend
	factor  int
}

var _ Policy = (*Priority)(nil)

func NewPriority(backend kernel.Backend, agingFactor int) (*Priority, error) {
	if agingFactor <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAgingFactor, agingFactor)
	}
	return &Priority{backend: backend, factor: agingFactor}, nil
}

func (p *Priority) Name() string { return PolicyPriority }

func (p *Priority) Select(records []*registry.Record) (int, bool, error) {
	c := columnsOf(records)
	aged, err := p.backend.Age(c.priorities, c.waiting, p.factor)
	if err != nil {
		return -1, false, err
	}
	idx := p.backend.PickPriority(aged, c.arrivals, c.remaining)
	return idx, idx >= 0, nil
}

// Slice is the whole remaining burst; priority dispatch is not preemptive.
func (p *Priority) Slice(rec *registry.Record) registry.Units {
	return rec.Remaining
}

func (p *Priority) Dispatched(int) {}

func (p *Priority) State() State {
	return State{Policy: PolicyPriority, Backend: p.backend.Name(), LastIndex: -1, AgingFactor: p.factor}
}

// RankEntry is one line of the priority run order.
type RankEntry struct {
	PID       int            `json:"pid"`
	Name      string         `json:"name"`
	Priority  int            `json:"priority"`
	Effective int            `json:"effective_priority"`
	Waiting   registry.Units `json:"waiting"`
	Remaining registry.Units `json:"remaining"`
}

// Rank returns every dispatchable record in the order Select would pick them
// if no waiting time accrued in between.
func (p *Priority) Rank(records []*registry.Record) ([]RankEntry, error) {
	c := columnsOf(records)
	aged, err := p.backend.Age(c.priorities, c.waiting, p.factor)
	if err != nil {
		return nil, err
	}

	order := make([]int, 0, len(records))
	for i := range records {
		if c.remaining[i] > 0 {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if aged[i] != aged[j] {
			return aged[i] < aged[j]
		}
		return c.arrivals[i] < c.arrivals[j]
	})

	out := make([]RankEntry, 0, len(order))
	for _, i := range order {
		rec := records[i]
		out = append(out, RankEntry{
			PID:       rec.PID,
			Name:      rec.Name,
			Priority:  rec.Priority,
			Effective: aged[i],
			Waiting:   rec.Waiting,
			Remaining: rec.Remaining,
		})
	}
	return out, nil
}

// RoundRobin serves records in discovery order, one quantum at a time.
type RoundRobin struct {
	backend kernel.Backend
	quantum registry.Units
	last    int
}

var _ Policy = (*RoundRobin)(nil)

func NewRoundRobin(backend kernel.Backend, quantum int) (*RoundRobin, error) {
	if quantum <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuantum, quantum)
	}
	return &RoundRobin{backend: backend, quantum: registry.Units(quantum), last: -1}, nil
}

func (r *RoundRobin) Name() string { return PolicyRoundRobin }

func (r *RoundRobin) Select(records []*registry.Record) (int, bool, error) {
	c := columnsOf(records)
	idx := r.backend.PickRoundRobin(c.remaining, r.last)
	return idx, idx >= 0, nil
}

func (r *RoundRobin) Slice(rec *registry.Record) registry.Units {
	return min(r.quantum, rec.Remaining)
}

func (r *RoundRobin) Dispatched(index int) {
	r.last = index
}

func (r *RoundRobin) State() State {
	return State{Policy: PolicyRoundRobin, Backend: r.backend.Name(), LastIndex: r.last, Quantum: int(r.quantum)}
}
