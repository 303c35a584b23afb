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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/opensandbox/procguard/pkg/kernel"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
	"github.com/alibaba/opensandbox/procguard/pkg/registry"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func rec(pid, prio int, arrival int, remaining registry.Units) *registry.Record {
	return &registry.Record{
		PID:       pid,
		Priority:  prio,
		ArrivedAt: epoch.Add(time.Duration(arrival) * time.Second),
		Burst:     remaining,
		Remaining: remaining,
		State:     proc.StateReady,
	}
}

func backends(t *testing.T) []kernel.Backend {
	t.Helper()
	var out []kernel.Backend
	for _, name := range kernel.Names() {
		b, err := kernel.ByName(name)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestPriority_LowerValueWins(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			p, err := NewPriority(b, 1)
			require.NoError(t, err)
			records := []*registry.Record{rec(1, 5, 0, 10), rec(2, 3, 0, 10)}

			idx, ok, err := p.Select(records)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 2, records[idx].PID)
		})
	}
}

func TestPriority_DeterministicTieBreak(t *testing.T) {
	p, err := NewPriority(kernel.Reference{}, 1)
	require.NoError(t, err)
	records := []*registry.Record{rec(1, 2, 5, 4), rec(2, 2, 3, 4), rec(3, 2, 3, 4)}

	for i := 0; i < 10; i++ {
		idx, ok, err := p.Select(records)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 2, records[idx].PID, "earliest arrival, then discovery order")
	}
}

func TestPriority_AgingIsMonotonic(t *testing.T) {
	b := kernel.Reference{}
	prev := 1 << 30
	for waiting := int64(0); waiting < 40; waiting++ {
		aged, err := b.Age([]int{12}, []int64{waiting}, 3)
		require.NoError(t, err)
		if aged[0] > prev {
			t.Fatalf("effective priority increased from %d to %d at waiting=%d", prev, aged[0], waiting)
		}
		prev = aged[0]
	}
	assert.Equal(t, 0, prev)
}

func TestPriority_AgingLetsStarvedProcessRun(t *testing.T) {
	p, err := NewPriority(kernel.Reference{}, 1)
	require.NoError(t, err)
	starved := rec(1, 10, 0, 5)
	starved.Waiting = 9
	records := []*registry.Record{starved, rec(2, 2, 1, 5)}

	idx, ok, err := p.Select(records)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, records[idx].PID)
}

func TestPriority_NoCandidate(t *testing.T) {
	p, err := NewPriority(kernel.Reference{}, 1)
	require.NoError(t, err)

	suspended := rec(2, 0, 0, 5)
	suspended.State = proc.StateSuspended
	_, ok, err := p.Select([]*registry.Record{rec(1, 0, 0, 0), suspended})
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = p.Select(nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidParameters(t *testing.T) {
	_, err := NewPriority(kernel.Reference{}, 0)
	assert.True(t, errors.Is(err, ErrInvalidAgingFactor))
	_, err = NewPriority(kernel.Reference{}, -3)
	assert.True(t, errors.Is(err, ErrInvalidAgingFactor))
	_, err = NewRoundRobin(kernel.Reference{}, 0)
	assert.True(t, errors.Is(err, ErrInvalidQuantum))
	_, err = NewPolicy("lottery", kernel.Reference{}, 1, 1)
	assert.True(t, errors.Is(err, ErrUnknownPolicy))
}

func TestRoundRobin_SkipsFinished(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			rr, err := NewRoundRobin(b, 2)
			require.NoError(t, err)
			records := []*registry.Record{rec('A', 0, 0, 5), rec('B', 0, 0, 0), rec('C', 0, 0, 3)}
			assert.Equal(t, -1, rr.State().LastIndex)

			e := NewEngine(rr)
			d, ok, err := e.Step(records)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int('A'), d.PID)
			assert.Equal(t, registry.Units(2), d.Consumed)
			assert.Equal(t, registry.Units(3), d.Remaining)

			d, _, _ = e.Step(records)
			assert.Equal(t, int('C'), d.PID)
			assert.Equal(t, 2, rr.State().LastIndex)

			assert.Equal(t, registry.Units(2), records[0].Serviced)
			assert.Equal(t, registry.Units(2), records[0].Waiting, "A waited while C ran")
			assert.Equal(t, registry.Units(0), records[1].Waiting, "finished records do not wait")
		})
	}
}

func TestRoundRobin_VisitsEveryoneBeforeRepeating(t *testing.T) {
	rr, err := NewRoundRobin(kernel.NewColumnar(), 1)
	require.NoError(t, err)
	e := NewEngine(rr)
	records := []*registry.Record{rec(1, 0, 0, 9), rec(2, 0, 0, 0), rec(3, 0, 0, 9), rec(4, 0, 0, 9), rec(5, 0, 0, 9)}

	var served []int
	for i := 0; i < 8; i++ {
		d, ok, err := e.Step(records)
		require.NoError(t, err)
		require.True(t, ok)
		served = append(served, d.PID)
	}
	assert.Equal(t, []int{1, 3, 4, 5, 1, 3, 4, 5}, served)
}

func TestEngine_CompletionDoesNotTerminate(t *testing.T) {
	rr, err := NewRoundRobin(kernel.Reference{}, 4)
	require.NoError(t, err)
	e := NewEngine(rr)
	records := []*registry.Record{rec(1, 0, 0, 3)}

	d, ok, err := e.Step(records)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, d.Completed)
	assert.Equal(t, registry.Units(3), d.Consumed)
	assert.Equal(t, registry.Units(0), records[0].Remaining)
	assert.Equal(t, proc.StateReady, records[0].State)

	_, ok, err = e.Step(records)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_PriorityRunsWholeBurst(t *testing.T) {
	p, err := NewPriority(kernel.Reference{}, 2)
	require.NoError(t, err)
	e := NewEngine(p)
	records := []*registry.Record{rec(1, 1, 0, 6), rec(2, 4, 0, 3)}

	d, _, err := e.Step(records)
	require.NoError(t, err)
	assert.Equal(t, 1, d.PID)
	assert.Equal(t, registry.Units(6), d.Consumed)
	assert.True(t, d.Completed)
	assert.Equal(t, registry.Units(6), records[1].Waiting)
}

func TestRank(t *testing.T) {
	p, err := NewPriority(kernel.Reference{}, 1)
	require.NoError(t, err)
	waited := rec(3, 9, 0, 1)
	waited.Waiting = 8
	records := []*registry.Record{rec(1, 5, 0, 1), rec(2, 0, 2, 0), waited, rec(4, 1, 1, 1)}

	ranked, err := p.Rank(records)
	require.NoError(t, err)
	var order []int
	for _, r := range ranked {
		order = append(order, r.PID)
	}
	assert.Equal(t, []int{3, 4, 1}, order)
	assert.Equal(t, 1, ranked[0].Effective)
}
