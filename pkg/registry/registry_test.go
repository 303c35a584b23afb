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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/opensandbox/procguard/pkg/proc"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry() (*Registry, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(WithClock(c.now), WithDefaultBurst(8)), c
}

func born(sec int) time.Time {
	return time.Date(2026, 3, 1, 11, 0, sec, 0, time.UTC)
}

func pids(records []*Record) []int {
	out := make([]int, 0, len(records))
	for _, r := range records {
		out = append(out, r.PID)
	}
	return out
}

func TestRefresh_DiscoveryOrder(t *testing.T) {
	reg, c := newTestRegistry()
	src := proc.NewFake(
		proc.Observation{PID: 30, Name: "c", CreatedAt: born(1)},
		proc.Observation{PID: 10, Name: "a", CreatedAt: born(2)},
		proc.Observation{PID: 20, Name: "b", CreatedAt: born(1)},
	)

	res, err := reg.Refresh(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []int{20, 30, 10}, res.Added)
	assert.Equal(t, []int{20, 30, 10}, pids(reg.Records()))

	src.Add(proc.Observation{PID: 5, Name: "d", CreatedAt: born(9)})
	c.advance(time.Second)
	res, err = reg.Refresh(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, res.Added)
	assert.ElementsMatch(t, []int{10, 20, 30}, res.Updated)
	assert.Equal(t, []int{20, 30, 10, 5}, pids(reg.Records()), "existing order must be stable")

	rec, ok := reg.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, Units(8), rec.Burst)
	assert.Equal(t, Units(8), rec.Remaining)
	assert.Equal(t, c.t, rec.ArrivedAt)
	assert.Equal(t, uint64(3), rec.Seq)
}

func TestRefresh_EnumerationFailureLeavesRegistryUnchanged(t *testing.T) {
	reg, _ := newTestRegistry()
	src := proc.NewFake(proc.Observation{PID: 1, CPUPercent: 10})
	_, err := reg.Refresh(context.Background(), src)
	require.NoError(t, err)

	src.Set(1, func(o *proc.Observation) { o.CPUPercent = 99 })
	src.FailOn(proc.OpEnumerate, 0, errors.New("proc not mounted"))
	_, err = reg.Refresh(context.Background(), src)
	require.Error(t, err)

	rec, _ := reg.Lookup(1)
	assert.Equal(t, 10.0, rec.CPUPercent)
	assert.Equal(t, 0, rec.Missed)
}

func TestRefresh_ReadFailureCountsAsMissed(t *testing.T) {
	reg, _ := newTestRegistry()
	src := proc.NewFake(proc.Observation{PID: 1}, proc.Observation{PID: 2})
	_, err := reg.Refresh(context.Background(), src)
	require.NoError(t, err)

	src.FailOn(proc.OpRead, 2, proc.ErrAccessDenied)
	for i := 1; i <= 3; i++ {
		res, err := reg.Refresh(context.Background(), src)
		require.NoError(t, err)
		assert.Equal(t, []int{2}, res.Missed)
		require.Len(t, res.Failures, 1)
		assert.True(t, errors.Is(res.Failures[0].Err, ErrTransientRead))
		assert.True(t, errors.Is(res.Failures[0].Err, proc.ErrAccessDenied))

		rec, _ := reg.Lookup(2)
		assert.Equal(t, i, rec.Missed)
		assert.True(t, rec.Live())
	}

	assert.Empty(t, reg.RemoveStale(3))
	_, err = reg.Refresh(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, reg.RemoveStale(3))
	assert.Equal(t, []int{1}, pids(reg.Records()))
}

func TestRefresh_ExitedProcessIsTerminated(t *testing.T) {
	reg, _ := newTestRegistry()
	src := proc.NewFake(proc.Observation{PID: 1}, proc.Observation{PID: 2})
	_, err := reg.Refresh(context.Background(), src)
	require.NoError(t, err)

	src.Remove(1)
	res, err := reg.Refresh(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Exited)

	rec, _ := reg.Lookup(1)
	assert.Equal(t, proc.StateTerminated, rec.State)
	assert.Equal(t, []int{1}, reg.RemoveStale(10))
	assert.Equal(t, 1, reg.Len())
}

func TestRefresh_PIDReuse(t *testing.T) {
	reg, _ := newTestRegistry()
	src := proc.NewFake(proc.Observation{PID: 7, Name: "old", CreatedAt: born(1)})
	_, err := reg.Refresh(context.Background(), src)
	require.NoError(t, err)

	src.Add(proc.Observation{PID: 7, Name: "new", CreatedAt: born(5)})
	res, err := reg.Refresh(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, res.Replaced)
	assert.Equal(t, []int{7}, res.Added)

	rec, _ := reg.Lookup(7)
	assert.Equal(t, "new", rec.Name)
	assert.Equal(t, uint64(1), rec.Seq)
	assert.Equal(t, 1, reg.Len())
}

func TestRefresh_CreationRateFollowsLineage(t *testing.T) {
	reg, c := newTestRegistry()
	src := proc.NewFake(
		proc.Observation{PID: 1, PPID: 0},
		proc.Observation{PID: 2, PPID: 1},
		proc.Observation{PID: 9, PPID: 0},
	)
	_, err := reg.Refresh(context.Background(), src)
	require.NoError(t, err)
	for _, rec := range reg.Records() {
		assert.Zero(t, rec.CreationRate, "first refresh attributes nothing")
	}

	src.Add(proc.Observation{PID: 3, PPID: 2})
	src.Add(proc.Observation{PID: 4, PPID: 2})
	src.Add(proc.Observation{PID: 5, PPID: 4})
	c.advance(2 * time.Second)
	_, err = reg.Refresh(context.Background(), src)
	require.NoError(t, err)

	rate := func(pid int) float64 {
		rec, ok := reg.Lookup(pid)
		require.True(t, ok)
		return rec.CreationRate
	}
	assert.InDelta(t, 1.0, rate(1), 1e-9, "pid 5 is a great-grandchild of pid 1")
	assert.InDelta(t, 1.5, rate(2), 1e-9)
	assert.InDelta(t, 0.5, rate(4), 1e-9)
	assert.Zero(t, rate(9))

	c.advance(2 * time.Second)
	_, err = reg.Refresh(context.Background(), src)
	require.NoError(t, err)
	assert.Zero(t, rate(1), "rate resets when no new children appear")
}

func TestRefresh_CreationRateSparesDistantAncestors(t *testing.T) {
	reg, c := newTestRegistry()
	src := proc.NewFake(
		proc.Observation{PID: 1, PPID: 0, Name: "tmux"},
		proc.Observation{PID: 2, PPID: 1, Name: "bash"},
		proc.Observation{PID: 3, PPID: 2, Name: "make"},
	)
	_, err := reg.Refresh(context.Background(), src)
	require.NoError(t, err)

	for pid := 10; pid < 40; pid++ {
		src.Add(proc.Observation{PID: pid, PPID: 3, Name: "cc"})
	}
	c.advance(time.Second)
	_, err = reg.Refresh(context.Background(), src)
	require.NoError(t, err)

	rates := map[int]float64{}
	for _, rec := range reg.Records() {
		rates[rec.PID] = rec.CreationRate
	}
	assert.InDelta(t, 30.0, rates[3], 1e-9)
	assert.InDelta(t, 30.0, rates[2], 1e-9)
	assert.Zero(t, rates[1])
}

func TestRefresh_CreationRateSurvivesPPIDCycle(t *testing.T) {
	reg, c := newTestRegistry()
	src := proc.NewFake(proc.Observation{PID: 1, PPID: 2}, proc.Observation{PID: 2, PPID: 1})
	_, err := reg.Refresh(context.Background(), src)
	require.NoError(t, err)

	src.Add(proc.Observation{PID: 3, PPID: 1})
	c.advance(time.Second)
	_, err = reg.Refresh(context.Background(), src)
	require.NoError(t, err)

	rec, _ := reg.Lookup(1)
	assert.InDelta(t, 1.0, rec.CreationRate, 1e-9)
}

func TestRecordsAreCopies(t *testing.T) {
	reg, _ := newTestRegistry()
	_, err := reg.Refresh(context.Background(), proc.NewFake(proc.Observation{PID: 1, Name: "a"}))
	require.NoError(t, err)

	reg.Records()[0].Name = "mutated"
	rec, _ := reg.Lookup(1)
	assert.Equal(t, "a", rec.Name)
}

func TestLifecycle(t *testing.T) {
	reg, _ := newTestRegistry()
	src := proc.NewFake(proc.Observation{PID: 1, State: proc.StateRunning})
	_, err := reg.Refresh(context.Background(), src)
	require.NoError(t, err)

	require.NoError(t, reg.SetState(1, proc.StateSuspended))
	// a stopped process observed as sleeping leaves Suspended through Running
	src.Set(1, func(o *proc.Observation) { o.State = proc.StateReady })
	_, err = reg.Refresh(context.Background(), src)
	require.NoError(t, err)
	rec, _ := reg.Lookup(1)
	assert.Equal(t, proc.StateReady, rec.State)

	require.NoError(t, reg.SetState(1, proc.StateTerminated))
	err = reg.SetState(1, proc.StateRunning)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "got %v", err)

	err = reg.SetState(404, proc.StateRunning)
	assert.True(t, errors.Is(err, proc.ErrNotFound))
}
