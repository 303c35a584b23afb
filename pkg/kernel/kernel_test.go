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

package kernel

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allBackends(t *testing.T) []Backend {
	t.Helper()
	var out []Backend
	for _, name := range Names() {
		b, err := ByName(name)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestByName(t *testing.T) {
	assert.Equal(t, []string{"columnar", "reference"}, Names())

	_, err := ByName("gpu")
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestPickPriority(t *testing.T) {
	for _, b := range allBackends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			// lowest priority wins
			assert.Equal(t, 1, b.PickPriority([]int{3, 1, 2}, []int64{0, 1, 2}, []int64{5, 5, 5}))
			// ties go to earliest arrival, then lowest index
			assert.Equal(t, 2, b.PickPriority([]int{1, 1, 1}, []int64{5, 9, 3}, []int64{1, 1, 1}))
			assert.Equal(t, 0, b.PickPriority([]int{1, 1}, []int64{4, 4}, []int64{1, 1}))
			// finished entries are ignored
			assert.Equal(t, 2, b.PickPriority([]int{0, 0, 7}, []int64{0, 1, 2}, []int64{0, 0, 3}))
			assert.Equal(t, -1, b.PickPriority([]int{1}, []int64{0}, []int64{0}))
			assert.Equal(t, -1, b.PickPriority(nil, nil, nil))
			assert.Equal(t, -1, b.PickPriority([]int{1, 2}, []int64{0}, []int64{1, 1}))
		})
	}
}

func TestPickRoundRobin(t *testing.T) {
	for _, b := range allBackends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			assert.Equal(t, 0, b.PickRoundRobin([]int64{1, 1, 1}, -1))
			assert.Equal(t, 2, b.PickRoundRobin([]int64{1, 1, 1}, 1))
			// wraps once
			assert.Equal(t, 0, b.PickRoundRobin([]int64{1, 1, 1}, 2))
			assert.Equal(t, 1, b.PickRoundRobin([]int64{0, 4, 0}, 1))
			assert.Equal(t, -1, b.PickRoundRobin([]int64{0, 0}, 0))
			assert.Equal(t, -1, b.PickRoundRobin(nil, -1))
			// a stale cursor past the end wraps around
			assert.Equal(t, 1, b.PickRoundRobin([]int64{0, 1}, 6))
		})
	}
}

func TestAge(t *testing.T) {
	for _, b := range allBackends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			aged, err := b.Age([]int{10, 3, 0, -5, 4}, []int64{9, 100, 50, 10, 1}, 2)
			require.NoError(t, err)
			assert.Equal(t, []int{6, 0, 0, -5, 4}, aged)

			_, err = b.Age([]int{1}, []int64{1}, 0)
			assert.True(t, errors.Is(err, ErrInvalidFactor))
			_, err = b.Age([]int{1}, nil, 1)
			assert.True(t, errors.Is(err, ErrLengthMismatch))
		})
	}
}

func TestFlagUsage(t *testing.T) {
	for _, b := range allBackends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			cpuHits, memHits := b.FlagUsage([]float64{80, 80.5, 10}, []float64{0, 99, 80}, 80, 80)
			assert.Equal(t, []bool{false, true, false}, cpuHits)
			assert.Equal(t, []bool{false, true, false}, memHits)
		})
	}
}

func TestBackendsAgreeOnRandomInput(t *testing.T) {
	rng := rand.New(rand.NewPCG(20260101, 7))
	ref := Reference{}
	col := NewColumnar()

	for round := 0; round < 500; round++ {
		n := rng.IntN(200)
		priorities := make([]int, n)
		arrivals := make([]int64, n)
		remaining := make([]int64, n)
		waiting := make([]int64, n)
		cpu := make([]float64, n)
		mem := make([]float64, n)
		for i := 0; i < n; i++ {
			priorities[i] = rng.IntN(40) - 20
			arrivals[i] = rng.Int64N(10)
			if rng.IntN(3) > 0 {
				remaining[i] = rng.Int64N(20)
			}
			waiting[i] = rng.Int64N(100)
			cpu[i] = rng.Float64() * 100
			mem[i] = rng.Float64() * 100
		}
		factor := rng.IntN(5) + 1
		last := rng.IntN(n+2) - 1

		if got, want := col.PickPriority(priorities, arrivals, remaining), ref.PickPriority(priorities, arrivals, remaining); got != want {
			t.Fatalf("round %d: PickPriority columnar=%d reference=%d", round, got, want)
		}
		if got, want := col.PickRoundRobin(remaining, last), ref.PickRoundRobin(remaining, last); got != want {
			t.Fatalf("round %d: PickRoundRobin(last=%d) columnar=%d reference=%d", round, last, got, want)
		}
		refAged, err := ref.Age(priorities, waiting, factor)
		require.NoError(t, err)
		colAged, err := col.Age(priorities, waiting, factor)
		require.NoError(t, err)
		assert.Equal(t, refAged, colAged, "round %d: Age", round)

		refCPU, refMem := ref.FlagUsage(cpu, mem, 80, 80)
		colCPU, colMem := col.FlagUsage(cpu, mem, 80, 80)
		assert.Equal(t, refCPU, colCPU, "round %d: cpu hits", round)
		assert.Equal(t, refMem, colMem, "round %d: mem hits", round)
	}
}
