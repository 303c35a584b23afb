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

import "math/bits"

// bitmap is a packed set of indices.
type bitmap []uint64

func newBitmap(n int) bitmap {
	return make(bitmap, (n+63)/64)
}

func (b bitmap) set(i int) {
	b[i>>6] |= 1 << uint(i&63)
}

// next returns the first set index in [from, n), or -1.
func (b bitmap) next(from, n int) int {
	if from >= n {
		return -1
	}
	w := from >> 6
	word := b[w] &^ (1<<uint(from&63) - 1)
	for {
		if word != 0 {
			i := w<<6 + bits.TrailingZeros64(word)
			if i >= n {
				return -1
			}
			return i
		}
		w++
		if w >= len(b) {
			return -1
		}
		word = b[w]
	}
}

// Columnar packs eligibility and threshold hits into bitmaps and scans them a
// word at a time.
type Columnar struct{}

var _ Backend = Columnar{}

func NewColumnar() Columnar { return Columnar{} }

func (Columnar) Name() string { return "columnar" }

func eligible(remaining []int64) bitmap {
	b := newBitmap(len(remaining))
	for i, r := range remaining {
		if r > 0 {
			b.set(i)
		}
	}
	return b
}

func (Columnar) PickPriority(priorities []int, arrivals []int64, remaining []int64) int {
	n := len(remaining)
	if len(priorities) != n || len(arrivals) != n {
		return -1
	}
	b := eligible(remaining)
	best := -1
	for i := b.next(0, n); i >= 0; i = b.next(i+1, n) {
		if best < 0 {
			best = i
			continue
		}
		p, bp := priorities[i], priorities[best]
		if p < bp || (p == bp && arrivals[i] < arrivals[best]) {
			best = i
		}
	}
	return best
}

func (Columnar) PickRoundRobin(remaining []int64, last int) int {
	n := len(remaining)
	if n == 0 {
		return -1
	}
	b := eligible(remaining)
	start := startIndex(last, n)
	if i := b.next(start, n); i >= 0 {
		return i
	}
	if i := b.next(0, start); i >= 0 {
		return i
	}
	return -1
}

func (Columnar) Age(priorities []int, waiting []int64, factor int) ([]int, error) {
	if factor <= 0 {
		return nil, ErrInvalidFactor
	}
	if len(priorities) != len(waiting) {
		return nil, ErrLengthMismatch
	}
	out := make([]int, len(priorities))
	// untouched entries keep their priority; only waiting ones are recomputed
	copy(out, priorities)
	for i, w := range waiting {
		if w >= int64(factor) {
			out[i] = agedValue(priorities[i], w, factor)
		}
	}
	return out, nil
}

func (Columnar) FlagUsage(cpu, mem []float64, cpuLimit, memLimit float64) ([]bool, []bool) {
	return expand(threshold(cpu, cpuLimit), len(cpu)), expand(threshold(mem, memLimit), len(mem))
}

func threshold(values []float64, limit float64) bitmap {
	b := newBitmap(len(values))
	for i, v := range values {
		if v > limit {
			b.set(i)
		}
	}
	return b
}

func expand(b bitmap, n int) []bool {
	out := make([]bool, n)
	for i := b.next(0, n); i >= 0; i = b.next(i+1, n) {
		out[i] = true
	}
	return out
}
