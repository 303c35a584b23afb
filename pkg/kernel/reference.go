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

// Reference is the scalar implementation every other backend must agree with.
type Reference struct{}

var _ Backend = Reference{}

func (Reference) Name() string { return "reference" }

func (Reference) PickPriority(priorities []int, arrivals []int64, remaining []int64) int {
	n := len(remaining)
	if len(priorities) != n || len(arrivals) != n {
		return -1
	}
	best := -1
	for i := 0; i < n; i++ {
		if remaining[i] <= 0 {
			continue
		}
		if best < 0 ||
			priorities[i] < priorities[best] ||
			(priorities[i] == priorities[best] && arrivals[i] < arrivals[best]) {
			best = i
		}
	}
	return best
}

func (Reference) PickRoundRobin(remaining []int64, last int) int {
	n := len(remaining)
	if n == 0 {
		return -1
	}
	start := startIndex(last, n)
	for k := 0; k < n; k++ {
		i := (start + k) % n
		if remaining[i] > 0 {
			return i
		}
	}
	return -1
}

func (Reference) Age(priorities []int, waiting []int64, factor int) ([]int, error) {
	if factor <= 0 {
		return nil, ErrInvalidFactor
	}
	if len(priorities) != len(waiting) {
		return nil, ErrLengthMismatch
	}
	out := make([]int, len(priorities))
	for i, p := range priorities {
		out[i] = agedValue(p, waiting[i], factor)
	}
	return out, nil
}

func (Reference) FlagUsage(cpu, mem []float64, cpuLimit, memLimit float64) ([]bool, []bool) {
	cpuHits := make([]bool, len(cpu))
	for i, v := range cpu {
		cpuHits[i] = v > cpuLimit
	}
	memHits := make([]bool, len(mem))
	for i, v := range mem {
		memHits[i] = v > memLimit
	}
	return cpuHits, memHits
}
