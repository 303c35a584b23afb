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

// Package kernel holds the hot loops of scheduling and detection behind a
// Backend so that alternative implementations can be swapped in and
// cross-checked against the scalar reference.
package kernel

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidFactor  = errors.New("aging factor must be positive")
	ErrLengthMismatch = errors.New("input columns differ in length")
	ErrUnknownBackend = errors.New("unknown kernel backend")
)

// Backend computes selection and threshold decisions over column slices. All
// methods are pure: they never modify their inputs.
type Backend interface {
	Name() string
	// PickPriority returns the index with the lowest priority among entries
	// whose remaining is positive. Ties go to the earliest arrival, then to the
	// lowest index. It returns -1 when nothing is eligible.
	PickPriority(priorities []int, arrivals []int64, remaining []int64) int
	// PickRoundRobin returns the first index after last, wrapping once, whose
	// remaining is positive, or -1.
	PickRoundRobin(remaining []int64, last int) int
	// Age lowers each priority by waiting/factor, never below min(priority, 0).
	Age(priorities []int, waiting []int64, factor int) ([]int, error)
	// FlagUsage marks entries strictly above the CPU and memory limits.
	FlagUsage(cpu, mem []float64, cpuLimit, memLimit float64) (cpuHits, memHits []bool)
}

var backends = map[string]func() Backend{
	"reference": func() Backend { return Reference{} },
	"columnar":  func() Backend { return NewColumnar() },
}

// ByName returns the backend registered as name.
func ByName(name string) (Backend, error) {
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return ctor(), nil
}

// Names lists the registered backends in sorted order.
func Names() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func agedValue(priority int, waiting int64, factor int) int {
	floor := 0
	if priority < 0 {
		floor = priority
	}
	if waiting < 0 {
		waiting = 0
	}
	bonus := waiting / int64(factor)
	aged := int64(priority) - bonus
	if aged < int64(floor) {
		return floor
	}
	return int(aged)
}

// startIndex normalises a round-robin cursor to the first index to examine.
func startIndex(last, n int) int {
	if last < 0 {
		return 0
	}
	return (last + 1) % n
}
