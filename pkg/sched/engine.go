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
	"sync"

	"github.com/alibaba/opensandbox/procguard/pkg/registry"
)

// Dispatch is the outcome of one scheduling step.
type Dispatch struct {
	PID       int            `json:"pid"`
	Name      string         `json:"name"`
	Policy    string         `json:"policy"`
	Consumed  registry.Units `json:"consumed"`
	Remaining registry.Units `json:"remaining"`
	Completed bool           `json:"completed"`
}

// Engine applies a Policy to registry records and keeps the work accounting.
type Engine struct {
	mu     sync.Mutex
	policy Policy
}

func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Use swaps the active policy.
func (e *Engine) Use(policy Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policy = policy
}

func (e *Engine) Policy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.policy
}

func (e *Engine) State() State {
	return e.Policy().State()
}

// Step selects one record and charges it for the units it consumes. Every
// other record still holding work accrues the same amount of waiting time.
// ok is false when nothing has work left.
func (e *Engine) Step(records []*registry.Record) (*Dispatch, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx, ok, err := e.policy.Select(records)
	if err != nil || !ok {
		return nil, false, err
	}

	rec := records[idx]
	consumed := e.policy.Slice(rec)
	rec.Remaining -= consumed
	rec.Serviced += consumed
	if rec.Remaining <= 0 {
		rec.Remaining = 0
		rec.Completed = true
	}
	for i, other := range records {
		if i != idx && eligible(other) {
			other.Waiting += consumed
		}
	}
	e.policy.Dispatched(idx)

	return &Dispatch{
		PID:       rec.PID,
		Name:      rec.Name,
		Policy:    e.policy.Name(),
		Consumed:  consumed,
		Remaining: rec.Remaining,
		Completed: rec.Completed,
	}, true, nil
}
