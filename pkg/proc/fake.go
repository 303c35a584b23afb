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

package proc

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Call is one recorded mutating call against a Fake.
type Call struct {
	Op    Op
	PID   int
	Value int
}

type fakeProc struct {
	obs      Observation
	exited   chan struct{}
	affinity []int
}

// Fake is an in-memory Adapter. Every method is safe for concurrent use.
type Fake struct {
	mu         sync.Mutex
	procs      map[int]*fakeProc
	failures   map[Op]map[int]error
	stubborn   map[int]bool
	calls      []Call
	nextPID    int
	enumerated int

	// Now stamps spawned processes. Defaults to time.Now.
	Now func() time.Time
	// SpawnParent is the ppid given to spawned processes.
	SpawnParent int
}

var _ Adapter = (*Fake)(nil)

// NewFake returns a Fake holding obs.
func NewFake(obs ...Observation) *Fake {
	f := &Fake{
		procs:       make(map[int]*fakeProc),
		failures:    make(map[Op]map[int]error),
		stubborn:    make(map[int]bool),
		nextPID:     10000,
		Now:         time.Now,
		SpawnParent: 1,
	}
	for _, o := range obs {
		f.Add(o)
	}
	return f
}

// Add inserts or replaces a process.
func (f *Fake) Add(obs Observation) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if obs.State == "" {
		obs.State = StateReady
	}
	f.procs[obs.PID] = &fakeProc{obs: obs, exited: make(chan struct{})}
}

// Set mutates a live process in place. It reports false when pid is unknown.
func (f *Fake) Set(pid int, mutate func(*Observation)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.procs[pid]
	if !ok {
		return false
	}
	mutate(&p.obs)
	return true
}

// Remove makes pid exit.
func (f *Fake) Remove(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.exit(pid)
}

// FailOn makes op fail with err for pid. OpEnumerate ignores pid.
// OpRead failures also surface as per-pid failures in Enumerate.
func (f *Fake) FailOn(op Op, pid int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if op == OpEnumerate {
		pid = 0
	}
	if f.failures[op] == nil {
		f.failures[op] = make(map[int]error)
	}
	f.failures[op][pid] = err
}

// ClearFailures removes every scripted failure.
func (f *Fake) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures = make(map[Op]map[int]error)
}

// IgnoreTerminate makes pid survive SignalTerminate.
func (f *Fake) IgnoreTerminate(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stubborn[pid] = true
}

// Calls returns the mutating calls seen so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Call(nil), f.calls...)
}

// Enumerations returns how many times Enumerate succeeded.
func (f *Fake) Enumerations() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.enumerated
}

// Alive reports whether pid has not exited.
func (f *Fake) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.procs[pid]
	return ok
}

// Observation returns the current observation of pid.
func (f *Fake) Observation(pid int) (Observation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.procs[pid]
	if !ok {
		return Observation{}, false
	}
	return p.obs, true
}

// Affinity returns the cores pid was last pinned to.
func (f *Fake) Affinity(pid int) []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.procs[pid]; ok {
		return append([]int(nil), p.affinity...)
	}
	return nil
}

func (f *Fake) Enumerate(_ context.Context) (*Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure(OpEnumerate, 0); err != nil {
		return nil, err
	}

	pids := make([]int, 0, len(f.procs))
	for pid := range f.procs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	listing := &Listing{Processes: make([]Observation, 0, len(pids))}
	for _, pid := range pids {
		if err := f.failure(OpRead, pid); err != nil {
			listing.Failures = append(listing.Failures, ReadFailure{PID: pid, Err: err})
			continue
		}
		listing.Processes = append(listing.Processes, f.procs[pid].obs)
	}
	f.enumerated++
	return listing, nil
}

func (f *Fake) Read(_ context.Context, pid int) (Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.lookup(OpRead, pid)
	if err != nil {
		return Observation{}, err
	}
	return p.obs, nil
}

func (f *Fake) SetPriority(_ context.Context, pid int, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: OpSetPriority, PID: pid, Value: value})
	p, err := f.lookup(OpSetPriority, pid)
	if err != nil {
		return err
	}
	p.obs.Priority = value
	return nil
}

func (f *Fake) SignalTerminate(_ context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: OpTerminate, PID: pid})
	if _, err := f.lookup(OpTerminate, pid); err != nil {
		return err
	}
	if !f.stubborn[pid] {
		f.exit(pid)
	}
	return nil
}

func (f *Fake) SignalKill(_ context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: OpKill, PID: pid})
	if _, err := f.lookup(OpKill, pid); err != nil {
		return err
	}
	f.exit(pid)
	return nil
}

func (f *Fake) SignalSuspend(_ context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: OpSuspend, PID: pid})
	p, err := f.lookup(OpSuspend, pid)
	if err != nil {
		return err
	}
	p.obs.State = StateSuspended
	return nil
}

func (f *Fake) SignalResume(_ context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: OpResume, PID: pid})
	p, err := f.lookup(OpResume, pid)
	if err != nil {
		return err
	}
	if p.obs.State == StateSuspended {
		p.obs.State = StateRunning
	}
	return nil
}

func (f *Fake) SetAffinity(_ context.Context, pid int, cores []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: OpSetAffinity, PID: pid, Value: len(cores)})
	p, err := f.lookup(OpSetAffinity, pid)
	if err != nil {
		return err
	}
	p.affinity = append([]int(nil), cores...)
	return nil
}

func (f *Fake) Spawn(_ context.Context, path string, argv []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure(OpSpawn, 0); err != nil {
		return -1, err
	}
	for {
		if _, taken := f.procs[f.nextPID]; !taken {
			break
		}
		f.nextPID++
	}
	pid := f.nextPID
	f.nextPID++

	f.calls = append(f.calls, Call{Op: OpSpawn, PID: pid, Value: len(argv)})
	f.procs[pid] = &fakeProc{
		obs: Observation{
			PID:       pid,
			PPID:      f.SpawnParent,
			Name:      filepath.Base(path),
			Owner:     "root",
			State:     StateRunning,
			CreatedAt: f.Now(),
		},
		exited: make(chan struct{}),
	}
	return pid, nil
}

// Wait returns once pid has exited, or a Timeout error after timeout or when
// ctx is done.
func (f *Fake) Wait(ctx context.Context, pid int, timeout time.Duration) error {
	f.mu.Lock()
	if err := f.failure(OpWait, pid); err != nil {
		f.mu.Unlock()
		return err
	}
	p, ok := f.procs[pid]
	f.mu.Unlock()
	if !ok {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.exited:
		return nil
	case <-timer.C:
		return &Error{Op: OpWait, PID: pid, Cause: CauseTimeout, Err: ErrTimeout}
	case <-ctx.Done():
		return &Error{Op: OpWait, PID: pid, Cause: CauseTimeout, Err: ctx.Err()}
	}
}

// lookup must be called with f.mu held.
func (f *Fake) lookup(op Op, pid int) (*fakeProc, error) {
	if err := f.failure(op, pid); err != nil {
		return nil, err
	}
	p, ok := f.procs[pid]
	if !ok {
		return nil, wrap(op, pid, ErrNotFound)
	}
	return p, nil
}

func (f *Fake) failure(op Op, pid int) error {
	if err := f.failures[op][pid]; err != nil {
		return wrap(op, pid, err)
	}
	return nil
}

func (f *Fake) exit(pid int) {
	if p, ok := f.procs[pid]; ok {
		close(p.exited)
		delete(f.procs, pid)
	}
}

// StaticSampler returns the same Sample on every call, stamped with the call time.
type StaticSampler struct {
	Value Sample
	Err   error
}

var _ Sampler = (*StaticSampler)(nil)

func (s *StaticSampler) Sample(_ context.Context) (Sample, error) {
	if s.Err != nil {
		return Sample{}, s.Err
	}
	v := s.Value
	v.Time = time.Now()
	return v, nil
}
