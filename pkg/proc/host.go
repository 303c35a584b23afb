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
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/alibaba/opensandbox/procguard/pkg/log"
	"github.com/alibaba/opensandbox/procguard/pkg/util/safego"
)

// Host reads the live process table through gopsutil and controls
// processes with plain syscalls.
//
// CPU usage is measured between consecutive reads of the same process, so
// the first observation of a pid reports 0 and later ones cover the time
// since the previous Enumerate or Read.
type Host struct {
	mu           sync.Mutex
	children     map[int]*child
	tracked      map[int]*tracked
	pollInterval time.Duration
}

// tracked keeps the gopsutil handle of one process incarnation across polls;
// the handle carries the cpu times of the previous reading.
type tracked struct {
	mu      sync.Mutex
	created int64
	p       *process.Process
}

// child is a process started by Spawn; it is reaped by its own goroutine so
// Wait never races the kernel for the exit status.
type child struct {
	done chan struct{}
	err  error
}

var _ Adapter = (*Host)(nil)

// NewHost creates an adapter bound to the local process table.
func NewHost() *Host {
	return &Host{
		children:     make(map[int]*child),
		tracked:      make(map[int]*tracked),
		pollInterval: 50 * time.Millisecond,
	}
}

// Enumerate lists all processes. Pids that vanish or deny access mid-read are
// reported as failures and the listing continues.
func (h *Host) Enumerate(ctx context.Context) (*Listing, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, wrap(OpEnumerate, 0, err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, wrap(OpEnumerate, 0, err)
	}

	listing := &Listing{Processes: make([]Observation, 0, len(procs))}
	seen := make(map[int]struct{}, len(procs))
	for _, p := range procs {
		seen[int(p.Pid)] = struct{}{}
		obs, err := h.observe(ctx, p, vm.Total)
		if err != nil {
			listing.Failures = append(listing.Failures, ReadFailure{
				PID: int(p.Pid),
				Err: wrap(OpRead, int(p.Pid), err),
			})
			continue
		}
		listing.Processes = append(listing.Processes, obs)
	}
	h.prune(seen)
	return listing, nil
}

// Read observes a single pid.
func (h *Host) Read(ctx context.Context, pid int) (Observation, error) {
	if err := validPID(OpRead, pid); err != nil {
		return Observation{}, err
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Observation{}, wrap(OpRead, pid, err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Observation{}, wrap(OpRead, pid, err)
	}
	obs, err := h.observe(ctx, p, vm.Total)
	if err != nil {
		return Observation{}, wrap(OpRead, pid, err)
	}
	return obs, nil
}

func (h *Host) observe(ctx context.Context, p *process.Process, memTotal uint64) (Observation, error) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return Observation{}, err
	}
	createdMs, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return Observation{}, err
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return Observation{}, err
	}
	ppid, err := p.PpidWithContext(ctx)
	if err != nil {
		return Observation{}, err
	}
	nice, err := niceness(ctx, p)
	if err != nil {
		return Observation{}, err
	}
	cpuPct, err := h.cpuPercent(ctx, p, createdMs)
	if err != nil {
		return Observation{}, err
	}
	memInfo, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return Observation{}, err
	}

	var memPct float64
	if memTotal > 0 {
		memPct = 100 * float64(memInfo.RSS) / float64(memTotal)
	}

	return Observation{
		PID:        int(p.Pid),
		PPID:       int(ppid),
		Name:       name,
		Owner:      h.owner(ctx, p),
		CPUPercent: clampPercent(cpuPct),
		MemPercent: clampPercent(memPct),
		Priority:   nice,
		State:      stateFromStatus(status),
		CreatedAt:  time.UnixMilli(createdMs),
	}, nil
}

// cpuPercent returns the usage since the previous reading of the same
// incarnation of p. A pid reused by a new process starts over at 0.
func (h *Host) cpuPercent(ctx context.Context, p *process.Process, createdMs int64) (float64, error) {
	pid := int(p.Pid)
	h.mu.Lock()
	t, ok := h.tracked[pid]
	if !ok || t.created != createdMs {
		t = &tracked{created: createdMs, p: p}
		h.tracked[pid] = t
	}
	h.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p.PercentWithContext(ctx, 0)
}

// prune drops handles of pids absent from the latest enumeration.
func (h *Host) prune(seen map[int]struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for pid := range h.tracked {
		if _, ok := seen[pid]; !ok {
			delete(h.tracked, pid)
		}
	}
}

// owner falls back to the numeric uid when the user database has no entry.
func (h *Host) owner(ctx context.Context, p *process.Process) string {
	if name, err := p.UsernameWithContext(ctx); err == nil && name != "" {
		return name
	}
	uids, err := p.UidsWithContext(ctx)
	if err != nil || len(uids) == 0 {
		return "unknown"
	}
	return strconv.Itoa(int(uids[0]))
}

// Spawn starts path in its own process group and reaps it in the background.
func (h *Host) Spawn(ctx context.Context, path string, argv []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, wrap(OpSpawn, 0, err)
	}
	if path == "" {
		return -1, &Error{Op: OpSpawn, Cause: CauseOther, Err: fmt.Errorf("empty executable path")}
	}

	cmd := exec.Command(path, argv...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return -1, wrap(OpSpawn, 0, err)
	}

	pid := cmd.Process.Pid
	c := &child{done: make(chan struct{})}
	h.mu.Lock()
	h.children[pid] = c
	h.mu.Unlock()

	safego.Go(func() {
		c.err = cmd.Wait()
		close(c.done)
		log.Debug("spawned process %d exited: %v", pid, c.err)
	})

	log.Info("spawned %s as pid %d", path, pid)
	return pid, nil
}

// Wait blocks until pid exits. It never waits past timeout or ctx.
func (h *Host) Wait(ctx context.Context, pid int, timeout time.Duration) error {
	if err := validPID(OpWait, pid); err != nil {
		return err
	}
	if timeout <= 0 {
		return &Error{Op: OpWait, PID: pid, Cause: CauseOther, Err: fmt.Errorf("non-positive timeout %v", timeout)}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c := h.child(pid); c != nil {
		select {
		case <-c.done:
			h.forget(pid)
			return nil
		case <-ctx.Done():
			return &Error{Op: OpWait, PID: pid, Cause: CauseTimeout, Err: ctx.Err()}
		}
	}

	err := wait.PollUntilContextCancel(ctx, h.pollInterval, true, func(ctx context.Context) (bool, error) {
		return exited(ctx, pid)
	})
	if err != nil {
		if wait.Interrupted(err) {
			return &Error{Op: OpWait, PID: pid, Cause: CauseTimeout, Err: err}
		}
		return wrap(OpWait, pid, err)
	}
	return nil
}

// exited reports whether pid is gone or a zombie.
func exited(ctx context.Context, pid int) (bool, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err == process.ErrorProcessNotRunning {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		// the pid disappeared between the existence check and the status read
		if CauseOf(err) == CauseNotFound {
			return true, nil
		}
		return false, nil
	}
	return stateFromStatus(status) == StateTerminated, nil
}

func (h *Host) child(pid int) *child {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.children[pid]
}

func (h *Host) forget(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.children, pid)
}

// validPID rejects pids that would address a process group or every process.
func validPID(op Op, pid int) error {
	if pid <= 0 {
		return &Error{Op: op, PID: pid, Cause: CauseOther, Err: fmt.Errorf("invalid pid %d", pid)}
	}
	return nil
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
