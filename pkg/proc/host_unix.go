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

//go:build !windows
// +build !windows

package proc

import (
	"context"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/alibaba/opensandbox/procguard/pkg/log"
)

// use a dedicated process group so spawned children can be signalled as a unit.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// SetPriority sets the niceness of pid.
func (h *Host) SetPriority(_ context.Context, pid int, value int) error {
	if err := validPID(OpSetPriority, pid); err != nil {
		return err
	}
	if value < -20 || value > 19 {
		return &Error{Op: OpSetPriority, PID: pid, Cause: CauseOther, Err: fmt.Errorf("niceness %d out of range [-20, 19]", value)}
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, value); err != nil {
		return wrap(OpSetPriority, pid, err)
	}
	log.Debug("set niceness of pid %d to %d", pid, value)
	return nil
}

func (h *Host) SignalTerminate(_ context.Context, pid int) error {
	return h.signal(OpTerminate, pid, unix.SIGTERM)
}

func (h *Host) SignalKill(_ context.Context, pid int) error {
	return h.signal(OpKill, pid, unix.SIGKILL)
}

func (h *Host) SignalSuspend(_ context.Context, pid int) error {
	return h.signal(OpSuspend, pid, unix.SIGSTOP)
}

func (h *Host) SignalResume(_ context.Context, pid int) error {
	return h.signal(OpResume, pid, unix.SIGCONT)
}

// SetAffinity pins pid to cores.
func (h *Host) SetAffinity(_ context.Context, pid int, cores []int) error {
	if err := validPID(OpSetAffinity, pid); err != nil {
		return err
	}
	if len(cores) == 0 {
		return &Error{Op: OpSetAffinity, PID: pid, Cause: CauseOther, Err: fmt.Errorf("empty core set")}
	}
	if err := setAffinity(pid, cores); err != nil {
		return wrap(OpSetAffinity, pid, err)
	}
	return nil
}

func (h *Host) signal(op Op, pid int, sig unix.Signal) error {
	if err := validPID(op, pid); err != nil {
		return err
	}
	if err := unix.Kill(pid, sig); err != nil {
		return wrap(op, pid, err)
	}
	log.Debug("sent %v to pid %d", sig, pid)
	return nil
}
