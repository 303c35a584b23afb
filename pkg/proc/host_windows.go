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

//go:build windows
// +build windows

package proc

import (
	"context"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func unsupported(op Op, pid int) error {
	return &Error{Op: op, PID: pid, Cause: CauseOther, Err: ErrUnsupported}
}

func (h *Host) SetPriority(_ context.Context, pid int, _ int) error {
	return unsupported(OpSetPriority, pid)
}

func (h *Host) SignalTerminate(_ context.Context, pid int) error {
	return unsupported(OpTerminate, pid)
}

func (h *Host) SignalKill(_ context.Context, pid int) error {
	return unsupported(OpKill, pid)
}

func (h *Host) SignalSuspend(_ context.Context, pid int) error {
	return unsupported(OpSuspend, pid)
}

func (h *Host) SignalResume(_ context.Context, pid int) error {
	return unsupported(OpResume, pid)
}

func (h *Host) SetAffinity(_ context.Context, pid int, _ []int) error {
	return unsupported(OpSetAffinity, pid)
}
