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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/process"
)

// Cause classifies why an adapter call failed.
type Cause string

const (
	CauseNone         Cause = ""
	CauseNotFound     Cause = "NotFound"
	CauseAccessDenied Cause = "AccessDenied"
	CauseTimeout      Cause = "Timeout"
	CauseOther        Cause = "Other"
)

var (
	ErrNotFound     = errors.New("process not found")
	ErrAccessDenied = errors.New("access denied")
	ErrTimeout      = errors.New("timed out")
	ErrUnsupported  = errors.New("operation not supported on this platform")
)

// Op names an adapter operation.
type Op string

const (
	OpEnumerate   Op = "enumerate"
	OpRead        Op = "read"
	OpSetPriority Op = "set-priority"
	OpTerminate   Op = "signal-terminate"
	OpKill        Op = "signal-kill"
	OpSuspend     Op = "signal-suspend"
	OpResume      Op = "signal-resume"
	OpSetAffinity Op = "set-affinity"
	OpSpawn       Op = "spawn"
	OpWait        Op = "wait"
)

// Error is returned by every Adapter method that fails.
type Error struct {
	Op    Op
	PID   int
	Cause Cause
	Err   error
}

func (e *Error) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s pid %d: %s: %v", e.Op, e.PID, e.Cause, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Cause, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the cause sentinels even when Err is a raw errno.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Cause == CauseNotFound
	case ErrAccessDenied:
		return e.Cause == CauseAccessDenied
	case ErrTimeout:
		return e.Cause == CauseTimeout
	}
	return false
}

// CauseOf extracts the failure cause from err. Errors that did not come from
// an adapter are classified the same way the host adapter would.
func CauseOf(err error) Cause {
	if err == nil {
		return CauseNone
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Cause
	}
	return classify(err)
}

func classify(err error) Cause {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, syscall.ESRCH),
		errors.Is(err, os.ErrProcessDone),
		errors.Is(err, process.ErrorProcessNotRunning),
		errors.Is(err, fs.ErrNotExist):
		return CauseNotFound
	case errors.Is(err, ErrAccessDenied),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, fs.ErrPermission):
		return CauseAccessDenied
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return CauseTimeout
	default:
		return CauseOther
	}
}

// wrap converts err into an *Error unless it already is one.
func wrap(op Op, pid int, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	return &Error{Op: op, PID: pid, Cause: classify(err), Err: err}
}
