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

//go:build linux
// +build linux

package proc

import (
	"context"

	"github.com/shirou/gopsutil/process"
	"golang.org/x/sys/unix"
)

// niceness reads the nice value of p. The raw getpriority syscall on linux
// returns 20-nice.
func niceness(_ context.Context, p *process.Process) (int, error) {
	raw, err := unix.Getpriority(unix.PRIO_PROCESS, int(p.Pid))
	if err != nil {
		return 0, err
	}
	return 20 - raw, nil
}
