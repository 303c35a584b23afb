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

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/opensandbox/procguard/pkg/mitigate"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
)

func TestApplyActionRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ApplyActionRequest
		wantErr bool
	}{
		{name: "terminate", req: ApplyActionRequest{PID: 42, Kind: "terminate"}},
		{name: "affinity", req: ApplyActionRequest{PID: 42, Kind: "restrict-affinity"}},
		{name: "zero pid", req: ApplyActionRequest{PID: 0, Kind: "kill"}, wantErr: true},
		{name: "unknown kind", req: ApplyActionRequest{PID: 42, Kind: "nuke"}, wantErr: true},
		{name: "missing kind", req: ApplyActionRequest{PID: 42}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, err = tt.req.ParsedKind()
			assert.NoError(t, err)
		})
	}

	kind, err := (&ApplyActionRequest{PID: 1, Kind: "restrict-affinity"}).ParsedKind()
	require.NoError(t, err)
	assert.Equal(t, mitigate.KindRestrictAffinity, kind)
}

func TestSpawnAndStepRequestValidate(t *testing.T) {
	assert.Error(t, (&SpawnRequest{}).Validate())
	assert.NoError(t, (&SpawnRequest{Path: "/bin/true"}).Validate())

	assert.NoError(t, (&StepRequest{}).Validate())
	assert.Error(t, (&StepRequest{Steps: 1001}).Validate())
	assert.Error(t, (&StepRequest{Steps: -1}).Validate())

	assert.NoError(t, (&PolicyRequest{Policy: "round-robin"}).Validate())
	assert.Error(t, (&PolicyRequest{Policy: "fifo"}).Validate())
}

func TestNewMetrics(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	m := NewMetrics(proc.Sample{Time: at, CPUCount: 8, CPUPercent: 12.5, MemTotalMiB: 1024, MemUsedMiB: 256, MemPercent: 25})
	assert.Equal(t, 8.0, m.CpuCount)
	assert.Equal(t, 25.0, m.MemUsedPct)
	assert.Equal(t, at.UnixMilli(), m.Timestamp)

	assert.NotZero(t, NewMetrics(proc.Sample{}).Timestamp)
}
