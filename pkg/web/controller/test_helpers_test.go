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

package controller

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/alibaba/opensandbox/procguard/pkg/config"
	"github.com/alibaba/opensandbox/procguard/pkg/guard"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
)

func newTestContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	ctx.Request = req
	return ctx, w
}

// newTestSession returns a session over a fake process table that has
// already completed one cycle.
func newTestSession(t *testing.T, mutate func(*config.Config), obs ...proc.Observation) (*guard.Session, *proc.Fake) {
	t.Helper()

	cfg := config.Default()
	cfg.ScheduleSteps = 0
	if mutate != nil {
		mutate(&cfg)
	}
	fake := proc.NewFake(obs...)
	session, err := guard.New(cfg, guard.Deps{
		Adapter: fake,
		Sampler: &proc.StaticSampler{Value: proc.Sample{CPUCount: 2, CPUPercent: 10, MemTotalMiB: 2048, MemUsedMiB: 512, MemPercent: 25}},
	})
	if err != nil {
		t.Fatalf("guard.New: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	if _, err := session.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	return session, fake
}
