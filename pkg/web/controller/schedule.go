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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alibaba/opensandbox/procguard/pkg/guard"
	"github.com/alibaba/opensandbox/procguard/pkg/sched"
	"github.com/alibaba/opensandbox/procguard/pkg/web/model"
)

// ScheduleController serves the scheduling engine and the guard cycle.
type ScheduleController struct {
	*basicController
}

func NewScheduleController(ctx *gin.Context, session *guard.Session) *ScheduleController {
	return &ScheduleController{basicController: newBasicController(ctx, session)}
}

// GetSchedule returns the policy state and, under the priority policy, the
// aged run order.
func (c *ScheduleController) GetSchedule() {
	resp := model.ScheduleResponse{State: c.session.SchedulerState()}
	rank, err := c.session.Rank()
	switch {
	case err == nil:
		resp.Rank = rank
	case !errors.Is(err, guard.ErrNotRankable):
		c.RespondGuardError(err)
		return
	}
	c.RespondSuccess(resp)
}

// Step advances the scheduler by the requested number of dispatches.
func (c *ScheduleController) Step() {
	var request model.StepRequest
	if c.ctx.Request.ContentLength != 0 && !c.bindRequest(&request) {
		return
	}
	steps := request.Steps
	if steps == 0 {
		steps = 1
	}

	resp := model.StepResponse{Dispatches: make([]*sched.Dispatch, 0, steps)}
	for i := 0; i < steps; i++ {
		d, ok, err := c.session.Step()
		if err != nil {
			c.RespondGuardError(err)
			return
		}
		if !ok {
			resp.Idle = true
			break
		}
		resp.Dispatches = append(resp.Dispatches, d)
	}
	c.RespondSuccess(resp)
}

// SetPolicy switches the active scheduling policy.
func (c *ScheduleController) SetPolicy() {
	var request model.PolicyRequest
	if !c.bindRequest(&request) {
		return
	}
	if err := c.session.UsePolicy(request.Policy); err != nil {
		c.RespondGuardError(err)
		return
	}
	c.RespondSuccess(c.session.SchedulerState())
}

// RunCycle runs one refresh, detect, mitigate and schedule pass now.
func (c *ScheduleController) RunCycle() {
	res, err := c.session.RunCycle(c.ctx.Request.Context())
	if err != nil {
		if errors.Is(err, guard.ErrCycleInProgress) {
			c.RespondGuardError(err)
			return
		}
		c.RespondError(http.StatusServiceUnavailable, model.ErrorCodeUnavailable, err.Error())
		return
	}
	c.RespondSuccess(res)
}

// GetConfig returns the effective configuration without secrets.
func (c *ScheduleController) GetConfig() {
	c.RespondSuccess(c.session.Config())
}
