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
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/alibaba/opensandbox/procguard/pkg/guard"
	"github.com/alibaba/opensandbox/procguard/pkg/web/model"
)

// ProcessController serves the process registry.
type ProcessController struct {
	*basicController
}

func NewProcessController(ctx *gin.Context, session *guard.Session) *ProcessController {
	return &ProcessController{basicController: newBasicController(ctx, session)}
}

// ListProcesses returns the tracked records; ?all=true includes terminated ones.
func (c *ProcessController) ListProcesses() {
	all, _ := strconv.ParseBool(c.ctx.Query("all"))
	c.RespondSuccess(c.session.ListProcesses(all))
}

// GetProcess returns one record by pid.
func (c *ProcessController) GetProcess() {
	pid, err := strconv.Atoi(c.ctx.Param("pid"))
	if err != nil || pid <= 0 {
		c.RespondError(http.StatusBadRequest, model.ErrorCodeInvalidRequest, fmt.Sprintf("invalid pid %q", c.ctx.Param("pid")))
		return
	}
	rec, ok := c.session.Process(pid)
	if !ok {
		c.RespondError(http.StatusNotFound, model.ErrorCodeNotFound, fmt.Sprintf("pid %d is not tracked", pid))
		return
	}
	c.RespondSuccess(rec)
}

// SpawnProcess starts an executable; it is tracked from the next cycle on.
func (c *ProcessController) SpawnProcess() {
	var request model.SpawnRequest
	if !c.bindRequest(&request) {
		return
	}

	pid, err := c.session.Spawn(c.ctx.Request.Context(), request.Path, request.Args)
	if err != nil {
		c.RespondError(http.StatusInternalServerError, model.ErrorCodeRuntimeError, fmt.Sprintf("error spawning %s. %v", request.Path, err))
		return
	}
	c.RespondSuccess(model.SpawnResponse{PID: pid})
}
