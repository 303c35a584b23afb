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
	"github.com/gin-gonic/gin"

	"github.com/alibaba/opensandbox/procguard/pkg/guard"
	"github.com/alibaba/opensandbox/procguard/pkg/web/model"
)

const defaultHistoryLimit = 100

// ActionController serves mitigation actions.
type ActionController struct {
	*basicController
}

func NewActionController(ctx *gin.Context, session *guard.Session) *ActionController {
	return &ActionController{basicController: newBasicController(ctx, session)}
}

// ListActions returns completed and pending actions of this session.
func (c *ActionController) ListActions() {
	c.RespondSuccess(c.session.ListActions())
}

// ApplyAction performs one manual remediation. A failed attempt still
// answers 200 with the action's outcome and cause.
func (c *ActionController) ApplyAction() {
	var request model.ApplyActionRequest
	if !c.bindRequest(&request) {
		return
	}
	kind, err := request.ParsedKind()
	if err != nil {
		c.RespondGuardError(err)
		return
	}

	action, err := c.session.Apply(c.ctx.Request.Context(), request.PID, kind)
	if err != nil {
		c.RespondGuardError(err)
		return
	}
	c.RespondSuccess(action)
}

// ActionHistory reads persisted actions, newest first.
func (c *ActionController) ActionHistory() {
	limit := c.QueryInt64(c.ctx.Query("limit"), defaultHistoryLimit)
	if limit <= 0 || limit > 10000 {
		limit = defaultHistoryLimit
	}
	actions, err := c.session.StoredActions(c.ctx.Request.Context(), int(limit))
	if err != nil {
		c.RespondGuardError(err)
		return
	}
	c.RespondSuccess(actions)
}
