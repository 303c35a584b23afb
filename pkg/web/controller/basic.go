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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/alibaba/opensandbox/procguard/pkg/guard"
	"github.com/alibaba/opensandbox/procguard/pkg/mitigate"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
	"github.com/alibaba/opensandbox/procguard/pkg/sched"
	"github.com/alibaba/opensandbox/procguard/pkg/web/model"
)

type basicController struct {
	ctx     *gin.Context
	session *guard.Session
}

func newBasicController(ctx *gin.Context, session *guard.Session) *basicController {
	return &basicController{ctx: ctx, session: session}
}

func (c *basicController) RespondError(status int, code model.ErrorCode, message ...string) {
	resp := model.ErrorResponse{
		Code:    code,
		Message: "",
	}
	if len(message) > 0 {
		resp.Message = message[0]
	}
	c.ctx.JSON(status, resp)
}

func (c *basicController) RespondSuccess(data any) {
	if data == nil {
		c.ctx.Status(http.StatusOK)
		return
	}
	c.ctx.JSON(http.StatusOK, data)
}

// RespondGuardError maps a core error onto an HTTP status.
func (c *basicController) RespondGuardError(err error) {
	switch {
	case errors.Is(err, proc.ErrNotFound):
		c.RespondError(http.StatusNotFound, model.ErrorCodeNotFound, err.Error())
	case errors.Is(err, mitigate.ErrActionInFlight), errors.Is(err, guard.ErrCycleInProgress):
		c.RespondError(http.StatusConflict, model.ErrorCodeConflict, err.Error())
	case errors.Is(err, mitigate.ErrSelfTarget),
		errors.Is(err, mitigate.ErrInvalidTarget),
		errors.Is(err, mitigate.ErrUnknownKind),
		errors.Is(err, sched.ErrUnknownPolicy),
		errors.Is(err, guard.ErrNotRankable):
		c.RespondError(http.StatusBadRequest, model.ErrorCodeInvalidRequest, err.Error())
	case errors.Is(err, guard.ErrNoHistoryStore):
		c.RespondError(http.StatusServiceUnavailable, model.ErrorCodeUnavailable, err.Error())
	default:
		c.RespondError(http.StatusInternalServerError, model.ErrorCodeRuntimeError, err.Error())
	}
}

func (c *basicController) QueryInt64(query string, defaultValue int64) int64 {
	val, err := strconv.ParseInt(query, 10, 64)
	if err != nil {
		return defaultValue
	}
	return val
}

// bindRequest decodes the JSON body into target and runs its validation.
func (c *basicController) bindRequest(target interface{ Validate() error }) bool {
	if err := c.bindJSON(target); err != nil {
		c.RespondError(
			http.StatusBadRequest,
			model.ErrorCodeInvalidRequest,
			fmt.Sprintf("error parsing request, MAYBE invalid body format. %v", err),
		)
		return false
	}
	if err := target.Validate(); err != nil {
		c.RespondError(
			http.StatusBadRequest,
			model.ErrorCodeInvalidRequest,
			fmt.Sprintf("invalid request, validation error %v", err),
		)
		return false
	}
	return true
}

func (c *basicController) bindJSON(target any) error {
	decoder := json.NewDecoder(c.ctx.Request.Body)
	return decoder.Decode(target)
}
