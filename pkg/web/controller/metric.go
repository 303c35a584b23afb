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
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alibaba/opensandbox/procguard/pkg/guard"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
	"github.com/alibaba/opensandbox/procguard/pkg/web/model"
)

var (
	hostSampler   proc.Sampler = proc.HostSampler{}
	watchInterval              = time.Second
)

// MetricController handles system metrics requests
type MetricController struct {
	*basicController
}

func NewMetricController(ctx *gin.Context, session *guard.Session) *MetricController {
	return &MetricController{basicController: newBasicController(ctx, session)}
}

// GetMetrics returns current system metrics
func (c *MetricController) GetMetrics() {
	metrics, err := c.readMetrics()
	if err != nil {
		c.RespondError(
			http.StatusInternalServerError,
			model.ErrorCodeRuntimeError,
			fmt.Sprintf("error reading runtime metrics. %v", err),
		)
		return
	}

	c.RespondSuccess(metrics)
}

// ListSamples returns the samples retained by the guard cycles.
func (c *MetricController) ListSamples() {
	samples := c.session.ListResourceSamples()
	out := make([]*model.Metrics, 0, len(samples))
	for _, s := range samples {
		out = append(out, model.NewMetrics(s))
	}
	c.RespondSuccess(out)
}

// WatchMetrics streams system metrics via SSE
func (c *MetricController) WatchMetrics() {
	c.setupSSEResponse()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Request.Context().Done():
			return
		case <-ticker.C:
			var msg []byte
			metrics, err := c.readMetrics()
			if err != nil {
				msg, _ = json.Marshal(map[string]string{ //nolint:errchkjson
					"error": err.Error(),
				})
			} else {
				msg, _ = json.Marshal(metrics) //nolint:errchkjson
			}
			if !c.writeSingleEvent("WatchMetrics", msg) {
				return
			}
		}
	}
}

// readMetrics collects current CPU and memory metrics
func (c *MetricController) readMetrics() (*model.Metrics, error) {
	sample, err := hostSampler.Sample(c.ctx.Request.Context())
	if err != nil {
		return nil, err
	}
	return model.NewMetrics(sample), nil
}
