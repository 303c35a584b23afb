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

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alibaba/opensandbox/procguard/pkg/guard"
	"github.com/alibaba/opensandbox/procguard/pkg/log"
	"github.com/alibaba/opensandbox/procguard/pkg/web/controller"
	"github.com/alibaba/opensandbox/procguard/pkg/web/model"
)

// NewRouter builds a Gin engine serving session. Without an access token the
// routes that spawn processes or apply actions are not registered.
func NewRouter(session *guard.Session, accessToken string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logMiddleware(), accessTokenMiddleware(accessToken))
	mutating := accessToken != ""
	if !mutating {
		log.Warn("no access token configured, spawn and action routes are disabled")
	}

	r.GET("/ping", controller.PingHandler)
	r.GET("/config", withSchedule(session, func(c *controller.ScheduleController) { c.GetConfig() }))
	r.POST("/cycle", withSchedule(session, func(c *controller.ScheduleController) { c.RunCycle() }))

	processes := r.Group("/processes")
	{
		processes.GET("", withProcess(session, func(c *controller.ProcessController) { c.ListProcesses() }))
		if mutating {
			processes.POST("", withProcess(session, func(c *controller.ProcessController) { c.SpawnProcess() }))
		}
		processes.GET("/:pid", withProcess(session, func(c *controller.ProcessController) { c.GetProcess() }))
	}

	alerts := r.Group("/alerts")
	{
		alerts.GET("", withAlert(session, func(c *controller.AlertController) { c.ListAlerts() }))
		alerts.GET("/watch", withAlert(session, func(c *controller.AlertController) { c.WatchAlerts() }))
	}

	actions := r.Group("/actions")
	{
		actions.GET("", withAction(session, func(c *controller.ActionController) { c.ListActions() }))
		if mutating {
			actions.POST("", withAction(session, func(c *controller.ActionController) { c.ApplyAction() }))
		}
		actions.GET("/history", withAction(session, func(c *controller.ActionController) { c.ActionHistory() }))
	}

	schedule := r.Group("/schedule")
	{
		schedule.GET("", withSchedule(session, func(c *controller.ScheduleController) { c.GetSchedule() }))
		schedule.POST("/step", withSchedule(session, func(c *controller.ScheduleController) { c.Step() }))
		schedule.PUT("/policy", withSchedule(session, func(c *controller.ScheduleController) { c.SetPolicy() }))
	}

	r.GET("/samples", withMetric(session, func(c *controller.MetricController) { c.ListSamples() }))

	metric := r.Group("/metrics")
	{
		metric.GET("", withMetric(session, func(c *controller.MetricController) { c.GetMetrics() }))
		metric.GET("/watch", withMetric(session, func(c *controller.MetricController) { c.WatchMetrics() }))
		metric.GET("/prometheus", gin.WrapH(promhttp.HandlerFor(session.Gatherer(), promhttp.HandlerOpts{})))
	}

	return r
}

func withProcess(session *guard.Session, fn func(*controller.ProcessController)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		fn(controller.NewProcessController(ctx, session))
	}
}

func withAlert(session *guard.Session, fn func(*controller.AlertController)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		fn(controller.NewAlertController(ctx, session))
	}
}

func withAction(session *guard.Session, fn func(*controller.ActionController)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		fn(controller.NewActionController(ctx, session))
	}
}

func withSchedule(session *guard.Session, fn func(*controller.ScheduleController)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		fn(controller.NewScheduleController(ctx, session))
	}
}

func withMetric(session *guard.Session, fn func(*controller.MetricController)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		fn(controller.NewMetricController(ctx, session))
	}
}

func accessTokenMiddleware(token string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if token == "" {
			ctx.Next()
			return
		}

		requestedToken := ctx.GetHeader(model.ApiAccessTokenHeader)
		if requestedToken == "" || requestedToken != token {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
				Code:    model.ErrorCodeInvalidRequest,
				Message: "Unauthorized: invalid or missing header " + model.ApiAccessTokenHeader,
			})
			return
		}

		ctx.Next()
	}
}

func logMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		log.Debug("Requested: %v - %v", ctx.Request.Method, ctx.Request.URL.String())
		ctx.Next()
	}
}
