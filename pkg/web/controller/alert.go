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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/alibaba/opensandbox/procguard/pkg/guard"
	"github.com/alibaba/opensandbox/procguard/pkg/log"
	"github.com/alibaba/opensandbox/procguard/pkg/util/safego"
	"github.com/alibaba/opensandbox/procguard/pkg/web/model"
)

const (
	alertWriteWait    = 5 * time.Second
	alertPingInterval = 30 * time.Second
	alertBuffer       = 256
)

// the access token middleware already guards the route.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// AlertController serves threat flags.
type AlertController struct {
	*basicController
}

func NewAlertController(ctx *gin.Context, session *guard.Session) *AlertController {
	return &AlertController{basicController: newBasicController(ctx, session)}
}

// ListAlerts returns the retained flags and the last report.
func (c *AlertController) ListAlerts() {
	c.RespondSuccess(model.AlertsResponse{
		Alerts:     c.session.ListAlerts(),
		LastReport: c.session.LastReport(),
	})
}

// WatchAlerts upgrades to a websocket and pushes every new flag as a JSON
// text frame until either side closes.
func (c *AlertController) WatchAlerts() {
	conn, err := upgrader.Upgrade(c.ctx.Writer, c.ctx.Request, nil)
	if err != nil {
		log.Error("WatchAlerts upgrade error: %v", err)
		return
	}
	defer conn.Close()

	flags, cancel := c.session.Subscribe(alertBuffer)
	defer cancel()

	closed := make(chan struct{})
	safego.Go(func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ticker := time.NewTicker(alertPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.ctx.Request.Context().Done():
			return
		case flag, ok := <-flags:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(alertWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(alertWriteWait))
			if err := conn.WriteJSON(flag); err != nil {
				log.Error("WatchAlerts write flag for pid %d error: %v", flag.PID, err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(alertWriteWait)); err != nil {
				return
			}
		}
	}
}
