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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs/maxprocs"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/alibaba/opensandbox/procguard/pkg/flag"
	"github.com/alibaba/opensandbox/procguard/pkg/guard"
	"github.com/alibaba/opensandbox/procguard/pkg/log"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
	"github.com/alibaba/opensandbox/procguard/pkg/util/safego"
	"github.com/alibaba/opensandbox/procguard/pkg/web"
)

// main initializes and starts the procguard server.
func main() {
	flag.InitFlags()

	if err := log.SetLevelName(flag.ServerLogLevel); err != nil {
		log.Warn("ignoring log level: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	safego.InitPanicLogger(ctx)

	if err := run(ctx, stop); err != nil {
		log.Error("procguard exited: %v", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc) error {
	session, err := guard.Open(ctx, flag.Guard, proc.NewHost())
	if err != nil {
		return fmt.Errorf("failed to open guard session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Error("failed to close guard session: %v", err)
		}
	}()

	loopDone := make(chan struct{})
	safego.Go(func() {
		defer close(loopDone)
		wait.UntilWithContext(ctx, func(ctx context.Context) {
			if _, err := session.RunCycle(ctx); err != nil {
				log.Warn("guard cycle failed: %v", err)
			}
		}, flag.Guard.PollInterval)
	})

	addr := listenAddr(flag.ServerPort, flag.ServerAccessToken)
	server := &http.Server{
		Addr:    addr,
		Handler: web.NewRouter(session, flag.ServerAccessToken),
	}

	serveErr := make(chan error, 1)
	safego.Go(func() {
		log.Info("procguard listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	})

	<-ctx.Done()
	log.Info("shutting down procguard")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), flag.ApiGracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown did not finish: %v", err)
	}
	<-loopDone

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to start procguard server: %w", err)
	default:
		return nil
	}
}

// listenAddr keeps an unauthenticated server on the loopback interface.
func listenAddr(port int, accessToken string) string {
	if accessToken == "" {
		return fmt.Sprintf("127.0.0.1:%d", port)
	}
	return fmt.Sprintf(":%d", port)
}
