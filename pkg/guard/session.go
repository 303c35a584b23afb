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

// Package guard wires the registry, scheduler, detector and mitigation engine
// into one session driven by a poll loop or by explicit calls.
package guard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/alibaba/opensandbox/procguard/pkg/audit"
	"github.com/alibaba/opensandbox/procguard/pkg/config"
	"github.com/alibaba/opensandbox/procguard/pkg/detect"
	"github.com/alibaba/opensandbox/procguard/pkg/kernel"
	"github.com/alibaba/opensandbox/procguard/pkg/log"
	"github.com/alibaba/opensandbox/procguard/pkg/mitigate"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
	"github.com/alibaba/opensandbox/procguard/pkg/registry"
	"github.com/alibaba/opensandbox/procguard/pkg/sched"
	"github.com/alibaba/opensandbox/procguard/pkg/store"
)

var (
	// ErrCycleInProgress is returned when RunCycle is called while another
	// cycle is still running.
	ErrCycleInProgress = errors.New("a guard cycle is already in progress")
	// ErrNoHistoryStore is returned by StoredActions when no history_dsn is set.
	ErrNoHistoryStore = errors.New("no action history store configured")
	ErrNotRankable    = errors.New("the active policy does not rank processes")
)

// Recorder appends audit entries.
type Recorder interface {
	Record(e audit.Entry) error
}

// HistoryStore persists completed mitigation actions.
type HistoryStore interface {
	mitigate.Sink
	RecentActions(ctx context.Context, limit int) ([]*mitigate.Action, error)
	Close() error
}

// Deps are the collaborators of a session. Adapter is required; everything
// else is optional.
type Deps struct {
	Adapter   proc.Adapter
	Sampler   proc.Sampler
	AlertLog  Recorder
	ActionLog Recorder
	Store     HistoryStore
	Clock     func() time.Time
}

// Session is one running guard instance.
type Session struct {
	cfg     config.Config
	adapter proc.Adapter
	sampler proc.Sampler
	now     func() time.Time

	registry  *registry.Registry
	detector  *detect.Detector
	scheduler *sched.Engine
	backend   kernel.Backend
	mitigator *mitigate.Engine
	policy    *mitigate.Policy
	limiter   *rate.Limiter
	alertLog  Recorder
	store     HistoryStore
	closers   []io.Closer
	metrics   *metrics

	cycleMu sync.Mutex

	mu          sync.RWMutex
	alerts      []detect.Flag
	samples     []proc.Sample
	lastReport  *detect.Report
	lastCycle   *CycleResult
	subscribers map[int]chan detect.Flag
	nextSub     int
	closed      bool
}

// Open builds a session against adapter, opening the audit logs and, when
// history_dsn is set, the MySQL action store named by cfg.
func Open(ctx context.Context, cfg config.Config, adapter proc.Adapter) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	alerts, err := audit.Open(cfg.AlertLog)
	if err != nil {
		return nil, err
	}
	closers = append(closers, alerts)

	actions, err := audit.Open(cfg.ActionLog)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, actions)

	deps := Deps{
		Adapter:   adapter,
		Sampler:   proc.HostSampler{},
		AlertLog:  alerts,
		ActionLog: actions,
	}
	if cfg.HistoryDSN != "" {
		db, err := store.OpenMySQL(ctx, cfg.HistoryDSN, config.Hostname())
		if err != nil {
			closeAll()
			return nil, err
		}
		deps.Store = db
	}

	s, err := New(cfg, deps)
	if err != nil {
		closeAll()
		if deps.Store != nil {
			_ = deps.Store.Close()
		}
		return nil, err
	}
	s.closers = append(closers, s.closers...)
	return s, nil
}

// New builds a session from explicit collaborators.
func New(cfg config.Config, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Adapter == nil {
		return nil, fmt.Errorf("%w: nil process adapter", config.ErrInvalidConfiguration)
	}

	backend, err := kernel.ByName(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfiguration, err)
	}
	policy, err := sched.NewPolicy(cfg.Policy, backend, cfg.AgingFactor, cfg.TimeQuantum)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfiguration, err)
	}
	high, err := mitigate.ParseKind(cfg.HighSeverityAction)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfiguration, err)
	}
	moderate, err := mitigate.ParseKind(cfg.ModerateAction)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfiguration, err)
	}
	mp, err := mitigate.NewPolicy(mitigate.PolicyConfig{
		CPUHardCeiling: cfg.CPUHardCeiling,
		HighAction:     high,
		ModerateAction: moderate,
		Protected:      cfg.Protected,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfiguration, err)
	}

	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	engineOpts := []mitigate.EngineOption{mitigate.WithClock(now)}
	if deps.ActionLog != nil {
		engineOpts = append(engineOpts, mitigate.WithRecorder(deps.ActionLog))
	}
	if deps.Store != nil {
		engineOpts = append(engineOpts, mitigate.WithSink(deps.Store))
	}

	s := &Session{
		cfg:     cfg,
		adapter: deps.Adapter,
		sampler: deps.Sampler,
		now:     now,
		registry: registry.New(
			registry.WithClock(now),
			registry.WithDefaultBurst(registry.Units(cfg.DefaultBurst)),
		),
		detector:  detect.New(backend).WithClock(now),
		scheduler: sched.NewEngine(policy),
		backend:   backend,
		mitigator: mitigate.NewEngine(deps.Adapter, mitigate.Options{
			ThrottleStep:     cfg.ThrottleStep,
			TerminateTimeout: cfg.TerminateTimeout,
			AffinityCores:    cfg.AffinityCores,
			HistorySize:      cfg.HistorySize,
		}, engineOpts...),
		policy:      mp,
		limiter:     rate.NewLimiter(rate.Limit(cfg.MitigationRate), cfg.MitigationBurst),
		alertLog:    deps.AlertLog,
		store:       deps.Store,
		metrics:     newMetrics(),
		subscribers: make(map[int]chan detect.Flag),
	}
	if deps.Store != nil {
		s.closers = append(s.closers, deps.Store)
	}

	log.Info("guard session ready: policy=%s backend=%s auto_mitigate=%v", cfg.Policy, cfg.Backend, cfg.AutoMitigate)
	return s, nil
}

// Close releases the audit logs and the history store and ends every alert
// subscription.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the session configuration with secrets removed.
func (s *Session) Config() config.Config {
	return s.cfg.WithoutSecrets()
}

// Gatherer exposes the session's Prometheus collectors.
func (s *Session) Gatherer() prometheus.Gatherer {
	return s.metrics.registry
}
