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

package guard

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "procguard"

type metrics struct {
	registry *prometheus.Registry

	cycles        prometheus.Counter
	cycleErrors   prometheus.Counter
	cycleDuration prometheus.Histogram
	tracked       prometheus.Gauge
	skipped       prometheus.Gauge
	flags         *prometheus.CounterVec
	actions       *prometheus.CounterVec
	deferred      prometheus.Counter
	dispatches    *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed refresh/detect/mitigate/schedule cycles.",
		}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Cycles aborted because the process table could not be enumerated.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one guard cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_processes",
			Help:      "Live processes in the registry.",
		}),
		skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skipped_processes",
			Help:      "Processes skipped by the last detection pass.",
		}),
		flags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threat_flags_total",
			Help:      "Threat flags raised, by reason.",
		}, []string{"reason"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mitigation_actions_total",
			Help:      "Mitigation actions completed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mitigations_deferred_total",
			Help:      "Automatic mitigations skipped by the rate limiter.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Scheduling dispatches, by policy.",
		}, []string{"policy"}),
	}
	m.registry.MustRegister(
		m.cycles, m.cycleErrors, m.cycleDuration, m.tracked, m.skipped,
		m.flags, m.actions, m.deferred, m.dispatches,
	)
	return m
}
