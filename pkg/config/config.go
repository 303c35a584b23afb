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

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"

	"github.com/alibaba/opensandbox/procguard/pkg/detect"
	"github.com/alibaba/opensandbox/procguard/pkg/registry"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

// Config holds every tunable of the guard. Out-of-range values are rejected
// by Validate, never clamped.
type Config struct {
	CPUThreshold      float64       `mapstructure:"cpu_threshold" json:"cpu_threshold" validate:"gt=0,lte=100"`
	MemoryThreshold   float64       `mapstructure:"memory_threshold" json:"memory_threshold" validate:"gt=0,lte=100"`
	CPUHardCeiling    float64       `mapstructure:"cpu_hard_ceiling" json:"cpu_hard_ceiling" validate:"gtefield=CPUThreshold,lte=100"`
	ProcessCountLimit int           `mapstructure:"process_count_limit" json:"process_count_limit" validate:"gte=1,lte=1000000"`
	CreationRateLimit float64       `mapstructure:"creation_rate_limit" json:"creation_rate_limit" validate:"gt=0,lte=100000"`
	WaitingTimeLimit  int64         `mapstructure:"waiting_time_limit" json:"waiting_time_limit" validate:"gte=1,lte=1000000000"`
	AgingFactor       int           `mapstructure:"aging_factor" json:"aging_factor" validate:"gte=1,lte=1000"`
	TimeQuantum       int           `mapstructure:"time_quantum" json:"time_quantum" validate:"gte=1,lte=1000"`
	DefaultBurst      int64         `mapstructure:"default_burst" json:"default_burst" validate:"gte=1,lte=1000000000"`
	TerminateTimeout  time.Duration `mapstructure:"terminate_timeout" json:"terminate_timeout" validate:"gte=100ms,lte=5m"`
	ThrottleStep      int           `mapstructure:"throttle_step" json:"throttle_step" validate:"gte=1,lte=39"`
	MaxMissed         int           `mapstructure:"max_missed" json:"max_missed" validate:"gte=0,lte=100"`
	PollInterval      time.Duration `mapstructure:"poll_interval" json:"poll_interval" validate:"gte=100ms,lte=1h"`

	Policy             string `mapstructure:"policy" json:"policy" validate:"oneof=priority round-robin"`
	Backend            string `mapstructure:"backend" json:"backend" validate:"oneof=reference columnar"`
	HighSeverityAction string `mapstructure:"high_severity_action" json:"high_severity_action" validate:"oneof=terminate suspend"`
	ModerateAction     string `mapstructure:"moderate_action" json:"moderate_action" validate:"oneof=throttle restrict-affinity"`
	AffinityCores      []int  `mapstructure:"affinity_cores" json:"affinity_cores" validate:"min=1,dive,gte=0"`

	AutoMitigate    bool     `mapstructure:"auto_mitigate" json:"auto_mitigate"`
	MitigationRate  float64  `mapstructure:"mitigation_rate" json:"mitigation_rate" validate:"gt=0"`
	MitigationBurst int      `mapstructure:"mitigation_burst" json:"mitigation_burst" validate:"gte=1"`
	Protected       []string `mapstructure:"protected" json:"protected" validate:"dive,required"`

	AlertLog      string `mapstructure:"alert_log" json:"alert_log" validate:"required"`
	ActionLog     string `mapstructure:"action_log" json:"action_log" validate:"required"`
	HistoryDSN    string `mapstructure:"history_dsn" json:"-"`
	HistorySize   int    `mapstructure:"history_size" json:"history_size" validate:"gte=1,lte=1000000"`
	SampleHistory int    `mapstructure:"sample_history" json:"sample_history" validate:"gte=1,lte=1000000"`
	ScheduleSteps int    `mapstructure:"schedule_steps" json:"schedule_steps" validate:"gte=0,lte=1000"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		CPUThreshold:       80,
		MemoryThreshold:    80,
		CPUHardCeiling:     95,
		ProcessCountLimit:  150,
		CreationRateLimit:  5,
		WaitingTimeLimit:   30,
		AgingFactor:        1,
		TimeQuantum:        4,
		DefaultBurst:       10,
		TerminateTimeout:   3 * time.Second,
		ThrottleStep:       5,
		MaxMissed:          3,
		PollInterval:       5 * time.Second,
		Policy:             "priority",
		Backend:            "reference",
		HighSeverityAction: "terminate",
		ModerateAction:     "throttle",
		AffinityCores:      []int{0},
		AutoMitigate:       false,
		MitigationRate:     1,
		MitigationBurst:    5,
		Protected:          []string{"init", "systemd*", "sshd", "kthreadd", "procguard"},
		AlertLog:           "alerts.log",
		ActionLog:          "actions.log",
		HistorySize:        1000,
		SampleHistory:      300,
		ScheduleSteps:      1,
	}
}

// Validate checks every option against its documented range.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	for _, pattern := range c.Protected {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("%w: protected pattern %q is not a valid glob", ErrInvalidConfiguration, pattern)
		}
	}
	if c.HistoryDSN != "" {
		if _, err := mysql.ParseDSN(c.HistoryDSN); err != nil {
			return fmt.Errorf("%w: history_dsn: %v", ErrInvalidConfiguration, err)
		}
	}
	return nil
}

// Thresholds returns the detector limits.
func (c *Config) Thresholds() detect.Thresholds {
	return detect.Thresholds{
		CPUPercent:        c.CPUThreshold,
		MemoryPercent:     c.MemoryThreshold,
		ProcessCountLimit: c.ProcessCountLimit,
		CreationRateLimit: c.CreationRateLimit,
		WaitingTimeLimit:  registry.Units(c.WaitingTimeLimit),
	}
}

// WithoutSecrets returns a copy safe to log or serve.
func (c Config) WithoutSecrets() Config {
	if c.HistoryDSN != "" {
		c.HistoryDSN = "<redacted>"
	}
	c.AffinityCores = append([]int(nil), c.AffinityCores...)
	c.Protected = append([]string(nil), c.Protected...)
	return c
}

// Hostname is used to tag persisted actions.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
