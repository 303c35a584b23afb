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

package flag

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	stdlog "log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/alibaba/opensandbox/procguard/pkg/config"
	"github.com/alibaba/opensandbox/procguard/pkg/log"
)

const (
	portEnv                    = "PROCGUARD_PORT"
	accessTokenEnv             = "PROCGUARD_ACCESS_TOKEN"
	gracefulShutdownTimeoutEnv = "PROCGUARD_API_GRACE_SHUTDOWN"
	dotenvFile                 = ".env"
)

// guardFlags override single config options from the command line.
type guardFlags struct {
	policy       string
	backend      string
	autoMitigate bool
	pollInterval time.Duration
	alertLog     string
	actionLog    string
	historyDSN   string
}

// InitFlags loads .env, the config file, environment and CLI flags, in that
// order of increasing precedence. Invalid input is fatal.
func InitFlags() {
	if err := Parse(flag.CommandLine, os.Args[1:]); err != nil {
		stdlog.Panicf("Failed to initialise configuration: %v", err)
	}

	log.Info("guard policy=%s backend=%s auto_mitigate=%t poll_interval=%s",
		Guard.Policy, Guard.Backend, Guard.AutoMitigate, Guard.PollInterval)
}

// Parse fills the package variables from args registered on set.
func Parse(set *flag.FlagSet, args []string) error {
	if err := loadDotenv(dotenvFile); err != nil {
		return err
	}

	// Set default values
	ServerPort = 44773
	ServerLogLevel = "info"
	ServerAccessToken = ""
	ApiGracefulShutdownTimeout = time.Second * 3
	ConfigFile = os.Getenv(config.FileEnvKey)

	// First, set default values from environment variables
	if port := os.Getenv(portEnv); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", portEnv, err)
		}
		ServerPort = p
	}
	if token := os.Getenv(accessTokenEnv); token != "" {
		ServerAccessToken = token
	}
	if graceShutdownTimeout := os.Getenv(gracefulShutdownTimeoutEnv); graceShutdownTimeout != "" {
		duration, err := time.ParseDuration(graceShutdownTimeout)
		if err != nil {
			return fmt.Errorf("failed to parse graceful shutdown timeout from env: %w", err)
		}
		ApiGracefulShutdownTimeout = duration
	}

	// Then define flags with current values as defaults
	set.IntVar(&ServerPort, "port", ServerPort, "Server listening port (default: 44773)")
	set.StringVar(&ServerLogLevel, "log-level", ServerLogLevel, "Server log level, a name (debug, info, warn, error) or a syslog number 0-7")
	set.StringVar(&ServerAccessToken, "access-token", ServerAccessToken, "Server access token for API authentication")
	set.DurationVar(&ApiGracefulShutdownTimeout, "graceful-shutdown-timeout", ApiGracefulShutdownTimeout, "API graceful shutdown timeout duration (default: 3s)")
	set.StringVar(&ConfigFile, "config", ConfigFile, "Guard config file (yaml, json or toml)")

	var g guardFlags
	defaults := config.Default()
	set.StringVar(&g.policy, "policy", defaults.Policy, "Scheduling policy: priority or round-robin")
	set.StringVar(&g.backend, "backend", defaults.Backend, "Kernel backend: reference or columnar")
	set.BoolVar(&g.autoMitigate, "auto-mitigate", defaults.AutoMitigate, "Apply mitigation automatically to flagged processes")
	set.DurationVar(&g.pollInterval, "poll-interval", defaults.PollInterval, "Interval between guard cycles")
	set.StringVar(&g.alertLog, "alert-log", defaults.AlertLog, "Append-only alert audit log")
	set.StringVar(&g.actionLog, "action-log", defaults.ActionLog, "Append-only mitigation audit log")
	set.StringVar(&g.historyDSN, "history-dsn", "", "MySQL DSN for the mitigation history (optional)")

	// Parse flags - these will override environment variables if provided
	if err := set.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ConfigFile)
	if err != nil {
		return err
	}
	set.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "policy":
			cfg.Policy = g.policy
		case "backend":
			cfg.Backend = g.backend
		case "auto-mitigate":
			cfg.AutoMitigate = g.autoMitigate
		case "poll-interval":
			cfg.PollInterval = g.pollInterval
		case "alert-log":
			cfg.AlertLog = g.alertLog
		case "action-log":
			cfg.ActionLog = g.actionLog
		case "history-dsn":
			cfg.HistoryDSN = g.historyDSN
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	Guard = cfg
	return nil
}

// loadDotenv fills unset environment variables from path when it exists.
func loadDotenv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}
