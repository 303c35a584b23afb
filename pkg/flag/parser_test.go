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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/opensandbox/procguard/pkg/config"
)

func TestParseDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	err := Parse(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	require.NoError(t, err)
	assert.Equal(t, 44773, ServerPort)
	assert.Equal(t, "info", ServerLogLevel)
	assert.Equal(t, config.Default(), Guard)
}

func TestParseFlagsOverrideEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PROCGUARD_PORT", "9000")
	t.Setenv("PROCGUARD_POLICY", "round-robin")
	t.Setenv("PROCGUARD_BACKEND", "columnar")

	err := Parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{
		"--port", "9100",
		"--policy", "priority",
		"--auto-mitigate",
		"--poll-interval", "2s",
	})
	require.NoError(t, err)
	assert.Equal(t, 9100, ServerPort)
	assert.Equal(t, "priority", Guard.Policy)
	assert.Equal(t, "columnar", Guard.Backend, "unset flags keep the environment value")
	assert.True(t, Guard.AutoMitigate)
	assert.Equal(t, 2*time.Second, Guard.PollInterval)
}

func TestParseReadsDotenv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PROCGUARD_CPU_THRESHOLD=60\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("PROCGUARD_CPU_THRESHOLD") })

	err := Parse(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	require.NoError(t, err)
	assert.Equal(t, 60.0, Guard.CPUThreshold)
}

func TestParseRejectsInvalidFlag(t *testing.T) {
	t.Chdir(t.TempDir())

	err := Parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{"--policy", "lottery"})
	assert.True(t, errors.Is(err, config.ErrInvalidConfiguration), "got %v", err)
}
