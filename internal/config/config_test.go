package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/runbox/internal/gate"
)

// isolate runs the test from an empty directory with an empty HOME so no
// runbox.yaml or .env on the machine leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Zero(t, cfg.Server.RateLimit.RequestsPerMinute)
	assert.Equal(t, 10, cfg.Execution.PoolSize)
	assert.Equal(t, time.Second, cfg.Execution.OuterTimeout)
	assert.Equal(t, 30*time.Second, cfg.Execution.EngineTimeout)
	assert.Equal(t, "python3", cfg.Execution.Interpreter)
	assert.Equal(t, "sessions", cfg.Sessions.Root)
	assert.Equal(t, 24*time.Hour, cfg.Sessions.TTL)
	assert.Equal(t, time.Hour, cfg.Sessions.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.SweepRetryBackoff)
	assert.Equal(t, gate.DefaultForbiddenModules, cfg.Gate.ForbiddenModules)
	assert.Equal(t, gate.DefaultForbiddenCalls, cfg.Gate.ForbiddenCalls)
	assert.Equal(t, 5*time.Second, cfg.Gate.Timeout)
	assert.Empty(t, cfg.Storage.DBPath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Empty(t, cfg.File)
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  rate_limit:
    requests_per_minute: 120
    burst: 10
execution:
  pool_size: 4
  outer_timeout: 2s
sessions:
  root: /var/lib/runbox
  sweep_schedule: "*/30 * * * *"
gate:
  forbidden_modules: [os, requests]
log:
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Server.RateLimit.RequestsPerMinute)
	assert.Equal(t, 4, cfg.Execution.PoolSize)
	assert.Equal(t, 2*time.Second, cfg.Execution.OuterTimeout)
	assert.Equal(t, "/var/lib/runbox", cfg.Sessions.Root)
	assert.Equal(t, "*/30 * * * *", cfg.Sessions.SweepSchedule)
	assert.Equal(t, []string{"os", "requests"}, cfg.Gate.ForbiddenModules)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, path, cfg.File)

	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Execution.EngineTimeout)
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runbox.yaml"), []byte("server:\n  port: 8123\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("RUNBOX_EXECUTION_POOL_SIZE", "3")
	t.Setenv("RUNBOX_SESSIONS_TTL", "90m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Execution.PoolSize)
	assert.Equal(t, 90*time.Minute, cfg.Sessions.TTL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("RUNBOX_SERVER_PORT=8765\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("RUNBOX_SERVER_PORT") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8765, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	isolate(t)
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"pool size", func(c *Config) { c.Execution.PoolSize = 0 }},
		{"negative outer timeout", func(c *Config) { c.Execution.OuterTimeout = -time.Second }},
		{"interpreter", func(c *Config) { c.Execution.Interpreter = "" }},
		{"ttl", func(c *Config) { c.Sessions.TTL = 0 }},
		{"no sweep cadence", func(c *Config) { c.Sessions.SweepInterval = 0 }},
		{"backoff", func(c *Config) { c.Sessions.SweepRetryBackoff = 0 }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := *base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	schedOnly := *base
	schedOnly.Sessions.SweepInterval = 0
	schedOnly.Sessions.SweepSchedule = "@hourly"
	assert.NoError(t, schedOnly.Validate())

	unlimited := *base
	unlimited.Execution.OuterTimeout = 0
	assert.NoError(t, unlimited.Validate())
}
