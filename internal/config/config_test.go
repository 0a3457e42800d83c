// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigil-dev/steward/internal/config"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:18790", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 100, cfg.Monitor.HistorySize)
	assert.Equal(t, 3, cfg.Remediation.MaxAutoFixAttempts)
	assert.Equal(t, 5, cfg.Remediation.CircuitBreakerThreshold)
	assert.Equal(t, time.Duration(0), cfg.Scheduler.ApprovalTTL, "approvals are manual-only by default")
	assert.Equal(t, "config", cfg.Scheduler.DefaultKind)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "steward.yaml")

	content := `
server:
  listen: "0.0.0.0:9999"
monitor:
  interval: 5s
scheduler:
  approval_ttl: 10m
  max_children: 3
remediation:
  subsystem_paths:
    database: ["internal/store"]
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Listen)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.ApprovalTTL)
	assert.Equal(t, 3, cfg.Scheduler.MaxChildren)
	assert.Equal(t, []string{"internal/store"}, cfg.Remediation.SubsystemPaths["database"])
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STEWARD_SERVER_LISTEN", "10.0.0.1:8080")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", cfg.Server.Listen)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/steward.yaml")
	require.Error(t, err)
	assert.True(t, stewarderr.HasCode(err, stewarderr.CodeConfigLoadReadFailure))
}

func TestLoad_ValidationCalledAtLoadTime(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "steward.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("monitor:\n  history_size: 0\n"), 0o600))

	_, err := config.Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor.history_size")
	assert.True(t, stewarderr.IsInvalidInput(err))
}

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Monitor.Interval = 0
	cfg.Scheduler.MaxWorkers = 0
	cfg.Remediation.CircuitBreakerThreshold = -1

	errs := cfg.Validate()
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0].Error(), "monitor.interval")
	assert.Contains(t, errs[1].Error(), "remediation.circuit_breaker_threshold")
	assert.Contains(t, errs[2].Error(), "scheduler.max_workers")
}

func TestValidate_ServerListen(t *testing.T) {
	tests := []struct {
		name    string
		listen  string
		wantErr bool
	}{
		{"valid address", "127.0.0.1:8080", false},
		{"valid ipv6", "[::1]:8080", false},
		{"empty listen", "", true},
		{"missing port", "127.0.0.1", true},
		{"port zero", "127.0.0.1:0", true},
		{"port too high", "127.0.0.1:70000", true},
		{"not a number", "127.0.0.1:abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.Server.Listen = tt.listen
			errs := cfg.Validate()
			if tt.wantErr {
				require.NotEmpty(t, errs)
				assert.Contains(t, errs[0].Error(), "server.listen")
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestValidate_SchedulerKind(t *testing.T) {
	for _, kind := range []string{"code", "config", "env_var", "schema"} {
		cfg := validConfig(t)
		cfg.Scheduler.DefaultKind = kind
		assert.Empty(t, cfg.Validate(), kind)
	}

	cfg := validConfig(t)
	cfg.Scheduler.DefaultKind = "binary"
	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "scheduler.default_kind")
}

func TestValidate_Thresholds(t *testing.T) {
	cfg := validConfig(t)
	cfg.Checks.MemoryCriticalMB = cfg.Checks.MemoryDegradedMB
	cfg.Checks.DiskCriticalFree = 50
	errs := cfg.Validate()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "memory_critical_mb")
	assert.Contains(t, errs[1].Error(), "disk_critical_free_pct")
}

func TestValidate_RateLimitAndStorage(t *testing.T) {
	cfg := validConfig(t)
	cfg.Server.RateLimitRPS = 5
	cfg.Server.RateLimitBurst = 0
	cfg.Storage.Backend = ""

	errs := cfg.Validate()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "server.rate_limit_burst")
	assert.Contains(t, errs[1].Error(), "storage.backend")
}

func TestValidate_SchedulerRetention(t *testing.T) {
	cfg := validConfig(t)
	assert.Equal(t, 1000, cfg.Scheduler.RetainFinished)

	cfg.Scheduler.RetainFinished = 0
	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "scheduler.retain_finished")
}
