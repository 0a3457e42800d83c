// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level Steward configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Checks      ChecksConfig      `mapstructure:"checks"`
	Remediation RemediationConfig `mapstructure:"remediation"`
	Gate        GateConfig        `mapstructure:"gate"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Credentials map[string]string `mapstructure:"credentials"`
}

// ServerConfig controls the HTTP adapter.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// RateLimitRPS is the sustained per-IP request rate. Zero disables limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// LogConfig controls the slog handler installed by the CLI.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig locates the data directory holding the journal.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	Backend string `mapstructure:"backend"`
	// Retain bounds the journaled snapshot count.
	Retain int `mapstructure:"retain"`
}

// MonitorConfig controls the health tick loop.
type MonitorConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
	HistorySize  int           `mapstructure:"history_size"`
}

// ChecksConfig holds probe thresholds.
type ChecksConfig struct {
	MemoryDegradedMB  uint64        `mapstructure:"memory_degraded_mb"`
	MemoryCriticalMB  uint64        `mapstructure:"memory_critical_mb"`
	DiskPath          string        `mapstructure:"disk_path"`
	DiskDegradedFree  float64       `mapstructure:"disk_degraded_free_pct"`
	DiskCriticalFree  float64       `mapstructure:"disk_critical_free_pct"`
	RequiredEnv       []string      `mapstructure:"required_env"`
	Dependencies      []string      `mapstructure:"dependencies"`
	DependencyTimeout time.Duration `mapstructure:"dependency_timeout"`
}

// RemediationConfig controls auto-fix and circuit breaker policy.
type RemediationConfig struct {
	MaxAutoFixAttempts      int                 `mapstructure:"max_auto_fix_attempts"`
	CircuitBreakerThreshold int                 `mapstructure:"circuit_breaker_threshold"`
	SubsystemPaths          map[string][]string `mapstructure:"subsystem_paths"`
}

// GateConfig controls static validation rules. Sensitive key lengths extend
// the gate's built-in rules; keys are matched case-insensitively.
type GateConfig struct {
	SensitiveKeyLengths map[string]int `mapstructure:"sensitive_key_lengths"`
	// BaseSchemaFile is DDL applied to the scratch database before a schema
	// change is trial-run, so ALTER and DROP statements have targets.
	BaseSchemaFile string `mapstructure:"base_schema_file"`
}

// SchedulerConfig controls task reproduction.
type SchedulerConfig struct {
	MaxWorkers      int           `mapstructure:"max_workers"`
	ChildTimeout    time.Duration `mapstructure:"child_timeout"`
	ApprovalTTL     time.Duration `mapstructure:"approval_ttl"`
	DefaultKind     string        `mapstructure:"default_kind"`
	GuardedBreakers []string      `mapstructure:"guarded_breakers"`
	MinItemsToSplit int           `mapstructure:"min_items_to_split"`
	MaxChildren     int           `mapstructure:"max_children"`
	// RetainFinished caps how many completed or failed tasks stay queryable.
	RetainFinished int `mapstructure:"retain_finished"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:18790")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.retain", 1000)

	v.SetDefault("monitor.interval", 30*time.Second)
	v.SetDefault("monitor.check_timeout", 10*time.Second)
	v.SetDefault("monitor.history_size", 100)

	v.SetDefault("checks.memory_degraded_mb", 512)
	v.SetDefault("checks.memory_critical_mb", 1024)
	v.SetDefault("checks.disk_path", ".")
	v.SetDefault("checks.disk_degraded_free_pct", 15.0)
	v.SetDefault("checks.disk_critical_free_pct", 5.0)
	v.SetDefault("checks.dependency_timeout", 5*time.Second)

	v.SetDefault("remediation.max_auto_fix_attempts", 3)
	v.SetDefault("remediation.circuit_breaker_threshold", 5)

	v.SetDefault("scheduler.max_workers", 8)
	v.SetDefault("scheduler.child_timeout", 5*time.Minute)
	v.SetDefault("scheduler.approval_ttl", time.Duration(0))
	v.SetDefault("scheduler.default_kind", "config")
	v.SetDefault("scheduler.guarded_breakers", []string{"memory"})
	v.SetDefault("scheduler.min_items_to_split", 5)
	v.SetDefault("scheduler.max_children", 4)
	v.SetDefault("scheduler.retain_finished", 1000)
}

// SetupEnv binds STEWARD_* environment variables.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("STEWARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix STEWARD_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, stewarderr.Errorf(stewarderr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, stewarderr.Errorf(stewarderr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, stewarderr.Errorf(stewarderr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLog()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateMonitor()...)
	errs = append(errs, c.validateChecks()...)
	errs = append(errs, c.validateRemediation()...)
	errs = append(errs, c.validateScheduler()...)

	return errs
}

func invalid(format string, args ...any) error {
	return stewarderr.Errorf(stewarderr.CodeConfigValidateInvalidValue, format, args...)
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		return append(errs, invalid("config: server.listen must not be empty"))
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return append(errs, invalid("config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, invalid("config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, invalid("config: server.listen port must be between 1 and 65535, got %d", port))
	}

	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, invalid("config: server.rate_limit_rps must not be negative, got %g", c.Server.RateLimitRPS))
	} else if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		errs = append(errs, invalid("config: server.rate_limit_burst must be positive when rate limiting is enabled, got %d", c.Server.RateLimitBurst))
	}

	return errs
}

func (c *Config) validateLog() []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, invalid("config: log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, invalid("config: log.format must be one of [text, json], got %q", c.Log.Format))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	if c.Storage.DataDir == "" {
		errs = append(errs, invalid("config: storage.data_dir must not be empty"))
	}
	if c.Storage.Backend == "" {
		errs = append(errs, invalid("config: storage.backend must not be empty"))
	}
	if c.Storage.Retain < 0 {
		errs = append(errs, invalid("config: storage.retain must not be negative, got %d", c.Storage.Retain))
	}

	return errs
}

func (c *Config) validateMonitor() []error {
	var errs []error

	if c.Monitor.Interval <= 0 {
		errs = append(errs, invalid("config: monitor.interval must be positive, got %s", c.Monitor.Interval))
	}
	if c.Monitor.CheckTimeout <= 0 {
		errs = append(errs, invalid("config: monitor.check_timeout must be positive, got %s", c.Monitor.CheckTimeout))
	}
	if c.Monitor.HistorySize <= 0 {
		errs = append(errs, invalid("config: monitor.history_size must be greater than 0, got %d", c.Monitor.HistorySize))
	}

	return errs
}

func (c *Config) validateChecks() []error {
	var errs []error

	if c.Checks.MemoryDegradedMB == 0 || c.Checks.MemoryCriticalMB <= c.Checks.MemoryDegradedMB {
		errs = append(errs, invalid("config: checks.memory_critical_mb (%d) must exceed checks.memory_degraded_mb (%d) and both must be positive",
			c.Checks.MemoryCriticalMB, c.Checks.MemoryDegradedMB))
	}
	if c.Checks.DiskCriticalFree < 0 || c.Checks.DiskDegradedFree > 100 || c.Checks.DiskCriticalFree >= c.Checks.DiskDegradedFree {
		errs = append(errs, invalid("config: checks.disk_critical_free_pct (%g) must be below checks.disk_degraded_free_pct (%g) within 0..100",
			c.Checks.DiskCriticalFree, c.Checks.DiskDegradedFree))
	}
	if len(c.Checks.Dependencies) > 0 && c.Checks.DependencyTimeout <= 0 {
		errs = append(errs, invalid("config: checks.dependency_timeout must be positive when dependencies are configured"))
	}

	return errs
}

func (c *Config) validateRemediation() []error {
	var errs []error

	if c.Remediation.MaxAutoFixAttempts < 0 {
		errs = append(errs, invalid("config: remediation.max_auto_fix_attempts must not be negative, got %d", c.Remediation.MaxAutoFixAttempts))
	}
	if c.Remediation.CircuitBreakerThreshold <= 0 {
		errs = append(errs, invalid("config: remediation.circuit_breaker_threshold must be greater than 0, got %d", c.Remediation.CircuitBreakerThreshold))
	}

	return errs
}

func (c *Config) validateScheduler() []error {
	var errs []error

	if c.Scheduler.MaxWorkers <= 0 {
		errs = append(errs, invalid("config: scheduler.max_workers must be greater than 0, got %d", c.Scheduler.MaxWorkers))
	}
	if c.Scheduler.ChildTimeout <= 0 {
		errs = append(errs, invalid("config: scheduler.child_timeout must be positive, got %s", c.Scheduler.ChildTimeout))
	}
	if c.Scheduler.ApprovalTTL < 0 {
		errs = append(errs, invalid("config: scheduler.approval_ttl must not be negative, got %s", c.Scheduler.ApprovalTTL))
	}

	validKinds := map[string]bool{"code": true, "config": true, "env_var": true, "schema": true}
	if !validKinds[c.Scheduler.DefaultKind] {
		errs = append(errs, invalid("config: scheduler.default_kind must be one of [code, config, env_var, schema], got %q", c.Scheduler.DefaultKind))
	}
	if c.Scheduler.MinItemsToSplit < 0 {
		errs = append(errs, invalid("config: scheduler.min_items_to_split must not be negative, got %d", c.Scheduler.MinItemsToSplit))
	}
	if c.Scheduler.MaxChildren <= 0 {
		errs = append(errs, invalid("config: scheduler.max_children must be greater than 0, got %d", c.Scheduler.MaxChildren))
	}
	if c.Scheduler.RetainFinished <= 0 {
		errs = append(errs, invalid("config: scheduler.retain_finished must be greater than 0, got %d", c.Scheduler.RetainFinished))
	}

	return errs
}
