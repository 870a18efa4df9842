// Package config defines the configuration structures for TrialScope.  No I/O
// lives here, only plain data types and validation.
package config

import (
	"strings"
	"time"

	"github.com/turtacn/TrialScope/internal/infrastructure/database/redis"
	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/TrialScope/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level       string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// Logging converts the section into the logger's own config type.
func (c LogConfig) Logging() logging.LogConfig {
	return logging.LogConfig{
		Level:       c.Level,
		Format:      c.Format,
		OutputPaths: c.OutputPaths,
	}
}

// DispatchConfig controls how extraction modules are run.
type DispatchConfig struct {
	Parallel      bool          `mapstructure:"parallel"`
	MaxWorkers    int           `mapstructure:"max_workers"`
	ModuleTimeout time.Duration `mapstructure:"module_timeout"`
	Exclude       []string      `mapstructure:"exclude"`
}

// ScoringConfig selects the weight profile.  ProfilesPath optionally points
// at a YAML file whose profiles and tertile rows are merged over the built-in
// ones.
type ScoringConfig struct {
	Profile      string `mapstructure:"profile"`
	ProfilesPath string `mapstructure:"profiles_path"`
}

// CacheConfig controls the optional Redis prediction cache.
// TTLJitter spreads expiries by up to 10% either way.
type CacheConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	TTL       time.Duration     `mapstructure:"ttl"`
	TTLJitter bool              `mapstructure:"ttl_jitter"`
	KeyPrefix string            `mapstructure:"key_prefix"`
	Redis     redis.RedisConfig `mapstructure:"redis"`
}

// MetricsConfig controls Prometheus instrumentation.  When DumpPath is set
// the CLI writes the text exposition there after each command.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Subsystem string `mapstructure:"subsystem"`
	DumpPath  string `mapstructure:"dump_path"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config and
// returns the first problem found as an ErrCodeValidation AppError.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return invalid("log.format %q is invalid; expected json|console", c.Log.Format)
	}

	if c.Dispatch.MaxWorkers < 1 {
		return invalid("dispatch.max_workers must be >= 1, got %d", c.Dispatch.MaxWorkers)
	}
	if c.Dispatch.ModuleTimeout <= 0 {
		return invalid("dispatch.module_timeout must be positive, got %s", c.Dispatch.ModuleTimeout)
	}
	for _, name := range c.Dispatch.Exclude {
		if strings.TrimSpace(name) == "" {
			return invalid("dispatch.exclude contains an empty module name")
		}
	}

	if c.Scoring.Profile == "" {
		return invalid("scoring.profile is required")
	}

	if c.Cache.Enabled {
		if c.Cache.TTL < 0 {
			return invalid("cache.ttl must not be negative, got %s", c.Cache.TTL)
		}
		switch c.Cache.Redis.Mode {
		case redis.ModeCluster:
			if len(c.Cache.Redis.ClusterAddrs) == 0 {
				return invalid("cache.redis.cluster_addrs is required in cluster mode")
			}
		case redis.ModeSentinel:
			if c.Cache.Redis.MasterName == "" || len(c.Cache.Redis.SentinelAddrs) == 0 {
				return invalid("cache.redis.master_name and sentinel_addrs are required in sentinel mode")
			}
		default:
			if c.Cache.Redis.Addr == "" {
				return invalid("cache.redis.addr is required when the cache is enabled")
			}
		}
		if c.Cache.Redis.DB < 0 {
			return invalid("cache.redis.db must be >= 0, got %d", c.Cache.Redis.DB)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return invalid("metrics.namespace is required when metrics are enabled")
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeValidation, "config: "+format, args...)
}
