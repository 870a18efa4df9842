package config

import (
	"runtime"
	"time"

	"github.com/turtacn/TrialScope/internal/intelligence/dispatch"
	"github.com/turtacn/TrialScope/internal/intelligence/scoring"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultModuleTimeout = dispatch.DefaultModuleTimeout

	DefaultProfile = scoring.ProfileDefault

	DefaultCacheTTL       = 24 * time.Hour
	DefaultCacheKeyPrefix = "trialscope:"
	DefaultRedisAddr      = "localhost:6379"

	DefaultMetricsNamespace = "trialscope"
	DefaultMetricsSubsystem = "extraction"
)

// DefaultMaxWorkers caps the dispatch pool at the number of CPUs.
func DefaultMaxWorkers() int {
	return runtime.NumCPU()
}

// NewDefaultConfig returns a Config with every field at its default.  It
// passes Validate without further changes.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Dispatch.Parallel = true
	cfg.Cache.TTLJitter = true
	cfg.Metrics.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-value field in cfg.  Fields already set are
// left unchanged so explicit configuration always wins.  Booleans cannot be
// told apart from "unset" and are left alone.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Dispatch ──────────────────────────────────────────────────────────────
	if cfg.Dispatch.MaxWorkers == 0 {
		cfg.Dispatch.MaxWorkers = DefaultMaxWorkers()
	}
	if cfg.Dispatch.ModuleTimeout == 0 {
		cfg.Dispatch.ModuleTimeout = DefaultModuleTimeout
	}

	// ── Scoring ───────────────────────────────────────────────────────────────
	if cfg.Scoring.Profile == "" {
		cfg.Scoring.Profile = DefaultProfile
	}

	// ── Cache ─────────────────────────────────────────────────────────────────
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}
	if cfg.Cache.Redis.Addr == "" {
		cfg.Cache.Redis.Addr = DefaultRedisAddr
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = DefaultMetricsSubsystem
	}
}
