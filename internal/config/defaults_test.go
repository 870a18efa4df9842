package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
	assert.Equal(t, runtime.NumCPU(), cfg.Dispatch.MaxWorkers)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.ModuleTimeout)
	assert.Equal(t, "default", cfg.Scoring.Profile)
	assert.Equal(t, DefaultCacheTTL, cfg.Cache.TTL)
	assert.True(t, cfg.Cache.TTLJitter)
	assert.Equal(t, "trialscope:", cfg.Cache.KeyPrefix)
	assert.Equal(t, DefaultRedisAddr, cfg.Cache.Redis.Addr)
	assert.Equal(t, "trialscope", cfg.Metrics.Namespace)
	assert.Equal(t, "extraction", cfg.Metrics.Subsystem)
}

func TestApplyDefaults_PreserveExistingValues(t *testing.T) {
	cfg := &Config{}
	cfg.Dispatch.MaxWorkers = 2
	cfg.Scoring.Profile = "vaccine"
	ApplyDefaults(cfg)

	assert.Equal(t, 2, cfg.Dispatch.MaxWorkers)
	assert.Equal(t, "vaccine", cfg.Scoring.Profile)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.True(t, cfg.Dispatch.Parallel)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Cache.Enabled)
}
