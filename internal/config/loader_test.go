package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/TrialScope/pkg/errors"
)

const validConfigYAML = `
log:
  level: debug
  format: console
dispatch:
  parallel: false
  max_workers: 3
  module_timeout: 5s
  exclude: [phone, child]
scoring:
  profile: vaccine
  profiles_path: /etc/trialscope/profiles.yaml
cache:
  enabled: true
  ttl: 1h
  key_prefix: "ts:"
  redis:
    addr: "cache:6379"
    db: 2
metrics:
  enabled: true
  namespace: trials
  subsystem: modules
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trialscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromFile_ValidConfig(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	cfg, err := Load(WithConfigPath(path))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.False(t, cfg.Dispatch.Parallel)
	assert.Equal(t, 3, cfg.Dispatch.MaxWorkers)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.ModuleTimeout)
	assert.Equal(t, []string{"phone", "child"}, cfg.Dispatch.Exclude)
	assert.Equal(t, "vaccine", cfg.Scoring.Profile)
	assert.Equal(t, "/etc/trialscope/profiles.yaml", cfg.Scoring.ProfilesPath)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "ts:", cfg.Cache.KeyPrefix)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 2, cfg.Cache.Redis.DB)
	assert.Equal(t, "trials", cfg.Metrics.Namespace)
	assert.Equal(t, "modules", cfg.Metrics.Subsystem)
}

func TestLoad_FromFile_FileNotFound(t *testing.T) {
	_, err := Load(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestLoad_FromFile_InvalidYAML(t *testing.T) {
	path := createTempConfigFile(t, "invalid_yaml: [")
	_, err := Load(WithConfigPath(path))
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
}

func TestLoad_FromFile_ValidationFailure(t *testing.T) {
	path := createTempConfigFile(t, "log:\n  level: loud\n")
	_, err := Load(WithConfigPath(path))
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestLoad_DefaultValues(t *testing.T) {
	path := createTempConfigFile(t, "scoring:\n  profile: default\n")
	cfg, err := Load(WithConfigPath(path))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Dispatch.Parallel)
	assert.Equal(t, DefaultMaxWorkers(), cfg.Dispatch.MaxWorkers)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "trialscope", cfg.Metrics.Namespace)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	t.Setenv("TRIALSCOPE_DISPATCH_MAX_WORKERS", "9")
	t.Setenv("TRIALSCOPE_CACHE_REDIS_ADDR", "redis-env:6379")

	cfg, err := Load(WithConfigPath(path))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Dispatch.MaxWorkers)
	assert.Equal(t, "redis-env:6379", cfg.Cache.Redis.Addr)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("TRIALSCOPE_LOG_LEVEL", "warn")
	t.Setenv("TRIALSCOPE_DISPATCH_PARALLEL", "false")
	t.Setenv("TRIALSCOPE_DISPATCH_MODULE_TIMEOUT", "2s")
	t.Setenv("TRIALSCOPE_SCORING_PROFILE", "vaccine")
	t.Setenv("TRIALSCOPE_CACHE_ENABLED", "true")

	t.Setenv("TRIALSCOPE_CACHE_TTL_JITTER", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Cache.TTLJitter)
	assert.False(t, cfg.Dispatch.Parallel)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.ModuleTimeout)
	assert.Equal(t, "vaccine", cfg.Scoring.Profile)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, DefaultRedisAddr, cfg.Cache.Redis.Addr)
}

func TestLoad_WithSearchPaths(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	cfg, err := Load(WithSearchPaths(filepath.Join(t.TempDir(), "nowhere"), filepath.Dir(path)))
	require.NoError(t, err)
	assert.Equal(t, "vaccine", cfg.Scoring.Profile)
}

func TestLoad_WithSearchPaths_NothingFound(t *testing.T) {
	cfg, err := Load(WithSearchPaths(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, cfg.Scoring.Profile)
}

func TestLoad_WithOverrides(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	t.Setenv("TRIALSCOPE_LOG_LEVEL", "error")

	cfg, err := Load(WithConfigPath(path), WithOverrides(map[string]interface{}{
		"log.level":         "info",
		"dispatch.parallel": true,
	}))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Dispatch.Parallel)
}

func TestLoadFromFile_Convenience(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestMustLoad(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	assert.NotPanics(t, func() { MustLoad(WithConfigPath(path)) })
	assert.Panics(t, func() { MustLoad(WithConfigPath(filepath.Join(t.TempDir(), "none.yaml"))) })
}

func TestLoad_SetsGlobalConfig(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	cfg, err := Load(WithConfigPath(path))
	require.NoError(t, err)
	assert.Same(t, cfg, Get())
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)

	type event struct {
		cfg *Config
		err error
	}
	events := make(chan event, 8)
	require.NoError(t, Watch(path, func(cfg *Config, err error) {
		events <- event{cfg, err}
	}))

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"), 0o644))
	// A rewrite can surface as several events; wait for the final content.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.err == nil && ev.cfg.Log.Level == "error" {
				assert.Same(t, ev.cfg, Get())
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "absent.yaml"), func(*Config, error) {})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}
