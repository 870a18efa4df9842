package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/TrialScope/internal/config"
	"github.com/turtacn/TrialScope/internal/infrastructure/database/redis"
	"github.com/turtacn/TrialScope/pkg/errors"
)

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	t.Parallel()
	assert.NoError(t, config.NewDefaultConfig().Validate())
}

func TestConfig_Validate_Failures(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"log level", func(c *config.Config) { c.Log.Level = "verbose" }, "log.level"},
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
		{"max workers", func(c *config.Config) { c.Dispatch.MaxWorkers = 0 }, "dispatch.max_workers"},
		{"module timeout", func(c *config.Config) { c.Dispatch.ModuleTimeout = -time.Second }, "dispatch.module_timeout"},
		{"empty exclude", func(c *config.Config) { c.Dispatch.Exclude = []string{"drug", " "} }, "dispatch.exclude"},
		{"profile", func(c *config.Config) { c.Scoring.Profile = "" }, "scoring.profile"},
		{"cache addr", func(c *config.Config) {
			c.Cache.Enabled = true
			c.Cache.Redis.Addr = ""
		}, "cache.redis.addr"},
		{"cache cluster", func(c *config.Config) {
			c.Cache.Enabled = true
			c.Cache.Redis.Mode = redis.ModeCluster
		}, "cache.redis.cluster_addrs"},
		{"cache sentinel", func(c *config.Config) {
			c.Cache.Enabled = true
			c.Cache.Redis.Mode = redis.ModeSentinel
		}, "cache.redis.master_name"},
		{"cache ttl", func(c *config.Config) {
			c.Cache.Enabled = true
			c.Cache.TTL = -time.Minute
		}, "cache.ttl"},
		{"metrics namespace", func(c *config.Config) { c.Metrics.Namespace = "" }, "metrics.namespace"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestConfig_Validate_DisabledCacheIgnoresRedis(t *testing.T) {
	t.Parallel()
	cfg := config.NewDefaultConfig()
	cfg.Cache.Enabled = false
	cfg.Cache.Redis.Addr = ""
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_DisabledMetricsIgnoresNamespace(t *testing.T) {
	t.Parallel()
	cfg := config.NewDefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Metrics.Namespace = ""
	assert.NoError(t, cfg.Validate())
}

func TestLogConfig_Logging(t *testing.T) {
	t.Parallel()
	lc := config.LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}}.Logging()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "console", lc.Format)
	assert.Equal(t, []string{"stderr"}, lc.OutputPaths)
}
