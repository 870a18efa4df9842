package config

import (
	stderrors "errors"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/TrialScope/pkg/errors"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "TRIALSCOPE"

// configName is the file base name looked up in search paths.
const configName = "trialscope"

var current atomic.Pointer[Config]

// Get returns the Config produced by the most recent successful Load, or nil.
func Get() *Config {
	return current.Load()
}

type loadOptions struct {
	path        string
	searchPaths []string
	overrides   map[string]interface{}
}

// Option customises Load.
type Option func(*loadOptions)

// WithConfigPath reads exactly this file.  A missing file is an error.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.path = path }
}

// WithSearchPaths looks for trialscope.yaml in each directory in turn.  Not
// finding one is not an error.
func WithSearchPaths(paths ...string) Option {
	return func(o *loadOptions) { o.searchPaths = append(o.searchPaths, paths...) }
}

// WithOverrides sets keys (dotted, e.g. "dispatch.parallel") with the highest
// precedence.  The CLI uses it for flags.
func WithOverrides(values map[string]interface{}) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = make(map[string]interface{}, len(values))
		}
		for k, v := range values {
			o.overrides[k] = v
		}
	}
}

// newViper builds a Viper instance with YAML file type, the TRIALSCOPE_ env
// prefix and a "." → "_" key replacer, so "cache.redis.addr" resolves to
// TRIALSCOPE_CACHE_REDIS_ADDR.  Every key is registered with its default so
// AutomaticEnv can see it during Unmarshal.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v, NewDefaultConfig())
	return v
}

func registerDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output_paths", []string{"stdout"})

	v.SetDefault("dispatch.parallel", d.Dispatch.Parallel)
	v.SetDefault("dispatch.max_workers", d.Dispatch.MaxWorkers)
	v.SetDefault("dispatch.module_timeout", d.Dispatch.ModuleTimeout)
	v.SetDefault("dispatch.exclude", []string{})

	v.SetDefault("scoring.profile", d.Scoring.Profile)
	v.SetDefault("scoring.profiles_path", "")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.ttl_jitter", d.Cache.TTLJitter)
	v.SetDefault("cache.key_prefix", d.Cache.KeyPrefix)
	v.SetDefault("cache.redis.mode", "")
	v.SetDefault("cache.redis.addr", d.Cache.Redis.Addr)
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.subsystem", d.Metrics.Subsystem)
	v.SetDefault("metrics.dump_path", "")
}

// Load merges, lowest precedence first: defaults, the config file (if any),
// TRIALSCOPE_* environment variables and explicit overrides.  It then applies
// defaults to zero values and validates.
func Load(opts ...Option) (*Config, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	v := newViper()
	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}
	for k, val := range o.overrides {
		v.Set(k, val)
	}

	cfg, err := unmarshalAndFinalize(v)
	if err != nil {
		return nil, err
	}
	current.Store(cfg)
	return cfg, nil
}

// LoadFromFile is shorthand for Load(WithConfigPath(path)).
func LoadFromFile(path string) (*Config, error) {
	return Load(WithConfigPath(path))
}

// MustLoad panics on any error.  Intended for main().
func MustLoad(opts ...Option) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic("config: MustLoad failed: " + err.Error())
	}
	return cfg
}

func readConfigFile(v *viper.Viper, o *loadOptions) error {
	switch {
	case o.path != "":
		if _, err := os.Stat(o.path); err != nil {
			return errors.Wrap(err, errors.ErrCodeNotFound, "config file not found").WithDetail("path=" + o.path)
		}
		v.SetConfigFile(o.path)
	case len(o.searchPaths) > 0:
		v.SetConfigName(configName)
		for _, p := range o.searchPaths {
			v.AddConfigPath(p)
		}
	default:
		return nil
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if stderrors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to parse config file").
			WithDetail("path=" + v.ConfigFileUsed())
	}
	return nil
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal configuration")
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch reads configPath and then re-reads it whenever it changes on disk,
// calling onChange with the new Config or with the error that prevented
// loading it.  On error the previous Config stays in effect.  Watch returns
// once the initial read completes; the watcher runs in viper's goroutine.
func Watch(configPath string, onChange func(*Config, error)) error {
	v := newViper()
	if err := readConfigFile(v, &loadOptions{path: configPath}); err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			onChange(nil, err)
			return
		}
		current.Store(cfg)
		onChange(cfg, nil)
	})
	v.WatchConfig()
	return nil
}
