// Package redis backs the optional prediction cache.  Client wraps a go-redis
// UniversalClient (standalone, sentinel or cluster) and Cache layers keyed,
// JSON-encoded values with singleflight loading on top of it.
package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/TrialScope/pkg/errors"
)

var (
	ErrClientClosed     = errors.New(errors.ErrCodeServiceUnavailable, "redis client is closed")
	ErrConnectionFailed = errors.New(errors.ErrCodeServiceUnavailable, "redis connection failed")
)

// Connection modes.
const (
	ModeStandalone = "standalone"
	ModeSentinel   = "sentinel"
	ModeCluster    = "cluster"
)

type RedisConfig struct {
	Mode          string        `mapstructure:"mode"`
	Addr          string        `mapstructure:"addr"`
	MasterName    string        `mapstructure:"master_name"`
	SentinelAddrs []string      `mapstructure:"sentinel_addrs"`
	ClusterAddrs  []string      `mapstructure:"cluster_addrs"`
	Password      string        `mapstructure:"password"`
	Username      string        `mapstructure:"username"`
	DB            int           `mapstructure:"db"`
	PoolSize      int           `mapstructure:"pool_size"`
	MinIdleConns  int           `mapstructure:"min_idle_conns"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	TLSEnabled    bool          `mapstructure:"tls_enabled"`
	TLSCAFile     string        `mapstructure:"tls_ca_file"`
	TLSInsecure   bool          `mapstructure:"tls_insecure"`
}

type Client struct {
	rdb    redis.UniversalClient
	config *RedisConfig
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient connects and pings.  A failed ping closes the connection pool and
// returns ErrConnectionFailed wrapping the cause.
func NewClient(cfg *RedisConfig, log logging.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.InvalidParam("redis config must not be nil")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	applyDefaults(cfg)

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	var rdb redis.UniversalClient
	switch cfg.Mode {
	case ModeCluster:
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			TLSConfig:    tlsConfig,
		})
	case ModeSentinel:
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
			MaxRetries:    cfg.MaxRetries,
			TLSConfig:     tlsConfig,
		})
	default:
		if cfg.Mode != ModeStandalone {
			log.Warn("unknown redis mode, defaulting to standalone", logging.String("mode", cfg.Mode))
		}
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			TLSConfig:    tlsConfig,
		})
	}

	client := &Client{rdb: rdb, config: cfg, logger: log.Named("redis")}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, ErrConnectionFailed.WithCause(err).WithDetail("addr=" + cfg.Addr)
	}

	client.logger.Info("redis client connected",
		logging.String("mode", cfg.Mode),
		logging.String("addr", cfg.Addr),
	)
	return client, nil
}

// NewClientFromUniversal wraps an existing go-redis client without pinging.
func NewClientFromUniversal(rdb redis.UniversalClient, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Client{rdb: rdb, config: &RedisConfig{}, logger: log.Named("redis")}
}

func applyDefaults(cfg *RedisConfig) {
	if cfg.Mode == "" {
		cfg.Mode = ModeStandalone
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 4 * runtime.GOMAXPROCS(0)
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
}

func buildTLSConfig(cfg *RedisConfig) (*tls.Config, error) {
	if !cfg.TLSEnabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.TLSInsecure}
	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidParam, "cannot read redis CA file").
				WithDetail("path=" + cfg.TLSCAFile)
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rdb.Close()
	if err != nil {
		c.logger.Error("failed to close redis client", logging.Err(err))
		return err
	}
	c.logger.Info("redis client closed")
	return nil
}

func (c *Client) GetUnderlyingClient() redis.UniversalClient {
	return c.rdb
}

func (c *Client) IsCluster() bool {
	_, ok := c.rdb.(*redis.ClusterClient)
	return ok
}

// Commands

func (c *Client) Get(ctx context.Context, key string) *redis.StringCmd {
	if c.isClosed() {
		cmd := redis.NewStringCmd(ctx)
		cmd.SetErr(ErrClientClosed)
		return cmd
	}
	return c.rdb.Get(ctx, key)
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if c.isClosed() {
		cmd := redis.NewStatusCmd(ctx)
		cmd.SetErr(ErrClientClosed)
		return cmd
	}
	return c.rdb.Set(ctx, key, value, expiration)
}

func (c *Client) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	if c.isClosed() {
		return closedIntCmd(ctx)
	}
	return c.rdb.Del(ctx, keys...)
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func closedIntCmd(ctx context.Context) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetErr(ErrClientClosed)
	return cmd
}
