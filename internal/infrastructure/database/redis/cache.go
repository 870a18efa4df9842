package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/TrialScope/pkg/errors"
)

var (
	ErrCacheMiss           = errors.New(errors.ErrCodeNotFound, "cache miss")
	ErrSerializationFailed = errors.New(errors.ErrCodeSerialization, "serialization failed")
)

const nullMarker = "__null__"

// Cache stores JSON-encoded values under a key prefix.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// GetOrSet returns the cached value or runs loader once across concurrent
	// callers for the same key and caches its result.  A nil result is cached
	// briefly as a negative entry and reported as ErrCacheMiss.  An entry that
	// no longer decodes is dropped and reloaded.
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error
	Ping(ctx context.Context) error
}

type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type jsonSerializer struct{}

func (jsonSerializer) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonSerializer) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

type redisCache struct {
	client       *Client
	logger       logging.Logger
	prefix       string
	defaultTTL   time.Duration
	jitter       bool
	serializer   Serializer
	nullCacheTTL time.Duration
	group        singleflight.Group
}

type CacheOption func(*redisCache)

func WithPrefix(prefix string) CacheOption {
	return func(c *redisCache) { c.prefix = prefix }
}

func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *redisCache) { c.defaultTTL = ttl }
}

func WithSerializer(s Serializer) CacheOption {
	return func(c *redisCache) { c.serializer = s }
}

func WithNullCacheTTL(ttl time.Duration) CacheOption {
	return func(c *redisCache) { c.nullCacheTTL = ttl }
}

// WithTTLJitter spreads expiries by +/-10% so entries written together do not
// expire together.
func WithTTLJitter(enabled bool) CacheOption {
	return func(c *redisCache) { c.jitter = enabled }
}

func NewRedisCache(client *Client, log logging.Logger, opts ...CacheOption) Cache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &redisCache{
		client:       client,
		logger:       log.Named("cache"),
		prefix:       "trialscope:",
		defaultTTL:   24 * time.Hour,
		jitter:       true,
		serializer:   jsonSerializer{},
		nullCacheTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *redisCache) fullKey(key string) string {
	return c.prefix + key
}

func (c *redisCache) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if !c.jitter || ttl <= 0 {
		return ttl
	}
	return ttl + time.Duration(float64(ttl)*0.1*(rand.Float64()*2-1))
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeCacheError, "failed to get from cache").WithDetail("key=" + key)
	}
	if string(data) == nullMarker {
		return ErrCacheMiss
	}
	if err := c.serializer.Unmarshal(data, dest); err != nil {
		return ErrSerializationFailed.WithCause(err).WithDetail("key=" + key)
	}
	return nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := c.serializer.Marshal(value)
	if err != nil {
		return ErrSerializationFailed.WithCause(err).WithDetail("key=" + key)
	}
	if err := c.client.Set(ctx, c.fullKey(key), data, c.effectiveTTL(ttl)).Err(); err != nil {
		return errors.Wrap(err, errors.CodeCacheError, "failed to write cache").WithDetail("key=" + key)
	}
	return nil
}

func (c *redisCache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error {
	err := c.Get(ctx, key, dest)
	switch {
	case err == nil:
		return nil
	case errors.IsCode(err, errors.ErrCodeSerialization):
		c.logger.Warn("dropping undecodable cache entry", logging.String("key", key), logging.Err(err))
		if delErr := c.client.Del(ctx, c.fullKey(key)).Err(); delErr != nil {
			return errors.Wrap(delErr, errors.CodeCacheError, "failed to drop cache entry").WithDetail("key=" + key)
		}
	case !errors.IsCode(err, errors.ErrCodeNotFound):
		return err
	}

	val, err, shared := c.group.Do(key, func() (interface{}, error) {
		v, loadErr := loader(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		if v == nil {
			if setErr := c.client.Set(ctx, c.fullKey(key), nullMarker, c.nullCacheTTL).Err(); setErr != nil {
				c.logger.Warn("failed to write negative cache entry", logging.String("key", key), logging.Err(setErr))
			}
			return nil, nil
		}
		data, mErr := c.serializer.Marshal(v)
		if mErr != nil {
			return nil, ErrSerializationFailed.WithCause(mErr).WithDetail("key=" + key)
		}
		if setErr := c.client.Set(ctx, c.fullKey(key), data, c.effectiveTTL(ttl)).Err(); setErr != nil {
			c.logger.Warn("failed to populate cache", logging.String("key", key), logging.Err(setErr))
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	if val == nil {
		return ErrCacheMiss
	}
	if shared {
		c.logger.Debug("cache load shared", logging.String("key", key))
	}
	return c.serializer.Unmarshal(val.([]byte), dest)
}

func (c *redisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}
