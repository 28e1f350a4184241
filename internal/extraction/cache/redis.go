package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"mail-ingest/internal/extraction"
	"mail-ingest/internal/shared/telemetry"
)

const (
	DefaultTTL   = 30 * 24 * time.Hour
	redisTimeout = 2 * time.Second
)

// RedisCache stores results as JSON with SET ... EX.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	counters
}

// NewRedis builds a cache on an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl, now: time.Now}
}

// Dial connects to addr and builds a cache on it.
func Dial(addr, password string, db int, ttl time.Duration) *RedisCache {
	return NewRedis(redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  redisTimeout,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
	}), ttl)
}

// Get returns the cached result. Backend and decode errors count as misses.
func (c *RedisCache) Get(ctx context.Context, hash string) (*extraction.Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, Key(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.miss()
		return nil, false
	}
	if err != nil {
		c.fail()
		c.miss()
		telemetry.Warn("cache.get_failed", map[string]any{"backend": "redis", "error": err.Error()})
		return nil, false
	}
	var res extraction.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		c.fail()
		c.miss()
		telemetry.Warn("cache.decode_failed", map[string]any{"backend": "redis", "error": err.Error()})
		return nil, false
	}
	c.hit()
	return &res, true
}

// Set writes the result with the cache TTL. Failures are logged and dropped.
func (c *RedisCache) Set(ctx context.Context, hash string, result extraction.Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisTimeout)
	defer cancel()

	at := c.now().UTC()
	result.CachedAt = &at
	raw, err := json.Marshal(result)
	if err != nil {
		c.fail()
		return
	}
	if err := c.client.Set(ctx, Key(hash), raw, c.ttl).Err(); err != nil {
		c.fail()
		telemetry.Warn("cache.set_failed", map[string]any{"backend": "redis", "error": err.Error()})
	}
}

// Stats returns hit, miss and error counts.
func (c *RedisCache) Stats() Stats {
	return c.snapshot()
}

// Ping reports whether the backend answers.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ extraction.Cache = (*RedisCache)(nil)
