package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-ingest/internal/extraction"
)

func sampleResult() extraction.Result {
	return extraction.Result{
		Data:       map[string]any{"invoiceNumber": "INV-42", "confidence": 0.9},
		Confidence: 0.9,
		Model:      "gemini-2.5-pro",
		Complexity: extraction.Simple,
	}
}

func newRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, time.Hour), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, mr := newRedis(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "abc")
	assert.False(t, ok)

	c.Set(ctx, "abc", sampleResult())
	assert.True(t, mr.Exists("ocr:v1:abc"))
	assert.Equal(t, time.Hour, mr.TTL("ocr:v1:abc"))

	got, ok := c.Get(ctx, "abc")
	require.True(t, ok)
	assert.Equal(t, "INV-42", got.Data["invoiceNumber"])
	assert.Equal(t, "gemini-2.5-pro", got.Model)
	require.NotNil(t, got.CachedAt)

	assert.Equal(t, Stats{Hits: 1, Misses: 1}, c.Stats())
}

func TestRedisCacheExpires(t *testing.T) {
	c, mr := newRedis(t)
	ctx := context.Background()
	c.Set(ctx, "abc", sampleResult())
	mr.FastForward(2 * time.Hour)

	_, ok := c.Get(ctx, "abc")
	assert.False(t, ok)
}

func TestRedisCacheBackendDownDegradesToMiss(t *testing.T) {
	c, mr := newRedis(t)
	mr.Close()
	ctx := context.Background()

	c.Set(ctx, "abc", sampleResult())
	got, ok := c.Get(ctx, "abc")
	assert.False(t, ok)
	assert.Nil(t, got)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Errors)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestRedisCacheCorruptEntryIsMiss(t *testing.T) {
	c, mr := newRedis(t)
	require.NoError(t, mr.Set("ocr:v1:abc", "{not json"))

	_, ok := c.Get(context.Background(), "abc")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Errors)
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemory(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "h", sampleResult())
	got, ok := c.Get(ctx, "h")
	require.True(t, ok)
	assert.Equal(t, 0.9, got.Confidence)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(ctx, "h")
	assert.False(t, ok)
	assert.InDelta(t, 0.5, c.Stats().HitRate(), 1e-9)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ocr:v1:deadbeef", Key("deadbeef"))
}

func TestRedisCachePing(t *testing.T) {
	c, mr := newRedis(t)
	require.NoError(t, c.Ping(context.Background()))
	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}
