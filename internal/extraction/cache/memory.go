package cache

import (
	"context"
	"sync"
	"time"

	"mail-ingest/internal/extraction"
)

type memoryEntry struct {
	result    extraction.Result
	expiresAt time.Time
}

// MemoryCache is a process-local cache used in dev and tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	counters
}

// NewMemory builds an empty MemoryCache.
func NewMemory(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, hash string) (*extraction.Result, bool) {
	c.mu.RLock()
	entry, ok := c.entries[Key(hash)]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expiresAt) {
		c.miss()
		return nil, false
	}
	c.hit()
	res := entry.result
	return &res, true
}

func (c *MemoryCache) Set(ctx context.Context, hash string, result extraction.Result) {
	now := c.now()
	at := now.UTC()
	result.CachedAt = &at
	c.mu.Lock()
	c.entries[Key(hash)] = memoryEntry{result: result, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Stats() Stats {
	return c.snapshot()
}

var _ extraction.Cache = (*MemoryCache)(nil)
