// Package cache holds the content-addressed stores for extraction results.
package cache

import (
	"sync/atomic"

	"mail-ingest/internal/shared/metrics"
)

// KeyPrefix namespaces entries; bump the version when the result shape changes.
const KeyPrefix = "ocr:v1:"

// Key returns the storage key for a content hash.
func Key(hash string) string {
	return KeyPrefix + hash
}

// Stats is a snapshot of cache effectiveness.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// HitRate is hits over lookups, 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type counters struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
}

func (c *counters) hit() {
	c.hits.Add(1)
	metrics.IncCacheHit()
}

func (c *counters) miss() {
	c.misses.Add(1)
	metrics.IncCacheMiss()
}

func (c *counters) fail() {
	c.errors.Add(1)
	metrics.IncCacheError()
}

func (c *counters) snapshot() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Errors: c.errors.Load()}
}
