// Package cache provides a size-bounded LRU with TTL and load-through reads.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUWithTTL is a thread-safe LRU cache whose entries expire after a fixed TTL.
// Entries may also carry a version; a lookup with a different version misses.
type LRUWithTTL[K comparable, V any] struct {
	mu      sync.Mutex
	cache   *lru.Cache[K, *ttlEntry[V]]
	ttl     time.Duration
	hits    uint64
	misses  uint64
	evicted uint64
	now     func() time.Time
}

type ttlEntry[V any] struct {
	value     V
	version   int64
	expiresAt time.Time
}

// NewLRUWithTTL creates a cache holding at most size entries. A ttl of 0
// disables expiration.
func NewLRUWithTTL[K comparable, V any](size int, ttl time.Duration) (*LRUWithTTL[K, V], error) {
	c := &LRUWithTTL[K, V]{ttl: ttl, now: time.Now}
	cache, err := lru.NewWithEvict[K, *ttlEntry[V]](size, func(K, *ttlEntry[V]) {
		c.evicted++
	})
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// Get returns the value stored under key if present, unexpired and stored
// with the same version.
func (c *LRUWithTTL[K, V]) Get(key K, version int64) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key, version)
}

func (c *LRUWithTTL[K, V]) getLocked(key K, version int64) (V, bool) {
	entry, ok := c.cache.Get(key)
	if ok && entry.version == version && (c.ttl == 0 || c.now().Before(entry.expiresAt)) {
		c.hits++
		return entry.value, true
	}
	c.misses++
	var zero V
	return zero, false
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *LRUWithTTL[K, V]) Set(key K, version int64, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, version, value)
}

func (c *LRUWithTTL[K, V]) setLocked(key K, version int64, value V) {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}
	c.cache.Add(key, &ttlEntry[V]{value: value, version: version, expiresAt: expiresAt})
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Load errors are returned and nothing is cached. Concurrent misses on the
// same key are serialized.
func (c *LRUWithTTL[K, V]) GetOrLoad(key K, version int64, load func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.getLocked(key, version); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.setLocked(key, version, v)
	return v, nil
}

// Delete removes a key from the cache. Deletions are not counted as evictions.
func (c *LRUWithTTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := c.evicted
	c.cache.Remove(key)
	c.evicted = evicted
}

// Len returns the number of entries, expired ones included.
func (c *LRUWithTTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Purge removes all entries. Evictions caused by Purge are not counted.
func (c *LRUWithTTL[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := c.evicted
	c.cache.Purge()
	c.evicted = evicted
}

// Stats returns cache statistics for observability.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current cache statistics.
func (c *LRUWithTTL[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Evicted: c.evicted,
		Size:    c.cache.Len(),
		HitRate: hitRate,
	}
}
