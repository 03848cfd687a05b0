package signals

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is the staleness window of cached readings.
const DefaultCacheTTL = 30 * time.Second

// Cache stores readings for a bounded staleness window.
type Cache interface {
	Get(ctx context.Context, key string) (Reading, bool)
	Set(ctx context.Context, key string, reading Reading)
}

// CacheKey joins the parts of a signal identity into a cache key.
func CacheKey(kind string, parts ...string) string {
	normalized := make([]string, 0, len(parts)+1)
	normalized = append(normalized, kind)

	for _, part := range parts {
		normalized = append(normalized, strings.ToLower(part))
	}

	return strings.Join(normalized, ":")
}

type cacheEntry struct {
	reading   Reading
	expiresAt time.Time
}

// MemoryCache is a process-local Cache. Entries expire ttl after they were set.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	clock   Clock
}

// NewMemoryCache creates a MemoryCache. A nil clock uses the system clock.
func NewMemoryCache(ttl time.Duration, clock Clock) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	if clock == nil {
		clock = SystemClock{}
	}

	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Reading, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.clock.Now().Before(entry.expiresAt) {
		return Reading{}, false
	}

	return entry.reading, true
}

func (c *MemoryCache) Set(_ context.Context, key string, reading Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{reading: reading, expiresAt: c.clock.Now().Add(c.ttl)}
}
