package locale

import (
	"context"
	"sync"
	"time"
)

// cacheKey is the pair of request inputs that determine a resolution
// outcome. The pathname is deliberately excluded so the cache is shared
// across app routes.
type cacheKey struct {
	cookie string
	header string
}

type cacheEntry struct {
	locale     string
	insertedAt time.Time
}

// Cache is a TTL-bounded memo of resolved locales. Purely a performance
// optimization: resolution stays correct with the cache disabled (nil).
//
// Process-local only. Multiple instances behind a load balancer each keep
// their own cache; that is a documented constraint, not a defect.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry

	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	// OnHit/OnMiss are optional observability hooks (prometheus counters).
	OnHit  func()
	OnMiss func()
}

type CacheOption func(*Cache)

// WithTTL overrides how long a cached resolution stays valid.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = d }
}

// WithMaxEntries overrides the size bound that triggers eviction on insert.
func WithMaxEntries(n int) CacheOption {
	return func(c *Cache) { c.maxEntries = n }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithCacheHooks sets hit/miss callbacks.
func WithCacheHooks(onHit, onMiss func()) CacheOption {
	return func(c *Cache) {
		c.OnHit = onHit
		c.OnMiss = onMiss
	}
}

// NewCache creates a Cache and starts the background sweep goroutine,
// which runs until ctx is cancelled.
func NewCache(ctx context.Context, opts ...CacheOption) *Cache {
	c := &Cache{
		entries:    make(map[cacheKey]cacheEntry),
		ttl:        5 * time.Minute,
		maxEntries: 1000,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	go c.sweepLoop(ctx)
	return c
}

// Get returns the cached locale for (cookie, header), or miss when the
// entry is absent or older than the TTL.
func (c *Cache) Get(cookie, header string) (string, bool) {
	if c == nil {
		return "", false
	}
	k := cacheKey{cookie: cookie, header: header}

	c.mu.Lock()
	e, ok := c.entries[k]
	fresh := ok && c.now().Sub(e.insertedAt) <= c.ttl
	c.mu.Unlock()

	if !fresh {
		if c.OnMiss != nil {
			c.OnMiss()
		}
		return "", false
	}
	if c.OnHit != nil {
		c.OnHit()
	}
	return e.locale, true
}

// Set inserts or overwrites the resolution for (cookie, header). When the
// map grows past the size bound it evicts expired entries first, then the
// oldest remaining entries until back under the bound.
func (c *Cache) Set(cookie, header, loc string) {
	if c == nil {
		return
	}
	k := cacheKey{cookie: cookie, header: header}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[k] = cacheEntry{locale: loc, insertedAt: c.now()}
	if len(c.entries) > c.maxEntries {
		c.evictLocked()
	}
}

// evictLocked drops expired entries, then oldest-first until the map is
// back under the bound. Caller holds c.mu.
func (c *Cache) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.insertedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	for len(c.entries) > c.maxEntries {
		var oldestKey cacheKey
		var oldest time.Time
		first := true
		for k, e := range c.entries {
			if first || e.insertedAt.Before(oldest) {
				oldestKey, oldest, first = k, e.insertedAt, false
			}
		}
		delete(c.entries, oldestKey)
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for k, e := range c.entries {
				if now.Sub(e.insertedAt) > c.ttl {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
