// Package cache provides an in-memory tenant-scoped TTL cache. Every entry
// lives in a per-tenant bucket and carries its own expiry; expired entries
// are evicted lazily on read and in bulk by a background sweep. Concurrent
// misses on the same tenant and key share a single fetch.
//
// The cache is process-local by design: cross-restart durability and
// multi-process coherence are out of scope.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// SweepInterval is the period of the background janitor that removes
// expired entries and empty tenant buckets.
const SweepInterval = 5 * time.Minute

// ScopeAll is the invalidation scope that clears an entire tenant bucket.
const ScopeAll = "all"

// scopePrefixes maps each named invalidation scope to the key prefixes it
// covers. ScopeAll is handled separately.
var scopePrefixes = map[string][]string{
	"team":        {"employees:", "team:", "profile:"},
	"ratings":     {"ratings:", "rankings:", "profile:"},
	"infractions": {"infractions:", "profile:"},
	"org_config":  {"config:", "org:"},
}

// ValidScope reports whether scope names a known invalidation scope.
func ValidScope(scope string) bool {
	if scope == ScopeAll {
		return true
	}
	_, ok := scopePrefixes[scope]
	return ok
}

// Fetcher loads a value on a cache miss.
type Fetcher[V any] func(ctx context.Context) (V, error)

// entry is a single cached value with its lifetime bounds.
type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// flight tracks one in-progress fetch so concurrent misses can share it.
type flight[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	// Hits counts reads that returned a live entry.
	Hits uint64 `json:"hits"`
	// Misses counts reads that found nothing live.
	Misses uint64 `json:"misses"`
	// Sets counts successful writes, including fetch results.
	Sets uint64 `json:"sets"`
	// Evictions counts entries removed because they expired.
	Evictions uint64 `json:"evictions"`
	// Tenants is the current number of tenant buckets.
	Tenants int `json:"tenants"`
	// Entries is the current number of stored entries across all tenants.
	Entries int `json:"entries"`
	// HitRate is the hit percentage over all reads so far.
	HitRate float64 `json:"hit_rate"`
}

// Cache is a tenant-scoped TTL cache. It is safe for concurrent use.
// The zero value is not usable; construct with [New].
type Cache[V any] struct {
	// mu guards tenants, flights, and all counters.
	mu      sync.Mutex
	tenants map[string]map[string]entry[V]
	flights map[string]*flight[V]

	// now is the clock; replaced in tests to exercise expiry deterministically.
	now func() time.Time

	hits      uint64
	misses    uint64
	sets      uint64
	evictions uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs an empty Cache. Call [Cache.Start] to begin the background
// sweep and [Cache.Stop] to end it.
func New[V any]() *Cache[V] {
	return &Cache[V]{
		tenants: make(map[string]map[string]entry[V]),
		flights: make(map[string]*flight[V]),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the background sweep goroutine. It runs until Stop is called.
func (c *Cache[V]) Start() {
	go c.sweepLoop()
}

// Stop terminates the background sweep. Safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Get returns the live value stored under tenant/key. An expired entry is
// removed on read and reported as absent.
func (c *Cache[V]) Get(tenant, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(tenant, key)
}

// getLocked is Get without locking. Callers must hold mu.
func (c *Cache[V]) getLocked(tenant, key string) (V, bool) {
	var zero V
	bucket, ok := c.tenants[tenant]
	if !ok {
		c.misses++
		return zero, false
	}
	e, ok := bucket[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(c.tenants, tenant)
		}
		c.evictions++
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under tenant/key with the given ttl, creating the tenant
// bucket on first write. An existing entry is replaced, never mutated.
func (c *Cache[V]) Set(tenant, key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(tenant, key, value, ttl)
}

// setLocked is Set without locking. Callers must hold mu.
func (c *Cache[V]) setLocked(tenant, key string, value V, ttl time.Duration) {
	bucket, ok := c.tenants[tenant]
	if !ok {
		bucket = make(map[string]entry[V])
		c.tenants[tenant] = bucket
	}
	now := c.now()
	bucket[key] = entry[V]{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	c.sets++
}

// GetOrFetch returns the cached value for tenant/key, or invokes fetch to
// load it on a miss. A successful fetch is stored with the given ttl; a
// failed fetch propagates its error and caches nothing. Concurrent misses
// on the same tenant/key share one fetch call, and a fetch error reaches
// every waiter.
func (c *Cache[V]) GetOrFetch(ctx context.Context, tenant, key string, ttl time.Duration, fetch Fetcher[V]) (V, error) {
	c.mu.Lock()
	if v, ok := c.getLocked(tenant, key); ok {
		c.mu.Unlock()
		return v, nil
	}

	fkey := tenant + "\x00" + key
	if f, ok := c.flights[fkey]; ok {
		c.mu.Unlock()
		var zero V
		select {
		case <-f.done:
			return f.val, f.err
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	f := &flight[V]{done: make(chan struct{})}
	c.flights[fkey] = f
	c.mu.Unlock()

	f.val, f.err = fetch(ctx)

	c.mu.Lock()
	delete(c.flights, fkey)
	if f.err == nil {
		c.setLocked(tenant, key, f.val, ttl)
	}
	c.mu.Unlock()
	close(f.done)

	return f.val, f.err
}

// Invalidate removes entries for tenant and returns how many were removed.
// With no keys the whole tenant bucket is dropped; with keys only the named
// entries are removed.
func (c *Cache[V]) Invalidate(tenant string, keys ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.tenants[tenant]
	if !ok {
		return 0
	}
	if len(keys) == 0 {
		n := len(bucket)
		delete(c.tenants, tenant)
		return n
	}
	n := 0
	for _, k := range keys {
		if _, ok := bucket[k]; ok {
			delete(bucket, k)
			n++
		}
	}
	if len(bucket) == 0 {
		delete(c.tenants, tenant)
	}
	return n
}

// InvalidateScope removes every entry for tenant whose key starts with one
// of the scope's prefixes, returning the number of entries removed.
// ScopeAll clears the whole bucket; unknown scopes remove nothing.
func (c *Cache[V]) InvalidateScope(tenant, scope string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.tenants[tenant]
	if !ok {
		return 0
	}
	if scope == ScopeAll {
		n := len(bucket)
		delete(c.tenants, tenant)
		return n
	}

	prefixes, ok := scopePrefixes[scope]
	if !ok {
		return 0
	}
	n := 0
	for key := range bucket {
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) {
				delete(bucket, key)
				n++
				break
			}
		}
	}
	if len(bucket) == 0 {
		delete(c.tenants, tenant)
	}
	return n
}

// Stats returns a snapshot of the cache counters and current sizes.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Evictions: c.evictions,
		Tenants:   len(c.tenants),
	}
	for _, bucket := range c.tenants {
		s.Entries += len(bucket)
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}

// sweepLoop runs sweep on a fixed interval until Stop is called.
func (c *Cache[V]) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes expired entries and any tenant buckets left empty.
func (c *Cache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for tenant, bucket := range c.tenants {
		for key, e := range bucket {
			if !now.Before(e.expiresAt) {
				delete(bucket, key)
				c.evictions++
			}
		}
		if len(bucket) == 0 {
			delete(c.tenants, tenant)
		}
	}
}
