// Package cache memoizes resolved context views keyed by (level, id).
//
// Explicit invalidation on writes is the primary coherency mechanism; the TTL
// and the optional janitor sweep are a coarse safety net on top of it. The
// cache maintains an ancestor→dependent index as resolutions occur so that
// invalidating a node also invalidates every cached view that merged it.
package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/go-ports/taskhive/internal/models"
)

// Key identifies one cached resolved view.
type Key struct {
	Level models.Level
	ID    string
}

type entry struct {
	resolved *models.ResolvedContext
	storedAt time.Time
}

// Cache is a read-through cache of resolved contexts.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]entry
	// dependents maps an ancestor key to the set of cached keys whose
	// resolved view merged that ancestor.
	dependents map[Key]map[Key]struct{}
	ttl        time.Duration
	// gen counts invalidations and purges. A computed view whose compute
	// overlapped any invalidation may predate the write that triggered it,
	// so GetOrCompute refuses to store such a view. The counter is
	// cache-wide rather than per-key: a first-time resolution has no
	// dependents-index links yet, so an invalidation of a chain ancestor
	// could not be attributed to the in-flight key.
	gen uint64

	janitor *cron.Cron

	hits   uint64
	misses uint64
}

// New creates a Cache with the given TTL. ttl <= 0 disables expiry.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[Key]entry),
		dependents: make(map[Key]map[Key]struct{}),
		ttl:        ttl,
	}
}

// SetTTL replaces the TTL. Existing entries are re-judged against the new
// value on their next read.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// GetOrCompute returns a cached, non-expired resolved view for key, or
// invokes compute and stores its result. compute returns the resolved view
// together with the chain of nodes that were merged to produce it; each chain
// node is registered as an ancestor dependency so later invalidations cascade.
func (c *Cache) GetOrCompute(key Key, compute func() (*models.ResolvedContext, []models.Node, error)) (*models.ResolvedContext, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !c.expiredLocked(e) {
		c.hits++
		c.mu.Unlock()
		return e.resolved, nil
	}
	c.misses++
	startGen := c.gen
	c.mu.Unlock()

	// Compute outside the lock: resolution hits the store and must not hold
	// up unrelated cache traffic.
	resolved, chain, err := compute()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != startGen {
		// An invalidation completed while this view was being computed, so
		// the view may predate the write behind it. Serve it to this caller
		// (whose read began before the write) but leave the cache empty so
		// the next read recomputes.
		return resolved, nil
	}
	c.entries[key] = entry{resolved: resolved, storedAt: time.Now()}
	for _, node := range chain {
		ancestor := Key{Level: node.Level, ID: node.ID}
		if ancestor == key {
			continue
		}
		deps := c.dependents[ancestor]
		if deps == nil {
			deps = make(map[Key]struct{})
			c.dependents[ancestor] = deps
		}
		deps[key] = struct{}{}
	}
	return resolved, nil
}

// Invalidate removes the cached entry for key and, transitively, every cached
// view that depended on it. It must complete before the triggering write
// returns success.
func (c *Cache) Invalidate(level models.Level, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(Key{Level: level, ID: id})
}

func (c *Cache) invalidateLocked(key Key) {
	c.gen++
	delete(c.entries, key)
	deps := c.dependents[key]
	delete(c.dependents, key)
	for dep := range deps {
		c.invalidateLocked(dep)
	}
}

// Purge drops all entries and dependency bookkeeping.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = make(map[Key]entry)
	c.dependents = make(map[Key]map[Key]struct{})
}

// Len returns the number of live (possibly expired) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) expiredLocked(e entry) bool {
	return c.ttl > 0 && time.Since(e.storedAt) > c.ttl
}

// ---------------------------------------------------------------------------
// Janitor
// ---------------------------------------------------------------------------

// StartJanitor begins a periodic sweep evicting expired entries. A no-op when
// already started or when the TTL is disabled.
func (c *Cache) StartJanitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.janitor != nil || c.ttl <= 0 {
		return
	}
	c.janitor = cron.New()
	// Sweep at roughly half the TTL so entries linger at most ~1.5×.
	every := c.ttl / 2
	if every < time.Second {
		every = time.Second
	}
	if _, err := c.janitor.AddFunc("@every "+every.String(), c.sweep); err != nil {
		slog.Warn("cache janitor not started", "err", err)
		c.janitor = nil
		return
	}
	c.janitor.Start()
}

// StopJanitor stops the sweep, waiting for an in-flight run to finish.
func (c *Cache) StopJanitor() {
	c.mu.Lock()
	j := c.janitor
	c.janitor = nil
	c.mu.Unlock()
	if j != nil {
		<-j.Stop().Done()
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if c.expiredLocked(e) {
			delete(c.entries, key)
		}
	}
}
