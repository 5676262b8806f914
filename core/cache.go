package core

import (
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ContentCache is an in-memory, content-keyed cache shared by the engine's
// collaborator wrappers (embedding memoization, extracted segments, frame
// results). It is owned by the engine instance, not a process singleton, so
// tests can inject a fresh one. Entries are swept periodically by age.
type ContentCache struct {
	mu      sync.RWMutex
	entries map[string]*contentEntry
	maxAge  time.Duration

	group   singleflight.Group
	metrics CacheMetricsSnapshot
	ticker  *time.Ticker
	done    chan struct{}
	closeMu sync.Once
}

type contentEntry struct {
	value      any
	createdAt  time.Time
	lastAccess time.Time
}

// CacheMetricsSnapshot holds cache counters for the stats endpoint.
type CacheMetricsSnapshot struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int64 `json:"entries"`
}

// NewContentCache builds a cache that sweeps entries older than maxAge every
// sweepInterval. Zero values select 24h / 30min.
func NewContentCache(maxAge, sweepInterval time.Duration) *ContentCache {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Minute
	}
	c := &ContentCache{
		entries: make(map[string]*contentEntry),
		maxAge:  maxAge,
		ticker:  time.NewTicker(sweepInterval),
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *ContentCache) sweepLoop() {
	for {
		select {
		case <-c.ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *ContentCache) sweep() {
	cutoff := time.Now().Add(-c.maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if e.createdAt.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.metrics.Evictions += int64(removed)
		log.Printf("cache sweep removed %d entries, %d remain", removed, len(c.entries))
	}
}

// Get returns the cached value for key, if present.
func (c *ContentCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.metrics.Misses++
		return nil, false
	}
	e.lastAccess = time.Now()
	c.metrics.Hits++
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *ContentCache) Set(key string, value any) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &contentEntry{value: value, createdAt: now, lastAccess: now}
}

// Delete removes key if present.
func (c *ContentCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// GetOrCompute returns the cached value for key, or runs compute exactly once
// per key across concurrent callers and caches its result. A compute error is
// returned to every waiter and nothing is cached.
func (c *ContentCache) GetOrCompute(key string, compute func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Double-check: another caller may have stored it before we won the flight.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	return v, err
}

// Stats returns a point-in-time copy of the cache counters.
func (c *ContentCache) Stats() CacheMetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.metrics
	s.Entries = int64(len(c.entries))
	return s
}

// Close stops the sweep loop. Safe to call more than once.
func (c *ContentCache) Close() {
	c.closeMu.Do(func() {
		c.ticker.Stop()
		close(c.done)
	})
}
