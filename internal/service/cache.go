package service

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
)

// BundleCache keeps recently used bundles in memory, bounded by entry count
// and age. Concurrent misses for one build share a single computation.
//
// Cached bundles are shared between callers and must not be mutated; Update
// replaces an entry with a modified copy instead.
type BundleCache struct {
	mu      sync.Mutex
	entries map[diff.BuildKey]*cacheEntry
	lru     *list.List
	flight  singleflight.Group
	options CacheOptions

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	computes  atomic.Int64
	errors    atomic.Int64
}

type cacheEntry struct {
	key        diff.BuildKey
	bundle     *coverage.Bundle
	storedAt   time.Time
	lruElement *list.Element
}

// CacheOptions bounds a BundleCache. MaxEntries 0 disables retention; calls
// still coalesce.
type CacheOptions struct {
	MaxEntries int
	MaxAge     time.Duration
}

// DefaultCacheOptions returns the defaults used by NewBundleCache.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		MaxEntries: 64,
		MaxAge:     time.Hour,
	}
}

// CacheOption configures a BundleCache.
type CacheOption func(*CacheOptions)

// WithMaxEntries sets the entry bound. Negative values are ignored.
func WithMaxEntries(n int) CacheOption {
	return func(o *CacheOptions) {
		if n >= 0 {
			o.MaxEntries = n
		}
	}
}

// WithMaxAge sets the entry lifetime. Zero keeps entries until evicted.
func WithMaxAge(d time.Duration) CacheOption {
	return func(o *CacheOptions) {
		if d >= 0 {
			o.MaxAge = d
		}
	}
}

// NewBundleCache creates a cache.
func NewBundleCache(opts ...CacheOption) *BundleCache {
	options := DefaultCacheOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &BundleCache{
		entries: make(map[diff.BuildKey]*cacheEntry),
		lru:     list.New(),
		options: options,
	}
}

// ComputeFunc produces the bundle of a build on a cache miss.
type ComputeFunc func(ctx context.Context, key diff.BuildKey) (*coverage.Bundle, error)

// Get returns the cached bundle of key.
func (c *BundleCache) Get(key diff.BuildKey) (*coverage.Bundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if c.expiredLocked(entry) {
		c.removeLocked(entry)
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(entry.lruElement)
	c.hits.Add(1)
	return entry.bundle, true
}

// GetOrCompute returns the cached bundle of key, calling compute on a miss.
// Concurrent callers missing on the same key wait for one compute call.
func (c *BundleCache) GetOrCompute(ctx context.Context, key diff.BuildKey, compute ComputeFunc) (*coverage.Bundle, bool, error) {
	if b, ok := c.Get(key); ok {
		return b, true, nil
	}

	v, err, _ := c.flight.Do(key.String(), func() (any, error) {
		c.mu.Lock()
		entry, ok := c.entries[key]
		if ok && !c.expiredLocked(entry) {
			c.mu.Unlock()
			return entry.bundle, nil
		}
		c.mu.Unlock()

		b, err := compute(ctx, key)
		if err != nil {
			c.errors.Add(1)
			return nil, err
		}
		c.computes.Add(1)
		c.Put(key, b)
		return b, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*coverage.Bundle), false, nil
}

// Put stores b as the bundle of key, replacing any earlier entry.
func (c *BundleCache) Put(key diff.BuildKey, b *coverage.Bundle) {
	if c.options.MaxEntries == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}
	for len(c.entries) >= c.options.MaxEntries {
		if !c.evictLRULocked() {
			break
		}
	}
	entry := &cacheEntry{key: key, bundle: b, storedAt: time.Now()}
	entry.lruElement = c.lru.PushFront(entry)
	c.entries[key] = entry
}

// Update replaces the cached bundle of key with fn's result. fn receives a
// copy it may modify. Nothing happens when key is not cached. An error from
// fn drops the entry.
func (c *BundleCache) Update(key diff.BuildKey, fn func(*coverage.Bundle) error) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.expiredLocked(entry) {
		return false, nil
	}
	next := entry.bundle.Clone()
	if err := fn(next); err != nil {
		c.removeLocked(entry)
		return false, err
	}
	entry.bundle = next
	entry.storedAt = time.Now()
	c.lru.MoveToFront(entry.lruElement)
	return true, nil
}

// Invalidate drops the entry of key.
func (c *BundleCache) Invalidate(key diff.BuildKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		c.removeLocked(entry)
	}
}

// InvalidateAll drops every entry.
func (c *BundleCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[diff.BuildKey]*cacheEntry)
	c.lru.Init()
}

// Len returns the number of cached bundles.
func (c *BundleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *BundleCache) expiredLocked(entry *cacheEntry) bool {
	return c.options.MaxAge > 0 && time.Since(entry.storedAt) > c.options.MaxAge
}

func (c *BundleCache) removeLocked(entry *cacheEntry) {
	c.lru.Remove(entry.lruElement)
	delete(c.entries, entry.key)
}

func (c *BundleCache) evictLRULocked() bool {
	elem := c.lru.Back()
	if elem == nil {
		return false
	}
	c.removeLocked(elem.Value.(*cacheEntry))
	c.evictions.Add(1)
	return true
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Computes  int64   `json:"computes"`
	Errors    int64   `json:"errors"`
	HitRate   float64 `json:"hitRate"`
}

// Stats returns the cache counters.
func (c *BundleCache) Stats() CacheStats {
	s := CacheStats{
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Computes:  c.computes.Load(),
		Errors:    c.errors.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
