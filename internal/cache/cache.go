// Package cache implements a TTL cache for upstream metadata keyed by resource id.
//
// Entries are evicted lazily: a stale entry is removed on the lookup that finds it.
// A failed fetch never touches the stored entry.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/desertthunder/spotproxy/internal/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is used when [Options.TTL] is zero.
	DefaultTTL = 10 * time.Minute
	// DefaultFetchTimeout bounds a shared fetch when [Options.FetchTimeout] is zero.
	DefaultFetchTimeout = 30 * time.Second
)

// Fetcher produces the value for a key on a miss.
type Fetcher[V any] func(ctx context.Context, key string) (V, error)

// Entry is one stored value.
type Entry[V any] struct {
	Key      string
	Value    V
	StoredAt time.Time
}

// Options configures a [Cache].
type Options struct {
	TTL time.Duration
	// MaxEntries bounds the cache; the oldest entry is evicted on insert. Zero means unbounded.
	MaxEntries int
	// SingleFlight collapses concurrent misses for the same key into one fetch.
	SingleFlight bool
	// FetchTimeout bounds a shared fetch, which outlives the cancellation of the caller that started it.
	FetchTimeout time.Duration
	Now          func() time.Time
	Metrics      *metrics.Metrics
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]Entry[V]
	group   *singleflight.Group
	ttl     time.Duration
	timeout time.Duration
	max     int
	now     func() time.Time
	metrics *metrics.Metrics
}

// New creates an empty cache.
func New[V any](opts Options) *Cache[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache[V]{
		entries: make(map[string]Entry[V]),
		ttl:     opts.TTL,
		timeout: opts.FetchTimeout,
		max:     opts.MaxEntries,
		now:     opts.Now,
		metrics: opts.Metrics,
	}
	if opts.SingleFlight {
		c.group = &singleflight.Group{}
	}
	return c
}

// GetOrFetch returns the cached value for key while it is younger than the TTL, otherwise calls fetch
// and stores its result.
//
// With single-flight enabled the fetch is detached from ctx, so one caller giving up does not fail the
// others waiting on the same key; each caller still returns as soon as its own ctx is done.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch Fetcher[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		c.metrics.CacheLookup("hit")
		return v, nil
	}
	c.metrics.CacheLookup("miss")

	if c.group == nil {
		return c.fetch(ctx, key, fetch)
	}

	flight := c.group.DoChan(key, func() (any, error) {
		// another caller may have filled the entry while this one waited for the group
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(fctx, key, fetch)
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Get returns the live entry for key, evicting it if stale.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.StoredAt) >= c.ttl {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Set stores v under key with the current time.
func (c *Cache[V]) Set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.max > 0 && len(c.entries) >= c.max {
		c.evictOldest()
	}
	c.entries[key] = Entry[V]{Key: key, Value: v, StoredAt: c.now()}
}

// Invalidate removes key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge removes every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of stored entries, including stale ones not yet evicted.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) fetch(ctx context.Context, key string, fetch Fetcher[V]) (V, error) {
	v, err := fetch(ctx, key)
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// evictOldest must be called with mu held.
func (c *Cache[V]) evictOldest() {
	var (
		oldest string
		at     time.Time
		found  bool
	)
	for k, e := range c.entries {
		if !found || e.StoredAt.Before(at) {
			oldest, at, found = k, e.StoredAt, true
		}
	}
	if found {
		delete(c.entries, oldest)
	}
}
