package multimap

import (
	"container/list"
	"context"
	"iter"
	"log/slog"
	"sync"

	"github.com/roach88/stablekit/internal/metrics"
)

// DefaultCacheMaxItems is used when a non-positive capacity is configured.
const DefaultCacheMaxItems = 1024

// CacheOption configures a Cached map.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	name    string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// WithName labels the cache in metrics and logs. Default "multimap".
func WithName(name string) CacheOption {
	return func(o *cacheOptions) {
		o.name = name
	}
}

// WithMetrics records hits, misses, evictions and size on m.
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(o *cacheOptions) {
		o.metrics = m
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) CacheOption {
	return func(o *cacheOptions) {
		o.logger = l
	}
}

type pair[K1, K2 comparable] struct {
	k1 K1
	k2 K2
}

type cacheEntry[K1, K2 comparable, V any] struct {
	key   pair[K1, K2]
	value V
}

// Cached is a durable Multimap fronted by a bounded in-memory cache.
//
// Writes go through to the durable map first; the touched pair is then
// dropped from the cache so the next Get repopulates it from the durable
// value. The cache is therefore always a subset of the durable map.
//
// Eviction is by FIRST POPULATION order, not recency: a Get that hits the
// cache does not move the pair in the eviction queue. When the queue grows
// past the capacity the pair that was populated longest ago is evicted,
// even if it was read a moment before. This is FIFO with on-demand
// population, not LRU.
//
// Every method, Get included, mutates the cache. One mutex guards the
// cache, the queue and the durable handle together so a cache update and
// its queue update are never observed apart.
type Cached[K1, K2 comparable, V any] struct {
	mu sync.Mutex

	inner    *Multimap[K1, K2, V]
	maxItems int

	// entries maps cached pairs to their queue element
	entries map[pair[K1, K2]]*list.Element

	// byOuter indexes cached pairs by outer key for RemovePartial
	byOuter map[K1]map[K2]struct{}

	// queue holds cached pairs in first-population order, front is oldest
	queue *list.List

	name    string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCached fronts inner with a cache holding at most maxItems entries.
func NewCached[K1, K2 comparable, V any](inner *Multimap[K1, K2, V], maxItems int, opts ...CacheOption) *Cached[K1, K2, V] {
	o := cacheOptions{name: "multimap"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if maxItems <= 0 {
		maxItems = DefaultCacheMaxItems
	}
	return &Cached[K1, K2, V]{
		inner:    inner,
		maxItems: maxItems,
		entries:  make(map[pair[K1, K2]]*list.Element),
		byOuter:  make(map[K1]map[K2]struct{}),
		queue:    list.New(),
		name:     o.name,
		metrics:  o.metrics,
		logger:   o.logger,
	}
}

// Insert writes through to the durable map and returns the previous value.
func (c *Cached[K1, K2, V]) Insert(ctx context.Context, k1 K1, k2 K2, value V) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, existed, err := c.inner.Insert(ctx, k1, k2, value)
	// Drop the pair even on error: the durable state is unknown.
	c.evictLocked(pair[K1, K2]{k1, k2})
	return prev, existed, err
}

// Get returns the value for (k1, k2), from the cache when possible.
// A hit leaves the eviction queue untouched.
func (c *Cached[K1, K2, V]) Get(ctx context.Context, k1 K1, k2 K2) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pair[K1, K2]{k1, k2}
	if el, ok := c.entries[key]; ok {
		c.metrics.CacheLookup(c.name, true)
		return el.Value.(*cacheEntry[K1, K2, V]).value, true, nil
	}
	c.metrics.CacheLookup(c.name, false)

	value, ok, err := c.inner.Get(ctx, k1, k2)
	if err != nil || !ok {
		return value, ok, err
	}

	c.entries[key] = c.queue.PushBack(&cacheEntry[K1, K2, V]{key: key, value: value})
	inner, ok := c.byOuter[k1]
	if !ok {
		inner = make(map[K2]struct{})
		c.byOuter[k1] = inner
	}
	inner[k2] = struct{}{}

	if c.queue.Len() > c.maxItems {
		oldest := c.queue.Front().Value.(*cacheEntry[K1, K2, V])
		c.evictLocked(oldest.key)
		c.metrics.CacheEviction(c.name)
		c.logger.Debug("cache eviction",
			"cache", c.name,
			"capacity", c.maxItems,
		)
	}
	c.metrics.CacheSize(c.name, c.queue.Len())
	return value, true, nil
}

// Remove writes through to the durable map and returns the removed value.
func (c *Cached[K1, K2, V]) Remove(ctx context.Context, k1 K1, k2 K2) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, existed, err := c.inner.Remove(ctx, k1, k2)
	c.evictLocked(pair[K1, K2]{k1, k2})
	return prev, existed, err
}

// RemovePartial deletes every entry of outer key k1 from the cache and the
// durable map. It reports true if either of them changed.
func (c *Cached[K1, K2, V]) RemovePartial(ctx context.Context, k1 K1) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cacheChanged := false
	for k2 := range c.byOuter[k1] {
		c.evictLocked(pair[K1, K2]{k1, k2})
		cacheChanged = true
	}

	durableChanged, err := c.inner.RemovePartial(ctx, k1)
	if err != nil {
		return cacheChanged, err
	}
	return cacheChanged || durableChanged, nil
}

// Len returns the number of entries in the durable map.
func (c *Cached[K1, K2, V]) Len(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len(ctx)
}

// IsEmpty reports whether the durable map is empty.
func (c *Cached[K1, K2, V]) IsEmpty(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.IsEmpty(ctx)
}

// Clear empties the cache and the durable map.
func (c *Cached[K1, K2, V]) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
	clear(c.byOuter)
	c.queue.Init()
	c.metrics.CacheSize(c.name, 0)
	return c.inner.Clear(ctx)
}

// All iterates the durable map in key order without touching the cache.
func (c *Cached[K1, K2, V]) All(ctx context.Context) iter.Seq2[Item[K1, K2, V], error] {
	return c.inner.All(ctx)
}

// Range iterates the pairs under k1 without touching the cache.
func (c *Cached[K1, K2, V]) Range(ctx context.Context, k1 K1) iter.Seq2[Item[K1, K2, V], error] {
	return c.inner.Range(ctx, k1)
}

// CacheLen returns the number of entries currently held in memory.
func (c *Cached[K1, K2, V]) CacheLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// CachedKeys returns the cached pairs' outer and inner keys in eviction
// order, oldest first.
func (c *Cached[K1, K2, V]) CachedKeys() []Item[K1, K2, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item[K1, K2, V], 0, c.queue.Len())
	for el := c.queue.Front(); el != nil; el = el.Next() {
		e := el.Value.(*cacheEntry[K1, K2, V])
		out = append(out, Item[K1, K2, V]{Outer: e.key.k1, Inner: e.key.k2, Value: e.value})
	}
	return out
}

// evictLocked drops key from the cache, the queue and the outer index.
func (c *Cached[K1, K2, V]) evictLocked(key pair[K1, K2]) {
	el, ok := c.entries[key]
	if !ok {
		return
	}
	c.queue.Remove(el)
	delete(c.entries, key)
	if inner, ok := c.byOuter[key.k1]; ok {
		delete(inner, key.k2)
		if len(inner) == 0 {
			delete(c.byOuter, key.k1)
		}
	}
	c.metrics.CacheSize(c.name, c.queue.Len())
}
