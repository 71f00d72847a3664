// Package cache provides a generic, thread-safe LRU cache with optional
// expiry, used by the controller to keep recently fetched device assets.
//
// Statistics are always collected; Prometheus export is optional via
// WithMetrics.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kawaiiTaiga/project-SABA/errors"
)

// EvictCallback is called when an entry is evicted by size or expiry.
type EvictCallback[V any] func(key string, value V)

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time // zero means no expiry
}

// LRU evicts the least recently used entry once MaxEntries is exceeded.
// With a positive TTL, entries older than TTL are treated as absent and
// removed on access.
type LRU[V any] struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	items      map[string]*list.Element
	order      *list.List

	now     func() time.Time
	evictFn EvictCallback[V]
	stats   Statistics
	metrics *cacheMetrics
}

// New creates an LRU cache holding at most maxEntries values.
func New[V any](maxEntries int, ttl time.Duration, opts ...Option[V]) (*LRU[V], error) {
	if maxEntries < 1 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "New", "maxEntries must be positive")
	}
	o := applyOptions(opts...)

	c := &LRU[V]{
		maxEntries: maxEntries,
		ttl:        ttl,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		now:        o.now,
		evictFn:    o.evictCallback,
	}
	if o.metricsReg != nil {
		m, err := newCacheMetrics(o.metricsReg, o.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "New", "metrics registration")
		}
		c.metrics = m
	}
	return c, nil
}

// Get returns the value for key and marks it recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.miss()
		return zero, false
	}
	e := el.Value.(*entry[V])
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.remove(el, true)
		c.miss()
		return zero, false
	}

	c.order.MoveToFront(el)
	c.stats.hits.Add(1)
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return e.value, true
}

// Set stores value under key. It reports whether a new entry was created.
func (c *LRU[V]) Set(key string, value V) (bool, error) {
	if key == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "cache", "Set", "key cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}
	if c.metrics != nil {
		c.metrics.sets.Inc()
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value, e.expiresAt = value, expiresAt
		c.order.MoveToFront(el)
		return false, nil
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.maxEntries {
		c.remove(c.order.Back(), true)
	}
	c.updateSize()
	return true, nil
}

// Delete removes key. It reports whether the key was present.
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(el, false)
	return true
}

// Len returns the number of entries, including expired ones not yet
// collected.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the counters.
func (c *LRU[V]) Stats() Snapshot {
	return c.stats.snapshot()
}

func (c *LRU[V]) miss() {
	c.stats.misses.Add(1)
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

// remove must be called with mu held.
func (c *LRU[V]) remove(el *list.Element, evicted bool) {
	e := el.Value.(*entry[V])
	c.order.Remove(el)
	delete(c.items, e.key)
	if evicted {
		c.stats.evictions.Add(1)
		if c.metrics != nil {
			c.metrics.evictions.Inc()
		}
		if c.evictFn != nil {
			c.evictFn(e.key, e.value)
		}
	}
	c.updateSize()
}

func (c *LRU[V]) updateSize() {
	if c.metrics != nil {
		c.metrics.size.Set(float64(c.order.Len()))
	}
}

// Statistics tracks cache performance.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Snapshot is a point-in-time copy of Statistics.
type Snapshot struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s Snapshot) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s *Statistics) snapshot() Snapshot {
	return Snapshot{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
}
