// Package memo provides a bounded single-flight cache for results that are
// expensive to compute and may be requested by many callers at once.
//
// Values may be mutable handles that their owner keeps updating after they
// are cached; the cache only tracks their lifetime. When an entry leaves
// the cache (LRU eviction, Remove or Close) the eviction hook runs so the
// owner can release what the handle holds, typically a log subscription.
package memo

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/viewfold/internal/metrics"
)

// DefaultCapacity is used when a non-positive capacity is given.
const DefaultCapacity = 1024

// ComputeFunc produces the value for a key. The context it receives is
// detached from the caller that triggered it.
type ComputeFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// EvictFunc is called once for every value that leaves the cache.
type EvictFunc[K comparable, V any] func(key K, value V)

// Stats is a point-in-time copy of the cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Shared    int64
	Evictions int64
	Errors    int64
}

// Cache is an LRU of completed results fronted by a singleflight group.
//
// Thread Safety:
//
//	Cache is safe for concurrent use. The eviction hook is always called
//	without the cache lock held, and never from inside a flight: values
//	pushed out by a new result are handed to the hook once the flight has
//	returned, so a slow hook cannot hold up callers of other keys.
type Cache[K comparable, V any] struct {
	name     string
	capacity int
	onEvict  EvictFunc[K, V]

	flight singleflight.Group

	mu      sync.Mutex
	entries map[K]*list.Element
	lru     *list.List
	stats   Stats
	closed  bool

	// pending holds capacity evictions made inside a flight until a caller
	// outside the flight runs their hooks.
	pending []*entry[K, V]
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithEvict sets the eviction hook.
func WithEvict[K comparable, V any](fn EvictFunc[K, V]) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

// New creates a cache. name labels the cache in metrics.
func New[K comparable, V any](name string, capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache[K, V]{
		name:     name,
		capacity: capacity,
		entries:  make(map[K]*list.Element),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, computing it if needed.
//
// Concurrent callers for a key whose computation is in flight wait for
// that computation and receive the same value or the same error. If ctx
// ends first the caller gets ctx.Err() while the computation carries on
// for everyone else. Errors are never cached.
func (c *Cache[K, V]) Get(ctx context.Context, key K, compute ComputeFunc[K, V]) (V, error) {
	if v, ok := c.lookup(key, true); ok {
		return v, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(flightKey(key), func() (any, error) {
		// A flight that finished between lookup and DoChan already cached it.
		if v, ok := c.lookup(key, false); ok {
			return v, nil
		}
		v, err := compute(detached, key)
		if err != nil {
			c.mu.Lock()
			c.stats.Errors++
			c.mu.Unlock()
			return v, err
		}
		c.store(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		c.drain()
		if res.Shared {
			c.mu.Lock()
			c.stats.Shared++
			c.mu.Unlock()
			metrics.CacheLookups.WithLabelValues(c.name, "shared").Inc()
		}
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		// Someone has to run the hooks for evictions this flight makes.
		go func() {
			<-ch
			c.drain()
		}()
		var zero V
		return zero, ctx.Err()
	}
}

// Peek returns the cached value without computing or touching LRU order.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Remove drops key from the cache and runs the eviction hook for it.
// It reports whether the key was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	el, ok := c.entries[key]
	if ok {
		c.lru.Remove(el)
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok {
		c.evict(el.Value.(*entry[K, V]))
	}
	return ok
}

// RemoveIf drops key only while it still maps to value. Owners use it to
// retire their own handle without racing a replacement.
func (c *Cache[K, V]) RemoveIf(key K, match func(V) bool) bool {
	c.mu.Lock()
	el, ok := c.entries[key]
	if ok && match(el.Value.(*entry[K, V]).value) {
		c.lru.Remove(el)
		delete(c.entries, key)
	} else {
		ok = false
	}
	c.mu.Unlock()

	if ok {
		c.evict(el.Value.(*entry[K, V]))
	}
	return ok
}

// Len returns the number of cached values.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a copy of the counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close evicts every entry. Values computed by flights still running
// after Close are handed straight to the eviction hook.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	c.closed = true
	var drained []*entry[K, V]
	for el := c.lru.Front(); el != nil; el = el.Next() {
		drained = append(drained, el.Value.(*entry[K, V]))
	}
	drained = append(drained, c.pending...)
	c.pending = nil
	c.entries = make(map[K]*list.Element)
	c.lru.Init()
	c.mu.Unlock()

	for _, e := range drained {
		c.evict(e)
	}
}

// lookup returns a cached value and moves it to the front. count records
// the lookup in the hit/miss counters.
func (c *Cache[K, V]) lookup(key K, count bool) (V, bool) {
	c.mu.Lock()
	el, ok := c.entries[key]
	if ok {
		c.lru.MoveToFront(el)
	}
	if count {
		if ok {
			c.stats.Hits++
		} else {
			c.stats.Misses++
		}
	}
	c.mu.Unlock()

	if count {
		result := "miss"
		if ok {
			result = "hit"
		}
		metrics.CacheLookups.WithLabelValues(c.name, result).Inc()
	}

	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*entry[K, V]).value, true
}

// store inserts a computed value and evicts from the back past capacity.
// It runs inside a flight, so evicted entries are queued for drain.
func (c *Cache[K, V]) store(key K, value V) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.evict(&entry[K, V]{key: key, value: value})
		return
	}

	if el, ok := c.entries[key]; ok {
		// Replaced values still get their hook.
		c.pending = append(c.pending, el.Value.(*entry[K, V]))
		c.lru.Remove(el)
	}
	c.entries[key] = c.lru.PushFront(&entry[K, V]{key: key, value: value})

	for c.lru.Len() > c.capacity {
		back := c.lru.Back()
		e := back.Value.(*entry[K, V])
		c.lru.Remove(back)
		delete(c.entries, e.key)
		c.stats.Evictions++
		c.pending = append(c.pending, e)
		metrics.CacheEvictions.WithLabelValues(c.name).Inc()
	}
	c.mu.Unlock()
}

// drain runs the hooks for queued evictions. Each entry is handed out
// once, whichever caller gets to it first.
func (c *Cache[K, V]) drain() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, e := range pending {
		c.evict(e)
	}
}

func (c *Cache[K, V]) evict(e *entry[K, V]) {
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}

// flightKey renders a comparable key as a singleflight key. The Go-syntax
// form keeps struct keys with string fields unambiguous.
func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%#v", key)
}
