// Package cache memoizes expensive objective evaluations by key.
//
// Cache is read-mostly: lookups take a read lock and inserts a write lock.
// Concurrent GetOrCompute calls for the same key share one computation;
// a key may still be computed twice when calls do not overlap in time,
// which wastes work but never corrupts the cache.
package cache

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Store is a persistent backing for a Cache.
type Store interface {
	Get(key string) (float64, bool, error)
	Put(key string, value float64) error
}

type Cache struct {
	mu     sync.RWMutex
	values map[string]float64
	group  singleflight.Group
	store  Store

	hits   atomic.Int64
	misses atomic.Int64
}

// New returns an empty cache. store may be nil.
func New(store Store) *Cache {
	return &Cache{values: map[string]float64{}, store: store}
}

func (c *Cache) Get(key string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *Cache) Put(key string, v float64) error {
	c.mu.Lock()
	c.values[key] = v
	c.mu.Unlock()
	if c.store != nil {
		return c.store.Put(key, v)
	}
	return nil
}

// GetOrCompute returns the cached value of key, loading it from the store
// or computing it with fn on a miss. Errors from fn are not cached.
func (c *Cache) GetOrCompute(key string, fn func() (float64, error)) (float64, error) {
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}

	if c.store != nil {
		v, ok, err := c.store.Get(key)
		if err != nil {
			return 0, err
		}
		if ok {
			c.mu.Lock()
			c.values[key] = v
			c.mu.Unlock()
			c.hits.Add(1)
			return v, nil
		}
	}

	c.misses.Add(1)
	v, err, _ := c.group.Do(key, func() (any, error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}
		if err := c.Put(key, v); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

func (c *Cache) Hits() int64 {
	return c.hits.Load()
}

func (c *Cache) Misses() int64 {
	return c.misses.Load()
}
