// Package cache is a small bounded TTL cache for hot read paths.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultSize = 1024

type Cache[V any] struct {
	lru *expirable.LRU[string, V]
}

// New returns a cache holding at most size entries, each for ttl. A
// non-positive ttl falls back to five seconds.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if size <= 0 {
		size = defaultSize
	}

	return &Cache[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

func (c *Cache[V]) Set(key string, val V) {
	c.lru.Add(key, val)
}

func (c *Cache[V]) Delete(key string) {
	c.lru.Remove(key)
}

func (c *Cache[V]) Clear() {
	c.lru.Purge()
}

func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
