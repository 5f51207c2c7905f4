// Package memcache is the in-memory Cache backend, used in tests and
// when no database path is configured.
package memcache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

type Cache struct {
	mu    sync.RWMutex
	data  map[string]entry
	clock func() time.Time
}

func New() *Cache {
	return &Cache{data: make(map[string]entry), clock: time.Now}
}

func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !e.expiresAt.After(c.clock()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.clock().Add(ttl)
	}
	c.mu.Lock()
	c.data[key] = e
	c.mu.Unlock()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	return nil
}

func (c *Cache) Sweep(_ context.Context) (int, error) {
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for k, e := range c.data {
		if !e.expiresAt.IsZero() && !e.expiresAt.After(now) {
			delete(c.data, k)
			dropped++
		}
	}
	return dropped, nil
}
