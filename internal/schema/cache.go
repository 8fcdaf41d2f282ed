package schema

import (
	"context"
	"sync"
	"time"
)

type Loader interface {
	Load(ctx context.Context, connectionID string) (Schema, error)
}

type cacheEntry struct {
	schema   Schema
	loadedAt time.Time
}

// Cache memoizes schemas per connection. A zero TTL disables expiry.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCache(loader Loader, ttl time.Duration) *Cache {
	return &Cache{
		loader:  loader,
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]cacheEntry{},
	}
}

func (c *Cache) Load(ctx context.Context, connectionID string) (Schema, error) {
	c.mu.Lock()
	entry, ok := c.entries[connectionID]
	c.mu.Unlock()
	if ok && (c.ttl <= 0 || c.now().Sub(entry.loadedAt) < c.ttl) {
		return entry.schema, nil
	}

	loaded, err := c.loader.Load(ctx, connectionID)
	if err != nil {
		return Schema{}, err
	}

	c.mu.Lock()
	c.entries[connectionID] = cacheEntry{schema: loaded, loadedAt: c.now()}
	c.mu.Unlock()
	return loaded, nil
}

func (c *Cache) Invalidate(connectionID string) {
	c.mu.Lock()
	delete(c.entries, connectionID)
	c.mu.Unlock()
}
