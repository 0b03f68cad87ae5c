package cache

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Store is a TTL cache of JSON-encoded values
type Store interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CacheItem represents a cached item with expiration
type CacheItem struct {
	Data      []byte
	ExpiresAt time.Time
}

// Cache represents a simple in-memory cache
type Cache struct {
	items map[string]*CacheItem
	mutex sync.RWMutex
	now   func() time.Time
}

// New creates a new cache instance
func New() *Cache {
	return &Cache{
		items: make(map[string]*CacheItem),
		now:   time.Now,
	}
}

// GetJSON decodes the cached value for key into dest. Expired items are removed.
func (c *Cache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mutex.RLock()
	item, exists := c.items[key]
	c.mutex.RUnlock()
	if !exists {
		return false, nil
	}

	if c.now().After(item.ExpiresAt) {
		c.mutex.Lock()
		if current, ok := c.items[key]; ok && current == item {
			delete(c.items, key)
		}
		c.mutex.Unlock()
		return false, nil
	}

	if err := json.Unmarshal(item.Data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores value with ttl
func (c *Cache) SetJSON(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.items[key] = &CacheItem{
		Data:      data,
		ExpiresAt: c.now().Add(ttl),
	}
	return nil
}

// Delete removes an item from the cache
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.items, key)
	return nil
}

// Clear removes all items from the cache
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.items = make(map[string]*CacheItem)
}

// Fetch returns the cached value for key or loads, caches and returns it. Cache failures
// degrade to calling load.
func Fetch[T any](ctx context.Context, store Store, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if store != nil {
		if ok, err := store.GetJSON(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if store != nil && ttl > 0 {
		_ = store.SetJSON(ctx, key, value, ttl)
	}
	return value, nil
}
