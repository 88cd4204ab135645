package plans

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultCacheCapacity is the default number of entries per resolver.
	DefaultCacheCapacity = 1000
	// DefaultCacheTTL bounds how long a resolved value is served from memory.
	DefaultCacheTTL = 5 * time.Minute
)

// LRUCache is a thread-safe LRU cache whose entries also expire after a TTL.
// A miss never means the value does not exist, only that it must be re-resolved.
type LRUCache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	cache    map[string]*list.Element
	order    *list.List
	now      func() time.Time
}

type cacheEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// NewLRUCache creates a cache. Non-positive capacity or ttl fall back to the defaults.
func NewLRUCache[V any](capacity int, ttl time.Duration) *LRUCache[V] {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LRUCache[V]{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached value. Expired entries are dropped and reported as a miss.
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, exists := c.cache[key]
	if !exists {
		return zero, false
	}

	entry := elem.Value.(*cacheEntry[V])
	if !c.now().Before(entry.expiresAt) {
		delete(c.cache, key)
		c.order.Remove(elem)
		return zero, false
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	return entry.value, true
}

// Put adds a value, evicting the least recently used entry if full.
func (c *LRUCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	// If already exists, update and move to front
	if elem, exists := c.cache[key]; exists {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		return
	}

	// Evict if at capacity
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			entry := oldest.Value.(*cacheEntry[V])
			delete(c.cache, entry.key)
			c.order.Remove(oldest)
		}
	}

	elem := c.order.PushFront(&cacheEntry[V]{key: key, value: value, expiresAt: expiresAt})
	c.cache[key] = elem
}

// Invalidate removes a key from the cache.
func (c *LRUCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.cache[key]
	if !exists {
		return
	}

	delete(c.cache, key)
	c.order.Remove(elem)
}

// Len returns the number of entries, expired ones included.
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
