package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// counterSweepSize is the counter map size above which expired counters are
// dropped on the next increment.
const counterSweepSize = 4096

// LRUCache is a size-bounded, TTL-aware cache safe for concurrent use.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counterEntry
	now      func() time.Time
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates an LRU cache holding at most maxSize entries.
// A non-positive maxSize means 10000.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
		now:      time.Now,
	}
}

var _ domain.Cache = (*LRUCache)(nil)

// Get returns nil, nil on a miss or an expired entry.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	fullKey := makeKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores value under key until ttl elapses, evicting the least recently
// used entries beyond capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	fullKey := makeKey(tenantID, key)
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return nil
	}

	c.items[fullKey] = c.order.PushFront(&cacheEntry{key: fullKey, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.maxSize {
		c.removeElement(c.order.Back())
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	fullKey := makeKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.removeElement(elem)
	}
	return nil
}

// GetAssessment returns a cached assessment record.
func (c *LRUCache) GetAssessment(ctx context.Context, tenantID string, id string) (*domain.AssessmentRecord, error) {
	return loadAssessment(ctx, c, tenantID, id)
}

// SetAssessment caches an assessment record.
func (c *LRUCache) SetAssessment(ctx context.Context, tenantID string, rec *domain.AssessmentRecord, ttl time.Duration) error {
	return storeAssessment(ctx, c, tenantID, rec, ttl)
}

// IncrementCounter increments key and returns the new count. A counter
// restarts at 1 once its window has elapsed.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}
	fullKey := makeKey(tenantID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.counters[fullKey]
	if !ok || now.After(entry.expiresAt) {
		if len(c.counters) >= counterSweepSize {
			c.sweepCounters(now)
		}
		c.counters[fullKey] = &counterEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*counterEntry)
	return nil
}

// Stats returns the entry count and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func makeKey(tenantID, key string) string {
	return tenantID + ":" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}

func (c *LRUCache) sweepCounters(now time.Time) {
	for k, e := range c.counters {
		if now.After(e.expiresAt) {
			delete(c.counters, k)
		}
	}
}
