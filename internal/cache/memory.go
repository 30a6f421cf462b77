package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

type memItem struct {
	key   string
	entry llm.CachedResult
}

// MemoryCache is an in-process cache with a uniform TTL.
//
// Entries are kept in a list ordered by storedAt (oldest at the front), so
// both the cap and SweepExpired only ever touch the front of the list.
// Replace-on-write moves the key to the back with a fresh storedAt.
//
// Safe for concurrent use. No method performs I/O or blocks on anything but
// the internal mutex.
type MemoryCache struct {
	opts Options

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
}

// NewMemoryCache creates an empty MemoryCache. Run RunSweeper alongside it
// to bound memory when entries are written but never read again.
func NewMemoryCache(opts Options) *MemoryCache {
	return &MemoryCache{
		opts:  opts.withDefaults(),
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Get returns the entry for key. An expired entry is removed and reported as
// a miss.
func (c *MemoryCache) Get(_ context.Context, key string) (llm.CachedResult, bool) {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return llm.CachedResult{}, false
	}
	item := el.Value.(*memItem)
	if expired(item.entry.StoredAt, now, c.opts.TTL) {
		c.removeLocked(el)
		return llm.CachedResult{}, false
	}
	return item.entry, true
}

// Put stores value under key. When the cap is exceeded the oldest entries
// are evicted.
func (c *MemoryCache) Put(_ context.Context, key string, value llm.GenerationResult) error {
	entry := llm.CachedResult{Value: value, StoredAt: c.opts.Now()}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	c.items[key] = c.order.PushBack(&memItem{key: key, entry: entry})

	if c.opts.MaxEntries > 0 {
		for c.order.Len() > c.opts.MaxEntries {
			c.removeLocked(c.order.Front())
		}
	}
	return nil
}

// SweepExpired drops every expired entry.
func (c *MemoryCache) SweepExpired(_ context.Context) int {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		if !expired(el.Value.(*memItem).entry.StoredAt, now, c.opts.TTL) {
			break
		}
		c.removeLocked(el)
		removed++
	}
	return removed
}

// Len returns the number of entries currently held (including entries that
// may have expired but not yet been swept).
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) removeLocked(el *list.Element) {
	delete(c.items, el.Value.(*memItem).key)
	c.order.Remove(el)
}
