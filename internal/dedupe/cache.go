// ABOUTME: Thread-safe TTL cache for tracking seen keys, optionally with values.
// ABOUTME: Used for answered-frame replay and single-use invite nonces with per-nonce lifetimes.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the expiry, optional value, and list element for a key.
type cacheEntry struct {
	expiresAt time.Time
	value     any
	element   *list.Element
}

// Cache is a TTL-based, size-limited set of seen keys. A broadcast channel
// can deliver the same frame more than once, and invite nonces may be
// configured single-use; both concerns reduce to "have I seen this key
// within its window". Keys can carry a value so callers can replay the
// answer they gave the first time. Insertion order is kept in a list for
// O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest insertion at front
	ttl     time.Duration
	maxSize int
}

// New creates a cache whose keys live for ttl by default, holding at most
// maxSize entries. Expired entries are pruned opportunistically on access;
// there is no background goroutine to stop.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Seen atomically checks whether key is live and records it if not.
// Returns true for a duplicate, false for a new key. The check and mark are
// a single critical section so two concurrent calls with the same key
// cannot both pass.
func (c *Cache) Seen(key string) bool {
	return c.SeenFor(key, c.ttl)
}

// SeenFor is Seen with an entry-specific lifetime, for keys that carry
// their own expiry: an invite nonce must stay burned for as long as the
// invite itself remains valid, however long that is.
func (c *Cache) SeenFor(key string, ttl time.Duration) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(now)

	if entry, ok := c.seen[key]; ok && entry.expiresAt.After(now) {
		return true
	}

	c.markLocked(key, now.Add(ttl))
	return false
}

// Get returns the value stored for a live key.
func (c *Cache) Get(key string) (any, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if !ok || !entry.expiresAt.After(now) {
		return nil, false
	}
	return entry.value, true
}

// Put records key with an associated value for the default TTL, overwriting
// any prior entry.
func (c *Cache) Put(key string, value any) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(now)
	c.markLocked(key, now.Add(c.ttl))
	c.seen[key].value = value
}

// Len returns the number of tracked keys, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// markLocked records key with the given expiry. Must be called with mu held.
func (c *Cache) markLocked(key string, expiresAt time.Time) {
	if entry, exists := c.seen[key]; exists {
		entry.expiresAt = expiresAt
		entry.value = nil
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{expiresAt: expiresAt, element: elem}
}

// pruneLocked drops expired entries from the front of the order list. With
// per-entry lifetimes the front is not strictly the earliest expiry, so
// this stops at the first live entry; maxSize still bounds memory.
func (c *Cache) pruneLocked(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		key, _ := front.Value.(string)
		entry := c.seen[key]
		if entry == nil || entry.expiresAt.After(now) {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// evictOldestLocked removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
