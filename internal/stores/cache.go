package stores

import (
	"sync"
	"sync/atomic"
)

// Cache is a generation counter standing in for server-owned data the
// client refetches on demand. Invalidate bumps the generation and notifies
// subscribers; readers compare generations to decide whether to refetch.
type Cache struct {
	name string
	gen  atomic.Uint64

	subsMu       sync.RWMutex
	onInvalidate []func(gen uint64)
}

// NewCache creates a cache at generation zero.
func NewCache(name string) *Cache {
	return &Cache{name: name}
}

// Name identifies the cache in logs.
func (c *Cache) Name() string {
	return c.name
}

// Generation returns the current generation.
func (c *Cache) Generation() uint64 {
	return c.gen.Load()
}

// Stale reports whether the cache was invalidated since gen.
func (c *Cache) Stale(gen uint64) bool {
	return c.gen.Load() != gen
}

// OnInvalidate registers a subscriber called with the new generation.
func (c *Cache) OnInvalidate(cb func(gen uint64)) {
	c.subsMu.Lock()
	c.onInvalidate = append(c.onInvalidate, cb)
	c.subsMu.Unlock()
}

// Invalidate marks the cached data stale and returns the new generation.
func (c *Cache) Invalidate() uint64 {
	gen := c.gen.Add(1)

	c.subsMu.RLock()
	subs := c.onInvalidate
	c.subsMu.RUnlock()
	for _, cb := range subs {
		cb(gen)
	}
	return gen
}

// UsageCache tracks token usage invalidation and the daily-limit flag.
type UsageCache struct {
	*Cache
	limitReached atomic.Bool
}

// NewUsageCache creates a usage cache.
func NewUsageCache() *UsageCache {
	return &UsageCache{Cache: NewCache("usage")}
}

// SetDailyLimitReached records whether the hard daily limit was hit.
func (u *UsageCache) SetDailyLimitReached(v bool) {
	u.limitReached.Store(v)
}

// DailyLimitReached reports the last recorded hard-limit flag.
func (u *UsageCache) DailyLimitReached() bool {
	return u.limitReached.Load()
}

// ConversationCache tracks invalidation of the conversation list.
type ConversationCache struct {
	*Cache
}

// NewConversationCache creates a conversation list cache.
func NewConversationCache() *ConversationCache {
	return &ConversationCache{Cache: NewCache("conversations")}
}
