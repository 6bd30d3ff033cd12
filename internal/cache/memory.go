package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const defaultShardCount = 32

type memoryEntry[V any] struct {
	value     V
	expiresAt time.Time
}

type memoryShard[V any] struct {
	mu    sync.RWMutex
	items map[string]memoryEntry[V]
}

// Memory is an in-process Store. Keys are spread over independently locked
// shards so requests for different keys rarely contend.
type Memory[V any] struct {
	shards          []*memoryShard[V]
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	now             Clock
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	cleanupInterval time.Duration
	shards          int
	clock           Clock
}

// WithCleanupInterval sets how often expired entries are swept.
// Zero or negative disables the sweeper; reads still honor expiry.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) { o.cleanupInterval = d }
}

// WithShards overrides the shard count.
func WithShards(n int) MemoryOption {
	return func(o *memoryOptions) { o.shards = n }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(c Clock) MemoryOption {
	return func(o *memoryOptions) { o.clock = c }
}

// NewMemory creates an in-memory cache. defaultTTL applies to Set calls with
// ttl == 0; if it is not positive, 5 minutes is used.
func NewMemory[V any](defaultTTL time.Duration, opts ...MemoryOption) *Memory[V] {
	o := memoryOptions{
		cleanupInterval: time.Minute,
		shards:          defaultShardCount,
		clock:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if o.shards <= 0 {
		o.shards = defaultShardCount
	}

	c := &Memory[V]{
		shards:          make([]*memoryShard[V], o.shards),
		defaultTTL:      defaultTTL,
		cleanupInterval: o.cleanupInterval,
		now:             o.clock,
		stopCleanup:     make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &memoryShard[V]{items: make(map[string]memoryEntry[V])}
	}

	if c.cleanupInterval > 0 {
		go c.cleanupExpired()
	}
	return c
}

func (c *Memory[V]) shard(key string) *memoryShard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get retrieves a value. Expired entries are removed on the spot, whether or
// not the sweeper has run.
func (c *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	var zero V
	s := c.shard(key)

	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return zero, false, nil
	}

	now := c.now()
	if !now.Before(entry.expiresAt) {
		s.mu.Lock()
		// re-check: a concurrent Set may have replaced it
		if e, exists := s.items[key]; exists && !now.Before(e.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return zero, false, nil
	}

	return entry.value, true, nil
}

// Set stores value under key, replacing any previous entry.
func (c *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	s := c.shard(key)

	if ttl < 0 {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	entry := memoryEntry[V]{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}

	s.mu.Lock()
	s.items[key] = entry
	s.mu.Unlock()

	return nil
}

// Delete removes key if present.
func (c *Memory[V]) Delete(_ context.Context, key string) error {
	s := c.shard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// cleanupExpired runs periodically to remove expired entries.
func (c *Memory[V]) cleanupExpired() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Memory[V]) sweep() {
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, v := range s.items {
			if !now.Before(v.expiresAt) {
				delete(s.items, k)
			}
		}
		s.mu.Unlock()
	}
}

// Close stops the cleanup goroutine. Call this on shutdown or in tests.
func (c *Memory[V]) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.stopCleanup)
	})
	return nil
}

// Len returns the number of stored entries, expired ones included until they
// are swept or read.
func (c *Memory[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Clear removes all items from cache.
func (c *Memory[V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[string]memoryEntry[V])
		s.mu.Unlock()
	}
}
