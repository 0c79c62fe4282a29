package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

var _ Store[User] = (*MemoryStore[User])(nil)
var _ Cache = (*MemoryCache)(nil)

// MemoryStore keeps documents in process memory. Contents are lost on restart.
type MemoryStore[T any] struct {
	mu   sync.RWMutex
	docs map[string]T
}

// NewMemoryStore creates an empty store
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{docs: make(map[string]T)}
}

// Get returns the document stored under key
func (s *MemoryStore[T]) Get(_ context.Context, key string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.docs[key]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return v, nil
}

// Set stores value under key
func (s *MemoryStore[T]) Set(_ context.Context, key string, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = value
	return nil
}

// Update applies fn under the store lock
func (s *MemoryStore[T]) Update(_ context.Context, key string, fn UpdateFunc[T]) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, found := s.docs[key]
	next, err := fn(current, found)
	if err != nil {
		var zero T
		return zero, err
	}
	s.docs[key] = next
	return next, nil
}

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a process-local Cache. Expired entries are invisible to Get
// and removed by Sweep.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		return nil, false, nil
	}
	return slices.Clone(e.value), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: slices.Clone(value), expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Sweep drops expired entries and reports how many were removed
func (c *MemoryCache) Sweep(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) Close() error { return nil }
