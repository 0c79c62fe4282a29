package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dgellow/traduwiki/internal/log"
)

var _ Store[User] = (*CachedStore[User])(nil)

// CachedStore is a cache-aside Store. Cache failures degrade to the backing
// store and are only logged; backing store failures are returned.
type CachedStore[T any] struct {
	backing Store[T]
	cache   Cache
	ttl     time.Duration

	// loads collapses concurrent misses on the same key.
	loads singleflight.Group
}

// NewCachedStore puts cache in front of backing
func NewCachedStore[T any](backing Store[T], cache Cache, ttl time.Duration) *CachedStore[T] {
	return &CachedStore[T]{backing: backing, cache: cache, ttl: ttl}
}

// Get serves key from the cache, loading it from the backing store on a miss
func (s *CachedStore[T]) Get(ctx context.Context, key string) (T, error) {
	var v T

	raw, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		log.LogWarnWithFields("storage", "Cache read failed, using backing store", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
	if hit {
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		log.LogWarnWithFields("storage", "Dropping undecodable cache entry", map[string]any{
			"key": key,
		})
		_ = s.cache.Delete(ctx, key)
	}

	loaded, err, _ := s.loads.Do(key, func() (any, error) {
		value, err := s.backing.Get(ctx, key)
		if err != nil {
			return value, err
		}
		s.fill(ctx, key, value)
		return value, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v, ErrNotFound
		}
		return v, err
	}
	return loaded.(T), nil
}

// Set writes through to the backing store, then refreshes the cache
func (s *CachedStore[T]) Set(ctx context.Context, key string, value T) error {
	if err := s.backing.Set(ctx, key, value); err != nil {
		return err
	}
	s.fill(ctx, key, value)
	return nil
}

// Update delegates to the backing store, then refreshes the cache with the
// committed document
func (s *CachedStore[T]) Update(ctx context.Context, key string, fn UpdateFunc[T]) (T, error) {
	value, err := s.backing.Update(ctx, key, fn)
	if err != nil {
		return value, err
	}
	s.fill(ctx, key, value)
	return value, nil
}

func (s *CachedStore[T]) fill(ctx context.Context, key string, value T) {
	raw, err := json.Marshal(value)
	if err == nil {
		err = s.cache.Set(ctx, key, raw, s.ttl)
	}
	if err == nil {
		return
	}
	log.LogWarnWithFields("storage", "Cache write failed, invalidating", map[string]any{
		"key":   key,
		"error": err.Error(),
	})
	// A stale entry is worse than none.
	_ = s.cache.Delete(ctx, key)
}
