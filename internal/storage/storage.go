// Package storage is the document store behind traduwiki: a backing store
// (memory or Firestore) with an optional cache (memory or Valkey) in front.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no document exists under a key
var ErrNotFound = errors.New("document not found")

// UpdateFunc computes the new document from the current one. found is false
// when no document exists yet.
type UpdateFunc[T any] func(current T, found bool) (T, error)

// Store reads and writes documents of type T by key. Keys are slash-separated
// "collection/id" paths.
type Store[T any] interface {
	Get(ctx context.Context, key string) (T, error)
	Set(ctx context.Context, key string, value T) error
	// Update runs fn and writes its result atomically with the read it saw.
	Update(ctx context.Context, key string, fn UpdateFunc[T]) (T, error)
}

// Cache holds encoded documents for a bounded time. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
