package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ Store[User] = (*FirestoreStore[User])(nil)

// FirestoreConfig selects the project, database and credentials to use.
type FirestoreConfig struct {
	ProjectID       string
	Database        string
	CredentialsFile string
}

// NewFirestoreClient opens a Firestore client. An empty CredentialsFile uses
// application default credentials.
func NewFirestoreClient(ctx context.Context, cfg FirestoreConfig) (*firestore.Client, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var client *firestore.Client
	var err error
	if cfg.Database != "" && cfg.Database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.Database, opts...)
	} else {
		client, err = firestore.NewClient(ctx, cfg.ProjectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// FirestoreStore maps keys to Firestore document paths. T must be a struct
// with firestore tags.
type FirestoreStore[T any] struct {
	client *firestore.Client
}

// NewFirestoreStore wraps an open client
func NewFirestoreStore[T any](client *firestore.Client) *FirestoreStore[T] {
	return &FirestoreStore[T]{client: client}
}

func (s *FirestoreStore[T]) doc(key string) (*firestore.DocumentRef, error) {
	ref := s.client.Doc(key)
	if ref == nil {
		return nil, fmt.Errorf("invalid document key %q", key)
	}
	return ref, nil
}

// Get loads the document at key
func (s *FirestoreStore[T]) Get(ctx context.Context, key string) (T, error) {
	var v T
	ref, err := s.doc(key)
	if err != nil {
		return v, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return v, ErrNotFound
		}
		return v, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := snap.DataTo(&v); err != nil {
		return v, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return v, nil
}

// Set overwrites the document at key
func (s *FirestoreStore[T]) Set(ctx context.Context, key string, value T) error {
	ref, err := s.doc(key)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Update reads and writes key inside a Firestore transaction, so concurrent
// updates are retried by Firestore instead of overwriting each other.
func (s *FirestoreStore[T]) Update(ctx context.Context, key string, fn UpdateFunc[T]) (T, error) {
	var result T
	ref, err := s.doc(key)
	if err != nil {
		return result, err
	}
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current T
		found := true
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			found = false
		case err != nil:
			return fmt.Errorf("failed to get %s: %w", key, err)
		default:
			if err := snap.DataTo(&current); err != nil {
				return fmt.Errorf("failed to decode %s: %w", key, err)
			}
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}
		result = next
		return tx.Set(ref, next)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Close releases the underlying client
func (s *FirestoreStore[T]) Close() error {
	return s.client.Close()
}
