package cache

import (
	"context"
)

// Store is the field-oriented key-value backend behind the cache.
//
// Implementations must be safe for concurrent use. The cache never wraps
// a read-revalidate-write sequence in a transaction; concurrent writers to
// one key are last-writer-wins.
type Store interface {
	// Exists reports whether any field is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// MGet returns the values of fields in order. Missing fields are nil.
	MGet(ctx context.Context, key string, fields ...string) ([][]byte, error)

	// MSet upserts every field in values.
	MSet(ctx context.Context, key string, values map[string][]byte) error

	// Update sets a single field.
	Update(ctx context.Context, key, field string, value []byte) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
