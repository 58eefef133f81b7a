package cache

import (
	"context"
)

// Cache is the key-value backend that holds cache slots. Slot values are
// opaque to the backend: the state package decides what they are.
type Cache[T any] interface {
	// Get retrieves a value from the cache.
	// Returns the value, whether it was found, and any error.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a value, replacing any existing value for the key.
	Set(ctx context.Context, key string, value T) error

	// Invalidate removes a value from the cache.
	Invalidate(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}
