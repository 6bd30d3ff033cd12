package cache

import (
	"context"
	"time"
)

// Store is a TTL key/value cache shared by the search and suggestion services.
// Implemented by the in-memory cache (default) and the Redis cache.
//
// A ttl of 0 passed to Set means the store's default TTL. A negative ttl
// removes the key instead of storing it.
type Store[V any] interface {
	// Get returns the value and true if key is present and unexpired.
	// A miss is (zero, false, nil); err is reserved for backend failures.
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Clock returns the current time. Swappable in tests.
type Clock func() time.Time
