package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is not found
var ErrCacheMiss = errors.New("cache miss")

// Cache is a minimal counter store used for fixed-window rate limiting.
// Implementations must make Increment start the window: the first increment
// of a key sets its TTL, later increments leave the TTL untouched.
type Cache interface {
	// Increment adds one to the counter at key and returns the new value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Count returns the current counter value, or ErrCacheMiss.
	Count(ctx context.Context, key string) (int64, error)
	// Delete removes the counter.
	Delete(ctx context.Context, key string) error
}
