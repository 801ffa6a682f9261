package port

import (
	"context"
	"time"
)

// SignalStore is the single mutable shared resource of the core: a key-value
// store with per-key TTL, atomic increment and compare-and-swap. All counters
// must be mutated through Increment or CompareAndSwap, never read-modify-write
// at the application layer. Single-key operations are assumed linearizable.
type SignalStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Increment atomically increments the counter at key, applying ttl when
	// the key is created, and returns the new value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// CompareAndSwap replaces the value at key only when it currently equals
	// expected, returning whether the swap happened.
	CompareAndSwap(ctx context.Context, key, expected, replacement string, ttl time.Duration) (bool, error)
}
