package quota

import (
	"context"
	"time"
)

// Store is the atomic counter backend. IncrBy must be atomic across
// concurrent callers; that atomicity is what makes reserve-then-settle safe.
type Store interface {
	// IncrBy atomically adds delta (which may be negative) to the counter
	// and returns the new value. ttl > 0 bounds the key's lifetime; stores
	// may apply it only on first touch.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	// Get returns the counter's current value, zero if absent.
	Get(ctx context.Context, key string) (int64, error)
}
