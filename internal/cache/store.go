package cache

import (
	"context"
	"time"
)

// Store is the ephemeral cache contract shared across the application. It is
// the first cache tier for counts and the locking substrate for precache
// coordination. A ttl <= 0 stores the value without expiry.
type Store interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value, overwriting any existing entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Add stores a value only when the key is absent, atomically. It reports
	// whether the write happened; false means another holder got there first.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes one or more keys, ignoring missing keys.
	Delete(ctx context.Context, keys ...string) error
}
