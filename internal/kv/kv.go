// Package kv provides the backend-agnostic key-value store that backs the
// sync state, the TTL lock, the rolling history, and the auxiliary file
// index. Keys are flat strings organised by prefix; values are small strings
// (JSON blobs, timestamps, counters).
package kv

import (
	"context"
	"time"
)

// Store is a minimal string key-value contract. Implementations must treat
// an expired entry exactly like a missing one.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value under key with no expiry.
	Set(ctx context.Context, key, value string) error

	// SetWithTTL writes value under key, expiring after ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all live keys with the given prefix, in no particular
	// order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
