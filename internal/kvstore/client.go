// Package kvstore provides the kernel's persistent key-value contract,
// backed by Redis in production and an in-memory store for tests and for
// runs configured without a KV address.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// Client is the contract every subsystem uses to persist durable state:
// cost ledger counters, doomsday trigger state, and health recovery
// bookkeeping.
type Client interface {
	// Get returns the raw string value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// IncrByFloat atomically adds delta to the float64 stored at key
	// (treating a missing key as zero) and returns the new total.
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns every key matching the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Ping verifies connectivity to the backend within ctx's deadline.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}
