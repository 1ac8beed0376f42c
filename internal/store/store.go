// ABOUTME: Key-value store boundary backing the service registry.
// ABOUTME: Defines the Get/Put interface, sentinel errors, and the optional Scanner upgrade.

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("key not found")

// Store is the replicated key-value boundary the registry writes through.
// Implementations provide eventual consistency per key; concurrent Puts to
// the same key are serialized in whatever order the backend applies them.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value at key, overwriting any prior value.
	Put(ctx context.Context, key string, value []byte) error
}

// Scanner is an optional upgrade interface for stores that can enumerate
// keys by prefix. The registry's index reconciliation requires it.
type Scanner interface {
	// Keys returns all keys with the given prefix, in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
