// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by BlobStore.Get when the key holds no value.
var ErrNotFound = errors.New("blob not found")

// BlobStore is an opaque key-value store for serialized state.
type BlobStore interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies the backing medium is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing medium.
	Close() error
}
