// Package blob provides a thin key-value interface over persistent object
// storage. Keys are logical paths ("macro/structure/foo.json"); backends are
// a NATS JetStream object store for deployment and an in-memory store for
// tests and local runs.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("blob: not found")

// Store is the key-value contract every archive component builds on.
type Store interface {
	// Get returns the object stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores data under key, silently overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes the object under key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists probes for key without fetching the object body.
	Exists(ctx context.Context, key string) (bool, error)
}
