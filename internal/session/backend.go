package session

import "context"

// Backend is the durable key-value primitive the disk tier of the
// session store is built on. Keys are normalized repository paths.
type Backend interface {
	// Get decodes the stored value for key into dst.
	// If key does not exist, Get returns ErrNotExist.
	Get(ctx context.Context, key string, dst *StoredRebaseSession) error

	// Put writes value for key, replacing any existing value.
	Put(ctx context.Context, key string, value StoredRebaseSession) error

	// Delete removes key. It is not an error if key does not exist.
	Delete(ctx context.Context, key string) error

	// Keys lists every key currently stored.
	Keys(ctx context.Context) ([]string, error)
}
