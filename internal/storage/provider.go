// Package storage defines the interface for a blob storage provider.
// This abstraction keeps the image pipeline independent of a specific
// backend (Google Cloud Storage, the local filesystem, or memory).
package storage

import (
	"context"
	"io"
)

// Provider is the common interface for a blob storage backend.
type Provider interface {
	// Put writes data under the given object key with upsert semantics:
	// an existing object at the key is overwritten.
	Put(ctx context.Context, key string, contentType string, data io.Reader) error
	// Delete removes the object at key. Deleting a missing object is
	// not an error.
	Delete(ctx context.Context, key string) error
	// PublicURL derives the stable public URL for key. Pure, no I/O.
	PublicURL(key string) string
}
