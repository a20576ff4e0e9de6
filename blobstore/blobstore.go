// Package blobstore is a small put/get/delete surface over an
// S3-shaped object store, plus presigned GET URLs for the export flow's
// bulk-data delivery. Blobs are immutable once written; a re-Put under
// the same key produces a new object rather than mutating one in place.
package blobstore

import (
	"context"
	"time"
)

// Store is the blob storage abstraction every core component targets.
// Keys follow the "[tenantId/]resourceType/id<sep>uuid.json" shape the
// Hybrid Store builds; the store itself is opaque to that convention
// and just moves bytes under whatever key it is given.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object whose key starts with prefix,
	// used when a tenant or resource type is torn down wholesale.
	DeletePrefix(ctx context.Context, prefix string) error
	// PresignGet returns a time-limited URL a client can use to fetch
	// key directly, without proxying the bytes back through this
	// service. Used by the Export Registry to hand back bulk-data
	// download links.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type notFoundError struct{ key string }

func (e *notFoundError) Error() string { return "blobstore: no such key " + e.key }

// IsNotFound reports whether err indicates a missing key.
func IsNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}
