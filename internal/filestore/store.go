// Package filestore defines the unified interface for object storage
// backends. The migrate job publishes run reports through it.
//
// Callers depend only on this package — never on a specific provider
// package:
//
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	info, err := store.Put(ctx, "migrate-reports", "runs/2025-01-12/abc.json", body, size, "application/json")
package filestore

import (
	"context"
	"io"
	"time"
)

// Store is the write-side contract all object storage providers
// implement.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error

	// EnsureBucket creates the bucket if it does not exist yet. Losing a
	// create race with a concurrent run is not an error.
	EnsureBucket(ctx context.Context, bucket string) error

	// Put uploads body as the object at key inside bucket. size must be
	// the exact byte length of body.
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (*ObjectInfo, error)

	// Stat returns metadata for the object at key inside bucket without
	// downloading its content.
	Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// PresignGet returns a time-limited URL that allows downloading the
	// object at key inside bucket without credentials.
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// ObjectInfo describes a single stored object.
type ObjectInfo struct {
	// Key is the full object path within the bucket.
	Key string

	// Size is the byte size of the object. -1 if unknown.
	Size int64

	// ContentType is the MIME type (e.g. "application/json").
	ContentType string

	// ETag is the object's entity tag, as returned by the backend.
	ETag string

	// LastModified is when the object was last written.
	LastModified time.Time
}
