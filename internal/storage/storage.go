// Package storage archives benchmark results in object storage.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage is a flat key/value object store. Implementations include
// S3 and the local filesystem.
type ObjectStorage interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the object at key. It returns ErrObjectNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object at key; deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error

	// List returns every key under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}
