package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by a Deleter when the object is already gone.
// Callers treat it as a successful delete.
var ErrObjectNotFound = errors.New("storage: object not found")

// Deleter removes uploaded objects from one storage provider.
type Deleter interface {
	// DeleteObject removes the object stored under key. It must be safe to
	// call repeatedly for the same key.
	DeleteObject(ctx context.Context, key string) error

	// Provider returns the name of the storage provider (e.g., "s3", "fs").
	Provider() string
}
