// Package blobstore provides the versioned content store backing script and
// mapping artifacts. Every write produces a new immutable version addressed
// by an opaque version id; reads may target a specific version or the latest.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound indicates that no blob exists for the requested key or version.
var ErrNotFound = errors.New("blobstore: blob not found")

// Store is the pluggable backend contract for versioned blob storage.
//
// Keys are hierarchical strings ("/" separated); values are opaque bytes.
// Put never overwrites: it appends a new version and returns its id. Get with
// an empty version id resolves the most recent version of the key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string, versionID string) ([]byte, error)
}
