// Package blob is the binary object store holding signed artifacts, keyed
// by path and retrievable through a canonical public URL.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists at the requested path.
var ErrNotFound = errors.New("blob: not found")

// Object is one stored binary with its serving metadata.
type Object struct {
	Path        string
	ContentType string
	Data        []byte
	Public      bool
}

// Store persists objects addressable by path.
type Store interface {
	Put(ctx context.Context, obj Object) error
	Get(ctx context.Context, path string) (Object, error)
	// URL returns the externally retrievable address for a stored path.
	URL(path string) string
}
