// Package storage defines where the progress snapshot document lives.
// Backends (local file, GCS object, memory) are in subpackages so the
// progress store stays independent of any one of them.
package storage

import "context"

// Provider reads and replaces a single snapshot document.
type Provider interface {
	// Load returns the stored bytes, or store.ErrNotFound when nothing was saved yet.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored bytes atomically.
	Save(ctx context.Context, data []byte) error
	// Location describes the backing object for logs, e.g. file:// or gs:// URIs.
	Location() string
}
