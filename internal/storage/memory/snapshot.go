package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/sitetree-crawler/internal/store"
)

// SnapshotProvider holds the progress snapshot in memory.
type SnapshotProvider struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

// NewSnapshotProvider creates an empty provider.
func NewSnapshotProvider() *SnapshotProvider {
	return &SnapshotProvider{}
}

// Load returns a copy of the stored bytes.
func (p *SnapshotProvider) Load(context.Context) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.data == nil {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), p.data...), nil
}

// Save replaces the stored bytes.
func (p *SnapshotProvider) Save(_ context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = append([]byte(nil), data...)
	p.saves++
	return nil
}

// Location identifies the in-memory snapshot.
func (p *SnapshotProvider) Location() string {
	return "memory://crawl_progress.json"
}

// Saves reports how many times Save succeeded.
func (p *SnapshotProvider) Saves() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.saves
}
