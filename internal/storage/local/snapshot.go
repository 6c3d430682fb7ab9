// Package local stores the progress snapshot as a file on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/sitetree-crawler/internal/store"
)

// Config captures the parameters for the local snapshot file.
type Config struct {
	// Path is the snapshot file, e.g. crawl_progress.json.
	Path string `mapstructure:"path" yaml:"path"`
}

// FileProvider keeps the snapshot in one file and replaces it via rename.
type FileProvider struct {
	path string
}

// New validates that the snapshot directory exists (creating it if needed) and is writable.
func New(cfg Config) (*FileProvider, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	dir := filepath.Dir(cfg.Path)

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat snapshot directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("snapshot directory path is not a directory")
	}

	probe, err := os.CreateTemp(dir, ".writable_test")
	if err != nil {
		return nil, fmt.Errorf("snapshot directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &FileProvider{path: cfg.Path}, nil
}

// Load reads the snapshot file.
func (p *FileProvider) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Save writes data to a temporary sibling and renames it over the snapshot,
// so readers never observe a half-written file.
func (p *FileProvider) Save(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		cleanup()
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Location returns a file:// URI for the snapshot.
func (p *FileProvider) Location() string {
	return "file://" + p.path
}
