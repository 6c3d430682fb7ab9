// Package local_test tests the local snapshot file provider.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitetree-crawler/internal/storage/local"
	"github.com/JakeFAU/sitetree-crawler/internal/store"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		p, err := local.New(local.Config{Path: filepath.Join(t.TempDir(), "nested", "progress.json")})
		require.NoError(t, err)
		assert.NotNil(t, p)
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("ParentIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Path: filepath.Join(file, "progress.json")})
		assert.Error(t, err)
	})

	t.Run("DirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		dir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(dir, 0o500))
		t.Cleanup(func() {
			// #nosec G302 -- reverting permissions to allow cleanup.
			_ = os.Chmod(dir, 0o700)
		})
		_, err := local.New(local.Config{Path: filepath.Join(dir, "progress.json")})
		assert.Error(t, err)
	})
}

func TestLoadSave(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crawl_progress.json")
	p, err := local.New(local.Config{Path: path})
	require.NoError(t, err)

	_, err = p.Load(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, p.Save(ctx, []byte(`{"a":1}`)))
	require.NoError(t, p.Save(ctx, []byte(`{"b":2}`)))

	data, err := p.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(data))
	assert.Equal(t, "file://"+path, p.Location())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}
