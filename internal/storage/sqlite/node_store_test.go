package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iduuid "github.com/JakeFAU/sitetree-crawler/internal/id/uuid"
	"github.com/JakeFAU/sitetree-crawler/internal/store"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func openTestStore(t *testing.T, table string) *NodeStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodes.db")
	s, err := Open(context.Background(), path, table, iduuid.New(), &stepClock{now: time.Unix(1700000000, 0)})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestUpsertDedupWithUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, "")
	require.NoError(t, s.EnsureSchema(ctx))

	root, err := s.UpsertNode(ctx, store.NodeInput{URL: "https://ex.com", Title: "Root", StatusCode: 200}, true)
	require.NoError(t, err)

	first, err := s.UpsertNode(ctx, store.NodeInput{
		URL: "https://ex.com/a", ParentID: &root, Title: "First", Breadcrumb: "Home > A", StatusCode: 200,
	}, true)
	require.NoError(t, err)

	other, err := s.UpsertNode(ctx, store.NodeInput{URL: "https://ex.com/b", ParentID: &root, StatusCode: 200}, true)
	require.NoError(t, err)

	second, err := s.UpsertNode(ctx, store.NodeInput{
		URL: "https://www.ex.com/a/", ParentID: &other, Title: "Second", Breadcrumb: "Home > A2", StatusCode: 500,
	}, true)
	require.NoError(t, err)
	require.Equal(t, first, second)

	node, err := s.GetByURL(ctx, "https://ex.com/a")
	require.NoError(t, err)
	require.Equal(t, first, node.ID)
	require.NotNil(t, node.ParentID)
	require.Equal(t, root, *node.ParentID)
	require.Equal(t, "Second", node.Title)
	require.Equal(t, "Home > A2", node.Breadcrumb)
	require.Equal(t, 500, node.StatusCode)
	require.True(t, node.UpdatedAt.After(node.CrawledAt))

	rootNode, err := s.GetByURL(ctx, "https://ex.com")
	require.NoError(t, err)
	require.Nil(t, rootNode.ParentID)
}

func TestUpsertWithoutUpdateFallsBackOnConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, "")
	require.NoError(t, s.EnsureSchema(ctx))

	first, err := s.UpsertNode(ctx, store.NodeInput{URL: "https://ex.com/x", Title: "one", StatusCode: 200}, false)
	require.NoError(t, err)
	second, err := s.UpsertNode(ctx, store.NodeInput{URL: "https://ex.com/x", Title: "two", StatusCode: 301}, false)
	require.NoError(t, err)
	require.Equal(t, first, second)

	node, err := s.GetByURL(ctx, "https://ex.com/x")
	require.NoError(t, err)
	require.Equal(t, "two", node.Title)
}

func TestConcurrentUpsertsCollapse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, "")
	require.NoError(t, s.EnsureSchema(ctx))

	const workers = 16
	ids := make([]uuid.UUID, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.UpsertNode(ctx, store.NodeInput{URL: "https://ex.com/race", StatusCode: 200}, i%2 == 0)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	urls, err := s.URLsForDomain(ctx, "ex.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://ex.com/race"}, urls)
}

func TestURLsForDomain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, "")
	require.NoError(t, s.EnsureSchema(ctx))
	for _, u := range []string{"https://ex.com/b", "https://sub.ex.com/a", "https://notex.com/c", "https://other.org/ex.com"} {
		_, err := s.UpsertNode(ctx, store.NodeInput{URL: u, StatusCode: 200}, true)
		require.NoError(t, err)
	}
	urls, err := s.URLsForDomain(ctx, "ex.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://ex.com/b", "https://sub.ex.com/a"}, urls)

	_, err = s.GetByURL(ctx, "https://ex.com/missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDedupeURLsOnLegacyTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, "legacy_nodes")
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE legacy_nodes (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	parent_id TEXT,
	breadcrumb TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	crawled_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`)
	require.NoError(t, err)

	rows := []struct {
		id, url, parent string
		at              int64
	}{
		{"00000000-0000-7000-8000-000000000001", "https://ex.com/a", "", 1},
		{"00000000-0000-7000-8000-000000000002", "https://ex.com/a", "", 2},
		{"00000000-0000-7000-8000-000000000003", "https://ex.com/a", "", 3},
		{"00000000-0000-7000-8000-000000000004", "https://ex.com/c", "00000000-0000-7000-8000-000000000003", 4},
		{"00000000-0000-7000-8000-000000000005", "https://ex.com/b", "", 5},
	}
	for _, r := range rows {
		var parent any
		if r.parent != "" {
			parent = r.parent
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO legacy_nodes (id, url, parent_id, crawled_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			r.id, r.url, parent, r.at, r.at)
		require.NoError(t, err)
	}

	removed, err := s.DedupeURLs(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	kept, err := s.GetByURL(ctx, "https://ex.com/a")
	require.NoError(t, err)
	require.Equal(t, "00000000-0000-7000-8000-000000000001", kept.ID.String())

	child, err := s.GetByURL(ctx, "https://ex.com/c")
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	require.Equal(t, kept.ID, *child.ParentID)

	again, err := s.DedupeURLs(ctx)
	require.NoError(t, err)
	require.Zero(t, again)
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", "", iduuid.New(), &stepClock{})
	require.Error(t, err)
	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "x.db"), "drop table;", iduuid.New(), &stepClock{})
	require.ErrorContains(t, err, "invalid table name")
}
