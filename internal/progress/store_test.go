package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitetree-crawler/internal/storage"
	"github.com/JakeFAU/sitetree-crawler/internal/storage/local"
	"github.com/JakeFAU/sitetree-crawler/internal/storage/memory"
	"github.com/JakeFAU/sitetree-crawler/internal/store"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Unix(1700000000, 500000000).UTC()

func newFileStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crawl_progress.json")
	p, err := local.New(local.Config{Path: path})
	require.NoError(t, err)
	return New(p, fixedClock{now: testNow}, nil), path
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newFileStore(t)

	visited := []string{"https://ex.com", "https://ex.com/a", "https://ex.com/b"}
	require.NoError(t, s.Save(ctx, "ex.com", Entry{VisitedURLs: visited, CurrentDepth: 3}))

	got := s.Load(ctx, "ex.com")
	require.ElementsMatch(t, visited, got.VisitedURLs)
	require.Equal(t, 3, got.CurrentDepth)
	require.WithinDuration(t, testNow, got.SavedAt(), time.Millisecond)
}

func TestSaveLeavesOtherDomainsUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := memory.NewSnapshotProvider()
	require.NoError(t, p.Save(ctx, []byte(`{
  "other.org": {"visitedUrls": ["https://other.org/x"], "currentDepth": 2, "timestamp": 1.5, "futureField": true},
  "ex.com": {"visitedUrls": [], "currentDepth": 0, "timestamp": 1}
}`)))
	s := New(p, fixedClock{now: testNow}, nil)

	require.NoError(t, s.Save(ctx, "ex.com", Entry{VisitedURLs: []string{"https://ex.com/a"}, CurrentDepth: 1}))

	raw, err := p.Load(ctx)
	require.NoError(t, err)
	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, true, doc["other.org"]["futureField"])
	require.Equal(t, []any{"https://other.org/x"}, doc["other.org"]["visitedUrls"])
	require.EqualValues(t, 1.5, doc["other.org"]["timestamp"])

	other := s.Load(ctx, "other.org")
	require.Equal(t, 2, other.CurrentDepth)
}

func TestLoadMissingAndMalformed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newFileStore(t)
	require.Equal(t, Entry{}, s.Load(ctx, "absent.com"))

	p := memory.NewSnapshotProvider()
	require.NoError(t, p.Save(ctx, []byte("not json")))
	broken := New(p, fixedClock{now: testNow}, nil)
	require.Equal(t, Entry{}, broken.Load(ctx, "ex.com"))
	require.Empty(t, broken.Summarize(ctx))

	require.NoError(t, p.Save(ctx, []byte(`{"ex.com": "wrong shape", "ok.com": {"visitedUrls": ["https://ok.com"]}}`)))
	require.Equal(t, Entry{}, broken.Load(ctx, "ex.com"))
	summaries := broken.Summarize(ctx)
	require.Len(t, summaries, 1)
	require.Equal(t, "ok.com", summaries[0].Domain)
	require.Equal(t, 1, summaries[0].VisitedCount)
	require.True(t, summaries[0].SavedAt.IsZero())
}

func TestClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newFileStore(t)
	require.NoError(t, s.Save(ctx, "a.com", Entry{VisitedURLs: []string{"https://a.com"}}))
	require.NoError(t, s.Save(ctx, "b.com", Entry{VisitedURLs: []string{"https://b.com"}}))

	require.NoError(t, s.Clear(ctx, "a.com"))
	require.Empty(t, s.Load(ctx, "a.com").VisitedURLs)
	require.Len(t, s.Load(ctx, "b.com").VisitedURLs, 1)
	require.NoError(t, s.Clear(ctx, "missing.com"))

	require.NoError(t, s.Clear(ctx, ""))
	require.Empty(t, s.Summarize(ctx))
}

func TestSummarizeAndPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newFileStore(t)
	require.NoError(t, s.Save(ctx, "b.com", Entry{
		VisitedURLs:  []string{"https://b.com", "https://b.com/1"},
		CurrentDepth: 2,
		Phase:        PhaseDepth,
		Pending:      []PendingItem{{URL: "https://b.com/2", ParentID: "p", Depth: 3}},
	}))
	require.NoError(t, s.Save(ctx, "a.com", Entry{}))

	got := s.Summarize(ctx)
	require.Len(t, got, 2)
	require.Equal(t, "a.com", got[0].Domain)
	require.Equal(t, Summary{
		Domain: "b.com", VisitedCount: 2, CurrentDepth: 2, PendingCount: 1, Phase: PhaseDepth,
		SavedAt: got[1].SavedAt,
	}, got[1])

	entry := s.Load(ctx, "b.com")
	require.Equal(t, []PendingItem{{URL: "https://b.com/2", ParentID: "p", Depth: 3}}, entry.Pending)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newFileStore(t)
	require.NoError(t, s.Save(ctx, "ex.com", Entry{VisitedURLs: []string{"https://ex.com"}, CurrentDepth: 4}))

	added, err := s.Merge(ctx, "ex.com", []string{"https://ex.com", "https://ex.com/new", ""})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	entry := s.Load(ctx, "ex.com")
	require.ElementsMatch(t, []string{"https://ex.com", "https://ex.com/new"}, entry.VisitedURLs)
	require.Equal(t, 4, entry.CurrentDepth)

	added, err = s.Merge(ctx, "fresh.com", []string{"https://fresh.com"})
	require.NoError(t, err)
	require.Equal(t, 1, added)
}

func TestConcurrentSavesKeepEveryDomain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newFileStore(t)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			domain := fmt.Sprintf("d%02d.com", i)
			_ = s.Save(ctx, domain, Entry{VisitedURLs: []string{"https://" + domain}, CurrentDepth: i})
		}(i)
	}
	wg.Wait()
	require.Len(t, s.Summarize(ctx), 20)
}

func TestSavePropagatesProviderErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &storage.MockProvider{}
	p.On("Load", mock.Anything).Return(nil, store.ErrNotFound)
	p.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	s := New(p, fixedClock{now: testNow}, nil)
	err := s.Save(ctx, "ex.com", Entry{})
	require.ErrorContains(t, err, "disk full")
	p.AssertExpectations(t)
}

func TestLoadToleratesProviderErrors(t *testing.T) {
	t.Parallel()

	p := &storage.MockProvider{}
	p.On("Load", mock.Anything).Return(nil, errors.New("permission denied"))
	s := New(p, fixedClock{now: testNow}, nil)
	require.Equal(t, Entry{}, s.Load(context.Background(), "ex.com"))
	require.Equal(t, "mock://snapshot", s.Location())
}

func TestWritersAbortWhenSnapshotUnreadable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backing := memory.NewSnapshotProvider()
	seed := New(backing, fixedClock{now: testNow}, nil)
	require.NoError(t, seed.Save(ctx, "other.org", Entry{VisitedURLs: []string{"https://other.org/x"}}))
	saved, err := backing.Load(ctx)
	require.NoError(t, err)

	p := &storage.MockProvider{}
	p.On("Load", mock.Anything).Return(nil, errors.New("503 backend error")).Once()
	p.On("Load", mock.Anything).Return(saved, nil)
	s := New(p, fixedClock{now: testNow}, nil)

	err = s.Save(ctx, "ex.com", Entry{VisitedURLs: []string{"https://ex.com"}})
	require.ErrorContains(t, err, "503 backend error")
	p.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)

	// The next read succeeds and the untouched domain is still there.
	require.Equal(t, []string{"https://other.org/x"}, s.Load(ctx, "other.org").VisitedURLs)
}

func TestWritersRejectMalformedSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := memory.NewSnapshotProvider()
	require.NoError(t, p.Save(ctx, []byte("not json")))
	s := New(p, fixedClock{now: testNow}, nil)

	require.Error(t, s.Save(ctx, "ex.com", Entry{}))
	_, err := s.Merge(ctx, "ex.com", []string{"https://ex.com"})
	require.Error(t, err)
	require.Error(t, s.Clear(ctx, "ex.com"))

	data, err := p.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "not json", string(data))

	// Clearing every domain needs no read and resets the snapshot.
	require.NoError(t, s.Clear(ctx, ""))
	require.NoError(t, s.Save(ctx, "ex.com", Entry{CurrentDepth: 1}))
	require.Equal(t, 1, s.Load(ctx, "ex.com").CurrentDepth)
}
