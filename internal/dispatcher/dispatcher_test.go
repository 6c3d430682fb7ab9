package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/crawler"
	"github.com/JakeFAU/sitetree-crawler/internal/worker"
)

type fakeSession struct {
	closed atomic.Bool
}

func (s *fakeSession) Fetch(context.Context, string) (crawler.FetchResult, error) {
	return crawler.FetchResult{}, nil
}

func (s *fakeSession) Close() { s.closed.Store(true) }

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (f *fakeFactory) NewSession() crawler.FetchSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{}
	f.sessions = append(f.sessions, s)
	return s
}

type sleepyProcessor struct {
	delay   time.Duration
	mu      sync.Mutex
	seen    []string
	running atomic.Int32
	peak    atomic.Int32
}

func (p *sleepyProcessor) Process(
	_ context.Context,
	_ crawler.FetchSession,
	_ crawler.Pacer,
	item crawler.WorkItem,
) crawler.Outcome {
	n := p.running.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(p.delay)
	p.running.Add(-1)
	p.mu.Lock()
	p.seen = append(p.seen, item.URL)
	p.mu.Unlock()
	return crawler.Outcome{Status: crawler.OutcomeStored, URL: item.URL, Depth: item.Depth}
}

func newPool(t *testing.T, size int, proc worker.Processor, active ActiveObserver) (*Pool, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{}
	workers := make([]*worker.Worker, 0, size)
	for i := range size {
		workers = append(workers, worker.New(i, proc, factory, nil, zap.NewNop()))
	}
	return New(workers, active), factory
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	proc := &sleepyProcessor{delay: 20 * time.Millisecond}
	var active atomic.Int32
	pool, factory := newPool(t, 3, proc, func(delta int) {
		active.Add(int32(delta))
	})

	batch := pool.NewBatch()
	for i := range 12 {
		require.NoError(t, batch.Submit(context.Background(), crawler.WorkItem{URL: fmt.Sprintf("https://ex.com/%d", i)}, nil))
	}
	batch.Wait()
	require.Len(t, proc.seen, 12)
	require.LessOrEqual(t, proc.peak.Load(), int32(3))
	require.Equal(t, 3, pool.Size())

	pool.Close()
	require.Len(t, factory.sessions, 3)
	for _, s := range factory.sessions {
		require.True(t, s.closed.Load())
	}
	require.Zero(t, active.Load())
}

func TestBatchWaitsForNestedSubmissions(t *testing.T) {
	t.Parallel()

	proc := &sleepyProcessor{delay: time.Millisecond}
	pool, _ := newPool(t, 2, proc, nil)
	defer pool.Close()

	var outcomes atomic.Int32
	batch := pool.NewBatch()
	var handle func(crawler.Outcome)
	handle = func(out crawler.Outcome) {
		outcomes.Add(1)
		if out.Depth < 3 {
			for c := range 2 {
				child := crawler.WorkItem{URL: fmt.Sprintf("%s/%d", out.URL, c), Depth: out.Depth + 1}
				assert.NoError(t, batch.Submit(context.Background(), child, handle))
			}
		}
	}
	require.NoError(t, batch.Submit(context.Background(), crawler.WorkItem{URL: "https://ex.com"}, handle))
	batch.Wait()
	require.EqualValues(t, 1+2+4+8, outcomes.Load())
}

func TestSubmitAfterClose(t *testing.T) {
	t.Parallel()

	pool, _ := newPool(t, 1, &sleepyProcessor{}, nil)
	pool.Close()
	pool.Close()
	require.ErrorIs(t, pool.Submit(context.Background(), crawler.WorkItem{URL: "https://ex.com"}, nil), ErrClosed)

	batch := pool.NewBatch()
	require.ErrorIs(t, batch.Submit(context.Background(), crawler.WorkItem{URL: "https://ex.com"}, nil), ErrClosed)
	batch.Wait()
}

func TestCloseDrainsQueuedItems(t *testing.T) {
	t.Parallel()

	proc := &sleepyProcessor{delay: 5 * time.Millisecond}
	pool, _ := newPool(t, 1, proc, nil)
	for i := range 5 {
		require.NoError(t, pool.Submit(context.Background(), crawler.WorkItem{URL: fmt.Sprintf("https://ex.com/%d", i)}, nil))
	}
	pool.Close()
	require.Len(t, proc.seen, 5)
}
