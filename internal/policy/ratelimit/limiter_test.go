package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitSpacesRequests(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	observed := map[string]time.Duration{}
	l := New(Config{
		Delay: 100 * time.Millisecond,
		Observer: func(domain string, waited time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			observed[domain] += waited
		},
	})
	ctx := context.Background()

	waited, err := l.Wait(ctx, "https://example.com/foo")
	require.NoError(t, err)
	require.Less(t, waited, 50*time.Millisecond)

	start := time.Now()
	_, err = l.Wait(ctx, "https://www.example.com/bar")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, observed, "example.com")
}

func TestLimiterDifferentDomains(t *testing.T) {
	t.Parallel()

	l := New(Config{Delay: time.Second})
	ctx := context.Background()

	_, err := l.Wait(ctx, "https://a.com/1")
	require.NoError(t, err)

	start := time.Now()
	_, err = l.Wait(ctx, "https://b.com/1")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 50*time.Millisecond, "domain b blocked by domain a")
}

func TestLimiterZeroDelayNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for range 100 {
		_, err := l.Wait(context.Background(), "https://a.com/x")
		require.NoError(t, err)
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{Delay: time.Hour})
	_, err := l.Wait(context.Background(), "https://a.com/1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Wait(ctx, "https://a.com/2")
	require.Error(t, err)
}
