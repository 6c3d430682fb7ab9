package speed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(cfg Config) (*Monitor, *manualClock) {
	clk := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewMonitor(clk, cfg), clk
}

func TestReportCountsAndRates(t *testing.T) {
	t.Parallel()

	m, clk := newTestMonitor(Config{})
	m.Record(Sample{Domain: "a.com", StatusCode: 200, Latency: 100 * time.Millisecond, Success: true})
	m.Record(Sample{Domain: "a.com", StatusCode: 404, Latency: 300 * time.Millisecond, Success: false})
	m.Record(Sample{Domain: "b.com", StatusCode: 0, Latency: 200 * time.Millisecond, Success: false})
	m.Record(Sample{Domain: "a.com", StatusCode: 200, Latency: 200 * time.Millisecond, Success: true})
	clk.Advance(30 * time.Minute)

	r := m.Report(time.Hour)
	require.EqualValues(t, 4, r.Total)
	require.EqualValues(t, 2, r.Successful)
	require.EqualValues(t, 2, r.Failed)
	require.InDelta(t, 50.0, r.SuccessRate, 1e-9)
	require.Equal(t, 4, r.URLsInWindow)
	require.InDelta(t, 4.0, r.URLsPerHour, 1e-9)
	require.InDelta(t, 8.0, r.OverallURLsPerHour, 1e-9)
	require.Equal(t, 200*time.Millisecond, r.AverageLatency)
	require.Equal(t, map[int]int64{200: 2, 404: 1, 0: 1}, r.StatusCodes)

	require.Len(t, r.Domains, 2)
	require.Equal(t, "a.com", r.Domains[0].Domain)
	require.EqualValues(t, 3, r.Domains[0].Total)
	require.InDelta(t, 200.0/3.0, r.Domains[0].SuccessRate, 1e-9)
	require.Equal(t, 200*time.Millisecond, r.Domains[0].AverageLatency)
}

func TestWindowExcludesOldSamples(t *testing.T) {
	t.Parallel()

	m, clk := newTestMonitor(Config{})
	m.Record(Sample{Domain: "a.com", StatusCode: 200, Success: true})
	clk.Advance(2 * time.Hour)
	m.Record(Sample{Domain: "a.com", StatusCode: 200, Success: true})
	m.Record(Sample{Domain: "a.com", StatusCode: 200, Success: true})

	r := m.Report(time.Hour)
	require.Equal(t, 2, r.URLsInWindow)
	require.InDelta(t, 2.0, r.URLsPerHour, 1e-9)
	require.EqualValues(t, 3, r.Total)
}

func TestRingEvictionKeepsRunningAverage(t *testing.T) {
	t.Parallel()

	m, _ := newTestMonitor(Config{TimestampCapacity: 3, LatencyCapacity: 2, DomainLatencyCapacity: 2})
	for _, ms := range []int{1000, 10, 20} {
		m.Record(Sample{Domain: "a.com", StatusCode: 200, Latency: time.Duration(ms) * time.Millisecond, Success: true})
	}
	r := m.Report(time.Hour)
	require.Equal(t, 15*time.Millisecond, r.AverageLatency)
	require.Equal(t, 15*time.Millisecond, r.Domains[0].AverageLatency)

	m.Record(Sample{Domain: "a.com", StatusCode: 200, Success: true})
	r = m.Report(time.Hour)
	require.Equal(t, 3, r.URLsInWindow, "timestamp ring is capped")
	require.EqualValues(t, 4, r.Total)
}

func TestETA(t *testing.T) {
	t.Parallel()

	m, clk := newTestMonitor(Config{})
	require.False(t, m.ETA(100, time.Hour).Known)

	for range 10 {
		m.Record(Sample{Domain: "a.com", StatusCode: 200, Success: true})
	}
	clk.Advance(time.Minute)

	eta := m.ETA(30, time.Hour)
	require.True(t, eta.Known)
	require.False(t, eta.Completed)
	require.EqualValues(t, 20, eta.RemainingURLs)
	require.InDelta(t, 2.0, eta.HoursNeeded, 1e-9)
	require.Equal(t, 2*time.Hour, eta.Remaining)
	require.Equal(t, clk.Now().Add(2*time.Hour), eta.At)

	done := m.ETA(5, time.Hour)
	require.True(t, done.Known)
	require.True(t, done.Completed)
}

func TestConcurrentRecord(t *testing.T) {
	t.Parallel()

	m, _ := newTestMonitor(Config{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				m.Record(Sample{Domain: "a.com", StatusCode: 200, Latency: time.Millisecond, Success: true})
			}
		}()
	}
	wg.Wait()
	r := m.Report(time.Hour)
	require.EqualValues(t, 4000, r.Total)
	require.Equal(t, time.Millisecond, r.AverageLatency)
}

func TestLogUpdates(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	m, _ := newTestMonitor(Config{})
	m.Record(Sample{Domain: "a.com", StatusCode: 200, Success: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.LogUpdates(ctx, 5*time.Millisecond, time.Hour, zap.New(core))
		close(done)
	}()
	require.Eventually(t, func() bool { return logs.FilterMessage("Speed update").Len() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRecordKeepsTimestampsSorted(t *testing.T) {
	t.Parallel()

	m, clk := newTestMonitor(Config{})
	clk.Advance(10 * time.Minute)
	m.Record(Sample{Domain: "a.com", Success: true})
	clk.Advance(-5 * time.Minute)
	m.Record(Sample{Domain: "a.com", Success: true})
	clk.Advance(time.Minute)
	m.Record(Sample{Domain: "a.com", Success: true})

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Equal(t, 3, m.timestamps.len())
	for i := 1; i < m.timestamps.len(); i++ {
		require.False(t, m.timestamps.at(i).Before(m.timestamps.at(i-1)), "timestamp %d out of order", i)
	}
}

func TestConcurrentRecordKeepsTimestampsSorted(t *testing.T) {
	t.Parallel()

	m, clk := newTestMonitor(Config{TimestampCapacity: 500})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				clk.Advance(time.Millisecond)
				m.Record(Sample{Domain: "a.com", Success: true})
			}
		}()
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 1; i < m.timestamps.len(); i++ {
		require.False(t, m.timestamps.at(i).Before(m.timestamps.at(i-1)))
	}
}
