package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(2, 0, 0)
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout", err: fmt.Errorf("get: %w", timeoutErr{}), want: true},
		{name: "reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), want: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "exhausted", err: timeoutErr{}, attempt: 2, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "client timeout", err: fmt.Errorf("get: %w", context.DeadlineExceeded), want: true},
		{name: "permanent", err: errors.New("unsupported protocol scheme"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, p.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestExponentialRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, time.Second)
	for attempt := range 10 {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
	require.GreaterOrEqual(t, p.Backoff(0), 50*time.Millisecond)
}

func TestSleepHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Sleep(context.Background(), 0))
}

func TestExponentialRetryPolicyRetriesHeaderTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	client := &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 50 * time.Millisecond}}
	resp, err := client.Get(server.URL)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.Error(t, err)
	require.True(t, NewExponentialRetryPolicy(1, 0, 0).ShouldRetry(err, 0))
}
