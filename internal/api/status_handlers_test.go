package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/progress"
	"github.com/JakeFAU/sitetree-crawler/internal/speed"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeProgress struct {
	summaries []progress.Summary
}

func (f *fakeProgress) Summarize(context.Context) []progress.Summary { return f.summaries }

func newMonitor() *speed.Monitor {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := speed.NewMonitor(clock, speed.Config{})
	clock.now = clock.now.Add(30 * time.Minute)
	m.Record(speed.Sample{Domain: "ex.com", URL: "https://ex.com", StatusCode: 200, Latency: 100 * time.Millisecond, Success: true})
	m.Record(speed.Sample{Domain: "ex.com", URL: "https://ex.com/a", StatusCode: 404, Latency: 300 * time.Millisecond})
	return m
}

func TestStatusHandlerSpeed(t *testing.T) {
	t.Parallel()

	handler := NewStatusHandler(newMonitor(), nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/speed?window=1h&target=10", nil)
	rec := httptest.NewRecorder()

	handler.Speed(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Report speedDTO `json:"report"`
		ETA    *etaDTO  `json:"eta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 2, body.Report.Total)
	require.EqualValues(t, 1, body.Report.Successful)
	require.EqualValues(t, 3600, body.Report.WindowSeconds)
	require.EqualValues(t, 200, body.Report.AverageLatencyMS)
	require.EqualValues(t, 1, body.Report.StatusCodes["404"])
	require.Len(t, body.Report.Domains, 1)
	require.NotNil(t, body.ETA)
	require.True(t, body.ETA.Known)
	require.EqualValues(t, 8, body.ETA.RemainingURLs)
}

func TestStatusHandlerSpeedWithoutTarget(t *testing.T) {
	t.Parallel()

	handler := NewStatusHandler(newMonitor(), nil, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.Speed(rec, httptest.NewRequest(http.MethodGet, "/v1/speed", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "report")
	require.NotContains(t, body, "eta")
}

func TestStatusHandlerSpeedInvalidParams(t *testing.T) {
	t.Parallel()

	handler := NewStatusHandler(newMonitor(), nil, zap.NewNop())
	for _, query := range []string{"window=yesterday", "window=-1h", "target=abc", "target=0"} {
		t.Run(query, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			handler.Speed(rec, httptest.NewRequest(http.MethodGet, "/v1/speed?"+query, nil))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStatusHandlerUnavailable(t *testing.T) {
	t.Parallel()

	handler := NewStatusHandler(nil, nil, nil)

	rec := httptest.NewRecorder()
	handler.Speed(rec, httptest.NewRequest(http.MethodGet, "/v1/speed", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handler.Progress(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusHandlerProgress(t *testing.T) {
	t.Parallel()

	src := &fakeProgress{summaries: []progress.Summary{
		{Domain: "ex.com", VisitedCount: 12, CurrentDepth: 3, PendingCount: 4, Phase: progress.PhaseDepth},
	}}
	handler := NewStatusHandler(nil, src, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.Progress(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Domains []progress.Summary `json:"domains"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Domains, 1)
	require.Equal(t, "ex.com", body.Domains[0].Domain)
	require.Equal(t, 12, body.Domains[0].VisitedCount)
	require.Equal(t, progress.PhaseDepth, body.Domains[0].Phase)
}
