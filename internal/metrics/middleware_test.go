package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByCode(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/speed", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})
	r.Get("/v1/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	missBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))

	tests := []struct {
		path string
		want int
	}{
		{path: "/v1/speed", want: http.StatusOK},
		{path: "/v1/speed", want: http.StatusOK},
		{path: "/v1/missing", want: http.StatusNotFound},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		require.Equal(t, tc.want, rec.Code, tc.path)
	}

	require.InDelta(t, 2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))-okBefore, 0)
	require.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))-missBefore, 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareWithoutRouter(t *testing.T) {
	Init()
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "202"))

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/raw", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "202"))-before, 0)
}
