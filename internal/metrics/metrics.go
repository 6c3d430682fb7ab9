// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/sitetree-crawler/internal/speed"
)

var (
	crawlerPagesTotal           *prometheus.CounterVec
	crawlerFetchDurationSeconds *prometheus.HistogramVec
	crawlerNodesUpsertedTotal   *prometheus.CounterVec
	crawlerPacingDelaySeconds   *prometheus.HistogramVec
	crawlerCheckpointsTotal     *prometheus.CounterVec
	crawlerActiveWorkers        prometheus.Gauge
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages processed, labeled by domain and status class.",
			},
			[]string{"domain", "status_class"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by domain.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerNodesUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_nodes_upserted_total",
				Help: "Total number of node upserts, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerPacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_pacing_delay_seconds",
				Help:    "Histogram of per-domain pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerCheckpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_checkpoints_total",
				Help: "Total number of progress checkpoints saved, labeled by domain.",
			},
			[]string{"domain"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a URL.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests to the status server, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// StatusClass buckets an HTTP status code; 0 means the fetch failed.
func StatusClass(code int) string {
	switch {
	case code <= 0:
		return "error"
	case code < 600:
		return strconv.Itoa(code/100) + "xx"
	default:
		return "other"
	}
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one processed page and its fetch latency.
func ObservePage(domain string, statusCode int, latency time.Duration) {
	site := SanitizeSite(domain)
	crawlerPagesTotal.WithLabelValues(site, StatusClass(statusCode)).Inc()
	if latency > 0 {
		crawlerFetchDurationSeconds.WithLabelValues(site).Observe(latency.Seconds())
	}
}

// ObserveUpsert counts one node upsert by result.
func ObserveUpsert(result string) {
	crawlerNodesUpsertedTotal.WithLabelValues(result).Inc()
}

// ObservePacingDelay records how long a worker waited before a request.
func ObservePacingDelay(domain string, waited time.Duration) {
	crawlerPacingDelaySeconds.WithLabelValues(SanitizeSite(domain)).Observe(waited.Seconds())
}

// ObserveCheckpoint counts one saved checkpoint.
func ObserveCheckpoint(domain string) {
	crawlerCheckpointsTotal.WithLabelValues(SanitizeSite(domain)).Inc()
}

// AddActiveWorkers moves the active workers gauge by delta.
func AddActiveWorkers(delta int) {
	crawlerActiveWorkers.Add(float64(delta))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Recorder forwards engine observations to the package collectors.
type Recorder struct{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// RecordPage implements crawler.Recorder.
func (Recorder) RecordPage(s speed.Sample) { ObservePage(s.Domain, s.StatusCode, s.Latency) }

// RecordUpsert implements crawler.Recorder.
func (Recorder) RecordUpsert(result string) { ObserveUpsert(result) }

// ObservePacing records a pacing wait.
func (Recorder) ObservePacing(domain string, waited time.Duration) {
	ObservePacingDelay(domain, waited)
}

// IncCheckpoint counts a saved checkpoint.
func (Recorder) IncCheckpoint(domain string) { ObserveCheckpoint(domain) }

// AddActiveWorkers moves the active workers gauge.
func (Recorder) AddActiveWorkers(delta int) { AddActiveWorkers(delta) }
