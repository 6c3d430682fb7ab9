// Package collyfetcher implements per-worker fetch sessions using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/crawler"
)

// rawContentTypeHeader carries the server's Content-Type after the charset
// parameter is hidden from colly, which would otherwise transcode the body.
const rawContentTypeHeader = "X-Crawler-Raw-Content-Type"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxRetries is the number of extra attempts for transient network errors.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// MaxBodySize caps the bytes read per response; 0 keeps colly's default.
	MaxBodySize int
}

// Fetcher creates sessions that share configuration but not connections.
type Fetcher struct {
	cfg    Config
	retry  crawler.RetryPolicy
	logger *zap.Logger
}

var _ crawler.SessionFactory = (*Fetcher)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// DefaultTimeout bounds one request when Config.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:    cfg,
		retry:  crawler.NewExponentialRetryPolicy(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		logger: logger,
	}
}

// NewSession returns a session owning its own collector and transport.
func (f *Fetcher) NewSession() crawler.FetchSession {
	transport := newHTTPTransport(f.cfg.Timeout)
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(&rawCharsetTransport{base: transport})
	c.SetRequestTimeout(f.cfg.Timeout)
	return &Session{
		cfg:           f.cfg,
		retry:         f.retry,
		transport:     transport,
		baseCollector: c,
		logger:        f.logger,
	}
}

// Session is one worker's HTTP client. Fetch calls are not concurrent.
type Session struct {
	cfg           Config
	retry         crawler.RetryPolicy
	transport     *http.Transport
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// Close releases idle connections.
func (s *Session) Close() {
	s.transport.CloseIdleConnections()
}

// Fetch performs a GET, retrying transient network errors. A non-2xx status
// is returned with an empty body and a nil error.
func (s *Session) Fetch(ctx context.Context, url string) (crawler.FetchResult, error) {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		res, err := s.fetchOnce(ctx, url)
		if err == nil {
			res.Latency = time.Since(start)
			return res, nil
		}
		// Only the caller's context decides cancellation; request timeouts
		// wrap context.DeadlineExceeded too and stay retryable.
		if ctx.Err() != nil || !s.retry.ShouldRetry(err, attempt) {
			return crawler.FetchResult{Latency: time.Since(start)}, err
		}
		wait := s.retry.Backoff(attempt)
		s.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := crawler.Sleep(ctx, wait); err != nil {
			return crawler.FetchResult{Latency: time.Since(start)}, fmt.Errorf("retry wait: %w", err)
		}
	}
}

func (s *Session) fetchOnce(ctx context.Context, url string) (crawler.FetchResult, error) {
	var (
		result   crawler.FetchResult
		fetchErr error
	)
	collector := s.buildCollector()
	configureCollectorHooks(collector, &result, &fetchErr)
	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return crawler.FetchResult{}, err
	}
	return result, nil
}

func (s *Session) buildCollector() *colly.Collector {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	collector.DetectCharset = false
	if s.cfg.MaxBodySize > 0 {
		collector.MaxBodySize = s.cfg.MaxBodySize
	}
	return collector
}

func configureCollectorHooks(hooks collectorHooks, result *crawler.FetchResult, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		contentType := headers.Get(rawContentTypeHeader)
		if contentType == "" {
			contentType = headers.Get("Content-Type")
		}
		headers.Del(rawContentTypeHeader)
		if contentType != "" {
			headers.Set("Content-Type", contentType)
		}
		*result = crawler.FetchResult{
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Headers:     headers,
		}
		if r.Request != nil && r.Request.URL != nil {
			result.FinalURL = r.Request.URL.String()
		}
		if result.OK() {
			result.Body = append([]byte(nil), r.Body...)
		}
	})

	// With ParseHTTPErrorResponse set, status codes reach OnResponse and
	// OnError only sees transport failures.
	hooks.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// rawCharsetTransport moves the Content-Type header aside and strips its
// charset so colly leaves the body bytes untouched for the decoder.
type rawCharsetTransport struct {
	base http.RoundTripper
}

func (t *rawCharsetTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		resp.Header.Set(rawContentTypeHeader, ct)
		resp.Header.Set("Content-Type", stripCharset(ct))
	}
	return resp, nil
}

func stripCharset(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if i := strings.IndexByte(contentType, ';'); i >= 0 {
			return strings.TrimSpace(contentType[:i])
		}
		return contentType
	}
	return mediaType
}

func newHTTPTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
