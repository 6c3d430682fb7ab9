// Package ratelimit paces requests with a fixed per-domain delay.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/sitetree-crawler/internal/urlcanon"
)

// DelayObserver receives the time spent waiting for a token.
type DelayObserver func(domain string, waited time.Duration)

// Limiter spaces consecutive requests to the same domain by at least Delay.
// Each worker owns one Limiter, so the delay applies per worker.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	observe  DelayObserver
}

// Config holds rate limiter configuration.
type Config struct {
	// Delay is the minimum spacing between requests; zero disables pacing.
	Delay time.Duration
	// Observer, when set, is called after every wait that blocked.
	Observer DelayObserver
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		observe:  cfg.Observer,
	}
}

// Wait blocks until the next request to url's domain may start and returns how long it waited.
func (l *Limiter) Wait(ctx context.Context, url string) (time.Duration, error) {
	domain := urlcanon.Host(url)
	if domain == "" {
		domain = "unknown"
	}
	l.mu.Lock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.limit, 1)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
	}
	waited := time.Since(start)
	if l.observe != nil && waited > time.Millisecond {
		l.observe(domain, waited)
	}
	return waited, nil
}
