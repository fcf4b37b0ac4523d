// Package ratelimit implements a per-host token bucket that spaces out
// requests to the same publisher.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/trizel-monitor/internal/metrics"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. A non-positive RPS disables limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

// Fetcher throttles another monitor.Fetcher per host.
type Fetcher struct {
	next    monitor.Fetcher
	limiter *Limiter
	clock   monitor.Clock
}

// NewFetcher wraps next with limiter.
func NewFetcher(next monitor.Fetcher, limiter *Limiter, clock monitor.Clock) *Fetcher {
	return &Fetcher{next: next, limiter: limiter, clock: clock}
}

// Fetch waits for the host's token and delegates. A wait cut short by the
// context is reported as a transport failure without touching the network.
func (f *Fetcher) Fetch(ctx context.Context, sourceID, rawURL string, timeout time.Duration) monitor.FetchOutcome {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return monitor.FetchOutcome{
			SourceID:     sourceID,
			URL:          rawURL,
			RetrievedUTC: monitor.Timestamp(f.clock.Now()),
			Error: &monitor.FetchError{
				Kind:    monitor.ErrorKindTransport,
				Message: err.Error(),
				URL:     rawURL,
			},
		}
	}
	return f.next.Fetch(ctx, sourceID, rawURL, timeout)
}
