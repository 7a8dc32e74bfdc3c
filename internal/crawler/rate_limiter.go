package crawler

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces detail fetches per host so consecutive page loads stay
// within the target site's informal tolerance.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	delay    time.Duration
}

// NewRateLimiter creates a limiter allowing one request per delay per host.
// A zero delay disables limiting.
func NewRateLimiter(delay time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		delay:    delay,
	}
}

// Wait blocks until a request to urlStr may proceed
func (r *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return err
	}
	return r.limiter(parsedURL.Host).Wait(ctx)
}

// SetHostDelay raises the delay for one host, e.g. from a robots.txt
// Crawl-delay. It never lowers the configured delay. The host keeps its
// limiter, so a pending reservation is not reset by repeated calls.
func (r *RateLimiter) SetHostDelay(host string, delay time.Duration) {
	if delay < r.delay {
		delay = r.delay
	}
	if delay <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	limit := rate.Every(delay)
	if limiter, ok := r.limiters[host]; ok {
		if limiter.Limit() != limit {
			limiter.SetLimit(limit)
		}
		return
	}
	r.limiters[host] = newLimiter(delay)
}

func (r *RateLimiter) limiter(host string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limiter, ok := r.limiters[host]; ok {
		return limiter
	}
	limiter := newLimiter(r.delay)
	r.limiters[host] = limiter
	return limiter
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
