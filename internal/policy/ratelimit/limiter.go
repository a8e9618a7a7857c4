// Package ratelimit implements per-domain token bucket admission control.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/evidentlabs/rivalscan/internal/metrics"
)

// Limiter manages per-domain rate limits and the per-scan headless budget.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	headlessUsed map[string]int
	defaultRate  rate.Limit
	defaultBurst int
	maxHeadless  int
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS caps requests per second per domain. Zero or negative
	// disables throttling.
	DefaultRPS float64
	// DefaultBurst is the bucket size per domain.
	DefaultBurst int
	// MaxHeadlessPerScan caps headless promotions within one scan. Zero
	// or negative means unlimited.
	MaxHeadlessPerScan int
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
		headlessUsed: make(map[string]int),
		defaultRate:  r,
		defaultBurst: burst,
		maxHeadless:  cfg.MaxHeadlessPerScan,
	}
}

// Wait blocks until a token is available for the URL's domain, respecting
// the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}
	l.mu.Lock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, delay)
	}
	return nil
}

// AllowHeadless grants a headless promotion slot until the scan's budget
// is spent.
func (l *Limiter) AllowHeadless(scanID string, _ string) bool {
	if l.maxHeadless <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.headlessUsed[scanID] >= l.maxHeadless {
		return false
	}
	l.headlessUsed[scanID]++
	return true
}

// ReleaseScan drops per-scan bookkeeping once a scan finishes.
func (l *Limiter) ReleaseScan(scanID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.headlessUsed, scanID)
}
