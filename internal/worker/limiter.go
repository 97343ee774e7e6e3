package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements per-provider token buckets. Acquire only ever delays
// a caller; it never drops a request.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a new rate limiter. Buckets that were not configured
// with SetProviderRate use perMinute and burst.
func NewLimiter(perMinute float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  PerMinute(perMinute),
		defaultBurst: burst,
	}
}

// PerMinute converts a calls-per-minute budget into a rate.Limit
func PerMinute(calls float64) rate.Limit {
	if calls <= 0 {
		return rate.Inf
	}
	return rate.Limit(calls / 60)
}

// Acquire blocks until a token for provider is available and consumes it.
// It returns the time spent waiting. The only errors are context errors.
func (l *Limiter) Acquire(ctx context.Context, provider string) (time.Duration, error) {
	limiter := l.getLimiter(provider)

	start := time.Now()
	r := limiter.Reserve()
	if !r.OK() {
		// Only possible with a zero burst, which NewLimiter and SetProviderRate prevent
		return 0, context.Canceled
	}

	delay := r.Delay()
	if delay == 0 {
		return 0, nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		r.Cancel()
		return time.Since(start), ctx.Err()
	case <-timer.C:
		return time.Since(start), nil
	}
}

// getLimiter returns the rate limiter for a provider
func (l *Limiter) getLimiter(provider string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[provider]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[provider]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[provider] = limiter

	return limiter
}

// SetProviderRate sets the budget for a specific provider
func (l *Limiter) SetProviderRate(provider string, perMinute float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if burst <= 0 {
		burst = l.defaultBurst
	}

	l.limiters[provider] = rate.NewLimiter(PerMinute(perMinute), burst)
}
