package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"golang.org/x/time/rate"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(60, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}
	if limiter.defaultRate != rate.Limit(1) {
		t.Errorf("expected 1 token per second, got %v", limiter.defaultRate)
	}

	l2 := NewLimiter(60, -1)
	if l2.defaultBurst != 1 {
		t.Errorf("expected default burst 1 for negative input, got %d", l2.defaultBurst)
	}

	if PerMinute(0) != rate.Inf {
		t.Error("expected a non-positive budget to mean unlimited")
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(60, 1)
	ctx := context.Background()

	if _, err := limiter.Acquire(ctx, "openai"); err != nil {
		t.Errorf("first acquire failed: %v", err)
	}

	// Burst 1 is spent
	if limiter.getLimiter("openai").Allow() {
		t.Errorf("expected allow to fail (exhausted tokens)")
	}

	// Other providers have their own bucket
	if !limiter.getLimiter("gemini").Allow() {
		t.Errorf("expected allow for other provider")
	}
}

func TestLimiter_SetProviderRate(t *testing.T) {
	limiter := NewLimiter(6000, 10)
	limiter.SetProviderRate("anthropic", 1, 1)

	if !limiter.getLimiter("anthropic").Allow() {
		t.Errorf("first request should pass")
	}
	if limiter.getLimiter("anthropic").Allow() {
		t.Errorf("second request should fail")
	}
	if !limiter.getLimiter("ollama").Allow() {
		t.Errorf("other provider should pass")
	}
}

func TestLimiter_DelaysNeverDrops(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// 60 per minute with burst 1: one call per second
		limiter := NewLimiter(60, 1)
		ctx := context.Background()
		start := time.Now()

		var mu sync.Mutex
		var stamps []time.Duration
		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := limiter.Acquire(ctx, "openai"); err != nil {
					t.Errorf("acquire must not fail: %v", err)
					return
				}
				mu.Lock()
				stamps = append(stamps, time.Since(start))
				mu.Unlock()
			}()
		}
		wg.Wait()

		if len(stamps) != 5 {
			t.Fatalf("expected 5 granted calls, got %d", len(stamps))
		}
		if elapsed := time.Since(start); elapsed != 4*time.Second {
			t.Errorf("expected 4s to grant 5 calls at 1/s, got %v", elapsed)
		}

		// No one-second window holds more than one grant after the burst
		for i, a := range stamps {
			for j, b := range stamps {
				if i != j && a == b {
					t.Errorf("two calls granted at the same instant %v", a)
				}
			}
		}
	})
}

func TestLimiter_AcquireReportsWait(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		limiter := NewLimiter(30, 1) // one token every 2s
		ctx := context.Background()

		if waited, _ := limiter.Acquire(ctx, "gemini"); waited != 0 {
			t.Errorf("expected no wait for the first token, got %v", waited)
		}
		waited, err := limiter.Acquire(ctx, "gemini")
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		if waited != 2*time.Second {
			t.Errorf("expected 2s wait, got %v", waited)
		}
	})
}

func TestLimiter_AcquireCancelled(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		limiter := NewLimiter(1, 1)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if _, err := limiter.Acquire(ctx, "ollama"); err != nil {
			t.Fatalf("first acquire failed: %v", err)
		}
		_, err := limiter.Acquire(ctx, "ollama")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}
