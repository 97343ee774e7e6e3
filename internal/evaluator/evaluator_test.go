package evaluator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sejmbot/detektor/internal/cache"
	"github.com/sejmbot/detektor/internal/llm"
	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/retry"
	"github.com/sejmbot/detektor/internal/worker"
)

type fakeProvider struct {
	name    string
	respond func(ctx context.Context, req llm.EvaluateRequest) (*model.EvaluationResult, error)

	down bool

	mu     sync.Mutex
	calls  int
	checks int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) IsAvailable(ctx context.Context) bool {
	p.mu.Lock()
	p.checks++
	p.mu.Unlock()
	return !p.down
}

func (p *fakeProvider) Checks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checks
}

func (p *fakeProvider) Evaluate(ctx context.Context, req llm.EvaluateRequest) (*model.EvaluationResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.respond(ctx, req)
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func funny(name string) *fakeProvider {
	return &fakeProvider{name: name, respond: func(ctx context.Context, req llm.EvaluateRequest) (*model.EvaluationResult, error) {
		return &model.EvaluationResult{IsFunny: true, Confidence: 0.9, Reason: "ironia"}, nil
	}}
}

func failing(name string, errType llm.ErrorType) *fakeProvider {
	return &fakeProvider{name: name, respond: func(ctx context.Context, req llm.EvaluateRequest) (*model.EvaluationResult, error) {
		return nil, llm.NewProviderError(name, errType, 0, "boom", nil)
	}}
}

func fragment(fp, text string) *model.Fragment {
	return &model.Fragment{Fingerprint: fp, Text: text, StatementID: fp, Confidence: 0.5}
}

var testPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

func newEvaluator(t *testing.T, c *cache.EvaluationCache, workers int, providers ...llm.Provider) *Evaluator {
	t.Helper()
	if c == nil {
		c = cache.New(context.Background(), nil, cache.Options{})
	}
	e, err := New(providers, c, worker.NewLimiter(60000, 100), Options{Policy: testPolicy, Workers: workers})
	require.NoError(t, err)
	return e
}

func TestEvaluate_FallbackAfterExhaustion(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		primary := failing("ollama", llm.ErrorTypeTimeout)
		secondary := funny("gemini")
		e := newEvaluator(t, nil, 1, primary, secondary)

		f := fragment("fp-1", "to jest cyrk")
		start := time.Now()
		stats, err := e.Evaluate(context.Background(), []*model.Fragment{f})
		require.NoError(t, err)

		assert.Equal(t, 7*time.Second, time.Since(start), "1s + 2s between attempts, 4s before falling back")
		assert.Equal(t, 3, primary.Calls())
		assert.Equal(t, 1, secondary.Calls())

		require.NotNil(t, f.Evaluation)
		assert.Equal(t, "gemini", f.Evaluation.Provider)
		assert.False(t, f.Evaluation.Cached)
		assert.False(t, f.Unevaluated)

		assert.Equal(t, 1, stats.Evaluated)
		assert.Equal(t, 1, stats.Funny)
		assert.Equal(t, 2, stats.Retries)
		assert.Equal(t, 1, stats.Fallbacks)
		assert.Equal(t, 7*time.Second, stats.BackoffWait)
		assert.Equal(t, map[string]int{"ollama": 3, "gemini": 1}, stats.Calls)
		assert.Equal(t, map[string]int{"ollama": 3}, stats.CallFailures)
		assert.Equal(t, map[string]int{"gemini": 1}, stats.Answered)
	})
}

func TestEvaluate_NonRetryableSkipsCooldown(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		primary := failing("openai", llm.ErrorTypeBadRequest)
		secondary := funny("anthropic")
		e := newEvaluator(t, nil, 1, primary, secondary)

		start := time.Now()
		f := fragment("fp-1", "x")
		_, err := e.Evaluate(context.Background(), []*model.Fragment{f})
		require.NoError(t, err)

		assert.Zero(t, time.Since(start))
		assert.Equal(t, 1, primary.Calls())
		require.NotNil(t, f.Evaluation)
		assert.Equal(t, "anthropic", f.Evaluation.Provider)
	})
}

func TestEvaluate_DuplicateFingerprintCalledOnce(t *testing.T) {
	p := funny("ollama")
	e := newEvaluator(t, nil, 4, p)

	a := fragment("same", "Panie marszałku, to jest cyrk")
	b := fragment("same", "panie marszałku,  to jest CYRK")
	b.StatementID = "other"
	c := fragment("different", "kabaret")

	stats, err := e.Evaluate(context.Background(), []*model.Fragment{a, b, c})
	require.NoError(t, err)

	assert.Equal(t, 2, p.Calls())
	require.NotNil(t, a.Evaluation)
	require.NotNil(t, b.Evaluation)
	assert.Equal(t, *a.Evaluation, *b.Evaluation)
	assert.NotSame(t, a.Evaluation, b.Evaluation)
	assert.Equal(t, 3, stats.Fragments)
	assert.Equal(t, 2, stats.Fingerprints)
	assert.Equal(t, 2, stats.Evaluated)
}

func TestEvaluate_CacheHit(t *testing.T) {
	c := cache.New(context.Background(), nil, cache.Options{})
	c.Commit(context.Background(), "known", model.EvaluationResult{IsFunny: true, Confidence: 0.7, Provider: "openai"})

	p := funny("ollama")
	e := newEvaluator(t, c, 1, p)

	f := fragment("known", "x")
	stats, err := e.Evaluate(context.Background(), []*model.Fragment{f})
	require.NoError(t, err)

	assert.Zero(t, p.Calls())
	require.NotNil(t, f.Evaluation)
	assert.True(t, f.Evaluation.Cached)
	assert.Equal(t, "openai", f.Evaluation.Provider)
	assert.Equal(t, 1, stats.CacheHits)
	assert.Zero(t, stats.TotalCalls())
}

func TestEvaluate_FailedFragmentDoesNotAbortBatch(t *testing.T) {
	p := &fakeProvider{name: "ollama", respond: func(ctx context.Context, req llm.EvaluateRequest) (*model.EvaluationResult, error) {
		if req.Text == "zepsuty" {
			return nil, llm.NewProviderError("ollama", llm.ErrorTypeContentPolicy, 400, "blocked", nil)
		}
		return &model.EvaluationResult{Confidence: 0.2, Reason: "nudne"}, nil
	}}
	c := cache.New(context.Background(), nil, cache.Options{})
	e := newEvaluator(t, c, 1, p)

	bad := fragment("bad", "zepsuty")
	bad.Confidence = 0.8
	good := fragment("good", "dobry")

	stats, err := e.Evaluate(context.Background(), []*model.Fragment{bad, good})
	require.NoError(t, err)

	assert.True(t, bad.Unevaluated)
	assert.Nil(t, bad.Evaluation)
	assert.Equal(t, 0.8, bad.Confidence, "heuristic confidence is kept")
	require.NotNil(t, good.Evaluation)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Evaluated)

	_, cached := c.Lookup("bad")
	assert.False(t, cached, "failures are not cached")
	_, cached = c.Lookup("good")
	assert.True(t, cached)
}

func TestEvaluate_AuthFailureAbortsRun(t *testing.T) {
	primary := failing("openai", llm.ErrorTypeAuthentication)
	secondary := funny("gemini")
	e := newEvaluator(t, nil, 1, primary, secondary)

	fragments := []*model.Fragment{fragment("a", "a"), fragment("b", "b"), fragment("c", "c")}
	stats, err := e.Evaluate(context.Background(), fragments)

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrProviderAuth)
	assert.Equal(t, 1, primary.Calls(), "credentials are not retried")
	assert.Zero(t, secondary.Calls(), "no fallback after an auth failure")
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Abandoned)
	assert.Nil(t, fragments[1].Evaluation)
	assert.False(t, fragments[1].Unevaluated)
}

func TestEvaluate_RateLimited(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := funny("gemini")
		limiter := worker.NewLimiter(60000, 100)
		limiter.SetProviderRate("gemini", 60, 1)

		e, err := New([]llm.Provider{p}, nil, limiter, Options{Policy: testPolicy})
		require.NoError(t, err)

		start := time.Now()
		stats, err := e.Evaluate(context.Background(), []*model.Fragment{
			fragment("a", "a"), fragment("b", "b"), fragment("c", "c"),
		})
		require.NoError(t, err)

		assert.Equal(t, 2*time.Second, time.Since(start))
		assert.Equal(t, 2*time.Second, stats.RateLimitWait)
		assert.Equal(t, 2*time.Second, stats.TotalWait())
		assert.Equal(t, 3, p.Calls())
	})
}

func TestEvaluate_ConcurrentCallersShareOneCall(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := &fakeProvider{name: "ollama", respond: func(ctx context.Context, req llm.EvaluateRequest) (*model.EvaluationResult, error) {
			time.Sleep(time.Second)
			return &model.EvaluationResult{IsFunny: true, Confidence: 0.6}, nil
		}}
		e := newEvaluator(t, nil, 1, p)

		fragments := []*model.Fragment{fragment("shared", "x"), fragment("shared", "x")}
		var wg sync.WaitGroup
		for _, f := range fragments {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.Evaluate(context.Background(), []*model.Fragment{f})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, p.Calls())
		for _, f := range fragments {
			require.NotNil(t, f.Evaluation)
			assert.True(t, f.Evaluation.IsFunny)
		}
	})
}

func TestEvaluate_CancelledRunAbandonsFragment(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := &fakeProvider{name: "ollama", respond: func(ctx context.Context, req llm.EvaluateRequest) (*model.EvaluationResult, error) {
			<-ctx.Done()
			return nil, llm.NewProviderError("ollama", llm.ErrorTypeUnknown, 0, "cancelled", ctx.Err())
		}}
		c := cache.New(context.Background(), nil, cache.Options{})
		e := newEvaluator(t, c, 1, p)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		f := fragment("slow", "x")
		stats, err := e.Evaluate(ctx, []*model.Fragment{f})

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Nil(t, f.Evaluation)
		assert.False(t, f.Unevaluated)
		assert.Equal(t, 1, stats.Abandoned)

		_, owner := c.Reserve("slow")
		assert.True(t, owner, "an abandoned reservation is released")
	})
}

func TestEvaluateOne(t *testing.T) {
	e := newEvaluator(t, nil, 1, failing("ollama", llm.ErrorTypeBadRequest), funny("gemini"))

	f := fragment("one", "x")
	res, err := e.EvaluateOne(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "gemini", res.Provider)
	assert.Nil(t, f.Evaluation)

	e = newEvaluator(t, nil, 1, failing("ollama", llm.ErrorTypeBadRequest))
	_, err = e.EvaluateOne(context.Background(), fragment("two", "x"))
	assert.ErrorIs(t, err, model.ErrProvidersExhausted)
}

func TestNew_RequiresProviders(t *testing.T) {
	_, err := New(nil, nil, nil, Options{})
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "cache_hit", StateCacheHit.String())
	assert.Equal(t, "fallback", StateFallback.String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRetrying.Terminal())
}

func TestStatsMerge(t *testing.T) {
	var total Stats
	total.Merge(Stats{Evaluated: 2, Calls: map[string]int{"ollama": 3}, RateLimitWait: time.Second})
	total.Merge(Stats{CacheHits: 1, Calls: map[string]int{"ollama": 1, "gemini": 2}, BackoffWait: time.Second})

	assert.Equal(t, 2, total.Evaluated)
	assert.Equal(t, 1, total.CacheHits)
	assert.Equal(t, map[string]int{"ollama": 4, "gemini": 2}, total.Calls)
	assert.Equal(t, 6, total.TotalCalls())
	assert.Equal(t, 2*time.Second, total.TotalWait())
}

func TestEvaluate_UnreachableProviderLeftOutOfChain(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		primary := failing("ollama", llm.ErrorTypeNetwork)
		primary.down = true
		secondary := funny("gemini")
		e := newEvaluator(t, nil, 1, primary, secondary)

		fragments := []*model.Fragment{
			fragment("fp-1", "to jest cyrk"),
			fragment("fp-2", "kabaret na sali"),
			fragment("fp-3", "śmiech na sali"),
		}
		start := time.Now()
		stats, err := e.Evaluate(context.Background(), fragments)
		require.NoError(t, err)

		assert.Zero(t, time.Since(start), "no retries or cooldown against the unreachable provider")
		assert.Equal(t, 0, primary.Calls())
		assert.Equal(t, 3, secondary.Calls())
		assert.Equal(t, 0, stats.Fallbacks)
		assert.Equal(t, 3, stats.Evaluated)
		for _, f := range fragments {
			require.NotNil(t, f.Evaluation)
			assert.Equal(t, "gemini", f.Evaluation.Provider)
		}

		_, err = e.Evaluate(context.Background(), []*model.Fragment{fragment("fp-4", "gafa ministra")})
		require.NoError(t, err)
		assert.Equal(t, 1, primary.Checks(), "health checked once per evaluator")
		assert.Equal(t, 1, secondary.Checks())
	})
}

func TestEvaluate_NoProviderAvailable(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		primary := funny("ollama")
		primary.down = true
		secondary := funny("gemini")
		secondary.down = true
		e := newEvaluator(t, nil, 2, primary, secondary)

		fragments := []*model.Fragment{fragment("fp-1", "to jest cyrk"), fragment("fp-2", "kabaret")}
		stats, err := e.Evaluate(context.Background(), fragments)

		require.ErrorIs(t, err, model.ErrProvidersExhausted)
		assert.Equal(t, 2, stats.Failed)
		assert.Equal(t, 0, primary.Calls()+secondary.Calls())
		for _, f := range fragments {
			assert.True(t, f.Unevaluated)
			assert.Nil(t, f.Evaluation)
		}

		_, err = e.EvaluateOne(context.Background(), fragment("fp-3", "gafa"))
		assert.ErrorIs(t, err, model.ErrProvidersExhausted)
	})
}
