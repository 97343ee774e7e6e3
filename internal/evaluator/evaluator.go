// Package evaluator drives ranked fragments through the evaluation cache,
// the per-provider rate limiter and the provider fallback chain.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sejmbot/detektor/internal/cache"
	"github.com/sejmbot/detektor/internal/extract"
	"github.com/sejmbot/detektor/internal/llm"
	"github.com/sejmbot/detektor/internal/logging"
	"github.com/sejmbot/detektor/internal/metrics"
	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/retry"
	"github.com/sejmbot/detektor/internal/worker"
)

const tracerName = "github.com/sejmbot/detektor/internal/evaluator"

// availabilityTimeout bounds the health check of one provider
const availabilityTimeout = 5 * time.Second

// Options configures an Evaluator. Zero values fall back to defaults.
type Options struct {
	Policy   retry.Policy
	Workers  int // distinct fingerprints evaluated concurrently
	Recorder metrics.Recorder
	Logger   logging.Logger
	Tracer   trace.Tracer
}

// Evaluator asks providers whether fragments are funny. Each fingerprint
// is answered at most once across concurrent callers sharing the cache.
type Evaluator struct {
	providers []llm.Provider
	cache     *cache.EvaluationCache
	limiter   *worker.Limiter
	policy    retry.Policy
	workers   int
	recorder  metrics.Recorder
	logger    logging.Logger
	tracer    trace.Tracer

	probeOnce sync.Once
	chain     []llm.Provider
}

// New creates an evaluator over a provider chain in fallback order
func New(providers []llm.Provider, c *cache.EvaluationCache, limiter *worker.Limiter, opts Options) (*Evaluator, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", model.ErrConfiguration)
	}
	if c == nil {
		c = cache.New(context.Background(), nil, cache.Options{Logger: opts.Logger})
	}
	if limiter == nil {
		limiter = worker.NewLimiter(60, 1)
	}

	e := &Evaluator{
		providers: providers,
		cache:     c,
		limiter:   limiter,
		policy:    opts.Policy,
		workers:   max(opts.Workers, 1),
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
	}
	if e.policy.MaxAttempts == 0 {
		e.policy = retry.FromConfig(model.DefaultConfig().Retry)
	}
	if e.recorder == nil {
		e.recorder = metrics.Nop{}
	}
	if e.logger == nil {
		e.logger = logging.Nop()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e, nil
}

// outcome is the terminal state reached by one fingerprint
type outcome struct {
	state  State
	result *model.EvaluationResult
	err    error
}

// Evaluate attaches an evaluation to every fragment whose fingerprint a
// provider (or the cache) answered, and flags the rest as unevaluated.
// Fragments sharing a fingerprint cost a single provider call.
//
// Providers that fail their health check are left out of the chain for
// the lifetime of the evaluator. Provider failures are contained in the
// returned Stats. The error is non-nil only when a provider rejected its
// credentials (wrapping model.ErrProviderAuth), when no provider passed
// the health check (wrapping model.ErrProvidersExhausted) or when ctx
// ended before every fragment was settled.
func (e *Evaluator) Evaluate(ctx context.Context, fragments []*model.Fragment) (Stats, error) {
	acc := newAccumulator()
	groups := extract.Group(fragments)
	acc.stats.Fragments = len(fragments)
	acc.stats.Fingerprints = len(groups)

	chain := e.availableProviders(ctx)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := worker.Run(runCtx, e.workers, len(groups), func(ctx context.Context, i int) (outcome, error) {
		if len(chain) == 0 {
			return outcome{state: StateFailed, err: errNoProvider}, nil
		}
		o := e.evaluateOne(ctx, chain, groups[i][0], acc)
		if errors.Is(o.err, model.ErrProviderAuth) {
			cancel(o.err)
		}
		return o, nil
	})

	for i, r := range results {
		o := r.Value
		if r.Err != nil {
			o = outcome{state: StateAbandoned, err: r.Err}
		}
		acc.outcome(o)
		e.recorder.Fragment(outcomeLabel(o.state))

		for _, f := range groups[i] {
			switch o.state {
			case StateCacheHit, StateDone:
				res := *o.result
				f.Evaluation = &res
			case StateFailed:
				f.Unevaluated = true
			}
		}
	}

	stats := acc.snapshot()
	if len(chain) == 0 {
		return stats, errNoProvider
	}
	if cause := context.Cause(runCtx); errors.Is(cause, model.ErrProviderAuth) {
		return stats, cause
	}
	return stats, ctx.Err()
}

// EvaluateOne evaluates a single fragment and returns the verdict without
// touching the fragment. Statistics are discarded.
func (e *Evaluator) EvaluateOne(ctx context.Context, f *model.Fragment) (*model.EvaluationResult, error) {
	chain := e.availableProviders(ctx)
	if len(chain) == 0 {
		return nil, errNoProvider
	}
	o := e.evaluateOne(ctx, chain, f, newAccumulator())
	if o.err != nil {
		return nil, o.err
	}
	res := *o.result
	return &res, nil
}

var errNoProvider = fmt.Errorf("%w: no provider is available", model.ErrProvidersExhausted)

// availableProviders health-checks the chain on first use and keeps the
// providers that answered, in order. A check cut short by ctx keeps the
// provider.
func (e *Evaluator) availableProviders(ctx context.Context) []llm.Provider {
	e.probeOnce.Do(func() {
		for _, p := range e.providers {
			checkCtx, cancel := context.WithTimeout(ctx, availabilityTimeout)
			ok := p.IsAvailable(checkCtx)
			cancel()
			if !ok && ctx.Err() == nil {
				e.logger.Warn(ctx, "Provider unavailable, removed from the chain",
					logging.String("provider", p.Name()))
				continue
			}
			e.chain = append(e.chain, p)
		}
		if len(e.chain) == 0 {
			e.logger.Error(ctx, "No provider is available")
		}
	})
	return e.chain
}

func (e *Evaluator) evaluateOne(ctx context.Context, chain []llm.Provider, f *model.Fragment, acc *accumulator) outcome {
	ctx, span := e.tracer.Start(ctx, "evaluator.fragment", trace.WithAttributes(
		attribute.String("fragment.fingerprint", f.Fingerprint),
		attribute.String("fragment.statement", f.StatementID),
		attribute.Float64("fragment.confidence", f.Confidence),
	))
	defer span.End()

	o := e.settle(ctx, chain, f, acc)
	span.SetAttributes(attribute.String("fragment.state", o.state.String()))
	if o.err != nil {
		span.RecordError(o.err)
		span.SetStatus(codes.Error, o.state.String())
	}
	e.logger.Debug(ctx, "Fragment settled",
		logging.String("fingerprint", short(f.Fingerprint)),
		logging.String("state", o.state.String()))
	return o
}

func (e *Evaluator) settle(ctx context.Context, chain []llm.Provider, f *model.Fragment, acc *accumulator) outcome {
	for {
		if res, ok := e.cache.Lookup(f.Fingerprint); ok {
			return outcome{state: StateCacheHit, result: res}
		}

		r, owner := e.cache.Reserve(f.Fingerprint)
		if owner {
			return e.call(ctx, chain, f, acc)
		}

		res, err := r.Wait(ctx)
		switch {
		case err == nil && res.Cached:
			return outcome{state: StateCacheHit, result: res}
		case err == nil:
			// Answered by a concurrent caller holding the reservation
			return outcome{state: StateDone, result: res}
		case ctx.Err() != nil:
			return outcome{state: StateAbandoned, err: ctx.Err()}
		case isContextErr(err):
			// The owner gave up without an answer; take over the fingerprint
			continue
		default:
			return outcome{state: StateFailed, err: err}
		}
	}
}

// call owns the reservation for f and must resolve it
func (e *Evaluator) call(ctx context.Context, chain []llm.Provider, f *model.Fragment, acc *accumulator) outcome {
	res, err := e.callChain(ctx, chain, f, acc)
	if err != nil {
		e.cache.Release(f.Fingerprint, err)
		if ctx.Err() != nil {
			return outcome{state: StateAbandoned, err: ctx.Err()}
		}
		if errors.Is(err, model.ErrProviderAuth) {
			e.logger.Error(ctx, "Provider rejected credentials", logging.Error(err))
		} else {
			e.logger.Warn(ctx, "Fragment left unevaluated",
				logging.String("fingerprint", short(f.Fingerprint)),
				logging.Error(err))
		}
		return outcome{state: StateFailed, err: err}
	}

	e.cache.Commit(context.WithoutCancel(ctx), f.Fingerprint, *res)
	return outcome{state: StateDone, result: res}
}

// callChain walks the providers in order until one answers
func (e *Evaluator) callChain(ctx context.Context, chain []llm.Provider, f *model.Fragment, acc *accumulator) (*model.EvaluationResult, error) {
	req := llm.EvaluateRequest{
		Text:     f.Text,
		Speaker:  f.Speaker,
		Club:     f.Club,
		Keywords: f.MatchedKeywords,
	}

	var lastErr error
	for i, p := range chain {
		if i == 0 {
			e.transition(ctx, f, StateCalling, p.Name())
		} else {
			prev := chain[i-1].Name()
			e.transition(ctx, f, StateFallback, p.Name())
			acc.fallback()
			e.recorder.Fallback(prev, p.Name())
			e.logger.Info(ctx, "Falling back to next provider",
				logging.String("from", prev),
				logging.String("to", p.Name()),
				logging.String("fingerprint", short(f.Fingerprint)))
		}

		res, err := e.callProvider(ctx, f, p, req, acc)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, model.ErrProviderAuth) {
			return nil, err
		}

		// A provider that used up its attempts gets one more backoff
		// step before the next provider is tried.
		var exhausted *retry.ExhaustedError
		if i < len(chain)-1 && errors.As(err, &exhausted) {
			cooldown := e.policy.Backoff(e.policy.MaxAttempts)
			acc.backoff(cooldown, false)
			if err := retry.Sleep(ctx, cooldown); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w: %w", model.ErrProvidersExhausted, lastErr)
}

func (e *Evaluator) callProvider(ctx context.Context, f *model.Fragment, p llm.Provider, req llm.EvaluateRequest, acc *accumulator) (*model.EvaluationResult, error) {
	name := p.Name()

	op := func(ctx context.Context, attempt int) (*model.EvaluationResult, error) {
		waited, err := e.limiter.Acquire(ctx, name)
		if waited > 0 {
			acc.rateWait(waited)
			e.recorder.RateLimitWait(name, waited)
		}
		if err != nil {
			return nil, err
		}

		ctx, span := e.tracer.Start(ctx, "evaluator.provider", trace.WithAttributes(
			attribute.String("provider", name),
			attribute.Int("attempt", attempt),
		))
		defer span.End()

		start := time.Now()
		res, err := p.Evaluate(ctx, req)
		latency := time.Since(start)

		acc.call(name, err != nil)
		e.recorder.ProviderCall(name, callStatus(err), latency)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "provider call failed")
			return nil, err
		}

		if res.Provider == "" {
			res.Provider = name
		}
		if res.EvaluatedAt.IsZero() {
			res.EvaluatedAt = time.Now().UTC()
		}
		res.Cached = false
		return res, nil
	}

	onRetry := func(attempt int, delay time.Duration, err error) {
		e.transition(ctx, f, StateRetrying, name)
		acc.backoff(delay, true)
		e.recorder.Retry(name)
		e.logger.Warn(ctx, "Provider call failed, retrying",
			logging.String("provider", name),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
	}

	return retry.Do(ctx, e.policy, op,
		retry.WithRetryable(llm.IsRetryable),
		retry.WithOnRetry(onRetry))
}

// transition marks a non-terminal state change on the fragment span
func (e *Evaluator) transition(ctx context.Context, f *model.Fragment, s State, provider string) {
	trace.SpanFromContext(ctx).AddEvent(s.String(), trace.WithAttributes(attribute.String("provider", provider)))
	e.logger.Debug(ctx, "Fragment state",
		logging.String("fingerprint", short(f.Fingerprint)),
		logging.String("state", s.String()),
		logging.String("provider", provider))
}

func callStatus(err error) string {
	var pe *llm.ProviderError
	switch {
	case err == nil:
		return metrics.StatusSuccess
	case errors.As(err, &pe) && pe.Type == llm.ErrorTypeTimeout:
		return metrics.StatusTimeout
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.StatusTimeout
	default:
		return metrics.StatusError
	}
}

func outcomeLabel(s State) string {
	switch s {
	case StateCacheHit:
		return metrics.OutcomeCacheHit
	case StateDone:
		return metrics.OutcomeDone
	case StateFailed:
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeAbandoned
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
