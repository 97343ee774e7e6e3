package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sejmbot/detektor/internal/cache"
	"github.com/sejmbot/detektor/internal/evaluator"
	"github.com/sejmbot/detektor/internal/llm"
	"github.com/sejmbot/detektor/internal/logging"
	"github.com/sejmbot/detektor/internal/metrics"
	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/retry"
	"github.com/sejmbot/detektor/internal/worker"
)

func newLogger(cfg model.Config) (logging.Logger, error) {
	return logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
}

// newLimiter gives every provider of the chain its own token bucket
func newLimiter(cfg model.Config) *worker.Limiter {
	limiter := worker.NewLimiter(60, 1)
	for _, name := range cfg.Providers.Order {
		pc := cfg.Provider(name)
		limiter.SetProviderRate(model.CanonicalProvider(name), pc.RatePerMinute, max(pc.Burst, 1))
	}
	return limiter
}

// openCache opens the configured store behind a memory layer. A store that
// cannot be opened is logged and the run continues memory-only.
func openCache(ctx context.Context, cfg model.Config, logger logging.Logger) (*cache.EvaluationCache, error) {
	store, err := cache.OpenStore(cfg.Cache)
	if errors.Is(err, model.ErrConfiguration) {
		return nil, err
	}
	if err != nil {
		logger.Warn(ctx, "Cache store unavailable, continuing in memory", logging.Error(err))
		store = nil
	}
	return cache.New(ctx, store, cache.Options{
		FlushEvery:    cfg.Cache.FlushEvery,
		FlushInterval: cfg.Cache.FlushInterval,
		Logger:        logger.Named("cache"),
	}), nil
}

func newEvaluator(cfg model.Config, c *cache.EvaluationCache, recorder metrics.Recorder, logger logging.Logger) (*evaluator.Evaluator, error) {
	providers, err := llm.NewChain(cfg)
	if err != nil {
		return nil, err
	}
	return evaluator.New(providers, c, newLimiter(cfg), evaluator.Options{
		Policy:   retry.FromConfig(cfg.Retry),
		Workers:  cfg.Concurrency.Workers,
		Recorder: recorder,
		Logger:   logger.Named("evaluator"),
	})
}

// metricsServer exposes /metrics for the duration of a run
type metricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// startMetrics registers the recorder on a fresh registry and serves it on
// addr. An empty addr disables the endpoint and returns a no-op recorder.
func startMetrics(ctx context.Context, addr string, logger logging.Logger) (metrics.Recorder, *metricsServer, error) {
	if addr == "" {
		return metrics.Nop{}, nil, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(reg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	ms := &metricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}

	go func() {
		if err := ms.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn(ctx, "Metrics server stopped", logging.Error(err))
		}
	}()
	logger.Info(ctx, "Serving metrics", logging.String("addr", ln.Addr().String()))
	return recorder, ms, nil
}

func (m *metricsServer) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.srv.Shutdown(ctx)
}
