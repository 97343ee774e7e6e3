// Package metrics exposes run counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fragment outcomes
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeDone      = "done"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
)

// Provider call statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Recorder receives evaluation events
type Recorder interface {
	ProviderCall(provider, status string, latency time.Duration)
	RateLimitWait(provider string, wait time.Duration)
	Retry(provider string)
	Fallback(from, to string)
	Fragment(outcome string)
}

// Nop discards every event
type Nop struct{}

func (Nop) ProviderCall(string, string, time.Duration) {}
func (Nop) RateLimitWait(string, time.Duration)        {}
func (Nop) Retry(string)                               {}
func (Nop) Fallback(string, string)                    {}
func (Nop) Fragment(string)                            {}

// PrometheusRecorder implements Recorder with Prometheus collectors
type PrometheusRecorder struct {
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	rateLimitWait   *prometheus.CounterVec
	retries         *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	fragments       *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on reg
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		providerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "detektor_provider_calls_total",
				Help: "External provider calls by outcome.",
			},
			[]string{"provider", "status"},
		),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "detektor_provider_latency_seconds",
				Help:    "Latency of external provider calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		rateLimitWait: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "detektor_rate_limit_wait_seconds_total",
				Help: "Time spent waiting for provider rate limit tokens.",
			},
			[]string{"provider"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "detektor_provider_retries_total",
				Help: "Retries against the same provider.",
			},
			[]string{"provider"},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "detektor_provider_fallbacks_total",
				Help: "Switches to the next provider after exhaustion.",
			},
			[]string{"from", "to"},
		),
		fragments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "detektor_fragments_total",
				Help: "Evaluated fragments by terminal state.",
			},
			[]string{"outcome"},
		),
	}
}

func (r *PrometheusRecorder) ProviderCall(provider, status string, latency time.Duration) {
	r.providerCalls.WithLabelValues(provider, status).Inc()
	r.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (r *PrometheusRecorder) RateLimitWait(provider string, wait time.Duration) {
	r.rateLimitWait.WithLabelValues(provider).Add(wait.Seconds())
}

func (r *PrometheusRecorder) Retry(provider string) {
	r.retries.WithLabelValues(provider).Inc()
}

func (r *PrometheusRecorder) Fallback(from, to string) {
	r.fallbacks.WithLabelValues(from, to).Inc()
}

func (r *PrometheusRecorder) Fragment(outcome string) {
	r.fragments.WithLabelValues(outcome).Inc()
}
