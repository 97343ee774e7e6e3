package evaluator

import (
	"maps"
	"sync"
	"time"

	"github.com/sejmbot/detektor/internal/model"
)

// State is the lifecycle position of one fingerprint during a run
type State int

const (
	StatePending State = iota
	StateCacheHit
	StateCalling
	StateRetrying
	StateFallback
	StateDone
	StateFailed
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCacheHit:
		return "cache_hit"
	case StateCalling:
		return "calling"
	case StateRetrying:
		return "retrying"
	case StateFallback:
		return "fallback"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow s
func (s State) Terminal() bool {
	switch s {
	case StateCacheHit, StateDone, StateFailed, StateAbandoned:
		return true
	}
	return false
}

// Stats summarizes one Evaluate call. Counts are per fingerprint unless
// the field says otherwise.
type Stats struct {
	Fragments    int // fragments submitted, duplicates included
	Fingerprints int // distinct fingerprints submitted
	CacheHits    int
	Evaluated    int // answered by a provider during this run
	Funny        int // fingerprints with a funny verdict, cached or fresh
	Failed       int
	Abandoned    int

	Calls         map[string]int // provider attempts
	CallFailures  map[string]int // provider attempts that returned an error
	Answered      map[string]int // fingerprints each provider answered
	Retries       int
	Fallbacks     int
	RateLimitWait time.Duration // time spent blocked on the token buckets
	BackoffWait   time.Duration // retry and fallback delays
}

// TotalWait is the time spent waiting rather than calling
func (s Stats) TotalWait() time.Duration {
	return s.RateLimitWait + s.BackoffWait
}

// TotalCalls sums provider attempts across providers
func (s Stats) TotalCalls() int {
	total := 0
	for _, n := range s.Calls {
		total += n
	}
	return total
}

// Merge adds other into s
func (s *Stats) Merge(other Stats) {
	s.Fragments += other.Fragments
	s.Fingerprints += other.Fingerprints
	s.CacheHits += other.CacheHits
	s.Evaluated += other.Evaluated
	s.Funny += other.Funny
	s.Failed += other.Failed
	s.Abandoned += other.Abandoned
	s.Retries += other.Retries
	s.Fallbacks += other.Fallbacks
	s.RateLimitWait += other.RateLimitWait
	s.BackoffWait += other.BackoffWait
	s.Calls = addCounts(s.Calls, other.Calls)
	s.CallFailures = addCounts(s.CallFailures, other.CallFailures)
	s.Answered = addCounts(s.Answered, other.Answered)
}

func addCounts(dst, src map[string]int) map[string]int {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]int, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

// accumulator is the run-scoped, concurrency-safe side of Stats
type accumulator struct {
	mu    sync.Mutex
	stats Stats
}

func newAccumulator() *accumulator {
	return &accumulator{stats: Stats{
		Calls:        make(map[string]int),
		CallFailures: make(map[string]int),
		Answered:     make(map[string]int),
	}}
}

func (a *accumulator) call(provider string, failed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Calls[provider]++
	if failed {
		a.stats.CallFailures[provider]++
	}
}

func (a *accumulator) rateWait(d time.Duration) {
	a.mu.Lock()
	a.stats.RateLimitWait += d
	a.mu.Unlock()
}

func (a *accumulator) backoff(d time.Duration, retry bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.BackoffWait += d
	if retry {
		a.stats.Retries++
	}
}

func (a *accumulator) fallback() {
	a.mu.Lock()
	a.stats.Fallbacks++
	a.mu.Unlock()
}

func (a *accumulator) outcome(o outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch o.state {
	case StateCacheHit:
		a.stats.CacheHits++
	case StateDone:
		a.stats.Evaluated++
		if o.result != nil {
			a.stats.Answered[o.result.Provider]++
		}
	case StateFailed:
		a.stats.Failed++
	case StateAbandoned:
		a.stats.Abandoned++
	}
	if o.result != nil && o.result.IsFunny {
		a.stats.Funny++
	}
}

func (a *accumulator) snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.Calls = maps.Clone(s.Calls)
	s.CallFailures = maps.Clone(s.CallFailures)
	s.Answered = maps.Clone(s.Answered)
	return s
}

// Report converts s into its reported form
func (s Stats) Report() model.RunStats {
	return model.RunStats{
		CacheHits:            s.CacheHits,
		Evaluated:            s.Evaluated,
		Funny:                s.Funny,
		Failed:               s.Failed,
		Abandoned:            s.Abandoned,
		Calls:                maps.Clone(s.Calls),
		CallFailures:         maps.Clone(s.CallFailures),
		Answered:             maps.Clone(s.Answered),
		Retries:              s.Retries,
		Fallbacks:            s.Fallbacks,
		RateLimitWaitSeconds: s.RateLimitWait.Seconds(),
		BackoffWaitSeconds:   s.BackoffWait.Seconds(),
		TotalWaitSeconds:     s.TotalWait().Seconds(),
	}
}
