package model

import "time"

// Report is the complete output of one run
type Report struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Source     string    `json:"source,omitempty"` // Where statements were read from

	Statements int                `json:"statements"` // Statements read
	Skipped    []SkippedStatement `json:"skipped,omitempty"`
	Candidates int                `json:"candidates"` // Fragments extracted before selection

	Fragments []FragmentRecord `json:"fragments"` // Selected fragments in rank order

	Stats RunStats `json:"stats"`
}

// SkippedStatement records a statement rejected as an input error
type SkippedStatement struct {
	StatementID string `json:"statementId"`
	Index       int    `json:"index"`
	Reason      string `json:"reason"`
}

// RunStats is the reported form of evaluation statistics
type RunStats struct {
	CacheHits    int            `json:"cacheHits"`
	Evaluated    int            `json:"evaluated"`
	Funny        int            `json:"funny"`
	Failed       int            `json:"failed"`
	Abandoned    int            `json:"abandoned,omitempty"`
	Calls        map[string]int `json:"calls,omitempty"`
	CallFailures map[string]int `json:"callFailures,omitempty"`
	Answered     map[string]int `json:"answered,omitempty"`
	Retries      int            `json:"retries"`
	Fallbacks    int            `json:"fallbacks"`

	RateLimitWaitSeconds float64 `json:"rateLimitWaitSeconds"`
	BackoffWaitSeconds   float64 `json:"backoffWaitSeconds"`
	TotalWaitSeconds     float64 `json:"totalWaitSeconds"`
}

// FunnyRecords returns the records a provider judged funny
func (r *Report) FunnyRecords() []FragmentRecord {
	var out []FragmentRecord
	for _, rec := range r.Fragments {
		if rec.Evaluation != nil && rec.Evaluation.IsFunny {
			out = append(out, rec)
		}
	}
	return out
}

// Duration returns how long the run took
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
