package model

import (
	"strings"
	"time"
)

// HumorType is a coarse keyword-based classification of a fragment
type HumorType string

const (
	HumorJoke           HumorType = "joke"
	HumorSarcasm        HumorType = "sarcasm"
	HumorPersonalAttack HumorType = "personal_attack"
	HumorChaos          HumorType = "chaos"
	HumorOther          HumorType = "other"
)

// Fragment is a bounded window of a statement around one or more keyword
// matches. It is the unit submitted for evaluation.
type Fragment struct {
	Fingerprint     string    // sha256 of the normalized window text
	StatementID     string    // Source statement id (see Statement.ID)
	StatementIndex  int       // Position of the source statement in the input
	WordStart       int       // Index of the first window word within the statement
	Text            string    // Whole window, context included
	ContextBefore   string    // Window words preceding the first match
	ContextAfter    string    // Window words following the last match
	MatchedKeywords []string  // Distinct keywords, sorted
	Confidence      float64   // Heuristic confidence in [0,1]
	HumorType       HumorType // Dominant humor category by keyword weight
	Speaker         string
	Club            string
	Date            time.Time

	Evaluation  *EvaluationResult // Set once a provider (or the cache) answered
	Unevaluated bool              // Submitted but every provider failed
}

// KeywordKey joins the matched keywords for lexical tie-breaking
func (f *Fragment) KeywordKey() string {
	return strings.Join(f.MatchedKeywords, ",")
}

// HumorCategory is the category reported by a provider verdict
type HumorCategory string

const (
	CategoryNone         HumorCategory = "none"
	CategoryAbsurd       HumorCategory = "absurd"
	CategoryJoke         HumorCategory = "joke"
	CategoryIrony        HumorCategory = "irony"
	CategoryGaffe        HumorCategory = "gaffe"
	CategoryExaggeration HumorCategory = "exaggeration"
)

// EvaluationResult is a provider verdict for one fingerprint
type EvaluationResult struct {
	IsFunny     bool          `json:"isFunny"`
	Confidence  float64       `json:"confidence"`
	Reason      string        `json:"reason"`
	Category    HumorCategory `json:"category,omitempty"`
	Provider    string        `json:"providerUsed"`
	Cached      bool          `json:"cached"`
	EvaluatedAt time.Time     `json:"evaluatedAt"`
}

// CacheEntry is the persisted form of an evaluation, keyed by fingerprint
type CacheEntry struct {
	Fingerprint string           `json:"fingerprint"`
	Result      EvaluationResult `json:"result"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// FragmentRecord is the output shape of one selected fragment
type FragmentRecord struct {
	Fingerprint     string            `json:"fingerprint"`
	StatementID     string            `json:"statementId"`
	Speaker         string            `json:"speaker"`
	Club            string            `json:"club,omitempty"`
	Text            string            `json:"text"`
	ContextBefore   string            `json:"contextBefore"`
	ContextAfter    string            `json:"contextAfter"`
	MatchedKeywords []string          `json:"matchedKeywords"`
	Confidence      float64           `json:"confidence"`
	HumorType       HumorType         `json:"humorType,omitempty"`
	Evaluation      *EvaluationResult `json:"evaluation"`
	Unevaluated     bool              `json:"unevaluated,omitempty"`
}

// Record converts a fragment into its output record
func (f *Fragment) Record() FragmentRecord {
	return FragmentRecord{
		Fingerprint:     f.Fingerprint,
		StatementID:     f.StatementID,
		Speaker:         f.Speaker,
		Club:            f.Club,
		Text:            f.Text,
		ContextBefore:   f.ContextBefore,
		ContextAfter:    f.ContextAfter,
		MatchedKeywords: f.MatchedKeywords,
		Confidence:      f.Confidence,
		HumorType:       f.HumorType,
		Evaluation:      f.Evaluation,
		Unevaluated:     f.Unevaluated,
	}
}
