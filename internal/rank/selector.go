// Package rank orders fragments by confidence and applies the selection policy.
package rank

import (
	"math"
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/sejmbot/detektor/internal/model"
)

// Selector applies a selection policy to extracted fragments.
//
// Rules run in a fixed order over the sorted candidates:
//  1. per-source cap (MaxPerSource fragments per statement)
//  2. confidence floor (MinConfidence)
//  3. near-duplicate suppression (SimilarityThreshold)
//  4. global count, the smaller of TopN and ceil(TopFraction * pool size)
//
// The pool size in rule 4 is the number of fragments passed to Select, so a
// fraction always refers to the whole candidate pool. Zero disables a rule.
type Selector struct {
	policy model.SelectionConfig
}

// NewSelector creates a new selector
func NewSelector(policy model.SelectionConfig) *Selector {
	return &Selector{policy: policy}
}

// Select returns the chosen fragments in rank order. The input slice is
// not modified.
func (s *Selector) Select(fragments []*model.Fragment) []*model.Fragment {
	sorted := make([]*model.Fragment, len(fragments))
	copy(sorted, fragments)
	Sort(sorted)

	limit := s.Limit(len(fragments))
	perSource := make(map[string]int)
	var selected []*model.Fragment

	for _, f := range sorted {
		if limit >= 0 && len(selected) >= limit {
			break
		}
		if s.policy.MaxPerSource > 0 && perSource[f.StatementID] >= s.policy.MaxPerSource {
			continue
		}
		if f.Confidence < s.policy.MinConfidence {
			// Sorted descending, nothing below can pass either
			break
		}
		if s.policy.SimilarityThreshold > 0 && nearDuplicate(f, selected, s.policy.SimilarityThreshold) {
			continue
		}
		perSource[f.StatementID]++
		selected = append(selected, f)
	}
	return selected
}

// Limit returns the global count for a pool of n fragments, or -1 for no limit
func (s *Selector) Limit(n int) int {
	limit := -1
	if s.policy.TopN > 0 {
		limit = s.policy.TopN
	}
	if s.policy.TopFraction > 0 {
		// Epsilon keeps n*(1/3) style products from rounding up a whole unit
		byFraction := int(math.Ceil(s.policy.TopFraction*float64(n) - 1e-9))
		if limit < 0 || byFraction < limit {
			limit = byFraction
		}
	}
	return limit
}

// Sort orders fragments by confidence descending, then statement position,
// then word position, then matched keywords, then fingerprint.
func Sort(fragments []*model.Fragment) {
	sort.SliceStable(fragments, func(i, j int) bool {
		return Less(fragments[i], fragments[j])
	})
}

// Less is the deterministic rank order of two fragments
func Less(a, b *model.Fragment) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.StatementIndex != b.StatementIndex {
		return a.StatementIndex < b.StatementIndex
	}
	if a.WordStart != b.WordStart {
		return a.WordStart < b.WordStart
	}
	if ka, kb := a.KeywordKey(), b.KeywordKey(); ka != kb {
		return ka < kb
	}
	return a.Fingerprint < b.Fingerprint
}

// nearDuplicate reports whether f is textually close to an already selected
// fragment. Fragments with the same fingerprint are the same logical
// fragment seen in another statement and are kept for provenance.
func nearDuplicate(f *model.Fragment, selected []*model.Fragment, threshold float64) bool {
	for _, other := range selected {
		if other.Fingerprint == f.Fingerprint {
			continue
		}
		la, lb := utf8.RuneCountInString(f.Text), utf8.RuneCountInString(other.Text)
		// The distance is at least the length difference
		if longest := max(la, lb); longest > 0 && 1-float64(abs(la-lb))/float64(longest) < threshold {
			continue
		}
		if Similarity(f.Text, other.Text) >= threshold {
			return true
		}
	}
	return false
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)) over runes
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
