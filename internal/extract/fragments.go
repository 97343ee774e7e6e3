package extract

import (
	"sort"
	"strings"

	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/score"
)

// Extractor expands keyword matches into context windows
type Extractor struct {
	scorer *score.Scorer
	before int
	after  int
}

// NewExtractor creates a new fragment extractor
func NewExtractor(scorer *score.Scorer, cfg model.ExtractionConfig) *Extractor {
	return &Extractor{
		scorer: scorer,
		before: cfg.ContextBefore,
		after:  cfg.ContextAfter,
	}
}

// window is a run of statement words [lo, hi] holding matches whose first
// and last words are first and last
type window struct {
	lo, hi      int
	first, last int
	matches     []score.Match
}

// Extract returns the fragments of one statement. normalized must be the
// output of Normalize for the statement text. index is the position of the
// statement in the input and drives tie-breaking.
func (e *Extractor) Extract(stmt model.Statement, index int, normalized string) []*model.Fragment {
	matches := e.scorer.Matches(normalized)
	if len(matches) == 0 {
		return nil
	}

	words, starts := splitWords(normalized)
	if len(words) == 0 {
		return nil
	}

	var windows []window
	for _, m := range matches {
		first := wordAt(starts, m.Start)
		last := wordAt(starts, m.End-1)
		w := window{
			lo:      max(0, first-e.before),
			hi:      min(len(words)-1, last+e.after),
			first:   first,
			last:    last,
			matches: []score.Match{m},
		}

		// Matches arrive in text order, so only the previous window can overlap
		if n := len(windows); n > 0 && w.lo <= windows[n-1].hi {
			prev := &windows[n-1]
			prev.hi = max(prev.hi, w.hi)
			prev.last = max(prev.last, w.last)
			prev.matches = append(prev.matches, m)
			continue
		}
		windows = append(windows, w)
	}

	fragments := make([]*model.Fragment, 0, len(windows))
	for _, w := range windows {
		text := strings.Join(words[w.lo:w.hi+1], " ")
		keywords := score.Keywords(w.matches)
		fragments = append(fragments, &model.Fragment{
			Fingerprint:     Fingerprint(text),
			StatementID:     stmt.ID(),
			StatementIndex:  index,
			WordStart:       w.lo,
			Text:            text,
			ContextBefore:   strings.Join(words[w.lo:w.first], " "),
			ContextAfter:    strings.Join(words[w.last+1:w.hi+1], " "),
			MatchedKeywords: keywords,
			Confidence:      e.scorer.Confidence(w.matches, w.hi-w.lo+1, stmt.SpeakerName),
			HumorType:       e.scorer.HumorType(keywords),
			Speaker:         stmt.SpeakerName,
			Club:            stmt.Club,
			Date:            stmt.Date,
		})
	}
	return fragments
}

// splitWords splits single-space separated text, returning each word and
// its byte offset
func splitWords(text string) ([]string, []int) {
	words := strings.Fields(text)
	starts := make([]int, len(words))
	offset := 0
	for i, w := range words {
		idx := strings.Index(text[offset:], w)
		starts[i] = offset + idx
		offset = starts[i] + len(w)
	}
	return words, starts
}

// wordAt returns the index of the word containing byte offset pos
func wordAt(starts []int, pos int) int {
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > pos })
	return max(0, i-1)
}

// Group collects fragments sharing a fingerprint. Groups keep the order of
// their first member, and members keep input order.
func Group(fragments []*model.Fragment) [][]*model.Fragment {
	index := make(map[string]int, len(fragments))
	var groups [][]*model.Fragment
	for _, f := range fragments {
		if i, ok := index[f.Fingerprint]; ok {
			groups[i] = append(groups[i], f)
			continue
		}
		index[f.Fingerprint] = len(groups)
		groups = append(groups, []*model.Fragment{f})
	}
	return groups
}
