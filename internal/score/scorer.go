package score

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sejmbot/detektor/internal/model"
)

// Match is one accepted keyword occurrence. Offsets are byte offsets into
// the normalized text the match was found in.
type Match struct {
	Keyword string
	Weight  int
	Start   int
	End     int
}

type span struct{ start, end int }

// Scorer finds weighted keyword matches and turns them into a confidence
type Scorer struct {
	table    KeywordTable
	keywords []string
	excludes []string
	cfg      model.ScoringConfig
	priority map[string]bool
}

// NewScorer creates a new scorer
func NewScorer(table KeywordTable, cfg model.ScoringConfig, prioritySpeakers []string) *Scorer {
	priority := make(map[string]bool, len(prioritySpeakers))
	for _, name := range prioritySpeakers {
		if f := fold(name); f != "" {
			priority[f] = true
		}
	}

	return &Scorer{
		table:    table,
		keywords: table.Keywords(),
		excludes: table.Excludes(),
		cfg:      cfg,
		priority: priority,
	}
}

// Table returns the keyword table the scorer was built with
func (s *Scorer) Table() KeywordTable {
	return s.table
}

// Matches returns the non-overlapping keyword occurrences in normalized
// text, ordered by position. Occurrences inside an exclude phrase are dropped.
func (s *Scorer) Matches(text string) []Match {
	var candidates []Match
	for _, kw := range s.keywords {
		for _, sp := range findWord(text, kw) {
			candidates = append(candidates, Match{
				Keyword: kw,
				Weight:  s.table.weights[kw],
				Start:   sp.start,
				End:     sp.end,
			})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Leftmost first, longest first at the same position
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		if candidates[i].End != candidates[j].End {
			return candidates[i].End > candidates[j].End
		}
		return candidates[i].Keyword < candidates[j].Keyword
	})

	var excluded []span
	for _, phrase := range s.excludes {
		excluded = append(excluded, findWord(text, phrase)...)
	}

	matches := make([]Match, 0, len(candidates))
	end := -1
	for _, m := range candidates {
		if m.Start < end {
			continue
		}
		if insideAny(m, excluded) {
			continue
		}
		matches = append(matches, m)
		end = m.End
	}
	return matches
}

// Confidence maps matches found in a text of the given word count to [0,1]
func (s *Scorer) Confidence(matches []Match, words int, speaker string) float64 {
	return s.normalize(s.Raw(matches, words, speaker))
}

// Raw returns the unbounded score before normalization
func (s *Scorer) Raw(matches []Match, words int, speaker string) float64 {
	if len(matches) == 0 {
		return 0
	}

	raw := 0.0
	distinct := make(map[string]bool, len(matches))
	for _, m := range matches {
		raw += float64(m.Weight)
		distinct[m.Keyword] = true
	}

	// Diversity counts distinct keywords, not occurrences
	raw += math.Min(s.cfg.DiversityBonus*float64(len(distinct)), s.cfg.DiversityCap)

	if s.cfg.MinWords > 0 && words >= s.cfg.MinWords {
		raw += math.Min(float64(words-s.cfg.MinWords+1)*s.cfg.LengthBonusPerWord, s.cfg.LengthBonusCap)
	}

	if speaker != "" && s.priority[fold(speaker)] {
		raw += s.cfg.PriorityBonus
	}

	return raw
}

// normalize saturates raw scores into [0,1]
func (s *Scorer) normalize(raw float64) float64 {
	if raw <= 0 || s.cfg.Saturation <= 0 {
		return 0
	}
	return clamp(1 - math.Exp(-raw/s.cfg.Saturation))
}

// HumorType classifies keywords by the highest weighted humor category
func (s *Scorer) HumorType(keywords []string) model.HumorType {
	best := model.HumorOther
	bestScore := 0
	for _, ht := range humorOrder {
		score := 0
		for _, kw := range keywords {
			for _, candidate := range humorCategories[ht] {
				if kw == candidate {
					score += s.table.weights[kw]
				}
			}
		}
		if score > bestScore {
			best, bestScore = ht, score
		}
	}
	return best
}

// Keywords returns the distinct keywords of matches in lexical order
func Keywords(matches []Match) []string {
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m.Keyword] {
			seen[m.Keyword] = true
			out = append(out, m.Keyword)
		}
	}
	sort.Strings(out)
	return out
}

// findWord returns every occurrence of needle in text that starts and ends
// on a word boundary. Letters and digits of any script count as word runes.
func findWord(text, needle string) []span {
	if needle == "" {
		return nil
	}
	var spans []span
	offset := 0
	for {
		i := strings.Index(text[offset:], needle)
		if i < 0 {
			return spans
		}
		start := offset + i
		end := start + len(needle)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			spans = append(spans, span{start, end})
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func insideAny(m Match, spans []span) bool {
	for _, sp := range spans {
		if m.Start >= sp.start && m.End <= sp.end {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
