package rank

import (
	"fmt"
	"testing"

	"github.com/sejmbot/detektor/internal/model"
)

func frag(id string, stmt int, conf float64, text string, keywords ...string) *model.Fragment {
	return &model.Fragment{
		Fingerprint:     id,
		StatementID:     fmt.Sprint(stmt),
		StatementIndex:  stmt,
		Text:            text,
		Confidence:      conf,
		MatchedKeywords: keywords,
	}
}

func fingerprints(frags []*model.Fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.Fingerprint
	}
	return out
}

func TestSelector_TopThird(t *testing.T) {
	var frags []*model.Fragment
	confs := []float64{0.2, 0.9, 0.4, 0.7, 0.1, 0.8, 0.3, 0.6, 0.5}
	for i, c := range confs {
		frags = append(frags, frag(fmt.Sprintf("f%d", i), i, c, fmt.Sprintf("tekst numer %d", i)))
	}

	s := NewSelector(model.SelectionConfig{TopFraction: 1.0 / 3})
	got := fingerprints(s.Select(frags))

	want := []string{"f1", "f5", "f3"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSelector_TieBreaking(t *testing.T) {
	frags := []*model.Fragment{
		frag("c", 2, 0.5, "c", "cyrk"),
		frag("b", 1, 0.5, "b", "żart"),
		frag("a", 1, 0.5, "a", "absurd"),
		frag("d", 0, 0.4, "d", "cyrk"),
	}

	Sort(frags)
	got := fingerprints(frags)
	// Statement 1 before 2; within statement 1 "absurd" sorts before "żart"
	want := []string{"a", "b", "c", "d"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSelector_DoesNotMutateInput(t *testing.T) {
	frags := []*model.Fragment{frag("low", 0, 0.1, "x"), frag("high", 1, 0.9, "y")}
	NewSelector(model.SelectionConfig{}).Select(frags)
	if frags[0].Fingerprint != "low" {
		t.Error("expected input order to be preserved")
	}
}

func TestSelector_Limit(t *testing.T) {
	tests := []struct {
		name   string
		policy model.SelectionConfig
		pool   int
		want   int
	}{
		{"no rules", model.SelectionConfig{}, 10, -1},
		{"top-n only", model.SelectionConfig{TopN: 4}, 10, 4},
		{"fraction only", model.SelectionConfig{TopFraction: 0.33}, 9, 3},
		{"fraction rounds up", model.SelectionConfig{TopFraction: 0.25}, 10, 3},
		{"smaller wins", model.SelectionConfig{TopN: 2, TopFraction: 0.5}, 10, 2},
		{"fraction smaller", model.SelectionConfig{TopN: 8, TopFraction: 0.5}, 10, 5},
		{"empty pool", model.SelectionConfig{TopFraction: 0.5}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewSelector(tt.policy).Limit(tt.pool); got != tt.want {
				t.Errorf("expected limit %d, got %d", tt.want, got)
			}
		})
	}
}

func TestSelector_MinConfidence(t *testing.T) {
	frags := []*model.Fragment{
		frag("a", 0, 0.9, "a"),
		frag("b", 1, 0.5, "b"),
		frag("c", 2, 0.2, "c"),
	}
	got := fingerprints(NewSelector(model.SelectionConfig{MinConfidence: 0.5}).Select(frags))
	if fmt.Sprint(got) != "[a b]" {
		t.Errorf("expected [a b], got %v", got)
	}
}

func TestSelector_PerSourceCapBeforeGlobal(t *testing.T) {
	frags := []*model.Fragment{
		frag("a1", 0, 0.9, "pierwszy tekst"),
		frag("a2", 0, 0.8, "drugi tekst który"),
		frag("a3", 0, 0.7, "trzeci zupełnie inny"),
		frag("b1", 1, 0.6, "czwarty fragment"),
	}
	s := NewSelector(model.SelectionConfig{MaxPerSource: 1, TopN: 2})
	got := fingerprints(s.Select(frags))
	if fmt.Sprint(got) != "[a1 b1]" {
		t.Errorf("expected [a1 b1], got %v", got)
	}
}

func TestSelector_NearDuplicates(t *testing.T) {
	frags := []*model.Fragment{
		frag("orig", 0, 0.9, "to jest prawdziwy cyrk na tej sali"),
		frag("near", 1, 0.8, "to jest prawdziwy cyrk na tej sali!"),
		frag("orig", 2, 0.7, "to jest prawdziwy cyrk na tej sali"),
		frag("other", 3, 0.6, "zupełnie inna wypowiedź o kabarecie"),
	}

	got := fingerprints(NewSelector(model.SelectionConfig{SimilarityThreshold: 0.85}).Select(frags))
	if fmt.Sprint(got) != "[orig orig other]" {
		t.Errorf("expected near duplicate dropped and same fingerprint kept, got %v", got)
	}
}

func TestSimilarity(t *testing.T) {
	if s := Similarity("", ""); s != 1 {
		t.Errorf("expected 1 for empty strings, got %v", s)
	}
	if s := Similarity("cyrk", "cyrk"); s != 1 {
		t.Errorf("expected 1 for identical strings, got %v", s)
	}
	if s := Similarity("żart", "żar"); s != 0.75 {
		t.Errorf("expected rune-based similarity 0.75, got %v", s)
	}
}
