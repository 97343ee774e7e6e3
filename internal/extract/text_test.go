package extract

import (
	"slices"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"whitespace and case", "  To   JEST\t\nCyrk  ", "to jest cyrk"},
		{"entities", "Pan &quot;Marszałek&quot; &amp; posłowie", "pan \"marszałek\" i posłowie"},
		{"ampersand glyph", "PiS&PO", "pis i po"},
		{"polish letters", "ŚMIECH NA SALI, ŻART", "śmiech na sali, żart"},
		{"decomposed diacritics", "S\u0301miech", "\u015bmiech"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, expected %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"&amp;lt;Cyrk&gt;", "A  &  B", "Śmiech (Oklaski)"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestFingerprint_CosmeticDifferences(t *testing.T) {
	a := Fingerprint("To jest  CYRK na sali")
	b := Fingerprint("to jest cyrk\nna sali")
	if a != b {
		t.Error("expected cosmetically different texts to share a fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("expected sha256 hex fingerprint, got %d chars", len(a))
	}
	if a == Fingerprint("to jest kabaret na sali") {
		t.Error("expected different texts to have different fingerprints")
	}
}

func TestCleanMarkup(t *testing.T) {
	markup := `<html><head><title>Sejm</title></head><body>
<script>var x = 1;</script><style>p { color: red }</style>
<p>Poseł   Jan Kowalski:</p><div>To jest <b>cyrk</b>&nbsp;i kabaret!<br>(Wesołość na sali)</div>
</body></html>`

	got := CleanMarkup(markup)

	if strings.Contains(got, "var x") || strings.Contains(got, "color") {
		t.Errorf("expected script and style to be dropped, got %q", got)
	}
	if strings.Contains(got, "<") {
		t.Errorf("expected tags to be stripped, got %q", got)
	}
	lines := strings.Split(got, "\n")
	want := []string{"Poseł Jan Kowalski:", "To jest cyrk i kabaret!", "(Wesołość na sali)"}
	if !slices.Equal(lines, want) {
		t.Errorf("expected lines %q, got %q", want, lines)
	}
}

func TestSegment_Sentences(t *testing.T) {
	got := slices.Collect(Segment("Pierwsze zdanie. Drugie zdanie! Trzecie? Koniec", 100))
	want := []string{"Pierwsze zdanie.", "Drugie zdanie!", "Trzecie?", "Koniec"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSegment_Bounds(t *testing.T) {
	long := strings.Repeat("słowo ", 40) + "a potem, dalej, jeszcze dalej, i koniec."
	for seg := range Segment(long, 30) {
		if utf8.RuneCountInString(seg) > 30 {
			t.Errorf("segment exceeds limit: %q", seg)
		}
	}

	commas := "pierwsza część, druga część, trzecia część"
	got := slices.Collect(Segment(commas, 30))
	want := []string{"pierwsza część, druga część,", "trzecia część"}
	if !slices.Equal(got, want) {
		t.Errorf("expected comma split %q, got %q", want, got)
	}
}

func TestSegment_Degenerate(t *testing.T) {
	if got := slices.Collect(Segment("   ", 10)); len(got) != 0 {
		t.Errorf("expected no segments for blank input, got %q", got)
	}

	word := strings.Repeat("x", 50)
	if got := slices.Collect(Segment(word, 10)); len(got) != 1 || got[0] != word {
		t.Errorf("expected oversized word as single segment, got %q", got)
	}

	if got := slices.Collect(Segment("a. b.", 0)); len(got) != 1 {
		t.Errorf("expected disabled splitting to yield the text, got %q", got)
	}
}

func TestSegment_Restartable(t *testing.T) {
	seq := Segment("Jeden. Dwa. Trzy.", 100)
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !slices.Equal(first, second) || len(first) != 3 {
		t.Errorf("expected the same 3 segments twice, got %q and %q", first, second)
	}

	// Early stop must not panic
	for range seq {
		break
	}
}

func TestClip(t *testing.T) {
	text := "Pierwsze zdanie. Drugie zdanie. Trzecie zdanie."
	if got := Clip(text, 35); got != "Pierwsze zdanie. Drugie zdanie." {
		t.Errorf("unexpected clip: %q", got)
	}
	if got := Clip(text, 0); got != text {
		t.Errorf("expected no clipping with limit 0, got %q", got)
	}
}
