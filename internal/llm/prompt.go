package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sejmbot/detektor/internal/extract"
	"github.com/sejmbot/detektor/internal/model"
)

// SystemPrompt asks chat models for a compact JSON verdict
const SystemPrompt = `Oceń humor w wypowiedzi sejmowej.

ŚMIESZNE:
✓ Żarty, ironia, sarkazm
✓ Absurdy, wpadki
✓ Reakcje sali (śmiech, oklaski)

NIE ŚMIESZNE:
✗ Zwykłe wypowiedzi
✗ Polemiki polityczne

Odpowiedz JSON (bez preambuły):
{"is_funny": true/false, "confidence": 0.0-1.0, "reason": "krótko"}`

const lineFormatPrompt = `Oceń czy poniższa wypowiedź z polskiego Sejmu jest śmieszna.

WYPOWIEDŹ:
%s

Oceń według kryteriów:
- ABSURD: logiczne niespójności, paradoksy
- ŻART: celowy humor, dowcip
- IRONIA: sarkazm, drwina
- GAFA: przypadkowa pomyłka językowa
- PRZESADA: nadmierna hiperbolizacja

ODPOWIEDZ DOKŁADNIE W TYM FORMACIE (niżej przykłady):
ŚMIESZNE: TAK
PEWNOŚĆ: 75%%
KATEGORIA: absurd
POWÓD: tutaj podaj krótkie uzasadnienie po polsku

LUB:

ŚMIESZNE: NIE
PEWNOŚĆ: 90%%
KATEGORIA: brak
POWÓD: tutaj podaj krótkie uzasadnienie po polsku

Twoja ocena:`

// EvaluateRequest is one fragment submitted for judgment
type EvaluateRequest struct {
	Text     string
	Speaker  string
	Club     string
	Keywords []string
}

// BuildUserMessage renders the user turn for chat providers
func BuildUserMessage(req EvaluateRequest, maxChars int) string {
	var b strings.Builder
	b.WriteString("Wypowiedź:\n")
	b.WriteString(extract.Clip(req.Text, maxChars))
	if req.Speaker != "" {
		b.WriteString("\nMówca: ")
		b.WriteString(req.Speaker)
		if req.Club != "" {
			b.WriteString(" (" + req.Club + ")")
		}
	}
	if len(req.Keywords) > 0 {
		b.WriteString("\nSłowa-klucze: ")
		b.WriteString(strings.Join(req.Keywords, ", "))
	}
	return b.String()
}

// BuildLinePrompt renders the single prompt used for local models, which
// answer in labelled lines rather than JSON
func BuildLinePrompt(req EvaluateRequest, maxChars int) string {
	return fmt.Sprintf(lineFormatPrompt, extract.Clip(req.Text, maxChars))
}

type jsonVerdict struct {
	IsFunny    *bool    `json:"is_funny"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
	Category   string   `json:"category"`
}

// verdict is the provider-independent parsed reply
type verdict struct {
	IsFunny    bool
	Confidence float64
	Reason     string
	Category   model.HumorCategory
}

func (v verdict) result(provider string) *model.EvaluationResult {
	return &model.EvaluationResult{
		IsFunny:    v.IsFunny,
		Confidence: clamp01(v.Confidence),
		Reason:     v.Reason,
		Category:   v.Category,
		Provider:   provider,
	}
}

// parseJSONVerdict extracts the outermost JSON object from a reply. Models
// sometimes wrap it in prose or code fences.
func parseJSONVerdict(content string) (verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return verdict{}, fmt.Errorf("no JSON object in reply %q", truncate(content, 80))
	}

	var raw jsonVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if raw.IsFunny == nil {
		return verdict{}, fmt.Errorf("verdict lacks is_funny")
	}

	v := verdict{
		IsFunny:  *raw.IsFunny,
		Reason:   strings.TrimSpace(raw.Reason),
		Category: parseCategory(raw.Category),
	}
	if raw.Confidence != nil {
		v.Confidence = clamp01(*raw.Confidence)
	}
	return v, nil
}

var firstNumber = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// parseLineVerdict reads the labelled-line format:
//
//	ŚMIESZNE: TAK
//	PEWNOŚĆ: 75%
//	KATEGORIA: absurd
//	POWÓD: ...
//
// Labels are only recognized at the start of a line. A reply without a
// recognizable verdict line is an error.
func parseLineVerdict(content string) (verdict, error) {
	v := verdict{Category: model.CategoryNone}
	found := false

	for line := range strings.Lines(content) {
		label, value, ok := lineLabel(line)
		if !ok {
			continue
		}

		switch label {
		case "ŚMIESZNE", "SMIESZNE", "ŚMIESZNY", "SMIESZNY", "FUNNY", "IS_FUNNY":
			found = true
			v.IsFunny = containsAny(strings.ToUpper(value), "TAK", "YES", "PRAWDA", "TRUE")
		case "PEWNOŚĆ", "PEWNOSC", "CONFIDENCE":
			if m := firstNumber.FindString(value); m != "" {
				n, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
				if err == nil {
					if n > 1 || strings.Contains(value, "%") {
						n /= 100
					}
					v.Confidence = clamp01(n)
				}
			}
		case "KATEGORIA", "CATEGORY":
			v.Category = parseCategory(value)
		case "POWÓD", "POWOD", "REASON":
			v.Reason = strings.TrimSpace(value)
		}
	}

	if !found {
		return verdict{}, fmt.Errorf("no verdict line in reply %q", truncate(content, 80))
	}
	if v.IsFunny && v.Confidence == 0 {
		v.Confidence = 0.5
	}
	if v.Reason == "" {
		if v.IsFunny {
			v.Reason = fmt.Sprintf("Model rozpoznał element %s", v.Category)
		} else {
			v.Reason = "Brak wyraźnych elementów humorystycznych"
		}
	}
	return v, nil
}

// parseVerdict tries JSON first and falls back to labelled lines
func parseVerdict(content string) (verdict, error) {
	if v, err := parseJSONVerdict(content); err == nil {
		return v, nil
	}
	return parseLineVerdict(content)
}

func parseCategory(s string) model.HumorCategory {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "absurd"):
		return model.CategoryAbsurd
	case strings.Contains(s, "żart"), strings.Contains(s, "zart"), strings.Contains(s, "joke"):
		return model.CategoryJoke
	case strings.Contains(s, "ironi"), strings.Contains(s, "irony"), strings.Contains(s, "sarka"):
		return model.CategoryIrony
	case strings.Contains(s, "gaf"):
		return model.CategoryGaffe
	case strings.Contains(s, "przesad"), strings.Contains(s, "exagger"):
		return model.CategoryExaggeration
	default:
		return model.CategoryNone
	}
}

// lineLabel splits "LABEL: value" and returns the label upper-cased with
// list and emphasis markers removed
func lineLabel(line string) (label, value string, ok bool) {
	before, after, found := strings.Cut(strings.TrimSpace(line), ":")
	if !found {
		return "", "", false
	}
	label = strings.ToUpper(strings.Trim(before, "*-#_ \t"))
	return label, strings.TrimSpace(after), true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
