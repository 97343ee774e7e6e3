package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/sejmbot/detektor/internal/extract"
	"github.com/sejmbot/detektor/internal/model"
)

// WriteJSON writes the whole report as indented JSON
func WriteJSON(w io.Writer, report *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteJSONL writes one fragment record per line
func WriteJSONL(w io.Writer, records []model.FragmentRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.Fingerprint, err)
		}
	}
	return nil
}

// WriteSummary prints a human readable digest of the report. Fragment
// texts are clipped to maxChars.
func WriteSummary(w io.Writer, report *model.Report, maxChars int) {
	fmt.Fprintf(w, "Run %s\n", report.RunID)
	fmt.Fprintf(w, "  Statements: %d (skipped %d)\n", report.Statements, len(report.Skipped))
	fmt.Fprintf(w, "  Fragments:  %d selected of %d candidates\n", len(report.Fragments), report.Candidates)

	s := report.Stats
	fmt.Fprintf(w, "  Evaluated:  %d, cache hits %d, failed %d, funny %d\n", s.Evaluated, s.CacheHits, s.Failed, s.Funny)
	if len(s.Calls) > 0 {
		parts := make([]string, 0, len(s.Calls))
		for _, name := range slices.Sorted(maps.Keys(s.Calls)) {
			parts = append(parts, fmt.Sprintf("%s=%d", name, s.Calls[name]))
		}
		fmt.Fprintf(w, "  Calls:      %s (retries %d, fallbacks %d)\n", strings.Join(parts, " "), s.Retries, s.Fallbacks)
		fmt.Fprintf(w, "  Waited:     %.1fs\n", s.TotalWaitSeconds)
	}

	for i, rec := range report.Fragments {
		verdict := "?"
		switch {
		case rec.Unevaluated:
			verdict = "!"
		case rec.Evaluation != nil && rec.Evaluation.IsFunny:
			verdict = "+"
		case rec.Evaluation != nil:
			verdict = "-"
		}
		speaker := rec.Speaker
		if rec.Club != "" {
			speaker += " (" + rec.Club + ")"
		}
		fmt.Fprintf(w, "\n%2d. [%s] %.2f %s\n", i+1, verdict, rec.Confidence, speaker)
		fmt.Fprintf(w, "    %s\n", extract.Clip(rec.Text, maxChars))
		if rec.Evaluation != nil && rec.Evaluation.Reason != "" {
			fmt.Fprintf(w, "    -> %s (%s)\n", rec.Evaluation.Reason, rec.Evaluation.Provider)
		}
	}
}
