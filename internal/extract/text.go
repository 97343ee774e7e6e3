package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"iter"
	"strings"
	"unicode/utf8"

	xhtml "golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize unescapes entities, composes Unicode (NFC), spells out the
// ampersand, collapses whitespace and lower-cases with Polish rules.
// It is total and idempotent.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = html.UnescapeString(text)
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "&", " i ")
	text = strings.Join(strings.Fields(text), " ")
	return cases.Lower(language.Polish).String(text)
}

// Fingerprint returns the content address of a fragment text
func Fingerprint(text string) string {
	hash := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(hash[:])
}

// CleanMarkup turns statement markup into plain text: script and style
// blocks are dropped, line-breaking tags become newlines, other tags are
// stripped. Lines are whitespace-collapsed and blank lines removed.
func CleanMarkup(markup string) string {
	doc, err := xhtml.Parse(strings.NewReader(markup))
	if err != nil {
		// The parser only fails on reader errors; fall back to the raw text
		return collapseLines(html.UnescapeString(markup))
	}

	var buf strings.Builder

	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "head":
				return
			}
		}

		if n.Type == xhtml.TextNode {
			buf.WriteString(n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == xhtml.ElementNode && lineBreaking[n.Data] {
			buf.WriteString("\n")
		}
	}

	walk(doc)
	return collapseLines(buf.String())
}

var lineBreaking = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "section": true, "article": true,
}

func collapseLines(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Segment lazily splits text into pieces of at most maxChars runes: first on
// sentence terminators, then on commas, then on word boundaries. A single
// word longer than maxChars is yielded whole. maxChars <= 0 disables splitting.
func Segment(text string, maxChars int) iter.Seq[string] {
	return func(yield func(string) bool) {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return
		}
		if maxChars <= 0 {
			yield(trimmed)
			return
		}

		for _, sentence := range splitSentences(trimmed) {
			if runeLen(sentence) <= maxChars {
				if !yield(sentence) {
					return
				}
				continue
			}
			for _, piece := range pack(splitKeep(sentence, ','), maxChars) {
				if runeLen(piece) <= maxChars {
					if !yield(piece) {
						return
					}
					continue
				}
				for _, chunk := range pack(strings.Fields(piece), maxChars) {
					if !yield(chunk) {
						return
					}
				}
			}
		}
	}
}

// splitSentences splits after '.', '!', '?', '…' followed by whitespace,
// and on newlines
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i, r := range text {
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)

		switch r {
		case '.', '!', '?', '…':
			next := i + utf8.RuneLen(r)
			if next >= len(text) || text[next] == ' ' || text[next] == '\t' || text[next] == '\n' {
				flush()
			}
		}
	}
	flush()

	return sentences
}

// splitKeep splits on sep, keeping sep at the end of each piece
func splitKeep(text string, sep byte) []string {
	var parts []string
	for {
		i := strings.IndexByte(text, sep)
		if i < 0 {
			break
		}
		if p := strings.TrimSpace(text[:i+1]); p != "" {
			parts = append(parts, p)
		}
		text = text[i+1:]
	}
	if p := strings.TrimSpace(text); p != "" {
		parts = append(parts, p)
	}
	return parts
}

// pack greedily joins parts with spaces while the result fits maxChars
func pack(parts []string, maxChars int) []string {
	var out []string
	var current string
	for _, p := range parts {
		switch {
		case current == "":
			current = p
		case runeLen(current)+1+runeLen(p) <= maxChars:
			current += " " + p
		default:
			out = append(out, current)
			current = p
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Clip returns the leading segments of text that fit in maxChars runes.
// The first segment is always kept, so the result is never empty for
// non-empty input.
func Clip(text string, maxChars int) string {
	if maxChars <= 0 || runeLen(text) <= maxChars {
		return text
	}
	var b strings.Builder
	for seg := range Segment(text, maxChars) {
		if b.Len() > 0 {
			if runeLen(b.String())+1+runeLen(seg) > maxChars {
				break
			}
			b.WriteByte(' ')
		}
		b.WriteString(seg)
	}
	return b.String()
}
