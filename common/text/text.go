package text

import (
	"strings"
	"unicode"
)

// EstimateTokens approximates the token count of mixed CJK/Latin text.
// CJK characters tokenize roughly one-to-one; Latin text averages about
// four characters per token. The estimate only needs to be stable and
// monotonic so truncation budgets behave predictably.
func EstimateTokens(s string) int {
	cjk := 0
	other := 0
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	return cjk + (other+3)/4
}

// TruncateTokens cuts s so that its estimated token count does not exceed
// budget. The cut happens on a rune boundary, never mid-character.
func TruncateTokens(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(s) <= budget {
		return s
	}
	tokens := 0
	pendingOther := 0
	for i, r := range s {
		if isCJK(r) {
			tokens++
			pendingOther = 0
		} else {
			pendingOther++
			if pendingOther == 4 {
				tokens++
				pendingOther = 0
			}
		}
		if tokens >= budget {
			return s[:i+len(string(r))]
		}
	}
	return s
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// StripFences removes a surrounding Markdown code fence from model output.
// Models frequently wrap JSON in ```json ... ``` despite instructions.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// drop the language tag line ("json", "JSON", or empty)
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// SnippetOptions bounds snippet extraction.
type SnippetOptions struct {
	MaxPerWord int // snippets kept per keyword
	Window     int // runes of context on each side of the match
	MaxLen     int // hard cap on snippet length in runes
}

// DefaultSnippetOptions mirrors the extraction behavior used by the
// keyword planner: at most two short windows per keyword.
func DefaultSnippetOptions() SnippetOptions {
	return SnippetOptions{MaxPerWord: 2, Window: 40, MaxLen: 120}
}

// Snippets extracts keyword-anchored context windows from source text.
// Matching is case-insensitive. Snippets are deterministic: first
// occurrences win, in source order.
func Snippets(source, keyword string, opts SnippetOptions) []string {
	if source == "" || keyword == "" || opts.MaxPerWord <= 0 {
		return nil
	}
	lowerSource := strings.ToLower(source)
	lowerKeyword := strings.ToLower(keyword)

	var snippets []string
	offset := 0
	for len(snippets) < opts.MaxPerWord {
		idx := strings.Index(lowerSource[offset:], lowerKeyword)
		if idx < 0 {
			break
		}
		start := offset + idx
		end := start + len(lowerKeyword)

		snippets = append(snippets, window(source, start, end, opts))
		offset = end
	}
	return snippets
}

func window(source string, start, end int, opts SnippetOptions) string {
	runes := []rune(source)
	// convert byte offsets to rune offsets
	rStart := len([]rune(source[:start]))
	rEnd := len([]rune(source[:end]))

	from := rStart - opts.Window
	if from < 0 {
		from = 0
	}
	to := rEnd + opts.Window
	if to > len(runes) {
		to = len(runes)
	}
	snippet := strings.TrimSpace(string(runes[from:to]))
	if opts.MaxLen > 0 {
		sr := []rune(snippet)
		if len(sr) > opts.MaxLen {
			snippet = string(sr[:opts.MaxLen])
		}
	}
	return snippet
}
