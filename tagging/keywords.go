package tagging

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "into": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "over": true,
	"the": true, "their": true, "this": true, "to": true, "under": true,
	"with": true, "very": true, "some": true, "its": true, "that": true,
}

// KeywordTags derives up to max tags from the prompt text: lower-cased
// words of three or more letters, stopwords removed, first occurrence order.
func KeywordTags(prompt string, max int) []string {
	words := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	return Normalize(filterStopwords(words), max)
}

func filterStopwords(words []string) []string {
	out := words[:0]
	for _, w := range words {
		w = strings.Trim(w, "-")
		if len(w) < 3 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Normalize lower-cases, trims and de-duplicates tags, keeping at most max
// (all when max <= 0).
func Normalize(tags []string, max int) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		t = strings.Trim(t, "#\"'.")
		if t == "" || len(t) > 40 || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}
