package search

import (
	"strings"
	"unicode"

	"github.com/hyperjump/kbsearch/pkg/utils"
)

// SnippetLength is the maximum snippet size in bytes, before the ellipsis.
const SnippetLength = 200

// Snippet returns the sentence of text that contains the first query term found,
// truncated to maxLen. Without a match it returns the start of text.
func Snippet(text, query string, maxLen int) string {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		return utils.Truncate(strings.TrimSpace(text), maxLen)
	}
	for _, term := range queryTerms(query) {
		pos := strings.Index(lower, term)
		if pos < 0 {
			continue
		}
		start := strings.LastIndexFunc(text[:pos], isSentenceBreak) + 1
		end := len(text)
		if i := strings.IndexFunc(text[pos:], isSentenceBreak); i >= 0 {
			end = pos + i + 1
		}
		return utils.Truncate(strings.TrimSpace(text[start:end]), maxLen)
	}
	return utils.Truncate(strings.TrimSpace(text), maxLen)
}

func isSentenceBreak(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

// queryTerms lowercases the query and splits it on anything that is not a letter
// or digit, keeping order and dropping duplicates.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	terms := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			terms = append(terms, f)
		}
	}
	return terms
}

// termOverlap is the fraction of distinct query terms that occur in text.
func termOverlap(text, query string) float64 {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	var hits int
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
