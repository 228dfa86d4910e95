package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text for chunking: control characters are dropped,
// runs of spaces collapse to one, lines are trimmed, and blank lines are removed so
// that each remaining "\n" marks a paragraph boundary.
func Preprocess(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		var b strings.Builder
		wasSpace := false
		for _, r := range line {
			if unicode.IsSpace(r) {
				if !wasSpace {
					b.WriteRune(' ')
					wasSpace = true
				}
				continue
			}
			if unicode.IsControl(r) {
				continue
			}
			b.WriteRune(r)
			wasSpace = false
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n")
}
