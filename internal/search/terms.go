package search

import (
	"strings"
	"unicode"
)

// maxTerms caps the OR-ed full-text query so long questions stay cheap.
const maxTerms = 12

// minTermLength drops fragments like "is" and "of" that match everything.
const minTermLength = 3

var stopWords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true, "are": true,
	"was": true, "what": true, "how": true, "why": true, "does": true, "from": true,
	"this": true, "that": true, "into": true, "about": true, "which": true, "when": true,
}

// Terms splits the query, topic and study area into distinct lower-case
// words, in order of first appearance.
func Terms(query, topic, studyArea string) []string {
	seen := map[string]bool{}
	var out []string
	for _, src := range []string{query, topic, studyArea} {
		words := strings.FieldsFunc(strings.ToLower(src), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			if len([]rune(w)) < minTermLength || stopWords[w] || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
			if len(out) == maxTerms {
				return out
			}
		}
	}
	return out
}
