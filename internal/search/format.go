package search

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/textbook-index/internal/models"
)

const (
	// DefaultPromptChunkChars bounds one reference so a single long chunk
	// cannot use up the prompt budget.
	DefaultPromptChunkChars = 600
	// DefaultPromptBudget is the total size of the reference block handed to
	// the generation model.
	DefaultPromptBudget = 2500
	// DefaultPromptMaxChunks keeps generation prompts short.
	DefaultPromptMaxChunks = 4

	ellipsis = "..."

	noReferences = "REFERENCE CONTENT: No relevant textbook content found. " +
		"Generate content based on general science knowledge.\n\n"
)

// PromptOptions bounds FormatForPrompt output. Zero values take the defaults.
type PromptOptions struct {
	ChunkChars int
	Budget     int
	MaxChunks  int
}

func (o PromptOptions) withDefaults() PromptOptions {
	if o.ChunkChars <= 0 {
		o.ChunkChars = DefaultPromptChunkChars
	}
	if o.Budget <= 0 {
		o.Budget = DefaultPromptBudget
	}
	if o.MaxChunks <= 0 {
		o.MaxChunks = DefaultPromptMaxChunks
	}
	return o
}

// FormatForPrompt renders results as numbered references, best match first,
// each annotated with its similarity percentage. References are added until
// the next one would exceed the budget. The best match is always included,
// cut down to fit if it has to be.
func FormatForPrompt(results []models.SearchResult, opts PromptOptions) string {
	if len(results) == 0 {
		return noReferences
	}
	opts = opts.withDefaults()

	sorted := make([]models.SearchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Similarity > sorted[j].Similarity })

	const header = "REFERENCE TEXTBOOK CONTENT:\n\n"
	var b strings.Builder
	b.WriteString(header)
	used := utf8.RuneCountInString(header)
	included := 0

	for _, r := range sorted {
		if included == opts.MaxChunks {
			break
		}
		label := fmt.Sprintf("[Ref %d - %.1f%% match]", included+1, r.Similarity*100)
		if r.SourceFile != "" {
			label += fmt.Sprintf(" (%s, grade %d)", r.SourceFile, r.GradeLevel)
		}
		section := label + "\n" + Truncate(r.Content, opts.ChunkChars) + "\n\n"
		size := utf8.RuneCountInString(section)

		if used+size > opts.Budget {
			if included > 0 {
				break
			}
			room := opts.Budget - used - utf8.RuneCountInString(label) - 3
			section = label + "\n" + Truncate(r.Content, max(room, len(ellipsis)+1)) + "\n\n"
			size = utf8.RuneCountInString(section)
		}

		b.WriteString(section)
		used += size
		included++
	}

	fmt.Fprintf(&b, "INSTRUCTIONS: Use the above %d textbook references as primary sources.\n\n", included)
	return b.String()
}

// Truncate shortens s to at most limit runes, cutting at the last word
// boundary when there is one and marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= len(ellipsis) {
		return string([]rune(s)[:limit])
	}
	cut := string([]rune(s)[:limit-len(ellipsis)])
	if i := strings.LastIndexAny(cut, " \n\t"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n\t.,;:") + ellipsis
}
