package extraction

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/markdave123-py/textbook-index/internal/core"
)

const MethodLayout = "pdftotext-layout"

// gutterWidth is the minimum run of blanks treated as a column separator.
const gutterWidth = 3

var _ core.Extractor = (*LayoutStrategy)(nil)

// LayoutStrategy runs `pdftotext -layout` and rebuilds reading order for
// two-column pages by detecting a consistent vertical gutter.
type LayoutStrategy struct {
	runner    core.CommandRunner
	pdftotext string
}

func NewLayoutStrategy(runner core.CommandRunner, pdftotextPath string) *LayoutStrategy {
	if pdftotextPath == "" {
		pdftotextPath = "pdftotext"
	}
	return &LayoutStrategy{runner: runner, pdftotext: pdftotextPath}
}

func (s *LayoutStrategy) Name() string { return MethodLayout }

func (s *LayoutStrategy) TryExtract(ctx context.Context, data []byte, _ string) (string, error) {
	ws, err := newWorkspace("layout-*")
	if err != nil {
		return "", err
	}
	defer ws.Close()

	in, err := ws.write("in.pdf", data)
	if err != nil {
		return "", err
	}

	out, err := s.runner.Run(ctx, s.pdftotext, "-layout", "-enc", "UTF-8", in, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}

	pages := bytes.Split(out, []byte("\f"))
	parts := make([]string, 0, len(pages))
	for _, page := range pages {
		if text := reflowPage(string(page)); text != "" {
			parts = append(parts, text)
		}
	}
	return dehyphenate(strings.Join(parts, "\n\n")), nil
}

// reflowPage returns the page text in reading order. Two-column pages are
// emitted left column first.
func reflowPage(page string) string {
	lines := strings.Split(page, "\n")
	rows := make([][]rune, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []rune(strings.TrimRight(l, " \t\r")))
	}

	col := findGutter(rows)
	if col < 0 {
		return collapse(lines)
	}

	left := make([]string, 0, len(rows))
	right := make([]string, 0, len(rows))
	for _, r := range rows {
		if len(r) <= col {
			left = append(left, string(r))
			continue
		}
		left = append(left, string(r[:col]))
		right = append(right, string(r[col:]))
	}
	return collapse(append(left, right...))
}

// findGutter returns the rune offset of a blank column shared by most text
// rows with content on both sides, or -1 for single-column pages.
func findGutter(rows [][]rune) int {
	width := 0
	textRows := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
		if len(r) > 0 {
			textRows++
		}
	}
	if width < 40 || textRows < 4 {
		return -1
	}

	best, bestHits := -1, 0
	for c := width / 4; c < width*3/4; c++ {
		hits, blocked := 0, 0
		for _, r := range rows {
			if len(r) == 0 {
				continue
			}
			switch {
			case blankRun(r, c) && hasText(r[:c]) && len(r) > c+gutterWidth:
				hits++
			case len(r) > c && !blankRun(r, c):
				blocked++
			}
		}
		// Most multi-column rows must agree and almost none may cross the gutter.
		if hits*2 >= textRows && blocked*10 <= textRows && hits > bestHits {
			best, bestHits = c, hits
		}
	}
	return best
}

func blankRun(r []rune, c int) bool {
	if c+gutterWidth > len(r) {
		return false
	}
	for _, ch := range r[c : c+gutterWidth] {
		if ch != ' ' {
			return false
		}
	}
	return true
}

func hasText(r []rune) bool {
	for _, ch := range r {
		if !unicode.IsSpace(ch) {
			return true
		}
	}
	return false
}

var spaces = regexp.MustCompile(`[ \t]+`)

// collapse squeezes horizontal whitespace and keeps at most one blank line.
func collapse(lines []string) string {
	var b strings.Builder
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(spaces.ReplaceAllString(l, " "))
		if l == "" {
			if !blank && b.Len() > 0 {
				b.WriteString("\n")
			}
			blank = true
			continue
		}
		blank = false
		b.WriteString(l)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

var hyphenBreak = regexp.MustCompile(`(\p{Ll})-\n(\p{Ll})`)

// dehyphenate rejoins words split across lines ("photo-\nsynthesis").
func dehyphenate(text string) string {
	return hyphenBreak.ReplaceAllString(text, "$1$2")
}
