package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/textbook-index/internal/core"
)

const MethodStream = "pdf-stream"

var _ core.Extractor = (*StreamStrategy)(nil)

// StreamStrategy walks each page's content stream with ledongthuc/pdf.
type StreamStrategy struct{}

func NewStreamStrategy() *StreamStrategy { return &StreamStrategy{} }

func (e *StreamStrategy) Name() string { return MethodStream }

func (e *StreamStrategy) TryExtract(ctx context.Context, data []byte, _ string) (string, error) {
	return runBounded(ctx, func() (string, error) {
		text, _, err := streamText(ctx, data, 0)
		return text, err
	})
}

// streamText extracts up to maxPages pages (0 = all) and returns the text and
// the page count of the document.
func streamText(ctx context.Context, data []byte, maxPages int) (string, int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}

	total := r.NumPage()
	limit := total
	if maxPages > 0 && maxPages < total {
		limit = maxPages
	}

	var b strings.Builder
	for i := 1; i <= limit; i++ {
		if err := ctx.Err(); err != nil {
			return b.String(), total, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		for _, name := range p.Fonts() {
			f := p.Font(name)
			fonts[name] = &f
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return b.String(), total, fmt.Errorf("page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String()), total, nil
}

// pageCount reads the page tree of a PDF without decoding any content stream.
func pageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page count: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}
