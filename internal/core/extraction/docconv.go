package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/textbook-index/internal/core"
)

const MethodDocconv = "docconv"

var _ core.Extractor = (*DocconvStrategy)(nil)

// DocconvStrategy implements the structured parser using sajari/docconv,
// which pairs document metadata with the body text (pdftotext/pdfinfo for PDF,
// native readers for DOCX).
type DocconvStrategy struct {
	useReadability bool
}

func NewDocconvStrategy(useReadability bool) *DocconvStrategy {
	return &DocconvStrategy{useReadability: useReadability}
}

func (e *DocconvStrategy) Name() string { return MethodDocconv }

func (e *DocconvStrategy) TryExtract(ctx context.Context, data []byte, filename string) (string, error) {
	contentType := docconv.MimeTypeByExtension(filename)
	if contentType == "application/octet-stream" && isPDF(data) {
		contentType = "application/pdf"
	}

	return runBounded(ctx, func() (string, error) {
		res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
		if err != nil {
			return "", fmt.Errorf("docconv %s: %w", contentType, err)
		}
		if res.Error != "" {
			return "", fmt.Errorf("docconv %s: %s", contentType, res.Error)
		}
		return joinLines(res.Body), nil
	})
}

// joinLines trims each line and drops empty ones.
func joinLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// maxParsers caps parser goroutines alive at once, including ones whose
// caller already gave up.
const maxParsers = 8

var parserSlots = make(chan struct{}, maxParsers)

// runBounded runs fn in a goroutine so that parsers which ignore ctx still
// respect the caller's deadline. A panic in fn becomes an error.
//
// fn cannot be interrupted: after the deadline it keeps running, along with
// any child process it started (docconv runs pdftotext), until it returns on
// its own. It holds one of maxParsers slots until then, so a run of stuck
// files blocks new parses instead of piling up goroutines and processes.
func runBounded(ctx context.Context, fn func() (string, error)) (string, error) {
	type result struct {
		text string
		err  error
	}
	slots := parserSlots
	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	done := make(chan result, 1)

	go func() {
		defer func() { <-slots }()
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("parser panic: %v", r)}
			}
		}()
		text, err := fn()
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
