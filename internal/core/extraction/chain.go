// Package extraction turns uploaded document bytes into plain text. PDFs go
// through an ordered list of strategies that ends with out-of-process OCR.
package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/internal/models"
	"github.com/markdave123-py/textbook-index/pkg/logger"
	"github.com/markdave123-py/textbook-index/pkg/metrics"
)

const (
	MethodPlaintext = "plaintext"
	// MethodFallback marks a result where every strategy failed.
	MethodFallback = "graceful-fallback"

	// DefaultMinTextLength rejects strategies that "succeed" with almost nothing.
	DefaultMinTextLength = 50
	// headerWindow is how far into the file the %PDF- marker may appear.
	headerWindow = 1024
)

var _ core.DocumentExtractor = (*Chain)(nil)

// Chain runs extraction strategies in order until one yields enough text.
type Chain struct {
	strategies []core.Extractor
	ocr        core.Extractor
	docx       core.Extractor
	unlocker   *Unlocker
	probe      probeFunc

	minText         int
	strategyTimeout time.Duration
	largeTimeout    time.Duration
	probeTimeout    time.Duration
	largeFileBytes  int
}

type ChainOption func(*Chain)

func WithUnlocker(u *Unlocker) ChainOption { return func(c *Chain) { c.unlocker = u } }

func WithMinTextLength(n int) ChainOption {
	return func(c *Chain) {
		if n > 0 {
			c.minText = n
		}
	}
}

// WithTimeouts sets the per-strategy deadline and the one used above largeFileBytes.
func WithTimeouts(normal, large time.Duration) ChainOption {
	return func(c *Chain) {
		c.strategyTimeout = normal
		c.largeTimeout = large
	}
}

// WithPrecheck enables the image-only probe for files larger than largeFileBytes.
func WithPrecheck(probe probeFunc, timeout time.Duration, largeFileBytes int64) ChainOption {
	return func(c *Chain) {
		c.probe = probe
		c.probeTimeout = timeout
		c.largeFileBytes = int(largeFileBytes)
	}
}

// WithDocxExtractor sets the extractor used for Word documents.
func WithDocxExtractor(e core.Extractor) ChainOption { return func(c *Chain) { c.docx = e } }

// NewChain builds a chain over strategies, with ocr as the last resort.
// ocr may be nil.
func NewChain(strategies []core.Extractor, ocr core.Extractor, opts ...ChainOption) *Chain {
	c := &Chain{
		strategies:      strategies,
		ocr:             ocr,
		minText:         DefaultMinTextLength,
		strategyTimeout: 2 * time.Minute,
		largeTimeout:    3 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDefaultChain wires the production strategies:
// docconv, the content stream parser, pdftotext -layout, then OCR.
func NewDefaultChain(cfg config.ExtractionConfig, runner core.CommandRunner) *Chain {
	docconv := NewDocconvStrategy(false)
	strategies := []core.Extractor{
		docconv,
		NewStreamStrategy(),
		NewLayoutStrategy(runner, cfg.PdftotextPath),
	}
	ocr := NewOCRStrategy(runner, OCRConfig{
		PdftoppmPath:  cfg.PdftoppmPath,
		TesseractPath: cfg.TesseractPath,
		Language:      cfg.OCRLanguage,
		DPI:           cfg.OCRDPI,
		BaseTimeout:   cfg.OCRBaseTimeout,
		PerMB:         cfg.OCRPerMB,
		MaxTimeout:    cfg.OCRMaxTimeout,
	})
	return NewChain(strategies, ocr,
		WithUnlocker(NewUnlocker(runner, cfg.QpdfPath)),
		WithMinTextLength(cfg.MinTextLength),
		WithTimeouts(cfg.StrategyTimeout, cfg.LargeStrategyTimeout),
		WithPrecheck(streamProbe, cfg.ProbeTimeout, cfg.LargeFileBytes),
		WithDocxExtractor(docconv),
	)
}

// Extract never returns an error: failures come back as a graceful-fallback
// result with a classification so one bad file cannot abort a batch.
func (c *Chain) Extract(ctx context.Context, data []byte, filename string) models.ExtractionResult {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md":
		return c.plaintext(data)
	case ".docx":
		if c.docx == nil {
			return c.fail(ErrUnsupportedInput)
		}
		return c.run(ctx, []core.Extractor{c.docx}, data, filename, nil)
	}

	if !isPDF(data) {
		logger.Warn(ctx, "rejecting file without pdf header", "file", filename)
		return c.fail(ErrCorruptedHeader)
	}

	var errs []error
	if c.unlocker != nil && looksEncrypted(data) {
		unlocked, err := c.unlocker.Unlock(ctx, data)
		if err != nil {
			// Keep going with the original bytes; some readers cope with
			// owner-password-only files.
			logger.Warn(ctx, "pdf unlock failed", "file", filename, "error", err.Error())
			errs = append(errs, fmt.Errorf("%w: %v", ErrEncrypted, err))
		} else {
			data = unlocked
		}
	}

	order := c.strategies
	if c.imageOnly(ctx, data) {
		logger.Info(ctx, "probe found no text layer, escalating to ocr", "file", filename)
		errs = append(errs, ErrImageBased)
		order = nil
	}
	if c.ocr != nil {
		order = append(order[:len(order):len(order)], c.ocr)
	}
	return c.run(ctx, order, data, filename, errs)
}

// run tries each extractor in order and stops at the first usable text.
// prior carries errors seen before any strategy ran.
func (c *Chain) run(ctx context.Context, order []core.Extractor, data []byte, filename string, prior []error) models.ExtractionResult {
	errs := prior
	for _, s := range order {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		text, err := c.attempt(ctx, s, data, filename)
		if err == nil {
			res := models.ExtractionResult{Text: text, Method: s.Name(), Success: true}
			if isPDF(data) {
				if n, err := pageCount(data); err == nil {
					res.PageCount = n
				}
			}
			return res
		}
		logger.Debug(ctx, "extraction strategy failed", "strategy", s.Name(), "file", filename, "error", err.Error())
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	if len(errs) == 0 {
		errs = append(errs, ErrUnsupportedInput)
	}
	return c.fail(errs...)
}

func (c *Chain) attempt(ctx context.Context, s core.Extractor, data []byte, filename string) (string, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.ExtractionAttempts.WithLabelValues(s.Name(), outcome).Inc()
		metrics.ExtractionDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
	}()

	sctx := ctx
	// OCR owns its deadline since it scales with file size.
	if s != c.ocr {
		if d := c.timeoutFor(len(data)); d > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	text, err := s.TryExtract(sctx, data, filename)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < c.minText {
		outcome = "too_short"
		return "", fmt.Errorf("%w (%d chars)", ErrTextTooShort, utf8.RuneCountInString(text))
	}
	outcome = "success"
	return text, nil
}

func (c *Chain) timeoutFor(size int) time.Duration {
	if c.largeFileBytes > 0 && size > c.largeFileBytes && c.largeTimeout > 0 {
		return c.largeTimeout
	}
	return c.strategyTimeout
}

func (c *Chain) imageOnly(ctx context.Context, data []byte) bool {
	if c.probe == nil || c.largeFileBytes <= 0 || len(data) <= c.largeFileBytes {
		return false
	}
	pctx := ctx
	if c.probeTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()
	}
	return looksImageBased(pctx, c.probe, data)
}

func (c *Chain) plaintext(data []byte) models.ExtractionResult {
	text := strings.TrimSpace(strings.ToValidUTF8(string(data), ""))
	if utf8.RuneCountInString(text) < c.minText {
		return c.fail(ErrTextTooShort)
	}
	return models.ExtractionResult{Text: text, Method: MethodPlaintext, Success: true}
}

func (c *Chain) fail(errs ...error) models.ExtractionResult {
	return models.ExtractionResult{
		Method:         MethodFallback,
		Error:          errors.Join(errs...).Error(),
		Classification: Classify(errs),
	}
}

func isPDF(data []byte) bool {
	window := data
	if len(window) > headerWindow {
		window = window[:headerWindow]
	}
	return bytes.Contains(window, []byte("%PDF-"))
}
