package extraction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/pkg/logger"
)

const MethodOCR = "ocr"

var _ core.Extractor = (*OCRStrategy)(nil)

// OCRConfig controls the rasterize-and-recognize pipeline.
type OCRConfig struct {
	PdftoppmPath  string
	TesseractPath string
	Language      string
	DPI           int
	BaseTimeout   time.Duration
	PerMB         time.Duration
	MaxTimeout    time.Duration
}

// OCRStrategy renders pages with pdftoppm and recognizes them with tesseract,
// both as child processes under one hard deadline.
type OCRStrategy struct {
	runner core.CommandRunner
	cfg    OCRConfig
}

func NewOCRStrategy(runner core.CommandRunner, cfg OCRConfig) *OCRStrategy {
	if cfg.PdftoppmPath == "" {
		cfg.PdftoppmPath = "pdftoppm"
	}
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = 2 * time.Minute
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 10 * time.Minute
	}
	return &OCRStrategy{runner: runner, cfg: cfg}
}

func (s *OCRStrategy) Name() string { return MethodOCR }

// Timeout grows with the document size: base plus PerMB for every started MB.
func (s *OCRStrategy) Timeout(size int) time.Duration {
	mb := (size + (1<<20 - 1)) >> 20
	d := s.cfg.BaseTimeout + time.Duration(mb)*s.cfg.PerMB
	if d > s.cfg.MaxTimeout {
		d = s.cfg.MaxTimeout
	}
	return d
}

func (s *OCRStrategy) TryExtract(ctx context.Context, data []byte, _ string) (text string, err error) {
	ws, err := newWorkspace("ocr-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			logger.Warn(ctx, "ocr workspace cleanup failed", "error", cerr.Error())
		}
	}()

	timeout := s.Timeout(len(data))
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrOCRTimeout, timeout)
		}
	}()

	in, err := ws.write("in.pdf", data)
	if err != nil {
		return "", err
	}

	prefix := ws.path("page")
	if _, err := s.runner.Run(ctx, s.cfg.PdftoppmPath,
		"-r", strconv.Itoa(s.cfg.DPI), "-gray", "-png", in, prefix); err != nil {
		return "", fmt.Errorf("pdftoppm: %w", err)
	}

	images, err := pageImages(prefix)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "", errors.New("pdftoppm rendered no pages")
	}

	var b strings.Builder
	for _, img := range images {
		out, err := s.runner.Run(ctx, s.cfg.TesseractPath, img, "stdout", "-l", s.cfg.Language)
		if err != nil {
			return "", fmt.Errorf("tesseract %s: %w", filepath.Base(img), err)
		}
		if page := strings.TrimSpace(string(out)); page != "" {
			b.WriteString(page)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// pageImages lists rendered pages in page order. pdftoppm zero-pads the page
// number to the width of the page count, so a numeric sort is needed.
func pageImages(prefix string) ([]string, error) {
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	num := func(p string) int {
		base := strings.TrimSuffix(filepath.Base(p), ".png")
		n, _ := strconv.Atoi(base[strings.LastIndex(base, "-")+1:])
		return n
	}
	sort.Slice(matches, func(i, j int) bool { return num(matches[i]) < num(matches[j]) })
	return matches, nil
}
