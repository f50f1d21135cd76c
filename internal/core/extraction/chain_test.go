package extraction

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/textbook-index/internal/core"
)

func TestChain_FirstUsableStrategyWins(t *testing.T) {
	first := &fakeExtractor{name: "docconv", text: longText}
	second := &fakeExtractor{name: "pdf-stream", text: longText}
	ocr := &fakeExtractor{name: "ocr", text: longText}

	res := NewChain([]core.Extractor{first, second}, ocr).Extract(context.Background(), pdfBytes("x"), "book.pdf")

	require.True(t, res.Success)
	assert.Equal(t, "docconv", res.Method)
	assert.Equal(t, 0, second.callCount())
	assert.Equal(t, 0, ocr.callCount())
}

func TestChain_ReportsPageCount(t *testing.T) {
	s := &fakeExtractor{name: "docconv", text: longText}

	res := NewChain([]core.Extractor{s}, nil).Extract(context.Background(), pagedPDF(3), "book.pdf")
	require.True(t, res.Success)
	assert.Equal(t, 3, res.PageCount)

	res = NewChain([]core.Extractor{s}, nil).Extract(context.Background(), pdfBytes("x"), "book.pdf")
	require.True(t, res.Success)
	assert.Zero(t, res.PageCount, "unreadable page tree leaves the count unset")
}

func TestPageCount(t *testing.T) {
	n, err := pageCount(pagedPDF(5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = pageCount([]byte("%PDF-1.7 truncated"))
	assert.Error(t, err)
}

func TestChain_ShortTextFallsThrough(t *testing.T) {
	short := &fakeExtractor{name: "docconv", text: "   only a few words   "}
	broken := &fakeExtractor{name: "pdf-stream", err: errors.New("boom")}
	layout := &fakeExtractor{name: "pdftotext-layout", text: longText}

	res := NewChain([]core.Extractor{short, broken, layout}, nil).Extract(context.Background(), pdfBytes("x"), "book.pdf")

	require.True(t, res.Success)
	assert.Equal(t, "pdftotext-layout", res.Method)
	assert.GreaterOrEqual(t, len(res.Text), DefaultMinTextLength)
}

func TestChain_ImageOnlyFallsBackGracefully(t *testing.T) {
	short := &fakeExtractor{name: "docconv", text: ""}
	stream := &fakeExtractor{name: "pdf-stream", text: "  "}
	ocr := &fakeExtractor{name: "ocr", err: errors.New("tesseract exited with 1")}

	res := NewChain([]core.Extractor{short, stream}, ocr).Extract(context.Background(), pdfBytes("x"), "scan.pdf")

	assert.False(t, res.Success)
	assert.Equal(t, MethodFallback, res.Method)
	assert.Equal(t, ClassImageBased, res.Classification)
	assert.Equal(t, 1, ocr.callCount(), "ocr is the last resort")
	assert.Contains(t, res.Error, "tesseract")
}

func TestChain_CorruptedHeaderSkipsEverything(t *testing.T) {
	s := &fakeExtractor{name: "docconv", text: longText}
	ocr := &fakeExtractor{name: "ocr", text: longText}

	res := NewChain([]core.Extractor{s}, ocr).Extract(context.Background(), []byte("<html>not a pdf</html>"), "book.pdf")

	assert.False(t, res.Success)
	assert.Equal(t, ClassCorrupted, res.Classification)
	assert.Equal(t, 0, s.callCount())
	assert.Equal(t, 0, ocr.callCount())
}

func TestChain_PlaintextPassthrough(t *testing.T) {
	s := &fakeExtractor{name: "docconv"}
	res := NewChain([]core.Extractor{s}, nil).Extract(context.Background(), []byte(longText), "notes.md")

	require.True(t, res.Success)
	assert.Equal(t, MethodPlaintext, res.Method)
	assert.Equal(t, 0, s.callCount())
}

func TestChain_DocxUsesDocxExtractor(t *testing.T) {
	docx := &fakeExtractor{name: "docconv", text: longText}
	res := NewChain(nil, nil, WithDocxExtractor(docx)).Extract(context.Background(), []byte("PK..."), "plan.docx")

	require.True(t, res.Success)
	assert.Equal(t, 1, docx.callCount())
}

func TestChain_StrategyTimeout(t *testing.T) {
	slow := &fakeExtractor{name: "docconv", block: true}
	next := &fakeExtractor{name: "pdf-stream", text: longText}

	chain := NewChain([]core.Extractor{slow, next}, nil, WithTimeouts(20*time.Millisecond, 20*time.Millisecond))
	res := chain.Extract(context.Background(), pdfBytes("x"), "book.pdf")

	require.True(t, res.Success)
	assert.Equal(t, "pdf-stream", res.Method)
}

func TestChain_PrecheckEscalatesLargeImageFiles(t *testing.T) {
	docconv := &fakeExtractor{name: "docconv", text: longText}
	ocr := &fakeExtractor{name: "ocr", text: longText}
	probe := func(context.Context, []byte) (string, error) { return "", nil }

	chain := NewChain([]core.Extractor{docconv}, ocr, WithPrecheck(probe, time.Second, 4))
	res := chain.Extract(context.Background(), pdfBytes("large enough"), "scan.pdf")

	require.True(t, res.Success)
	assert.Equal(t, "ocr", res.Method)
	assert.Equal(t, 0, docconv.callCount())
}

func TestChain_PrecheckSkippedForSmallFiles(t *testing.T) {
	docconv := &fakeExtractor{name: "docconv", text: longText}
	probed := false
	probe := func(context.Context, []byte) (string, error) { probed = true; return "", nil }

	chain := NewChain([]core.Extractor{docconv}, nil, WithPrecheck(probe, time.Second, 1<<20))
	res := chain.Extract(context.Background(), pdfBytes("small"), "book.pdf")

	require.True(t, res.Success)
	assert.False(t, probed)
}

func TestChain_UnlocksEncryptedInput(t *testing.T) {
	runner := &mockRunner{fn: func(_ context.Context, _ string, args []string) ([]byte, error) {
		out := args[len(args)-1]
		return nil, os.WriteFile(out, pdfBytes("decrypted"), 0o600)
	}}
	s := &fakeExtractor{name: "docconv", text: longText}

	chain := NewChain([]core.Extractor{s}, nil, WithUnlocker(NewUnlocker(runner, "qpdf")))
	res := chain.Extract(context.Background(), pdfBytes("/Encrypt 5 0 R"), "locked.pdf")

	require.True(t, res.Success)
	assert.Equal(t, []string{"qpdf"}, runner.programs())
	assert.Contains(t, string(s.seen), "decrypted")
}

func TestChain_UnlockFailureKeepsOriginalBytes(t *testing.T) {
	runner := &mockRunner{fn: func(context.Context, string, []string) ([]byte, error) {
		return nil, errors.New("qpdf exited with 2: invalid password")
	}}
	s := &fakeExtractor{name: "docconv", err: errors.New("cannot read")}

	chain := NewChain([]core.Extractor{s}, nil, WithUnlocker(NewUnlocker(runner, "qpdf")))
	res := chain.Extract(context.Background(), pdfBytes("/Encrypt 5 0 R"), "locked.pdf")

	assert.False(t, res.Success)
	assert.Equal(t, 1, s.callCount())
	assert.Contains(t, string(s.seen), "/Encrypt")
	assert.Equal(t, ClassEncrypted, res.Classification)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		errs []error
		want string
	}{
		{"encrypted", []error{errors.New("file is password protected")}, ClassEncrypted},
		{"corrupted header", []error{ErrCorruptedHeader}, ClassCorrupted},
		{"bad xref", []error{errors.New("malformed PDF: missing xref")}, ClassCorrupted},
		{"color space", []error{errors.New("unsupported color space DeviceN")}, ClassColorSpace},
		{"too short", []error{ErrTextTooShort, ErrTextTooShort}, ClassImageBased},
		{"ocr timeout", []error{errors.New("x"), ErrOCRTimeout}, ClassOCRTimeout},
		{"encrypted beats short", []error{ErrTextTooShort, ErrEncrypted}, ClassEncrypted},
		{"nothing known", []error{errors.New("exit status 1")}, ClassUnknown},
		{"empty", nil, ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.errs))
		})
	}
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF([]byte("%PDF-1.4 ...")))
	assert.True(t, isPDF(append(make([]byte, 100), []byte("%PDF-1.4")...)))
	assert.False(t, isPDF(append(make([]byte, 2048), []byte("%PDF-1.4")...)))
	assert.False(t, isPDF(nil))
}
