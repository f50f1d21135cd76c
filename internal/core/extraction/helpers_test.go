package extraction

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// mockRunner is a test double for CommandRunner. fn decides the result of
// each call; calls records program names and arguments.
type mockRunner struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, name string, args []string) ([]byte, error)
	calls [][]string
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string{name}, args...))
	m.mu.Unlock()
	if m.fn == nil {
		return nil, nil
	}
	return m.fn(ctx, name, args)
}

func (m *mockRunner) programs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c[0])
	}
	return out
}

// fakeExtractor returns canned text or an error and counts its calls.
type fakeExtractor struct {
	name  string
	text  string
	err   error
	block bool

	mu    sync.Mutex
	calls int
	seen  []byte
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) TryExtract(ctx context.Context, data []byte, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.seen = data
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var longText = strings.Repeat("Plants make food from sunlight in their leaves. ", 4)

func pdfBytes(body string) []byte {
	return []byte("%PDF-1.7\n" + body + "\n%%EOF")
}

// pagedPDF builds a structurally valid PDF with the given number of empty
// pages, xref offsets included.
func pagedPDF(pages int) []byte {
	objs := []string{"<< /Type /Catalog /Pages 2 0 R >>"}
	kids := make([]string, pages)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for range pages {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return []byte(b.String())
}
