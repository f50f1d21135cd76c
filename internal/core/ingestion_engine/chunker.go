package ingestion_engine

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/markdave123-py/textbook-index/internal/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	// MinChunkLength drops fragments too short to carry meaning (headers, page numbers).
	MinChunkLength = 50
)

// Chunker splits text into overlapping, sentence-aligned segments.
//
// maxSize:  upper bound on chunk length in characters.
// overlap:  characters of trailing sentences carried into the next chunk.
// minSize:  chunks shorter than this are discarded.
type Chunker struct {
	maxSize int
	overlap int
	minSize int
}

type ChunkerOption func(*Chunker)

func WithMaxSize(n int) ChunkerOption { return func(c *Chunker) { c.maxSize = n } }
func WithOverlap(n int) ChunkerOption { return func(c *Chunker) { c.overlap = n } }
func WithMinSize(n int) ChunkerOption { return func(c *Chunker) { c.minSize = n } }

func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{maxSize: DefaultChunkSize, overlap: DefaultChunkOverlap, minSize: MinChunkLength}
	for _, o := range opts {
		o(c)
	}
	if c.maxSize <= 0 {
		c.maxSize = DefaultChunkSize
	}
	if c.overlap < 0 || c.overlap >= c.maxSize {
		c.overlap = 0
	}
	return c
}

// Chunk splits text with the default minimum length.
func Chunk(text string, maxSize, overlap int) []string {
	return NewChunker(WithMaxSize(maxSize), WithOverlap(overlap)).Split(text)
}

// Split returns the chunks of text. Same input, same output.
func (c *Chunker) Split(text string) []string {
	var (
		out    []string
		buf    []string
		bufLen int
		fresh  int // sentences in buf not yet emitted in a previous chunk
	)

	joinedLen := func(extra int) int {
		if len(buf) == 0 {
			return extra
		}
		return bufLen + len(buf) + extra // one space between sentences
	}

	// flush emits the buffer and seeds the next one with a tail of at most
	// c.overlap characters.
	flush := func() {
		if fresh == 0 {
			return
		}
		chunk := strings.Join(buf, " ")
		if utf8.RuneCountInString(chunk) >= c.minSize {
			out = append(out, chunk)
		}

		keep := []string{}
		remain := c.overlap
		for j := len(buf) - 1; j >= 0; j-- {
			n := runeLen(buf[j])
			if n+1 > remain {
				break
			}
			keep = append([]string{buf[j]}, keep...)
			remain -= n + 1
		}
		buf = keep
		bufLen = 0
		for _, s := range buf {
			bufLen += runeLen(s)
		}
		fresh = 0
	}

	for _, sentence := range c.sentences(text) {
		n := runeLen(sentence)
		if len(buf) > 0 && joinedLen(n) > c.maxSize {
			flush()
			// The seed alone plus this sentence may still be too long.
			if len(buf) > 0 && joinedLen(n) > c.maxSize {
				buf = buf[:0]
				bufLen = 0
			}
		}
		buf = append(buf, sentence)
		bufLen += n
		fresh++
	}
	flush()

	return out
}

// sentences normalises whitespace and splits on '.', '!' and '?'. Sentences
// longer than maxSize are cut at word boundaries.
func (c *Chunker) sentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		// Swallow runs like "?!" or "..." and closing quotes/brackets.
		j := i + 1
		for j < len(runes) && (isTerminator(runes[j]) || isCloser(runes[j])) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i = j - 1
			continue
		}
		out = append(out, c.bound(strings.TrimSpace(string(runes[start:j])))...)
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, c.bound(strings.TrimSpace(string(runes[start:])))...)
	}
	return out
}

// bound cuts s into pieces no longer than maxSize, preferring word boundaries.
func (c *Chunker) bound(s string) []string {
	if s == "" {
		return nil
	}
	if runeLen(s) <= c.maxSize {
		return []string{s}
	}

	var (
		out []string
		cur strings.Builder
		n   int
	)
	for _, w := range strings.Fields(s) {
		wl := runeLen(w)
		for wl > c.maxSize {
			if n > 0 {
				out = append(out, cur.String())
				cur.Reset()
				n = 0
			}
			r := []rune(w)
			out = append(out, string(r[:c.maxSize]))
			w = string(r[c.maxSize:])
			wl = runeLen(w)
		}
		if wl == 0 {
			continue
		}
		if n > 0 && n+1+wl > c.maxSize {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
		if n > 0 {
			cur.WriteByte(' ')
			n++
		}
		cur.WriteString(w)
		n += wl
	}
	if n > 0 {
		out = append(out, cur.String())
	}
	return out
}

func isTerminator(r rune) bool { return r == '.' || r == '!' || r == '?' }

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := runeLen(s)
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// BuildChunks turns chunk texts into storable chunks with a dense 0-based index
// and TotalChunks set on every entry.
func BuildChunks(texts []string, doc models.SourceDocument, method string, processedAt time.Time) []models.DocumentChunk {
	out := make([]models.DocumentChunk, len(texts))
	for i, t := range texts {
		out[i] = models.DocumentChunk{
			ID:         uuid.NewString(),
			Content:    t,
			ChunkIndex: i,
			TokenCount: approxTokens(t),
			Metadata: models.ChunkMetadata{
				GradeLevel:       doc.GradeLevel,
				DocumentType:     doc.DocumentType,
				FileName:         doc.FileName,
				FilePath:         doc.FilePath,
				BucketName:       doc.BucketName,
				ExtractionMethod: method,
				ChunkSize:        runeLen(t),
				TotalChunks:      len(texts),
				ProcessedAt:      processedAt,
			},
			CreatedAt: processedAt,
		}
	}
	return out
}
