package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/internal/models"
	"github.com/markdave123-py/textbook-index/pkg/logger"
)

// Band is the similarity range a lexical source maps its ranks into. Bands
// do not overlap, so a higher priority source always outranks a lower one.
type Band struct {
	Floor float64
	Top   float64
}

// Score maps a 0-based rank inside a source onto the band. Rank 0 scores Top
// and later ranks approach Floor without reaching it.
func (b Band) Score(rank int) float64 {
	if rank < 0 {
		rank = 0
	}
	return b.Floor + (b.Top-b.Floor)/float64(1+rank)
}

// Lexical sources in priority order.
const (
	SourceFullText  = "fulltext"
	SourceMetadata  = "metadata"
	SourceSubstring = "substring"
)

var (
	FullTextBand  = Band{Floor: 0.70, Top: 0.90}
	MetadataBand  = Band{Floor: 0.45, Top: 0.65}
	SubstringBand = Band{Floor: 0.20, Top: 0.40}
)

type lexicalSource struct {
	name  string
	band  Band
	query func(ctx context.Context, q core.LexicalQuery) ([]models.SearchResult, error)
}

func (e *Engine) lexicalSources() []lexicalSource {
	return []lexicalSource{
		{name: SourceFullText, band: FullTextBand, query: e.index.SearchFullText},
		{name: SourceMetadata, band: MetadataBand, query: e.index.SearchMetadata},
		{name: SourceSubstring, band: SubstringBand, query: e.index.SearchSubstring},
	}
}

// lexical runs the text searches in parallel, capped by the configured
// concurrency, and fuses their candidates. It fails only if every source
// fails; a partial failure is returned as a degraded reason.
func (e *Engine) lexical(ctx context.Context, p models.SearchParams, limit int) ([]models.SearchResult, string, error) {
	q := core.LexicalQuery{
		Terms:      Terms(p.Query, p.TopicTitle, ""),
		Phrase:     strings.TrimSpace(p.Query),
		StudyArea:  strings.TrimSpace(p.StudyArea),
		GradeLevel: p.GradeLevel,
		// Post-filters on type and bucket can discard candidates; over-fetch.
		Limit: limit * 2,
	}

	sources := e.lexicalSources()
	sets := make([][]models.SearchResult, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			res, err := src.query(gctx, q)
			if err != nil {
				logger.Warn(ctx, "lexical source failed", "source", src.name, "error", err.Error())
				errs[i] = fmt.Errorf("%s: %w", src.name, err)
				return nil
			}
			sets[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, err := range errs {
		if err != nil {
			failed = append(failed, sources[i].name)
		}
	}
	if len(failed) == len(sources) {
		return nil, "", errors.Join(errs...)
	}

	bands := make([]Band, len(sources))
	for i, src := range sources {
		bands[i] = src.band
	}
	merged := Fuse(sets, bands, sourceNames(sources))
	merged = filterResults(merged, p)

	reason := ""
	if len(failed) > 0 {
		reason = "lexical sources failed: " + strings.Join(failed, ", ")
	}
	return merged, reason, nil
}

func sourceNames(ss []lexicalSource) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.name
	}
	return out
}

// Fuse assigns each candidate a band score from its rank within its source
// and deduplicates on chunk id. sets must be in priority order; the first
// (highest priority) occurrence of an id wins.
func Fuse(sets [][]models.SearchResult, bands []Band, names []string) []models.SearchResult {
	seen := map[string]bool{}
	var out []models.SearchResult
	for i, set := range sets {
		for rank, r := range set {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			r.Similarity = bands[i].Score(rank)
			if i < len(names) {
				r.Source = names[i]
			}
			out = append(out, r)
		}
	}
	return out
}

// filterResults applies the filters the lexical queries cannot express.
func filterResults(in []models.SearchResult, p models.SearchParams) []models.SearchResult {
	if len(p.DocumentTypes) == 0 && len(p.BucketNames) == 0 && p.GradeLevel == nil {
		return in
	}
	out := in[:0]
	for _, r := range in {
		if p.GradeLevel != nil && r.GradeLevel != *p.GradeLevel {
			continue
		}
		if len(p.DocumentTypes) > 0 && !slices.Contains(p.DocumentTypes, r.DocumentType) {
			continue
		}
		if len(p.BucketNames) > 0 && !slices.Contains(p.BucketNames, r.BucketName) {
			continue
		}
		out = append(out, r)
	}
	return out
}
