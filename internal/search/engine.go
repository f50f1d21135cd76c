// Package search answers queries against the chunk index. It uses vector
// similarity when the store supports it and falls back to fused lexical
// search otherwise; both paths return the same result shape.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/textbook-index/internal/cache"
	"github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/internal/models"
	apperrors "github.com/markdave123-py/textbook-index/pkg/errors"
	"github.com/markdave123-py/textbook-index/pkg/logger"
	"github.com/markdave123-py/textbook-index/pkg/metrics"
)

var tracer = otel.Tracer("search")

const (
	PathVector  = "vector"
	PathLexical = "lexical"

	DefaultMaxResults    = 10
	DefaultMinSimilarity = 0.1
	// MaxResultsCap keeps a single request from pulling a whole grade.
	MaxResultsCap = 50
	// DefaultConcurrency caps parallel store queries, inside one lexical
	// search and across a batch wave.
	DefaultConcurrency = 5
)

// QueryEmbedder turns a query into a vector of the index width.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Engine is read-only over the index.
type Engine struct {
	index       core.SearchIndex
	embedder    QueryEmbedder
	cache       *cache.TieredCache
	maxResults  int
	minSim      float64
	concurrency int
	vectorOn    bool
}

// NewEngine builds the engine. embedder and c may be nil: without an embedder
// every query takes the lexical path, without a cache nothing is memoized.
func NewEngine(index core.SearchIndex, embedder QueryEmbedder, c *cache.TieredCache, cfg config.SearchConfig) *Engine {
	e := &Engine{
		index:       index,
		embedder:    embedder,
		cache:       c,
		maxResults:  cfg.MaxResults,
		minSim:      cfg.MinSimilarity,
		concurrency: cfg.LexicalConcurrency,
		vectorOn:    cfg.VectorEnabled,
	}
	if e.maxResults <= 0 {
		e.maxResults = DefaultMaxResults
	}
	if e.minSim <= 0 || e.minSim > 1 {
		e.minSim = DefaultMinSimilarity
	}
	if e.concurrency <= 0 {
		e.concurrency = DefaultConcurrency
	}
	return e
}

func (e *Engine) model() string {
	if e.embedder == nil {
		return ""
	}
	return e.embedder.Model()
}

// normalize fills defaults and rejects requests that cannot be served.
func (e *Engine) normalize(p models.SearchParams) (models.SearchParams, error) {
	p.Query = strings.TrimSpace(p.Query)
	if p.Query == "" {
		return p, apperrors.New(apperrors.CodeInvalidParam, "query is required")
	}
	if p.MaxResults <= 0 {
		p.MaxResults = e.maxResults
	}
	p.MaxResults = min(p.MaxResults, MaxResultsCap)
	if p.MinSimilarity <= 0 {
		p.MinSimilarity = e.minSim
	}
	if p.MinSimilarity > 1 {
		return p, apperrors.New(apperrors.CodeInvalidParam, "minSimilarity must be within [0,1]")
	}
	for _, t := range p.DocumentTypes {
		if !t.Valid() {
			return p, apperrors.New(apperrors.CodeInvalidParam, fmt.Sprintf("unknown document type %q", t))
		}
	}
	return p, nil
}

// Search returns chunks relevant to p.Query, sorted by descending similarity,
// all at or above p.MinSimilarity and at most p.MaxResults of them. No match
// is an empty result, not an error; store failures are returned as errors.
func (e *Engine) Search(ctx context.Context, p models.SearchParams) (models.SearchResponse, error) {
	start := time.Now()
	p, err := e.normalize(p)
	if err != nil {
		return models.SearchResponse{}, err
	}

	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()

	key := e.resultKey(p)
	if e.cache != nil && !p.SkipCache {
		if resp, ok := cache.GetJSON[models.SearchResponse](ctx, e.cache, cache.NamespaceSearch, key); ok {
			resp.Cached = true
			resp.SearchTimeMs = time.Since(start).Milliseconds()
			span.SetAttributes(attribute.Bool("search.cached", true))
			return resp, nil
		}
	}

	resp := models.SearchResponse{Query: p.Query, Results: []models.SearchResult{}}
	results, path, reason, err := e.execute(ctx, p)
	span.SetAttributes(attribute.String("search.path", path))
	if err != nil {
		span.RecordError(err)
		metrics.SearchRequests.WithLabelValues(path + "_error").Inc()
		return models.SearchResponse{}, apperrors.Wrap(err, apperrors.CodeRetrievalFailed, "search failed")
	}

	resp.Results = Rank(results, p.MinSimilarity, p.MaxResults)
	resp.Path = path
	resp.DegradedReason = reason
	resp.SearchTimeMs = time.Since(start).Milliseconds()

	metrics.SearchRequests.WithLabelValues(path).Inc()
	metrics.SearchDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	logger.Debug(ctx, "search done", "path", path, "results", len(resp.Results), "degraded", reason)

	if e.cache != nil && len(resp.Results) > 0 && reason == "" {
		cache.SetJSON(ctx, e.cache, cache.NamespaceSearch, key, p.Query, e.model(), resp)
	}
	return resp, nil
}

// execute picks the path. A query embedding failure degrades to lexical
// search; a failing vector query is a store error and is returned.
func (e *Engine) execute(ctx context.Context, p models.SearchParams) ([]models.SearchResult, string, string, error) {
	reason := ""
	switch {
	case !e.vectorOn:
		reason = "vector search disabled"
	case e.embedder == nil:
		reason = "no query embedder configured"
	case !e.index.VectorAvailable(ctx):
		reason = "vector index unavailable"
	default:
		vec, err := e.queryEmbedding(ctx, p.Query)
		if err == nil {
			res, err := e.index.SearchSimilar(ctx, core.VectorQuery{
				Embedding:     vec,
				GradeLevel:    p.GradeLevel,
				DocumentTypes: p.DocumentTypes,
				BucketNames:   p.BucketNames,
				MinSimilarity: p.MinSimilarity,
				Limit:         p.MaxResults,
			})
			return res, PathVector, "", err
		}
		logger.Warn(ctx, "query embedding failed, using lexical search", "error", err.Error())
		reason = "query embedding failed: " + err.Error()
	}

	res, partial, err := e.lexical(ctx, p, p.MaxResults)
	if partial != "" {
		reason = joinReasons(reason, partial)
	}
	return res, PathLexical, reason, err
}

func joinReasons(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

// queryEmbedding returns the cached vector for text or embeds it once.
func (e *Engine) queryEmbedding(ctx context.Context, text string) ([]float32, error) {
	if e.cache == nil {
		return e.embedder.EmbedQuery(ctx, text)
	}

	load := func(ctx context.Context) ([]byte, error) {
		vec, err := e.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		return json.Marshal(vec)
	}
	key := cache.Key(cache.NamespaceEmbedding, e.embedder.Model(), text)
	raw, _, err := e.cache.GetOrLoad(ctx, cache.NamespaceEmbedding, key, text, e.embedder.Model(), load)
	if err != nil {
		return nil, err
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		e.cache.Delete(ctx, key)
		return nil, fmt.Errorf("decode cached embedding: %w", err)
	}
	return vec, nil
}

// resultKey covers every parameter that changes the answer.
func (e *Engine) resultKey(p models.SearchParams) string {
	parts := []string{
		p.Query,
		p.TopicTitle,
		p.StudyArea,
		strconv.Itoa(p.MaxResults),
		strconv.FormatFloat(p.MinSimilarity, 'f', 4, 64),
	}
	if p.GradeLevel != nil {
		parts = append(parts, "grade="+strconv.Itoa(*p.GradeLevel))
	}
	types := make([]string, len(p.DocumentTypes))
	for i, t := range p.DocumentTypes {
		types[i] = string(t)
	}
	sort.Strings(types)
	buckets := append([]string(nil), p.BucketNames...)
	sort.Strings(buckets)
	parts = append(parts, "types="+strings.Join(types, ","), "buckets="+strings.Join(buckets, ","))
	return cache.Key(cache.NamespaceSearch, e.model(), parts...)
}

// Rank drops results under minSimilarity, sorts the rest by descending
// similarity (stable, so equal scores keep their source order) and truncates.
func Rank(in []models.SearchResult, minSimilarity float64, maxResults int) []models.SearchResult {
	out := make([]models.SearchResult, 0, len(in))
	for _, r := range in {
		if r.Similarity >= minSimilarity {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// BatchResult pairs one batch entry with its outcome.
type BatchResult struct {
	Response models.SearchResponse `json:"response"`
	Error    string                `json:"error,omitempty"`
}

// BatchSearch runs many searches in waves of at most DefaultConcurrency.
// One failing search does not affect the others.
func (e *Engine) BatchSearch(ctx context.Context, params []models.SearchParams) []BatchResult {
	out := make([]BatchResult, len(params))
	for from := 0; from < len(params); from += e.concurrency {
		if err := ctx.Err(); err != nil {
			for i := from; i < len(params); i++ {
				out[i].Error = err.Error()
			}
			break
		}
		to := min(from+e.concurrency, len(params))

		var g errgroup.Group
		for i := from; i < to; i++ {
			g.Go(func() error {
				resp, err := e.Search(ctx, params[i])
				if err != nil {
					out[i].Error = err.Error()
					return nil
				}
				out[i].Response = resp
				return nil
			})
		}
		_ = g.Wait()
	}
	return out
}

// Health describes which path searches currently take.
type Health struct {
	Mode            string      `json:"mode"`
	VectorAvailable bool        `json:"vectorAvailable"`
	EmbeddingModel  string      `json:"embeddingModel,omitempty"`
	Cache           cache.Stats `json:"cache"`
	Message         string      `json:"message"`
}

func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		Mode:            PathLexical,
		VectorAvailable: e.index.VectorAvailable(ctx),
		EmbeddingModel:  e.model(),
	}
	if e.cache != nil {
		h.Cache = e.cache.Stats()
	}
	switch {
	case h.VectorAvailable && e.vectorOn && e.embedder != nil:
		h.Mode = PathVector
		h.Message = "vector similarity search"
	case !h.VectorAvailable:
		h.Message = "vector index unavailable, using full-text, metadata and substring search"
	default:
		h.Message = "vector search disabled, using lexical search"
	}
	return h
}

// Stats summarizes what the index holds.
func (e *Engine) Stats(ctx context.Context) (models.IndexStats, error) {
	st, err := e.index.IndexStats(ctx)
	if err != nil {
		return models.IndexStats{}, apperrors.Wrap(err, apperrors.CodeDatabaseError, "index stats failed")
	}
	return st, nil
}
