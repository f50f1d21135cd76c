package search

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/internal/models"
	apperrors "github.com/markdave123-py/textbook-index/pkg/errors"
	"github.com/markdave123-py/textbook-index/pkg/metrics"
)

const (
	PathSimilar = "similar"

	// SimilarMinSimilarity is the floor for related-chunk lookups; it is
	// stricter than a query search since both sides are book text.
	SimilarMinSimilarity = 0.7
)

// Similar returns chunks of the same grade whose embeddings are close to the
// stored embedding of chunkID. The source chunk is never part of the result;
// excludeSameFile also drops every other chunk of its file.
func (e *Engine) Similar(ctx context.Context, chunkID string, maxResults int, excludeSameFile bool) (models.SearchResponse, error) {
	start := time.Now()
	if chunkID == "" {
		return models.SearchResponse{}, apperrors.New(apperrors.CodeInvalidParam, "chunk id is required")
	}
	if maxResults <= 0 {
		maxResults = e.maxResults
	}
	maxResults = min(maxResults, MaxResultsCap)

	ctx, span := tracer.Start(ctx, "search.Similar")
	defer span.End()
	span.SetAttributes(attribute.String("search.chunk_id", chunkID))

	if !e.vectorOn || !e.index.VectorAvailable(ctx) {
		return models.SearchResponse{}, apperrors.New(apperrors.CodeVectorUnavailable, "similar content needs the vector index")
	}

	src, found, err := e.index.ChunkEmbedding(ctx, chunkID)
	if err != nil {
		metrics.SearchRequests.WithLabelValues(PathSimilar + "_error").Inc()
		return models.SearchResponse{}, apperrors.Wrap(err, apperrors.CodeRetrievalFailed, "loading chunk failed")
	}
	if !found {
		return models.SearchResponse{}, apperrors.New(apperrors.CodeNotFound, "chunk not found")
	}

	q := core.VectorQuery{
		Embedding:     src.Embedding,
		GradeLevel:    &src.GradeLevel,
		MinSimilarity: SimilarMinSimilarity,
		Limit:         maxResults,
		ExcludeIDs:    []string{src.ID},
	}
	if excludeSameFile {
		q.ExcludeFilePath = src.FilePath
	}
	res, err := e.index.SearchSimilar(ctx, q)
	if err != nil {
		span.RecordError(err)
		metrics.SearchRequests.WithLabelValues(PathSimilar + "_error").Inc()
		return models.SearchResponse{}, apperrors.Wrap(err, apperrors.CodeRetrievalFailed, "similar search failed")
	}

	metrics.SearchRequests.WithLabelValues(PathSimilar).Inc()
	metrics.SearchDuration.WithLabelValues(PathSimilar).Observe(time.Since(start).Seconds())
	return models.SearchResponse{
		Query:        chunkID,
		Results:      Rank(res, SimilarMinSimilarity, maxResults),
		Path:         PathSimilar,
		SearchTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
