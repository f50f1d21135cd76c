package search

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/markdave123-py/textbook-index/pkg/errors"
	"github.com/markdave123-py/textbook-index/pkg/logger"
)

// DefaultWarmQueries are the topics lessons are most often generated for.
var DefaultWarmQueries = []string{
	"photosynthesis plants energy",
	"water cycle evaporation precipitation",
	"solar system planets space",
	"magnetism magnetic force",
	"electricity current circuit",
	"forces motion gravity",
	"matter states solid liquid gas",
	"ecosystems food chain animals",
	"weather climate temperature",
	"human body systems organs",
}

// WarmResult counts the outcome of a warm run.
type WarmResult struct {
	Warmed int      `json:"warmed"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// Warm embeds each query once and leaves the vector in the embedding cache,
// so the first real search for it skips the provider. Blank and repeated
// queries are ignored; one failure does not stop the rest.
func (e *Engine) Warm(ctx context.Context, queries []string) (WarmResult, error) {
	if e.embedder == nil {
		return WarmResult{}, apperrors.New(apperrors.CodeServiceUnavailable, "no query embedder configured")
	}
	if e.cache == nil {
		return WarmResult{}, apperrors.New(apperrors.CodeServiceUnavailable, "no cache configured")
	}

	seen := make(map[string]bool, len(queries))
	var todo []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		todo = append(todo, q)
	}

	var (
		mu  sync.Mutex
		res WarmResult
	)
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, q := range todo {
		g.Go(func() error {
			_, err := e.queryEmbedding(ctx, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, q+": "+err.Error())
				logger.Warn(ctx, "warm: embedding failed", "query", q, "error", err.Error())
				return nil
			}
			res.Warmed++
			return nil
		})
	}
	_ = g.Wait()
	logger.Info(ctx, "warm done", "warmed", res.Warmed, "failed", res.Failed)
	return res, ctx.Err()
}
