package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/internal/core"
	apperrors "github.com/markdave123-py/textbook-index/pkg/errors"
	"github.com/markdave123-py/textbook-index/pkg/logger"
	"github.com/markdave123-py/textbook-index/pkg/metrics"
	"github.com/markdave123-py/textbook-index/pkg/retry"
)

const (
	// DefaultStorageWidth is the vector column width of the index table.
	DefaultStorageWidth = 1536
	// DefaultBatchSize keeps each request under the providers' input limits.
	DefaultBatchSize = 100
	// DefaultBatchDelay spaces batches out to avoid rate limit bursts.
	DefaultBatchDelay = 100 * time.Millisecond
)

// EmbedResult holds one normalized vector per input text.
type EmbedResult struct {
	Vectors    [][]float32
	TokensUsed int
	Model      string
}

// EmbeddingClient batches texts over a provider, retries failed batches and
// normalizes every vector to the storage width.
type EmbeddingClient struct {
	provider  core.EmbeddingProvider
	policy    retry.Policy
	batchSize int
	width     int
	delay     time.Duration
}

func NewEmbeddingClient(provider core.EmbeddingProvider, cfg config.EmbeddingConfig) *EmbeddingClient {
	c := &EmbeddingClient{
		provider:  provider,
		batchSize: cfg.BatchSize,
		width:     cfg.StorageWidth,
		delay:     cfg.BatchDelay,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.BaseBackoff,
			MaxDelay:    30 * time.Second,
			Jitter:      true,
		},
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.width <= 0 {
		c.width = DefaultStorageWidth
	}
	if c.policy.MaxAttempts <= 0 {
		c.policy.MaxAttempts = 3
	}
	if c.delay < 0 {
		c.delay = 0
	}
	model := provider.Model()
	c.policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.EmbeddingRetries.WithLabelValues(model).Inc()
		logger.Default().Warn("embedding batch failed, retrying",
			"model", model, "attempt", attempt, "wait", wait.String(), "error", err.Error())
	}
	return c
}

func (c *EmbeddingClient) Model() string { return c.provider.Model() }

// Embed returns vectors for all texts or an error. A batch that still fails
// after retries fails the whole call; partial results are never returned.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) (EmbedResult, error) {
	model := c.provider.Model()
	res := EmbedResult{Model: model, Vectors: make([][]float32, 0, len(texts))}
	if len(texts) == 0 {
		return res, nil
	}

	start := time.Now()
	defer func() {
		metrics.EmbeddingDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	}()

	for from := 0; from < len(texts); from += c.batchSize {
		if from > 0 && c.delay > 0 {
			if err := sleep(ctx, c.delay); err != nil {
				return EmbedResult{}, err
			}
		}
		to := min(from+c.batchSize, len(texts))
		batch := texts[from:to]

		var vectors [][]float32
		var tokens int
		err := c.policy.Do(ctx, func(ctx context.Context) error {
			v, n, err := c.provider.EmbedTexts(ctx, batch)
			if err != nil {
				return err
			}
			if len(v) != len(batch) {
				return fmt.Errorf("provider returned %d vectors for %d texts", len(v), len(batch))
			}
			vectors, tokens = v, n
			return nil
		})
		if err != nil {
			metrics.EmbeddingBatches.WithLabelValues(model, "error").Inc()
			return EmbedResult{}, apperrors.Wrap(err, apperrors.CodeEmbeddingFailed,
				fmt.Sprintf("embed batch %d-%d of %d", from, to, len(texts)))
		}
		metrics.EmbeddingBatches.WithLabelValues(model, "ok").Inc()
		metrics.EmbeddingTokens.WithLabelValues(model).Add(float64(tokens))

		for _, v := range vectors {
			res.Vectors = append(res.Vectors, Normalize(v, c.width))
		}
		res.TokensUsed += tokens
	}
	return res, nil
}

// EmbedQuery embeds a single search query.
func (c *EmbeddingClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return res.Vectors[0], nil
}

// Normalize returns a copy of v with exactly width components: trailing
// dimensions are dropped when v is longer and zeros appended when shorter.
func Normalize(v []float32, width int) []float32 {
	if width < 0 {
		width = 0
	}
	out := make([]float32, width)
	copy(out, v)
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
