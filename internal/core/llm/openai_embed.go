package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/pkg/retry"
)

// DefaultOpenAIEmbeddingModel produces 1536-wide vectors natively.
const DefaultOpenAIEmbeddingModel = openai.SmallEmbedding3

type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder builds a client for the OpenAI embeddings endpoint.
// baseURL may point at any compatible server; empty uses the public API.
func NewOpenAIEmbedder(apiKey, modelName, baseURL string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	model := DefaultOpenAIEmbeddingModel
	if modelName != "" {
		model = openai.EmbeddingModel(modelName)
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (o *OpenAIEmbedder) Model() string { return string(o.model) }

func (o *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: o.model,
	})
	if err != nil {
		err = fmt.Errorf("openai embeddings: %w", err)
		if !retryable(err) {
			return nil, 0, retry.Permanent(err)
		}
		return nil, 0, err
	}

	// Data carries its own index; do not rely on response order.
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, d.Embedding)
	}
	return out, resp.Usage.TotalTokens, nil
}

// retryable reports whether an API failure is transient. Client errors other
// than rate limiting will fail the same way again.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError ||
			apiErr.HTTPStatusCode == 0
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests ||
			reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return true
}

var _ core.EmbeddingProvider = (*OpenAIEmbedder)(nil)
