package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/pkg/retry"
)

const DefaultGeminiEmbeddingModel = "gemini-embedding-001"

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultGeminiEmbeddingModel
	}
	return &GeminiEmbedder{client: cl, modelName: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) Model() string { return g.modelName }

// EmbedTexts sends all texts in one BatchEmbedContents request. The API does
// not report usage for embeddings, so tokens are estimated.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = genai.TaskTypeRetrievalDocument

	batch := em.NewBatch()
	tokens := 0
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
		tokens += approxTokens(t)
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		err = fmt.Errorf("gemini batch embed: %w", err)
		if !geminiRetryable(err) {
			return nil, 0, retry.Permanent(err)
		}
		return nil, 0, err
	}

	// A short or empty answer will not improve on a retry.
	if len(resp.Embeddings) != len(texts) {
		return nil, 0, retry.Permanent(fmt.Errorf("gemini batch embed: got %d vectors for %d texts",
			len(resp.Embeddings), len(texts)))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, 0, retry.Permanent(fmt.Errorf("gemini batch embed: empty vector at %d", i))
		}
		out[i] = e.Values
	}
	return out, tokens, nil
}

// geminiRetryable reports whether a Gemini API failure is transient. The REST
// transport surfaces *googleapi.Error, the gRPC one a status; rejected
// requests and bad credentials fail the same way again.
func geminiRetryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests ||
			gerr.Code >= http.StatusInternalServerError ||
			gerr.Code == 0
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated,
			codes.FailedPrecondition, codes.OutOfRange, codes.Unimplemented:
			return false
		}
	}
	return true
}

// approxTokens uses the usual four characters per token estimate.
func approxTokens(s string) int {
	return (len(s) + 3) / 4
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
