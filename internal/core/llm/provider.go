package llm

import (
	"context"
	"fmt"

	"github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/internal/core"
)

// NewEmbeddingProvider picks the provider named by cfg.Provider. The returned
// close func releases the underlying client.
func NewEmbeddingProvider(ctx context.Context, cfg config.EmbeddingConfig) (core.EmbeddingProvider, func() error, error) {
	switch cfg.Provider {
	case "", "gemini":
		g, err := NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini embedder: %w", err)
		}
		return g, g.Close, nil
	case "openai":
		o, err := NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.Model, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("openai embedder: %w", err)
		}
		return o, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}
