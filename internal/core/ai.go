package core

import "context"

// EmbeddingProvider is a remote embedding model. It embeds exactly the texts it
// is given in one call; batching, retries and width normalisation live above it.
type EmbeddingProvider interface {
	// EmbedTexts returns one vector per text and the tokens the call consumed.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, int, error)
	Model() string
}

// LLMProvider generates text from a system and a user prompt. An empty answer
// is returned as "" with a nil error; callers decide what that means.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}
