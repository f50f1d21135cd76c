package core

import (
	"context"

	"github.com/markdave123-py/textbook-index/internal/models"
)

// Extractor is one strategy for turning document bytes into text.
type Extractor interface {
	Name() string
	// TryExtract returns the extracted text. A strategy that produces nothing
	// useful should return an error or short text; the chain decides which.
	TryExtract(ctx context.Context, data []byte, filename string) (string, error)
}

// DocumentExtractor is the full chain as seen by the orchestrator.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, filename string) models.ExtractionResult
}

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}
