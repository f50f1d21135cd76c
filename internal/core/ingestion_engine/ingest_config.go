package ingestion_engine

import (
	"time"

	"github.com/markdave123-py/textbook-index/internal/config"
)

const (
	// DefaultBatchSize is how many jobs run concurrently inside one batch.
	DefaultBatchSize  = 3
	DefaultBatchPause = time.Second
	DefaultRetryLimit = 3
	// DefaultFallbackGrade is used when neither folder nor file name carries a grade.
	DefaultFallbackGrade = 1
)

// IngestConfig tunes the orchestrator.
//
// Buckets:       storage locations scanned by ProcessAll.
// BatchSize:     jobs processed concurrently per batch (e.g., 3).
// BatchPause:    sleep between batches so the embedding API is not hammered.
// RetryLimit:    failed attempts after which a file stays in failed.
// FallbackGrade: grade assigned when naming carries none.
// JobTimeout:    upper bound for one file, download to commit (0 disables).
// Chunking:      chunk size, overlap and minimum length.
type IngestConfig struct {
	Buckets       []string
	BatchSize     int
	BatchPause    time.Duration
	RetryLimit    int
	FallbackGrade int
	JobTimeout    time.Duration
	Chunking      config.ChunkingConfig
}

// NewIngestConfig maps the application config onto the orchestrator knobs.
func NewIngestConfig(cfg *config.Config) IngestConfig {
	return IngestConfig{
		Buckets:       cfg.DocumentBuckets,
		BatchSize:     cfg.Ingestion.BatchConcurrency,
		BatchPause:    cfg.Ingestion.BatchPause,
		RetryLimit:    cfg.Ingestion.RetryLimit,
		FallbackGrade: cfg.Ingestion.FallbackGrade,
		JobTimeout:    cfg.Ingestion.JobTimeout,
		Chunking:      cfg.Chunking,
	}.withDefaults()
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchPause < 0 {
		c.BatchPause = 0
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = DefaultRetryLimit
	}
	if c.FallbackGrade <= 0 {
		c.FallbackGrade = DefaultFallbackGrade
	}
	if c.Chunking.MaxSize <= 0 {
		c.Chunking.MaxSize = DefaultChunkSize
	}
	if c.Chunking.Overlap < 0 {
		c.Chunking.Overlap = DefaultChunkOverlap
	}
	if c.Chunking.MinSize <= 0 {
		c.Chunking.MinSize = MinChunkLength
	}
	return c
}

func (c IngestConfig) chunker() *Chunker {
	return NewChunker(
		WithMaxSize(c.Chunking.MaxSize),
		WithOverlap(c.Chunking.Overlap),
		WithMinSize(c.Chunking.MinSize),
	)
}
