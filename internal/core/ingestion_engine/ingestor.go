package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/textbook-index/internal/models"
)

// Ingestor queues submitted files for background processing.
type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, job models.ProcessingJob) error
	ProcessOne(ctx context.Context, job models.ProcessingJob) models.ProcessingResult
}

// JobProcessor runs a single job. *Orchestrator implements it.
type JobProcessor interface {
	MarkPending(ctx context.Context, job models.ProcessingJob)
	ProcessJob(ctx context.Context, job models.ProcessingJob) models.ProcessingResult
}
