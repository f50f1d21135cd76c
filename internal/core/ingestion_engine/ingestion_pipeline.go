package ingestion_engine

import (
	"context"
	"errors"
	"sync"

	"github.com/markdave123-py/textbook-index/internal/models"
	"github.com/markdave123-py/textbook-index/pkg/logger"
)

// DefaultQueueSize bounds the in-memory job queue.
const DefaultQueueSize = 64

// ErrQueueClosed is returned by Enqueue once the workers have shut down.
var ErrQueueClosed = errors.New("ingestion queue closed")

// DocumentIngestor feeds submitted jobs to a fixed pool of workers.
//
// proc:    runs one job (the orchestrator).
// jobs:    in-memory queue of pending jobs.
// done:    closed when Start's context ends.
// wg:      tracks running workers so Wait can drain them.
type DocumentIngestor struct {
	proc JobProcessor
	jobs chan models.ProcessingJob
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewDocumentIngestor constructs the ingestor with a bounded job queue.
func NewDocumentIngestor(proc JobProcessor, queueSize int) *DocumentIngestor {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &DocumentIngestor{
		proc: proc,
		jobs: make(chan models.ProcessingJob, queueSize),
		done: make(chan struct{}),
	}
}

// Start runs numWorkers goroutines reading from the queue until ctx ends.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	go func() {
		<-ctx.Done()
		i.once.Do(func() { close(i.done) })
	}()

	for w := 1; w <= numWorkers; w++ {
		i.wg.Add(1)
		go func(w int) {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					logger.Debug(ctx, "ingestor: worker shutting down", "worker", w)
					return
				case job := <-i.jobs:
					jctx := logger.WithContext(ctx, logger.JobIDKey, job.FilePath)
					logger.Info(jctx, "ingestor: processing job", "worker", w, "bucket", job.BucketName)
					res := i.ProcessOne(jctx, job)
					if !res.Success {
						logger.Warn(jctx, "ingestor: job failed", "error", res.Error)
					}
				}
			}
		}(w)
	}
}

// Enqueue marks the job pending and schedules it. It blocks while the queue is
// full, until ctx ends or the workers stop.
func (i *DocumentIngestor) Enqueue(ctx context.Context, job models.ProcessingJob) error {
	select {
	case <-i.done:
		return ErrQueueClosed
	default:
	}
	i.proc.MarkPending(ctx, job)

	select {
	case i.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-i.done:
		return ErrQueueClosed
	}
}

// ProcessOne runs a job synchronously on the caller's goroutine.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, job models.ProcessingJob) models.ProcessingResult {
	return i.proc.ProcessJob(ctx, job)
}

// Pending is the number of jobs waiting for a worker.
func (i *DocumentIngestor) Pending() int { return len(i.jobs) }

// Wait blocks until every worker has returned.
func (i *DocumentIngestor) Wait() { i.wg.Wait() }
