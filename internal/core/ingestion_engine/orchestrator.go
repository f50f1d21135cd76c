package ingestion_engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/internal/core/extraction"
	"github.com/markdave123-py/textbook-index/internal/core/llm"
	"github.com/markdave123-py/textbook-index/internal/models"
	"github.com/markdave123-py/textbook-index/pkg/logger"
	"github.com/markdave123-py/textbook-index/pkg/metrics"
	"github.com/markdave123-py/textbook-index/pkg/retry"
)

// Embedder is the part of llm.EmbeddingClient the orchestrator needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (llm.EmbedResult, error)
	Model() string
}

// Orchestrator owns the write path into the index. For each file it drives
// download, extraction, chunking, embedding and the atomic chunk replacement,
// and keeps the per-file status row in step.
type Orchestrator struct {
	obj       core.ObjectClient
	index     core.IndexStore
	status    core.StatusStore
	extractor core.DocumentExtractor
	embedder  Embedder
	chunker   *Chunker
	scanner   *Scanner
	cfg       IngestConfig

	now   func() time.Time
	pause func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	obj core.ObjectClient,
	index core.IndexStore,
	status core.StatusStore,
	extractor core.DocumentExtractor,
	embedder Embedder,
	cfg IngestConfig,
) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		obj:       obj,
		index:     index,
		status:    status,
		extractor: extractor,
		embedder:  embedder,
		chunker:   cfg.chunker(),
		scanner:   NewScanner(obj, index, status, cfg),
		cfg:       cfg,
		now:       time.Now,
		pause:     sleepCtx,
	}
}

// Scanner exposes the scanner built from the same stores and config.
func (o *Orchestrator) Scanner() *Scanner { return o.scanner }

// jobError is a failed stage of one job.
type jobError struct {
	stage     string
	err       error
	retryable bool
}

func (e *jobError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *jobError) Unwrap() error { return e.err }

// MarkPending records that a job has been queued. Existing retry counters are kept.
func (o *Orchestrator) MarkPending(ctx context.Context, job models.ProcessingJob) {
	prev := o.currentStatus(ctx, job.FilePath)
	st := &models.ProcessingStatus{
		FilePath:   job.FilePath,
		FileName:   job.FileName,
		BucketName: job.BucketName,
		Status:     models.StatusPending,
	}
	if prev != nil {
		st.RetryCount = prev.RetryCount
		st.ChunksCreated = prev.ChunksCreated
		st.TotalTokens = prev.TotalTokens
		st.EmbeddingModel = prev.EmbeddingModel
		st.ExtractionMethod = prev.ExtractionMethod
	}
	o.writeStatus(ctx, st)
}

// ProcessJob indexes a single file. It never returns an error: every failure
// is reported in the result and recorded on the status row.
func (o *Orchestrator) ProcessJob(ctx context.Context, job models.ProcessingJob) (res models.ProcessingResult) {
	start := o.now()
	ctx = logger.WithContext(ctx, logger.FilePathKey, job.FilePath)
	ctx = logger.WithContext(ctx, logger.BucketKey, job.BucketName)
	if o.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.JobTimeout)
		defer cancel()
	}

	res = models.ProcessingResult{
		FilePath:       job.FilePath,
		FileName:       job.FileName,
		EmbeddingModel: o.embedder.Model(),
	}
	defer func() {
		elapsed := o.now().Sub(start)
		res.ProcessingTimeMs = elapsed.Milliseconds()
		metrics.IngestionDuration.Observe(elapsed.Seconds())
		switch {
		case res.Skipped:
			metrics.IngestionJobs.WithLabelValues("skipped").Inc()
		case res.Success:
			metrics.IngestionJobs.WithLabelValues(string(models.StatusCompleted)).Inc()
		default:
			metrics.IngestionJobs.WithLabelValues(string(models.StatusFailed)).Inc()
		}
	}()

	prev := o.currentStatus(ctx, job.FilePath)

	if !job.Force {
		if n, fresh := o.upToDate(ctx, job); fresh {
			logger.Info(ctx, "ingest: index is current, skipping", "chunks", n)
			return o.skip(ctx, job, prev, res, n)
		}
	}

	logger.Info(ctx, "ingest: processing",
		"grade", job.GradeLevel, "document_type", string(job.DocumentType), "force", job.Force)
	o.writeStatus(ctx, o.statusRow(job, prev, models.StatusProcessing))

	out, err := o.run(ctx, job, &res)
	if err != nil {
		return o.fail(ctx, job, prev, res, err)
	}
	if out.skipped {
		return o.skip(ctx, job, prev, res, out.chunks)
	}

	res.Success = true
	res.ChunksCreated = out.chunks
	res.TotalTokens = out.tokens
	metrics.IngestionChunks.Add(float64(out.chunks))

	st := o.statusRow(job, prev, models.StatusCompleted)
	st.ChunksCreated = out.chunks
	st.TotalTokens = out.tokens
	st.EmbeddingModel = res.EmbeddingModel
	st.ExtractionMethod = res.ExtractionMethod
	st.RetryCount = 0
	o.writeStatus(ctx, st)

	logger.Info(ctx, "ingest: completed",
		"chunks", out.chunks, "tokens", out.tokens, "method", res.ExtractionMethod)
	return res
}

type runOutcome struct {
	chunks  int
	tokens  int
	skipped bool
}

// run does the work between the processing and terminal status writes. The
// index is only touched before the embedding call (hash lookup) and after it
// (replacement); nothing is held open across it.
func (o *Orchestrator) run(ctx context.Context, job models.ProcessingJob, res *models.ProcessingResult) (runOutcome, error) {
	data, err := o.obj.GetFile(ctx, job.BucketName, job.FilePath)
	if err != nil {
		return runOutcome{}, &jobError{stage: "download", err: err, retryable: !retry.IsPermanent(err)}
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if !job.Force {
		stored, ok, err := o.index.IndexedContentHash(ctx, job.FilePath)
		if err != nil {
			logger.Warn(ctx, "ingest: content hash lookup failed", "error", err.Error())
		} else if ok && stored == hash {
			n, err := o.index.CountFileChunks(ctx, job.FilePath)
			if err != nil {
				logger.Warn(ctx, "ingest: chunk count failed", "error", err.Error())
			}
			return runOutcome{chunks: n, skipped: true}, nil
		}
	}

	ext := o.extractor.Extract(ctx, data, job.FileName)
	res.ExtractionMethod = ext.Method
	if !ext.Success {
		res.Classification = ext.Classification
		return runOutcome{}, &jobError{
			stage:     fmt.Sprintf("extraction failed (%s)", ext.Classification),
			err:       errors.New(ext.Error),
			retryable: retryableClass(ext.Classification),
		}
	}

	texts := o.chunker.Split(ext.Text)
	if len(texts) == 0 {
		return runOutcome{}, &jobError{stage: "chunking", err: errors.New("text produced no chunks")}
	}
	chunks := BuildChunks(texts, job.Document(), ext.Method, o.now())
	for i := range chunks {
		chunks[i].Metadata.ContentHash = hash
		chunks[i].Metadata.PageCount = ext.PageCount
	}

	emb, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return runOutcome{}, &jobError{stage: "embedding", err: err, retryable: !retry.IsPermanent(err)}
	}
	if len(emb.Vectors) != len(chunks) {
		return runOutcome{}, &jobError{
			stage:     "embedding",
			err:       fmt.Errorf("got %d vectors for %d chunks", len(emb.Vectors), len(chunks)),
			retryable: true,
		}
	}
	res.EmbeddingModel = emb.Model
	for i := range chunks {
		chunks[i].Embedding = emb.Vectors[i]
		chunks[i].EmbeddingModel = emb.Model
	}

	if err := o.index.ReplaceFileChunks(ctx, job.FilePath, chunks); err != nil {
		return runOutcome{}, &jobError{stage: "store", err: err, retryable: true}
	}
	return runOutcome{chunks: len(chunks), tokens: emb.TokensUsed}, nil
}

// upToDate reports whether the index already holds a version at least as new
// as the job's modification time.
func (o *Orchestrator) upToDate(ctx context.Context, job models.ProcessingJob) (int, bool) {
	if job.LastModified.IsZero() {
		return 0, false
	}
	indexedAt, ok, err := o.index.LatestIndexedAt(ctx, job.FilePath)
	if err != nil {
		logger.Warn(ctx, "ingest: index lookup failed", "error", err.Error())
		return 0, false
	}
	if !ok || job.LastModified.After(indexedAt) {
		return 0, false
	}
	n, err := o.index.CountFileChunks(ctx, job.FilePath)
	if err != nil {
		logger.Warn(ctx, "ingest: chunk count failed", "error", err.Error())
		return 0, false
	}
	return n, n > 0
}

func (o *Orchestrator) skip(ctx context.Context, job models.ProcessingJob, prev *models.ProcessingStatus, res models.ProcessingResult, chunks int) models.ProcessingResult {
	res.Success = true
	res.Skipped = true
	res.ChunksCreated = chunks

	st := o.statusRow(job, prev, models.StatusCompleted)
	st.ChunksCreated = chunks
	st.RetryCount = 0
	if prev != nil {
		st.TotalTokens = prev.TotalTokens
		st.ExtractionMethod = prev.ExtractionMethod
		if prev.EmbeddingModel != "" {
			st.EmbeddingModel = prev.EmbeddingModel
			res.EmbeddingModel = prev.EmbeddingModel
		}
		res.ExtractionMethod = prev.ExtractionMethod
	}
	o.writeStatus(ctx, st)
	return res
}

// fail records err on the status row. Retryable failures go to retry until the
// limit is reached; everything else goes straight to failed.
func (o *Orchestrator) fail(ctx context.Context, job models.ProcessingJob, prev *models.ProcessingStatus, res models.ProcessingResult, err error) models.ProcessingResult {
	res.Success = false
	res.Error = err.Error()

	retries := 1
	if prev != nil {
		retries = prev.RetryCount + 1
	}
	next := models.StatusFailed
	var je *jobError
	if errors.As(err, &je) && je.retryable && retries < o.cfg.RetryLimit && ctx.Err() == nil {
		next = models.StatusRetry
	}

	st := o.statusRow(job, prev, next)
	st.ErrorMessage = res.Error
	st.RetryCount = retries
	st.ExtractionMethod = res.ExtractionMethod
	st.EmbeddingModel = res.EmbeddingModel
	o.writeStatus(context.WithoutCancel(ctx), st)

	logger.Error(ctx, "ingest: job failed", err,
		"next_status", string(next), "retries", retries, "classification", res.Classification)
	return res
}

func (o *Orchestrator) statusRow(job models.ProcessingJob, prev *models.ProcessingStatus, s models.Status) *models.ProcessingStatus {
	st := &models.ProcessingStatus{
		FilePath:       job.FilePath,
		FileName:       job.FileName,
		BucketName:     job.BucketName,
		Status:         s,
		EmbeddingModel: o.embedder.Model(),
	}
	if prev != nil {
		st.RetryCount = prev.RetryCount
		st.ChunksCreated = prev.ChunksCreated
		st.TotalTokens = prev.TotalTokens
	}
	return st
}

func (o *Orchestrator) currentStatus(ctx context.Context, filePath string) *models.ProcessingStatus {
	st, err := o.status.GetStatus(ctx, filePath)
	if err != nil {
		logger.Warn(ctx, "ingest: status lookup failed", "error", err.Error())
		return nil
	}
	return st
}

// writeStatus is best-effort: a status row that fails to save must not undo
// work already committed to the index.
func (o *Orchestrator) writeStatus(ctx context.Context, st *models.ProcessingStatus) {
	if err := o.status.UpsertStatus(ctx, st); err != nil {
		logger.Error(ctx, "ingest: status update failed", err, "status", string(st.Status))
	}
}

// retryableClass reports whether another attempt could succeed.
func retryableClass(class string) bool {
	switch class {
	case extraction.ClassOCRTimeout, extraction.ClassUnknown:
		return true
	}
	return false
}

// SortJobs orders jobs by priority, then grade level. The sort is stable so
// equal jobs keep their scan order.
func SortJobs(jobs []models.ProcessingJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		pi, pj := jobs[i].Priority.Rank(), jobs[j].Priority.Rank()
		if pi != pj {
			return pi < pj
		}
		return jobs[i].GradeLevel < jobs[j].GradeLevel
	})
}

// ProcessBatch runs jobs in fixed-size concurrent batches with a pause between
// batches. A failing job never stops the others. If ctx is cancelled, the
// remaining batches are not started.
func (o *Orchestrator) ProcessBatch(ctx context.Context, jobs []models.ProcessingJob) models.BatchSummary {
	start := o.now()
	ordered := make([]models.ProcessingJob, len(jobs))
	copy(ordered, jobs)
	SortJobs(ordered)

	for _, job := range ordered {
		o.MarkPending(ctx, job)
	}

	results := make([]models.ProcessingResult, 0, len(ordered))
	for from := 0; from < len(ordered); from += o.cfg.BatchSize {
		if from > 0 {
			if err := o.pause(ctx, o.cfg.BatchPause); err != nil {
				logger.Warn(ctx, "ingest: batch run cancelled", "done", from, "total", len(ordered))
				break
			}
		}
		to := min(from+o.cfg.BatchSize, len(ordered))
		batch := ordered[from:to]
		out := make([]models.ProcessingResult, len(batch))

		var g errgroup.Group
		for i, job := range batch {
			g.Go(func() error {
				out[i] = o.ProcessJob(ctx, job)
				return nil
			})
		}
		_ = g.Wait()

		results = append(results, out...)
		logger.Info(ctx, "ingest: batch done", "batch", from/o.cfg.BatchSize+1, "jobs", len(batch))
	}

	sum := Summarize(results)
	sum.TotalDurationMs = o.now().Sub(start).Milliseconds()
	return sum
}

// Summarize totals a set of results.
func Summarize(results []models.ProcessingResult) models.BatchSummary {
	sum := models.BatchSummary{Results: results}
	if sum.Results == nil {
		sum.Results = []models.ProcessingResult{}
	}
	for _, r := range results {
		switch {
		case r.Skipped:
			sum.Skipped++
		case r.Success:
			sum.Succeeded++
		default:
			sum.Failed++
		}
		sum.TotalChunks += r.ChunksCreated
		sum.TotalTokens += r.TotalTokens
	}
	return sum
}

// ProcessAll scans the configured buckets and processes every queued job.
func (o *Orchestrator) ProcessAll(ctx context.Context, force bool) (models.ScanResult, models.BatchSummary) {
	scan := o.Scan(ctx, force)
	return scan, o.ProcessBatch(ctx, scan.ProcessingJobs)
}

// Scan lists the configured buckets without processing anything.
func (o *Orchestrator) Scan(ctx context.Context, force bool) models.ScanResult {
	return o.scanner.Scan(ctx, o.cfg.Buckets, force)
}

// RetryFailed re-runs every file in retry whose counter is under the limit.
func (o *Orchestrator) RetryFailed(ctx context.Context) (models.BatchSummary, error) {
	rows, err := o.status.ListStatuses(ctx, models.StatusRetry, 1000)
	if err != nil {
		return models.BatchSummary{}, fmt.Errorf("list retry rows: %w", err)
	}

	var jobs []models.ProcessingJob
	for _, st := range rows {
		if st.RetryCount >= o.cfg.RetryLimit {
			continue
		}
		jobs = append(jobs, o.jobFromStatus(st))
	}
	logger.Info(ctx, "ingest: retrying failed files", "candidates", len(rows), "queued", len(jobs))
	return o.ProcessBatch(ctx, jobs), nil
}

func (o *Orchestrator) jobFromStatus(st models.ProcessingStatus) models.ProcessingJob {
	folder, base := path.Split(st.FilePath)
	fileName := st.FileName
	if fileName == "" {
		fileName = base
	}
	return models.ProcessingJob{
		FilePath:     st.FilePath,
		FileName:     fileName,
		BucketName:   st.BucketName,
		GradeLevel:   DetectGrade(folder, fileName, o.cfg.FallbackGrade),
		DocumentType: DetectDocumentType(st.BucketName, fileName),
		Priority:     models.PriorityLow,
		Force:        true,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
