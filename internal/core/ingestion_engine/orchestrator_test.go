package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/textbook-index/internal/core/extraction"
	"github.com/markdave123-py/textbook-index/internal/models"
	apperrors "github.com/markdave123-py/textbook-index/pkg/errors"
	"github.com/markdave123-py/textbook-index/pkg/retry"
)

func TestProcessJobCompletes(t *testing.T) {
	h := newHarness(IngestConfig{})
	modified := time.Now().Add(-time.Hour)
	h.objects.put("textbook_content", "grade_4/plants.pdf", []byte("%PDF-1.7 plants"), modified)

	res := h.orch.ProcessJob(context.Background(), testJob("grade_4/plants.pdf", modified))

	require.True(t, res.Success, res.Error)
	assert.False(t, res.Skipped)
	assert.Equal(t, "docconv", res.ExtractionMethod)
	assert.Equal(t, "test-embed", res.EmbeddingModel)
	assert.Positive(t, res.ChunksCreated)
	assert.Equal(t, 10*res.ChunksCreated, res.TotalTokens)

	chunks := h.index.get("grade_4/plants.pdf")
	require.Len(t, chunks, res.ChunksCreated)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, len(chunks), c.Metadata.TotalChunks)
		assert.Equal(t, 4, c.Metadata.GradeLevel)
		assert.Equal(t, "docconv", c.Metadata.ExtractionMethod)
		assert.NotEmpty(t, c.Metadata.ContentHash)
		assert.Equal(t, 12, c.Metadata.PageCount)
		assert.Len(t, c.Embedding, 4)
		assert.Equal(t, "test-embed", c.EmbeddingModel)
	}

	assert.Equal(t, []models.Status{models.StatusProcessing, models.StatusCompleted},
		h.status.transitions("grade_4/plants.pdf"))
	row := h.status.row("grade_4/plants.pdf")
	assert.Equal(t, res.ChunksCreated, row.ChunksCreated)
	assert.Equal(t, "docconv", row.ExtractionMethod)
	assert.Zero(t, row.RetryCount)
}

func TestProcessJobNotModifiedSkipsDownload(t *testing.T) {
	h := newHarness(IngestConfig{})
	modified := time.Now().Add(-time.Hour)
	h.objects.put("textbook_content", "grade_4/plants.pdf", []byte("%PDF-1.7 plants"), modified)
	job := testJob("grade_4/plants.pdf", modified)

	first := h.orch.ProcessJob(context.Background(), job)
	require.True(t, first.Success)
	second := h.orch.ProcessJob(context.Background(), job)

	assert.True(t, second.Success)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.ChunksCreated, second.ChunksCreated)
	assert.Equal(t, 1, h.objects.getCalls)
	assert.Equal(t, 1, h.embedder.callCount())
	assert.Equal(t, 1, h.index.replaceCalls)
}

func TestProcessJobSameContentSkipsEmbedding(t *testing.T) {
	h := newHarness(IngestConfig{})
	data := []byte("%PDF-1.7 plants")
	h.objects.put("textbook_content", "grade_4/plants.pdf", data, time.Now())

	first := h.orch.ProcessJob(context.Background(), testJob("grade_4/plants.pdf", time.Now().Add(-time.Minute)))
	require.True(t, first.Success)

	// Re-uploaded with the same bytes: newer mtime, identical content.
	second := h.orch.ProcessJob(context.Background(), testJob("grade_4/plants.pdf", time.Now().Add(time.Hour)))

	assert.True(t, second.Skipped)
	assert.Equal(t, first.ChunksCreated, second.ChunksCreated)
	assert.Equal(t, 2, h.objects.getCalls)
	assert.Equal(t, 1, h.embedder.callCount())
	assert.Equal(t, 1, h.index.replaceCalls)
	assert.Equal(t, models.StatusCompleted, h.status.row("grade_4/plants.pdf").Status)
}

func TestProcessJobForceReprocesses(t *testing.T) {
	h := newHarness(IngestConfig{})
	modified := time.Now().Add(-time.Hour)
	h.objects.put("textbook_content", "grade_4/plants.pdf", []byte("%PDF-1.7 plants"), modified)
	job := testJob("grade_4/plants.pdf", modified)

	require.True(t, h.orch.ProcessJob(context.Background(), job).Success)
	job.Force = true
	res := h.orch.ProcessJob(context.Background(), job)

	assert.True(t, res.Success)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, h.embedder.callCount())
	assert.Equal(t, 2, h.index.replaceCalls)
}

func TestProcessJobReplacesEveryOldChunk(t *testing.T) {
	h := newHarness(IngestConfig{})
	h.index.seed("grade_4/plants.pdf", 12, time.Now().Add(-48*time.Hour))
	h.objects.put("textbook_content", "grade_4/plants.pdf", []byte("%PDF-1.7 v2"), time.Now().Add(-time.Hour))

	res := h.orch.ProcessJob(context.Background(), testJob("grade_4/plants.pdf", time.Now().Add(-time.Hour)))
	require.True(t, res.Success)

	n, err := h.index.CountFileChunks(context.Background(), "grade_4/plants.pdf")
	require.NoError(t, err)
	assert.Equal(t, res.ChunksCreated, n)
	for _, c := range h.index.get("grade_4/plants.pdf") {
		assert.NotContains(t, c.ID, "old-")
	}
}

func TestProcessJobImageOnlyFailsGracefully(t *testing.T) {
	h := newHarness(IngestConfig{})
	h.extractor.result = func(string) models.ExtractionResult {
		return models.ExtractionResult{
			Method:         extraction.MethodFallback,
			Error:          "ocr: tesseract produced no text",
			Classification: extraction.ClassImageBased,
		}
	}
	h.objects.put("textbook_content", "grade_2/scan.pdf", []byte("%PDF-1.4 scan"), time.Now())

	res := h.orch.ProcessJob(context.Background(), testJob("grade_2/scan.pdf", time.Now()))

	assert.False(t, res.Success)
	assert.Equal(t, extraction.ClassImageBased, res.Classification)
	assert.Equal(t, extraction.MethodFallback, res.ExtractionMethod)
	assert.Contains(t, res.Error, "image-based")
	assert.Zero(t, h.embedder.callCount())
	assert.Zero(t, h.index.replaceCalls)

	row := h.status.row("grade_2/scan.pdf")
	assert.Equal(t, models.StatusFailed, row.Status, "image-only documents are not retried")
	assert.Equal(t, extraction.MethodFallback, row.ExtractionMethod)
	assert.Contains(t, row.ErrorMessage, "image-based")
}

func TestProcessJobRetryCounterReachesLimit(t *testing.T) {
	h := newHarness(IngestConfig{RetryLimit: 3})
	h.embedder.err = errFlaky
	h.objects.put("textbook_content", "grade_5/energy.pdf", []byte("%PDF-1.7 energy"), time.Now())
	job := testJob("grade_5/energy.pdf", time.Now())

	want := []models.Status{models.StatusRetry, models.StatusRetry, models.StatusFailed}
	for i, status := range want {
		res := h.orch.ProcessJob(context.Background(), job)
		require.False(t, res.Success)
		assert.Contains(t, res.Error, "embedding")

		row := h.status.row(job.FilePath)
		assert.Equal(t, status, row.Status, "attempt %d", i+1)
		assert.Equal(t, i+1, row.RetryCount)
	}
}

func TestProcessJobPermanentEmbeddingErrorFails(t *testing.T) {
	h := newHarness(IngestConfig{RetryLimit: 3})
	h.embedder.err = apperrors.Wrap(retry.Permanent(errors.New("400 invalid input")), apperrors.CodeEmbeddingFailed, "embed batch 0-3 of 3")
	h.objects.put("textbook_content", "grade_5/energy.pdf", []byte("%PDF-1.7 energy"), time.Now())

	res := h.orch.ProcessJob(context.Background(), testJob("grade_5/energy.pdf", time.Now()))

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "embedding")
	row := h.status.row("grade_5/energy.pdf")
	assert.Equal(t, models.StatusFailed, row.Status, "a rejected request is not retried")
	assert.Equal(t, 1, row.RetryCount)
}

func TestProcessJobMissingObjectFails(t *testing.T) {
	h := newHarness(IngestConfig{})
	h.objects.getErr = fmt.Errorf("s3 get textbook_content/grade_4/gone.pdf failed: %w", retry.Permanent(errors.New("NoSuchKey")))

	res := h.orch.ProcessJob(context.Background(), testJob("grade_4/gone.pdf", time.Now()))

	assert.False(t, res.Success)
	assert.Equal(t, models.StatusFailed, h.status.row("grade_4/gone.pdf").Status)
}

func TestProcessJobStoreFailureKeepsPreviousChunks(t *testing.T) {
	h := newHarness(IngestConfig{})
	h.index.seed("grade_4/plants.pdf", 5, time.Now().Add(-48*time.Hour))
	h.index.replaceErr = errors.New("deadlock detected")
	h.objects.put("textbook_content", "grade_4/plants.pdf", []byte("%PDF-1.7 v2"), time.Now())

	res := h.orch.ProcessJob(context.Background(), testJob("grade_4/plants.pdf", time.Now()))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "store")
	assert.Len(t, h.index.get("grade_4/plants.pdf"), 5)
	assert.Equal(t, models.StatusRetry, h.status.row("grade_4/plants.pdf").Status)
}

func TestProcessJobDownloadFailure(t *testing.T) {
	h := newHarness(IngestConfig{})
	h.objects.getErr = errors.New("connection reset")

	res := h.orch.ProcessJob(context.Background(), testJob("grade_4/missing.pdf", time.Now()))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "download")
	assert.Equal(t, models.StatusRetry, h.status.row("grade_4/missing.pdf").Status)
}

func TestProcessBatchOrdersAndBounds(t *testing.T) {
	h := newHarness(IngestConfig{BatchSize: 3})
	h.extractor.hold = 20 * time.Millisecond

	jobs := []models.ProcessingJob{
		{FilePath: "g5-low.pdf", FileName: "g5-low.pdf", GradeLevel: 5, Priority: models.PriorityLow},
		{FilePath: "g3-normal.pdf", FileName: "g3-normal.pdf", GradeLevel: 3, Priority: models.PriorityNormal},
		{FilePath: "g1-normal.pdf", FileName: "g1-normal.pdf", GradeLevel: 1, Priority: models.PriorityNormal},
		{FilePath: "g6-high.pdf", FileName: "g6-high.pdf", GradeLevel: 6, Priority: models.PriorityHigh},
		{FilePath: "g2-low.pdf", FileName: "g2-low.pdf", GradeLevel: 2, Priority: models.PriorityLow},
		{FilePath: "g4-normal.pdf", FileName: "g4-normal.pdf", GradeLevel: 4, Priority: models.PriorityNormal},
		{FilePath: "g2-normal.pdf", FileName: "g2-normal.pdf", GradeLevel: 2, Priority: models.PriorityNormal},
	}
	for _, j := range jobs {
		h.objects.put("", j.FilePath, []byte("%PDF-1.7 "+j.FilePath), time.Now())
	}

	sum := h.orch.ProcessBatch(context.Background(), jobs)

	assert.Equal(t, 7, sum.Succeeded)
	assert.Zero(t, sum.Failed)
	assert.Len(t, sum.Results, 7)
	assert.Equal(t, 2, h.pauses, "one pause between each of the three batches")
	assert.LessOrEqual(t, h.extractor.maxSeen, 3)

	// Batches are [g6-high g1 g2] [g3 g4 g2-low] [g5-low]; order inside a batch is not fixed.
	var order []string
	for _, r := range sum.Results {
		order = append(order, r.FilePath)
	}
	assert.ElementsMatch(t, []string{"g6-high.pdf", "g1-normal.pdf", "g2-normal.pdf"}, order[:3])
	assert.ElementsMatch(t, []string{"g3-normal.pdf", "g4-normal.pdf", "g2-low.pdf"}, order[3:6])
	assert.Equal(t, "g5-low.pdf", order[6])

	for _, j := range jobs {
		assert.Equal(t, models.StatusPending, h.status.transitions(j.FilePath)[0])
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	h := newHarness(IngestConfig{})
	h.extractor.result = func(name string) models.ExtractionResult {
		if name == "broken.pdf" {
			return models.ExtractionResult{
				Method:         extraction.MethodFallback,
				Error:          "missing %PDF- header",
				Classification: extraction.ClassCorrupted,
			}
		}
		return models.ExtractionResult{Text: lessonText, Method: "docconv", Success: true}
	}
	jobs := []models.ProcessingJob{
		{FilePath: "a.pdf", FileName: "a.pdf"},
		{FilePath: "broken.pdf", FileName: "broken.pdf"},
		{FilePath: "c.pdf", FileName: "c.pdf"},
		{FilePath: "d.pdf", FileName: "d.pdf"},
	}
	for _, j := range jobs {
		h.objects.put("", j.FilePath, []byte(j.FilePath), time.Now())
	}

	sum := h.orch.ProcessBatch(context.Background(), jobs)

	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Positive(t, sum.TotalChunks)
	assert.Equal(t, models.StatusFailed, h.status.row("broken.pdf").Status)
	assert.Equal(t, models.StatusCompleted, h.status.row("d.pdf").Status)
}

func TestProcessBatchStopsWhenCancelled(t *testing.T) {
	h := newHarness(IngestConfig{BatchSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	h.orch.pause = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	jobs := []models.ProcessingJob{{FilePath: "a.pdf", FileName: "a.pdf"}, {FilePath: "b.pdf", FileName: "b.pdf"}}
	for _, j := range jobs {
		h.objects.put("", j.FilePath, []byte(j.FilePath), time.Now())
	}

	sum := h.orch.ProcessBatch(ctx, jobs)

	assert.Len(t, sum.Results, 1)
	assert.Equal(t, []string{"a.pdf"}, h.extractor.seen())
}

func TestSortJobs(t *testing.T) {
	jobs := []models.ProcessingJob{
		{FilePath: "c", GradeLevel: 2, Priority: models.PriorityLow},
		{FilePath: "a", GradeLevel: 3, Priority: models.PriorityNormal},
		{FilePath: "b", GradeLevel: 3, Priority: models.PriorityNormal},
		{FilePath: "d", GradeLevel: 9, Priority: models.PriorityHigh},
		{FilePath: "e", GradeLevel: 1, Priority: models.PriorityNormal},
	}
	SortJobs(jobs)

	var got []string
	for _, j := range jobs {
		got = append(got, j.FilePath)
	}
	assert.Equal(t, []string{"d", "e", "a", "b", "c"}, got)
}

func TestRetryFailedRespectsLimit(t *testing.T) {
	h := newHarness(IngestConfig{RetryLimit: 3})
	ctx := context.Background()
	require.NoError(t, h.status.UpsertStatus(ctx, &models.ProcessingStatus{
		FilePath: "grade_3/water.pdf", FileName: "water.pdf", BucketName: "textbook_content",
		Status: models.StatusRetry, RetryCount: 1,
	}))
	require.NoError(t, h.status.UpsertStatus(ctx, &models.ProcessingStatus{
		FilePath: "grade_3/exhausted.pdf", FileName: "exhausted.pdf", BucketName: "textbook_content",
		Status: models.StatusRetry, RetryCount: 3,
	}))
	h.objects.put("textbook_content", "grade_3/water.pdf", []byte("%PDF-1.7 water"), time.Now())

	sum, err := h.orch.RetryFailed(ctx)
	require.NoError(t, err)

	require.Len(t, sum.Results, 1)
	assert.Equal(t, "grade_3/water.pdf", sum.Results[0].FilePath)
	assert.True(t, sum.Results[0].Success)
	assert.Equal(t, models.StatusCompleted, h.status.row("grade_3/water.pdf").Status)
	assert.Equal(t, 3, h.index.get("grade_3/water.pdf")[0].Metadata.GradeLevel)
	assert.Equal(t, models.StatusRetry, h.status.row("grade_3/exhausted.pdf").Status)
}

func TestProcessAllScansThenProcesses(t *testing.T) {
	h := newHarness(IngestConfig{Buckets: []string{"textbook_content"}})
	h.objects.put("textbook_content", "grade_4/plants.pdf", []byte("%PDF-1.7 plants"), time.Now())
	h.objects.put("textbook_content", "grade_4/notes.xlsx", []byte("nope"), time.Now())

	scan, sum := h.orch.ProcessAll(context.Background(), false)

	assert.Equal(t, 1, scan.TotalFiles)
	assert.Equal(t, 1, scan.NewFiles)
	assert.Equal(t, 1, sum.Succeeded)

	scan, sum = h.orch.ProcessAll(context.Background(), false)
	assert.Empty(t, scan.ProcessingJobs, "nothing changed since the first run")
	assert.Empty(t, sum.Results)
}

func TestSummarize(t *testing.T) {
	sum := Summarize([]models.ProcessingResult{
		{Success: true, ChunksCreated: 3, TotalTokens: 30},
		{Success: true, Skipped: true, ChunksCreated: 2},
		{Success: false},
	})
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 5, sum.TotalChunks)
	assert.Equal(t, 30, sum.TotalTokens)
}
