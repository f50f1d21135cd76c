package ingestion_engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/textbook-index/internal/models"
)

func TestDetectGrade(t *testing.T) {
	tests := []struct {
		name     string
		folder   string
		file     string
		expected int
	}{
		{"folder wins", "grade_4", "grade 7 workbook.pdf", 4},
		{"folder with spaces", "Grade 10", "biology.pdf", 10},
		{"file name", "", "Grade-06 Science.pdf", 6},
		{"ordinal in file name", "", "3rd grade reader.pdf", 3},
		{"ordinal in folder", "2nd Grade", "reader.pdf", 2},
		{"nested folder", "curriculum/grade_5/unit1", "energy.pdf", 5},
		{"fallback", "misc", "science.pdf", 1},
		{"zero is not a grade", "grade_0", "science.pdf", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectGrade(tt.folder, tt.file, 1))
		})
	}
}

func TestDetectDocumentType(t *testing.T) {
	tests := []struct {
		bucket   string
		file     string
		expected models.DocumentType
	}{
		{"textbook_content", "lesson plan.pdf", models.DocTextbook},
		{"Textbook Content", "anything.pdf", models.DocTextbook},
		{"Curriculums", "Grade 4 Lesson Plan.pdf", models.DocLessonPlan},
		{"curriculums", "scope and sequence.pdf", models.DocCurriculum},
		{"uploads", "Science Textbook.pdf", models.DocTextbook},
		{"uploads", "weekly plan.docx", models.DocLessonPlan},
		{"uploads", "standards.pdf", models.DocCurriculum},
	}
	for _, tt := range tests {
		t.Run(tt.bucket+"/"+tt.file, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectDocumentType(tt.bucket, tt.file))
		})
	}
}

func TestIsSupported(t *testing.T) {
	for _, name := range []string{"a.pdf", "B.PDF", "notes.txt", "readme.md", "unit.docx"} {
		assert.True(t, IsSupported(name), name)
	}
	for _, name := range []string{"image.png", "sheet.xlsx", "noext", "grade_4/"} {
		assert.False(t, IsSupported(name), name)
	}
}

func TestScanDetectsNewUpdatedAndUnchanged(t *testing.T) {
	h := newHarness(IngestConfig{})
	old := time.Now().Add(-72 * time.Hour)
	indexed := time.Now().Add(-24 * time.Hour)

	h.objects.put("textbook_content", "grade_3/new.pdf", []byte("x"), time.Now())
	h.objects.put("textbook_content", "grade_3/changed.pdf", []byte("x"), time.Now())
	h.objects.put("textbook_content", "grade_3/same.pdf", []byte("x"), old)
	h.objects.put("textbook_content", "grade_3/cover.png", []byte("x"), time.Now())
	h.index.seed("grade_3/changed.pdf", 2, indexed)
	h.index.seed("grade_3/same.pdf", 2, indexed)

	res := h.orch.Scanner().Scan(context.Background(), []string{"textbook_content"}, false)

	assert.Equal(t, 3, res.TotalFiles)
	assert.Equal(t, 1, res.NewFiles)
	assert.Equal(t, 1, res.UpdatedFiles)
	assert.Empty(t, res.Errors)
	require.Len(t, res.ProcessingJobs, 2)

	byPath := map[string]models.ProcessingJob{}
	for _, j := range res.ProcessingJobs {
		byPath[j.FilePath] = j
	}
	assert.Contains(t, byPath, "grade_3/new.pdf")
	assert.Contains(t, byPath, "grade_3/changed.pdf")
	j := byPath["grade_3/new.pdf"]
	assert.Equal(t, 3, j.GradeLevel)
	assert.Equal(t, models.DocTextbook, j.DocumentType)
	assert.Equal(t, "new.pdf", j.FileName)
	assert.Equal(t, models.PriorityNormal, j.Priority)
}

func TestScanForceQueuesEverything(t *testing.T) {
	h := newHarness(IngestConfig{})
	old := time.Now().Add(-72 * time.Hour)
	h.objects.put("Curriculums", "grade_1/plan.pdf", []byte("x"), old)
	h.index.seed("grade_1/plan.pdf", 2, time.Now())

	res := h.orch.Scanner().Scan(context.Background(), []string{"Curriculums"}, true)

	require.Len(t, res.ProcessingJobs, 1)
	assert.True(t, res.ProcessingJobs[0].Force)
	assert.Equal(t, models.DocLessonPlan, res.ProcessingJobs[0].DocumentType)
	assert.Equal(t, 1, res.UpdatedFiles)
}

func TestScanRetryLimitAndPriority(t *testing.T) {
	h := newHarness(IngestConfig{RetryLimit: 3})
	ctx := context.Background()
	h.objects.put("textbook_content", "exhausted.pdf", []byte("x"), time.Now().Add(-time.Hour))
	h.objects.put("textbook_content", "image-only.pdf", []byte("x"), time.Now().Add(-time.Hour))
	h.objects.put("textbook_content", "retrying.pdf", []byte("x"), time.Now().Add(-time.Hour))
	h.objects.put("textbook_content", "retried-out.pdf", []byte("x"), time.Now().Add(-time.Hour))
	require.NoError(t, h.status.UpsertStatus(ctx, &models.ProcessingStatus{
		FilePath: "exhausted.pdf", Status: models.StatusFailed, RetryCount: 3,
	}))
	// Permanent extraction failures are recorded as failed on the first attempt.
	require.NoError(t, h.status.UpsertStatus(ctx, &models.ProcessingStatus{
		FilePath: "image-only.pdf", Status: models.StatusFailed, RetryCount: 1,
	}))
	require.NoError(t, h.status.UpsertStatus(ctx, &models.ProcessingStatus{
		FilePath: "retrying.pdf", Status: models.StatusRetry, RetryCount: 1,
	}))
	require.NoError(t, h.status.UpsertStatus(ctx, &models.ProcessingStatus{
		FilePath: "retried-out.pdf", Status: models.StatusRetry, RetryCount: 3,
	}))

	res := h.orch.Scanner().Scan(ctx, []string{"textbook_content"}, false)

	require.Len(t, res.ProcessingJobs, 1)
	assert.Equal(t, "retrying.pdf", res.ProcessingJobs[0].FilePath)
	assert.Equal(t, models.PriorityLow, res.ProcessingJobs[0].Priority)

	// A new upload of a failed file makes it eligible again.
	h.objects.put("textbook_content", "exhausted.pdf", []byte("y"), time.Now().Add(time.Minute))
	h.objects.put("textbook_content", "image-only.pdf", []byte("y"), time.Now().Add(time.Minute))
	res = h.orch.Scanner().Scan(ctx, []string{"textbook_content"}, false)

	var paths []string
	for _, j := range res.ProcessingJobs {
		paths = append(paths, j.FilePath)
	}
	assert.ElementsMatch(t, []string{"exhausted.pdf", "image-only.pdf", "retrying.pdf"}, paths)
}

func TestScanKeepsGoingAfterBucketError(t *testing.T) {
	h := newHarness(IngestConfig{})
	h.objects.listErr["broken"] = errors.New("access denied")
	h.objects.put("textbook_content", "grade_2/a.pdf", []byte("x"), time.Now())

	res := h.orch.Scanner().Scan(context.Background(), []string{"broken", "textbook_content"}, false)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "access denied")
	assert.Len(t, res.ProcessingJobs, 1)
}

func TestScanIndexErrorQueuesFile(t *testing.T) {
	h := newHarness(IngestConfig{})
	h.index.latestErr = errors.New("timeout")
	h.objects.put("textbook_content", "a.pdf", []byte("x"), time.Now())

	res := h.orch.Scanner().Scan(context.Background(), []string{"textbook_content"}, false)

	assert.Len(t, res.ProcessingJobs, 1)
	assert.Equal(t, 1, res.NewFiles)
}
