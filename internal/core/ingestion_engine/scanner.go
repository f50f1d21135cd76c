package ingestion_engine

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/internal/models"
	"github.com/markdave123-py/textbook-index/pkg/logger"
)

var (
	// gradeNamedRe matches "grade_4", "Grade 4", "grade-04".
	gradeNamedRe = regexp.MustCompile(`(?i)grade[\s_-]*(\d+)`)
	// gradeOrdinalRe matches "4th grade", "4 grade".
	gradeOrdinalRe = regexp.MustCompile(`(?i)\b(\d+)(?:st|nd|rd|th)?\s*grade\b`)
)

// supportedExtensions are the file types the extraction chain accepts.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".docx": true,
}

// IsSupported reports whether name has an extension the pipeline can ingest.
func IsSupported(name string) bool {
	return supportedExtensions[strings.ToLower(path.Ext(name))]
}

// DetectGrade infers a grade level from naming. First match wins: the folder
// name, then the file name, then a generic "Nth grade" pattern on either.
func DetectGrade(folder, fileName string, fallback int) int {
	for _, s := range []string{folder, fileName} {
		if g, ok := firstGrade(gradeNamedRe, s); ok {
			return g
		}
	}
	for _, s := range []string{fileName, folder} {
		if g, ok := firstGrade(gradeOrdinalRe, s); ok {
			return g
		}
	}
	return fallback
}

func firstGrade(re *regexp.Regexp, s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	g, err := strconv.Atoi(m[1])
	if err != nil || g <= 0 {
		return 0, false
	}
	return g, true
}

// DetectDocumentType classifies a file from its bucket, then from file name hints.
func DetectDocumentType(bucket, fileName string) models.DocumentType {
	name := strings.ToLower(fileName)
	lessonHint := strings.Contains(name, "lesson") || strings.Contains(name, "plan")

	switch strings.ToLower(strings.TrimSpace(bucket)) {
	case "textbook_content", "textbook content":
		return models.DocTextbook
	case "curriculums":
		if lessonHint {
			return models.DocLessonPlan
		}
		return models.DocCurriculum
	}

	switch {
	case strings.Contains(name, "textbook"), strings.Contains(name, "book"):
		return models.DocTextbook
	case lessonHint:
		return models.DocLessonPlan
	default:
		return models.DocCurriculum
	}
}

// Scanner lists storage locations and decides which files need (re)indexing.
type Scanner struct {
	obj           core.ObjectClient
	index         core.IndexStore
	status        core.StatusStore
	retryLimit    int
	fallbackGrade int
}

func NewScanner(obj core.ObjectClient, index core.IndexStore, status core.StatusStore, cfg IngestConfig) *Scanner {
	cfg = cfg.withDefaults()
	return &Scanner{
		obj:           obj,
		index:         index,
		status:        status,
		retryLimit:    cfg.RetryLimit,
		fallbackGrade: cfg.FallbackGrade,
	}
}

// Scan walks every bucket and returns the jobs that need processing. A bucket
// that cannot be listed is reported in Errors; the others are still scanned.
func (s *Scanner) Scan(ctx context.Context, buckets []string, force bool) models.ScanResult {
	res := models.ScanResult{ProcessingJobs: []models.ProcessingJob{}, Errors: []string{}}

	for _, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err.Error())
			return res
		}
		objects, err := s.obj.ListObjects(ctx, bucket, "")
		if err != nil {
			logger.Error(ctx, "scan: list bucket failed", err, "bucket", bucket)
			res.Errors = append(res.Errors, fmt.Sprintf("list %s: %v", bucket, err))
			continue
		}

		for _, o := range objects {
			if !IsSupported(o.Key) {
				continue
			}
			res.TotalFiles++

			job, isNew, needed := s.evaluate(ctx, bucket, o, force)
			if !needed {
				continue
			}
			res.ProcessingJobs = append(res.ProcessingJobs, job)
			if isNew {
				res.NewFiles++
			} else {
				res.UpdatedFiles++
			}
		}
		logger.Info(ctx, "scan: bucket done", "bucket", bucket, "objects", len(objects))
	}

	logger.Info(ctx, "scan complete",
		"total_files", res.TotalFiles, "queued", len(res.ProcessingJobs), "errors", len(res.Errors))
	return res
}

func (s *Scanner) evaluate(ctx context.Context, bucket string, o models.ObjectInfo, force bool) (models.ProcessingJob, bool, bool) {
	folder := path.Dir(o.Key)
	if folder == "." {
		folder = ""
	}
	fileName := path.Base(o.Key)

	job := models.ProcessingJob{
		FilePath:     o.Key,
		FileName:     fileName,
		BucketName:   bucket,
		GradeLevel:   DetectGrade(folder, fileName, s.fallbackGrade),
		DocumentType: DetectDocumentType(bucket, fileName),
		Priority:     models.PriorityNormal,
		LastModified: o.LastModified,
		Size:         o.Size,
		Force:        force,
	}
	if force {
		return job, false, true
	}

	st, err := s.status.GetStatus(ctx, o.Key)
	if err != nil {
		logger.Warn(ctx, "scan: status lookup failed", "file_path", o.Key, "error", err.Error())
	}
	if st != nil {
		switch st.Status {
		case models.StatusFailed:
			// Failed rows wait for manual intervention whatever their retry
			// count; only a changed object brings them back.
			if !o.LastModified.After(st.UpdatedAt) {
				logger.Debug(ctx, "scan: skipping failed document", "file_path", o.Key, "retries", st.RetryCount)
				return job, false, false
			}
		case models.StatusRetry:
			if st.RetryCount >= s.retryLimit && !o.LastModified.After(st.UpdatedAt) {
				logger.Debug(ctx, "scan: retry limit reached", "file_path", o.Key, "retries", st.RetryCount)
				return job, false, false
			}
			job.Priority = models.PriorityLow
		}
	}

	needed, isNew := s.needsProcessing(ctx, o.Key, o.LastModified)
	return job, isNew, needed
}

// needsProcessing compares the object's modification time with the newest
// chunk written for it. Store errors err on the side of reprocessing.
func (s *Scanner) needsProcessing(ctx context.Context, filePath string, modified time.Time) (needed, isNew bool) {
	indexedAt, ok, err := s.index.LatestIndexedAt(ctx, filePath)
	if err != nil {
		logger.Warn(ctx, "scan: index lookup failed", "file_path", filePath, "error", err.Error())
		return true, true
	}
	if !ok {
		return true, true
	}
	if modified.After(indexedAt) {
		return true, false
	}
	return false, false
}
