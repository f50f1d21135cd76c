package services

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/internal/core/ingestion_engine"
	"github.com/markdave123-py/textbook-index/internal/models"
	apperrors "github.com/markdave123-py/textbook-index/pkg/errors"
	"github.com/markdave123-py/textbook-index/pkg/logger"
)

// Pipeline is the part of the orchestrator the document service drives.
type Pipeline interface {
	Scan(ctx context.Context, force bool) models.ScanResult
	ProcessBatch(ctx context.Context, jobs []models.ProcessingJob) models.BatchSummary
	RetryFailed(ctx context.Context) (models.BatchSummary, error)
}

// DefaultStatusLimit caps status listings when the caller gives no limit.
const DefaultStatusLimit = 100

// Upload is a file submitted for indexing. Zero GradeLevel and empty
// DocumentType are detected from the folder and file name.
type Upload struct {
	FileName     string
	ContentType  string
	Data         []byte
	Folder       string
	GradeLevel   int
	DocumentType models.DocumentType
}

// Submission is the stored object and the job queued for it.
type Submission struct {
	Job models.ProcessingJob `json:"job"`
	URL string               `json:"url"`
}

type DocumentService struct {
	storage       core.ObjectClient
	status        core.StatusStore
	ingestor      ingestion_engine.Ingestor
	pipeline      Pipeline
	bucket        string
	fallbackGrade int
	now           func() time.Time

	// Background runs started by Process and Retry share this lifetime.
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewDocumentService(
	storage core.ObjectClient,
	status core.StatusStore,
	ing ingestion_engine.Ingestor,
	pipeline Pipeline,
	bucket string,
	fallbackGrade int,
) *DocumentService {
	ctx, cancel := context.WithCancel(context.Background())
	if fallbackGrade <= 0 {
		fallbackGrade = ingestion_engine.DefaultFallbackGrade
	}
	return &DocumentService{
		storage:       storage,
		status:        status,
		ingestor:      ing,
		pipeline:      pipeline,
		bucket:        bucket,
		fallbackGrade: fallbackGrade,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Submit stores the file under the upload bucket and queues it. Submitting
// the same bytes twice stores the object again but does not re-embed it.
func (s *DocumentService) Submit(ctx context.Context, up Upload) (*Submission, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(up.FileName), `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "file name is required")
	}
	if !ingestion_engine.IsSupported(name) {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "unsupported file type").WithDetail(name)
	}
	if len(up.Data) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "file is empty")
	}
	if up.DocumentType != "" && !up.DocumentType.Valid() {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "unknown document type").WithDetail(string(up.DocumentType))
	}
	if up.GradeLevel < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "grade level must be positive")
	}

	folder := cleanFolder(up.Folder)
	key := path.Join(folder, name)
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	url, err := s.storage.UploadFile(ctx, s.bucket, key, up.Data, contentType)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "upload failed")
	}

	job := models.ProcessingJob{
		FilePath:     key,
		FileName:     name,
		BucketName:   s.bucket,
		GradeLevel:   up.GradeLevel,
		DocumentType: up.DocumentType,
		Priority:     models.PriorityHigh,
		LastModified: s.now(),
		Size:         int64(len(up.Data)),
	}
	if job.GradeLevel == 0 {
		job.GradeLevel = ingestion_engine.DetectGrade(folder, name, s.fallbackGrade)
	}
	if job.DocumentType == "" {
		job.DocumentType = ingestion_engine.DetectDocumentType(s.bucket, name)
	}

	if err := s.ingestor.Enqueue(ctx, job); err != nil {
		if errors.Is(err, ingestion_engine.ErrQueueClosed) {
			return nil, apperrors.Wrap(err, apperrors.CodeServiceUnavailable, "ingestion is shutting down")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeTooManyRequests, "could not queue file")
	}

	logger.Info(ctx, "document submitted", "file_path", key, "grade", job.GradeLevel, "type", string(job.DocumentType))
	return &Submission{Job: job, URL: url}, nil
}

// Status returns the processing row of one file.
func (s *DocumentService) Status(ctx context.Context, filePath string) (*models.ProcessingStatus, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "file path is required")
	}
	st, err := s.status.GetStatus(ctx, filePath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "status lookup failed")
	}
	if st == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "no status for file").WithDetail(filePath)
	}
	return st, nil
}

// ListStatuses lists rows in status, or every row when status is empty.
func (s *DocumentService) ListStatuses(ctx context.Context, status models.Status, limit int) ([]models.ProcessingStatus, error) {
	switch status {
	case "", models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed, models.StatusRetry:
	default:
		return nil, apperrors.New(apperrors.CodeInvalidParam, "unknown status").WithDetail(string(status))
	}
	if limit <= 0 {
		limit = DefaultStatusLimit
	}
	rows, err := s.status.ListStatuses(ctx, status, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "list statuses failed")
	}
	if rows == nil {
		rows = []models.ProcessingStatus{}
	}
	return rows, nil
}

// Process scans the configured buckets and processes what changed in the
// background. The scan result is returned as soon as the scan is done.
func (s *DocumentService) Process(ctx context.Context, force bool) (models.ScanResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return models.ScanResult{}, apperrors.New(apperrors.CodeConflict, "a processing run is already in progress")
	}
	scan := s.pipeline.Scan(ctx, force)
	if len(scan.ProcessingJobs) == 0 {
		s.running.Store(false)
		return scan, nil
	}

	s.background(func(ctx context.Context) {
		sum := s.pipeline.ProcessBatch(ctx, scan.ProcessingJobs)
		logger.Info(ctx, "processing run finished",
			"succeeded", sum.Succeeded, "failed", sum.Failed, "skipped", sum.Skipped, "chunks", sum.TotalChunks)
	})
	return scan, nil
}

// Retry re-runs files in retry state in the background.
func (s *DocumentService) Retry(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return apperrors.New(apperrors.CodeConflict, "a processing run is already in progress")
	}
	s.background(func(ctx context.Context) {
		sum, err := s.pipeline.RetryFailed(ctx)
		if err != nil {
			logger.Error(ctx, "retry run failed", err)
			return
		}
		logger.Info(ctx, "retry run finished", "succeeded", sum.Succeeded, "failed", sum.Failed)
	})
	return nil
}

// Running reports whether a background run is in progress.
func (s *DocumentService) Running() bool { return s.running.Load() }

func (s *DocumentService) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		fn(s.ctx)
	}()
}

// Close cancels background runs and waits for them to stop.
func (s *DocumentService) Close() {
	s.cancel()
	s.wg.Wait()
}

// cleanFolder turns a caller supplied prefix into a relative key prefix that
// cannot climb out of the bucket.
func cleanFolder(folder string) string {
	folder = strings.ReplaceAll(strings.TrimSpace(folder), `\`, "/")
	if folder == "" {
		return ""
	}
	return strings.Trim(path.Clean("/"+folder), "/")
}
