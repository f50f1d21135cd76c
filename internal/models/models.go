package models

import (
	"time"
)

// DocumentType classifies a source document.
type DocumentType string

const (
	DocTextbook   DocumentType = "textbook"
	DocCurriculum DocumentType = "curriculum"
	DocLessonPlan DocumentType = "lesson_plan"
)

// Valid reports whether t is one of the known document types.
func (t DocumentType) Valid() bool {
	switch t {
	case DocTextbook, DocCurriculum, DocLessonPlan:
		return true
	}
	return false
}

// Priority orders jobs inside a processing run.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns 0 for high, 1 for normal and 2 for low (unknown sorts last).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// Status is the per-file processing state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
)

// SourceDocument identifies a file in document storage.
type SourceDocument struct {
	FilePath     string       `json:"file_path"`
	FileName     string       `json:"file_name"`
	BucketName   string       `json:"bucket_name"`
	GradeLevel   int          `json:"grade_level"`
	DocumentType DocumentType `json:"document_type"`
	LastModified time.Time    `json:"last_modified"`
	Size         int64        `json:"size"`
}

// ObjectInfo is one entry returned by an object storage listing.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ExtractionResult is what the extraction chain hands to the chunker.
type ExtractionResult struct {
	Text    string `json:"text"`
	Method  string `json:"method"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// Classification is set on failure: encrypted, corrupted, unsupported-color-space,
	// image-based, ocr-timeout or unknown.
	Classification string `json:"classification,omitempty"`
	PageCount      int    `json:"page_count,omitempty"`
}

// ChunkMetadata is stored as jsonb next to every chunk.
type ChunkMetadata struct {
	GradeLevel       int          `json:"grade_level"`
	DocumentType     DocumentType `json:"document_type"`
	FileName         string       `json:"file_name"`
	FilePath         string       `json:"file_path"`
	BucketName       string       `json:"bucket_name"`
	ExtractionMethod string       `json:"extraction_method"`
	ChunkSize        int          `json:"chunk_size"`
	TotalChunks      int          `json:"total_chunks"`
	ProcessedAt      time.Time    `json:"processed_at"`
	// ContentHash is the SHA-256 of the source bytes the chunks were built from.
	ContentHash string `json:"content_hash,omitempty"`
	PageCount   int    `json:"page_count,omitempty"`
}

// DocumentChunk is the unit of storage and retrieval.
type DocumentChunk struct {
	ID             string        `db:"id" json:"id"`
	Content        string        `db:"content" json:"content"`
	ChunkIndex     int           `db:"chunk_index" json:"chunk_index"`
	Embedding      []float32     `db:"embedding" json:"-"` // pgvector column
	EmbeddingModel string        `db:"embedding_model" json:"embedding_model"`
	TokenCount     int           `db:"token_count" json:"token_count"`
	Metadata       ChunkMetadata `db:"metadata" json:"metadata"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// ProcessingStatus mirrors one row of the status table.
type ProcessingStatus struct {
	FilePath       string    `db:"file_path" json:"file_path"`
	FileName       string    `db:"file_name" json:"file_name"`
	BucketName     string    `db:"bucket_name" json:"bucket_name"`
	Status         Status    `db:"status" json:"status"`
	ChunksCreated  int       `db:"chunks_created" json:"chunks_created"`
	TotalTokens    int       `db:"total_tokens" json:"total_tokens"`
	EmbeddingModel string    `db:"embedding_model" json:"embedding_model"`
	// ExtractionMethod is the winning strategy, or graceful-fallback on failure.
	ExtractionMethod string    `db:"extraction_method" json:"extraction_method,omitempty"`
	ErrorMessage     string    `db:"error_message" json:"error_message,omitempty"`
	RetryCount       int       `db:"retry_count" json:"retry_count"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// ProcessingJob is a request to (re)index one file.
type ProcessingJob struct {
	FilePath     string       `json:"filePath"`
	FileName     string       `json:"fileName"`
	BucketName   string       `json:"bucketName"`
	GradeLevel   int          `json:"gradeLevel"`
	DocumentType DocumentType `json:"documentType"`
	Priority     Priority     `json:"priority"`
	LastModified time.Time    `json:"lastModified"`
	Size         int64        `json:"size,omitempty"`
	// Force reprocesses the file even when the index is up to date.
	Force bool `json:"force,omitempty"`
}

// Document returns the source identity of the job.
func (j ProcessingJob) Document() SourceDocument {
	return SourceDocument{
		FilePath:     j.FilePath,
		FileName:     j.FileName,
		BucketName:   j.BucketName,
		GradeLevel:   j.GradeLevel,
		DocumentType: j.DocumentType,
		LastModified: j.LastModified,
		Size:         j.Size,
	}
}

// ProcessingResult is returned for every job, successful or not.
type ProcessingResult struct {
	FilePath         string `json:"filePath"`
	FileName         string `json:"fileName"`
	Success          bool   `json:"success"`
	ChunksCreated    int    `json:"chunksCreated"`
	TotalTokens      int    `json:"totalTokens"`
	Error            string `json:"error,omitempty"`
	ExtractionMethod string `json:"extractionMethod"`
	EmbeddingModel   string `json:"embeddingModel"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	// Classification is the extraction failure class, if extraction failed.
	Classification string `json:"classification,omitempty"`
	// Skipped is set when the index already held this version of the file.
	Skipped bool `json:"skipped,omitempty"`
}

// ScanResult summarises one pass over the configured storage locations.
type ScanResult struct {
	TotalFiles     int             `json:"totalFiles"`
	NewFiles       int             `json:"newFiles"`
	UpdatedFiles   int             `json:"updatedFiles"`
	ProcessingJobs []ProcessingJob `json:"processingJobs"`
	Errors         []string        `json:"errors"`
}

// BatchSummary totals the results of a processing run.
type BatchSummary struct {
	Results         []ProcessingResult `json:"results"`
	Succeeded       int                `json:"succeeded"`
	Failed          int                `json:"failed"`
	Skipped         int                `json:"skipped"`
	TotalChunks     int                `json:"totalChunks"`
	TotalTokens     int                `json:"totalTokens"`
	TotalDurationMs int64              `json:"totalDurationMs"`
}

// SearchParams filters a search request. Zero values mean "no filter" except
// MaxResults and MinSimilarity, which fall back to configured defaults.
type SearchParams struct {
	Query         string         `json:"query"`
	GradeLevel    *int           `json:"gradeLevel,omitempty"`
	DocumentTypes []DocumentType `json:"documentTypes,omitempty"`
	BucketNames   []string       `json:"bucketNames,omitempty"`
	StudyArea     string         `json:"studyArea,omitempty"`
	TopicTitle    string         `json:"topicTitle,omitempty"`
	MaxResults    int            `json:"maxResults,omitempty"`
	MinSimilarity float64        `json:"minSimilarity,omitempty"`
	SkipCache     bool           `json:"skipCache,omitempty"`
}

// SearchResult is the shape both search paths return.
type SearchResult struct {
	ID           string       `json:"id"`
	Content      string       `json:"content"`
	Similarity   float64      `json:"similarity"`
	SourceFile   string       `json:"sourceFile"`
	FilePath     string       `json:"filePath"`
	BucketName   string       `json:"bucketName"`
	DocumentType DocumentType `json:"documentType"`
	GradeLevel   int          `json:"gradeLevel"`
	ChunkIndex   int          `json:"chunkIndex"`
	TokenCount   int          `json:"tokenCount,omitempty"`
	// Source names the path or lexical query that produced the hit.
	Source string `json:"source"`
}

// SearchResponse wraps results with diagnostics.
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	Query        string         `json:"query"`
	Path         string         `json:"path"`
	Cached       bool           `json:"cached"`
	SearchTimeMs int64          `json:"searchTimeMs"`
	// DegradedReason explains why the vector path was skipped, if it was.
	DegradedReason string `json:"degradedReason,omitempty"`
}

// IndexStats summarizes the chunk table.
type IndexStats struct {
	TotalChunks int                  `json:"totalChunks"`
	Files       int                  `json:"files"`
	ByGrade     map[int]int          `json:"byGrade"`
	ByType      map[DocumentType]int `json:"byType"`
	// LastProcessed is the newest chunk per grade.
	LastProcessed map[int]time.Time `json:"lastProcessed"`
}
