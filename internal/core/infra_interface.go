package core

import (
	"context"
	"time"

	"github.com/markdave123-py/textbook-index/internal/models"
)

// VectorQuery is the input of a similarity search over the index.
type VectorQuery struct {
	Embedding       []float32
	GradeLevel      *int
	DocumentTypes   []models.DocumentType
	BucketNames     []string
	MinSimilarity   float64
	Limit           int
	// ExcludeIDs and ExcludeFilePath drop rows before the limit is applied.
	ExcludeIDs      []string
	ExcludeFilePath string
}

// ChunkVector is the stored embedding of one chunk with the fields needed to
// search around it.
type ChunkVector struct {
	ID         string
	FilePath   string
	GradeLevel int
	Embedding  []float32
}

// LexicalQuery is the input of the text-search variants.
type LexicalQuery struct {
	Terms      []string
	Phrase     string
	StudyArea  string
	GradeLevel *int
	Limit      int
}

// IndexStore owns the chunk/embedding table. Only the orchestrator writes.
type IndexStore interface {
	// ReplaceFileChunks deletes every chunk of filePath and inserts chunks in one transaction.
	ReplaceFileChunks(ctx context.Context, filePath string, chunks []models.DocumentChunk) error
	CountFileChunks(ctx context.Context, filePath string) (int, error)
	// LatestIndexedAt returns the newest created_at for filePath and whether any row exists.
	LatestIndexedAt(ctx context.Context, filePath string) (time.Time, bool, error)
	// IndexedContentHash returns the source hash stored with the chunks of filePath.
	IndexedContentHash(ctx context.Context, filePath string) (string, bool, error)
}

// SearchIndex is the read side of the chunk table.
type SearchIndex interface {
	SearchSimilar(ctx context.Context, q VectorQuery) ([]models.SearchResult, error)
	SearchFullText(ctx context.Context, q LexicalQuery) ([]models.SearchResult, error)
	SearchMetadata(ctx context.Context, q LexicalQuery) ([]models.SearchResult, error)
	SearchSubstring(ctx context.Context, q LexicalQuery) ([]models.SearchResult, error)
	// VectorAvailable reports whether the store can serve SearchSimilar.
	VectorAvailable(ctx context.Context) bool
	// ChunkEmbedding loads one chunk's vector; found is false for unknown ids
	// and for rows stored without an embedding.
	ChunkEmbedding(ctx context.Context, id string) (vec ChunkVector, found bool, err error)
	IndexStats(ctx context.Context) (models.IndexStats, error)
}

// StatusStore tracks the per-file state machine.
type StatusStore interface {
	GetStatus(ctx context.Context, filePath string) (*models.ProcessingStatus, error)
	UpsertStatus(ctx context.Context, st *models.ProcessingStatus) error
	ListStatuses(ctx context.Context, status models.Status, limit int) ([]models.ProcessingStatus, error)
}

// DbClient is everything the Postgres client implements.
type DbClient interface {
	IndexStore
	SearchIndex
	StatusStore
	CacheStore
	Ping(ctx context.Context) error
	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]models.ObjectInfo, error)
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// CacheRecord is one value written to the persistent cache tier. Namespace,
// Label and Model are descriptive; stores may ignore them.
type CacheRecord struct {
	Namespace string
	Label     string
	Model     string
	Value     []byte
	TTL       time.Duration
}

// CachedValue is a persistent hit. Remaining is the lifetime the entry has
// left; zero means the store keeps no expiry for it.
type CachedValue struct {
	Value     []byte
	Remaining time.Duration
}

// CacheStore is the persistent cache tier. CacheGet returns found=false on a miss
// or when the stored value has expired.
type CacheStore interface {
	CacheGet(ctx context.Context, key string) (hit CachedValue, found bool, err error)
	CacheSet(ctx context.Context, key string, rec CacheRecord) error
	CacheDelete(ctx context.Context, key string) error
}
