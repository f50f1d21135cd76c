package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/internal/models"
)

// ErrVectorUnavailable is returned by SearchSimilar when the vector column
// does not exist on this database.
var ErrVectorUnavailable = errors.New("vector search unavailable")

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db     *sql.DB
	vector bool
	width  int
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		// Append SSL params to the provided DATABASE_URL safely.
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	width := cfg.Embedding.StorageWidth
	vector, err := EnsureBootstrapped(ctx, db, width)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, vector: vector && cfg.Search.VectorEnabled, width: width}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *DatabaseClient) VectorAvailable(context.Context) bool {
	return c.vector
}

// Index table

// ReplaceFileChunks deletes all chunks of filePath and inserts the new set in a
// single transaction, so readers see either the old or the new version.
func (c *DatabaseClient) ReplaceFileChunks(ctx context.Context, filePath string, chunks []models.DocumentChunk) error {
	for i := range chunks {
		if chunks[i].Metadata.FilePath != filePath {
			return fmt.Errorf("chunk %d belongs to %q, not %q", i, chunks[i].Metadata.FilePath, filePath)
		}
		if c.vector && len(chunks[i].Embedding) != c.width {
			return fmt.Errorf("chunk %d has %d dimensions, want %d", i, len(chunks[i].Embedding), c.width)
		}
	}

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM textbook_embeddings WHERE file_path = $1`, filePath); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete chunks: %w", err)
	}

	q := `
		INSERT INTO textbook_embeddings
			(id, grade_level, document_type, file_name, file_path, bucket_name, chunk_index,
			 content, metadata, embedding_model, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, now()))
	`
	if c.vector {
		q = `
		INSERT INTO textbook_embeddings
			(id, grade_level, document_type, file_name, file_path, bucket_name, chunk_index,
			 content, metadata, embedding_model, token_count, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, now()), $13)
	`
	}
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode metadata: %w", err)
		}
		var createdAt *time.Time
		if !ch.CreatedAt.IsZero() {
			createdAt = &ch.CreatedAt
		}
		args := []any{
			ch.ID, ch.Metadata.GradeLevel, string(ch.Metadata.DocumentType), ch.Metadata.FileName,
			filePath, ch.Metadata.BucketName, ch.ChunkIndex, ch.Content, meta,
			ch.EmbeddingModel, ch.TokenCount, createdAt,
		}
		if c.vector {
			args = append(args, pgvector.NewVector(ch.Embedding))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) CountFileChunks(ctx context.Context, filePath string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT count(*) FROM textbook_embeddings WHERE file_path = $1`, filePath).Scan(&n)
	return n, err
}

func (c *DatabaseClient) LatestIndexedAt(ctx context.Context, filePath string) (time.Time, bool, error) {
	var t sql.NullTime
	err := c.db.QueryRowContext(ctx,
		`SELECT max(created_at) FROM textbook_embeddings WHERE file_path = $1`, filePath).Scan(&t)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.Time, t.Valid, nil
}

// IndexedContentHash returns the content hash recorded with the chunks of filePath.
func (c *DatabaseClient) IndexedContentHash(ctx context.Context, filePath string) (string, bool, error) {
	var h sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT metadata->>'content_hash' FROM textbook_embeddings WHERE file_path = $1 ORDER BY chunk_index LIMIT 1`,
		filePath).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return h.String, h.Valid && h.String != "", nil
}

const resultColumns = `id, content, file_name, file_path, bucket_name, document_type, grade_level, chunk_index, token_count`

// SearchSimilar ranks chunks by cosine similarity (1 - cosine distance).
func (c *DatabaseClient) SearchSimilar(ctx context.Context, q core.VectorQuery) ([]models.SearchResult, error) {
	if !c.vector {
		return nil, ErrVectorUnavailable
	}
	const stmt = `
		SELECT ` + resultColumns + `, 1 - (embedding <=> $1) AS similarity
		FROM textbook_embeddings
		WHERE embedding IS NOT NULL
		  AND ($2::int IS NULL OR grade_level = $2)
		  AND (cardinality($3::text[]) = 0 OR document_type = ANY($3))
		  AND (cardinality($4::text[]) = 0 OR bucket_name = ANY($4))
		  AND 1 - (embedding <=> $1) >= $5
		  AND (cardinality($7::text[]) = 0 OR id::text <> ALL($7))
		  AND ($8 = '' OR file_path <> $8)
		ORDER BY embedding <=> $1
		LIMIT $6
	`
	rows, err := c.db.QueryContext(ctx, stmt,
		pgvector.NewVector(q.Embedding), q.GradeLevel, docTypes(q.DocumentTypes), nonNil(q.BucketNames),
		q.MinSimilarity, q.Limit, nonNil(q.ExcludeIDs), q.ExcludeFilePath)
	if err != nil {
		return nil, err
	}
	return scanResults(rows, "vector")
}

// ChunkEmbedding loads the stored vector of one chunk.
func (c *DatabaseClient) ChunkEmbedding(ctx context.Context, id string) (core.ChunkVector, bool, error) {
	if !c.vector {
		return core.ChunkVector{}, false, ErrVectorUnavailable
	}
	if _, err := uuid.Parse(id); err != nil {
		return core.ChunkVector{}, false, nil
	}
	var (
		cv  = core.ChunkVector{ID: id}
		vec pgvector.Vector
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT file_path, grade_level, embedding FROM textbook_embeddings WHERE id = $1 AND embedding IS NOT NULL`,
		id).Scan(&cv.FilePath, &cv.GradeLevel, &vec)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ChunkVector{}, false, nil
	}
	if err != nil {
		return core.ChunkVector{}, false, err
	}
	cv.Embedding = vec.Slice()
	return cv, true, nil
}

// IndexStats aggregates the chunk table per grade and document type. A file's
// chunks share one grade and type, so per-group file counts add up.
func (c *DatabaseClient) IndexStats(ctx context.Context) (models.IndexStats, error) {
	const stmt = `
		SELECT grade_level, document_type, count(*), count(DISTINCT file_path), max(created_at)
		FROM textbook_embeddings
		GROUP BY grade_level, document_type
	`
	rows, err := c.db.QueryContext(ctx, stmt)
	if err != nil {
		return models.IndexStats{}, err
	}
	defer rows.Close()

	st := models.IndexStats{
		ByGrade:       map[int]int{},
		ByType:        map[models.DocumentType]int{},
		LastProcessed: map[int]time.Time{},
	}
	for rows.Next() {
		var (
			grade, chunks, files int
			docType              string
			last                 time.Time
		)
		if err := rows.Scan(&grade, &docType, &chunks, &files, &last); err != nil {
			return models.IndexStats{}, err
		}
		st.TotalChunks += chunks
		st.Files += files
		st.ByGrade[grade] += chunks
		st.ByType[models.DocumentType(docType)] += chunks
		if last.After(st.LastProcessed[grade]) {
			st.LastProcessed[grade] = last
		}
	}
	return st, rows.Err()
}

// SearchFullText uses the generated tsvector column with websearch syntax.
func (c *DatabaseClient) SearchFullText(ctx context.Context, q core.LexicalQuery) ([]models.SearchResult, error) {
	query := q.Phrase
	if len(q.Terms) > 0 {
		query = strings.Join(q.Terms, " OR ")
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	const stmt = `
		SELECT ` + resultColumns + `,
		       ts_rank_cd(content_tsv, websearch_to_tsquery('english', $1)) AS similarity
		FROM textbook_embeddings
		WHERE content_tsv @@ websearch_to_tsquery('english', $1)
		  AND ($2::int IS NULL OR grade_level = $2)
		ORDER BY similarity DESC, file_path, chunk_index
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, stmt, query, q.GradeLevel, q.Limit)
	if err != nil {
		return nil, err
	}
	return scanResults(rows, "fulltext")
}

// SearchMetadata matches the query against file identity and the study area
// against the stored path, which carries the subject folder.
func (c *DatabaseClient) SearchMetadata(ctx context.Context, q core.LexicalQuery) ([]models.SearchResult, error) {
	patterns := make([]string, 0, len(q.Terms)+1)
	for _, t := range q.Terms {
		patterns = append(patterns, likePattern(t))
	}
	if q.Phrase != "" {
		patterns = append(patterns, likePattern(q.Phrase))
	}
	area := ""
	if q.StudyArea != "" {
		area = likePattern(q.StudyArea)
	}
	if len(patterns) == 0 && area == "" {
		return nil, nil
	}
	const stmt = `
		SELECT ` + resultColumns + `, 0::float8 AS similarity
		FROM textbook_embeddings
		WHERE ($2::int IS NULL OR grade_level = $2)
		  AND (file_name ILIKE ANY($1) OR metadata->>'file_name' ILIKE ANY($1)
		       OR ($3 <> '' AND file_path ILIKE $3))
		ORDER BY file_path, chunk_index
		LIMIT $4
	`
	rows, err := c.db.QueryContext(ctx, stmt, patterns, q.GradeLevel, area, q.Limit)
	if err != nil {
		return nil, err
	}
	return scanResults(rows, "metadata")
}

// SearchSubstring is a plain ILIKE over chunk content.
func (c *DatabaseClient) SearchSubstring(ctx context.Context, q core.LexicalQuery) ([]models.SearchResult, error) {
	if strings.TrimSpace(q.Phrase) == "" {
		return nil, nil
	}
	const stmt = `
		SELECT ` + resultColumns + `, 0::float8 AS similarity
		FROM textbook_embeddings
		WHERE content ILIKE $1
		  AND ($2::int IS NULL OR grade_level = $2)
		ORDER BY file_path, chunk_index
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, stmt, likePattern(q.Phrase), q.GradeLevel, q.Limit)
	if err != nil {
		return nil, err
	}
	return scanResults(rows, "substring")
}

func scanResults(rows *sql.Rows, source string) ([]models.SearchResult, error) {
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var (
			r       models.SearchResult
			docType string
		)
		if err := rows.Scan(&r.ID, &r.Content, &r.SourceFile, &r.FilePath, &r.BucketName,
			&docType, &r.GradeLevel, &r.ChunkIndex, &r.TokenCount, &r.Similarity); err != nil {
			return nil, err
		}
		r.DocumentType = models.DocumentType(docType)
		r.Similarity = clamp01(r.Similarity)
		r.Source = source
		out = append(out, r)
	}
	return out, rows.Err()
}

// Status table

func (c *DatabaseClient) GetStatus(ctx context.Context, filePath string) (*models.ProcessingStatus, error) {
	const q = `
		SELECT file_path, file_name, bucket_name, status, chunks_created, total_tokens,
		       embedding_model, extraction_method, error_message, retry_count, updated_at
		FROM processing_status WHERE file_path = $1
	`
	st, err := scanStatus(c.db.QueryRowContext(ctx, q, filePath))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (c *DatabaseClient) UpsertStatus(ctx context.Context, st *models.ProcessingStatus) error {
	if st == nil {
		return errors.New("nil status")
	}
	const q = `
		INSERT INTO processing_status
			(file_path, file_name, bucket_name, status, chunks_created, total_tokens,
			 embedding_model, extraction_method, error_message, retry_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (file_path) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			bucket_name = EXCLUDED.bucket_name,
			status = EXCLUDED.status,
			chunks_created = EXCLUDED.chunks_created,
			total_tokens = EXCLUDED.total_tokens,
			embedding_model = EXCLUDED.embedding_model,
			extraction_method = EXCLUDED.extraction_method,
			error_message = EXCLUDED.error_message,
			retry_count = EXCLUDED.retry_count,
			updated_at = now()
	`
	_, err := c.db.ExecContext(ctx, q,
		st.FilePath, st.FileName, st.BucketName, string(st.Status), st.ChunksCreated, st.TotalTokens,
		st.EmbeddingModel, st.ExtractionMethod, st.ErrorMessage, st.RetryCount)
	return err
}

// ListStatuses returns rows in status, newest first. An empty status lists all.
func (c *DatabaseClient) ListStatuses(ctx context.Context, status models.Status, limit int) ([]models.ProcessingStatus, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT file_path, file_name, bucket_name, status, chunks_created, total_tokens,
		       embedding_model, extraction_method, error_message, retry_count, updated_at
		FROM processing_status
		WHERE ($1 = '' OR status = $1)
		ORDER BY updated_at DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProcessingStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (*models.ProcessingStatus, error) {
	var (
		st     models.ProcessingStatus
		status string
	)
	if err := row.Scan(&st.FilePath, &st.FileName, &st.BucketName, &status, &st.ChunksCreated,
		&st.TotalTokens, &st.EmbeddingModel, &st.ExtractionMethod, &st.ErrorMessage, &st.RetryCount, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Status = models.Status(status)
	return &st, nil
}

// Cache table

// CacheGet returns an unexpired value with its remaining lifetime and bumps
// its usage counters.
func (c *DatabaseClient) CacheGet(ctx context.Context, key string) (core.CachedValue, bool, error) {
	const q = `
		UPDATE query_cache
		SET usage_count = usage_count + 1, last_used_at = now()
		WHERE query_hash = $1 AND expires_at > now()
		RETURNING cached_result, EXTRACT(EPOCH FROM (expires_at - now()))::float8
	`
	var (
		v         []byte
		remaining float64
	)
	err := c.db.QueryRowContext(ctx, q, key).Scan(&v, &remaining)
	if err == sql.ErrNoRows {
		return core.CachedValue{}, false, nil
	}
	if err != nil {
		return core.CachedValue{}, false, err
	}
	return core.CachedValue{Value: v, Remaining: time.Duration(remaining * float64(time.Second))}, true, nil
}

func (c *DatabaseClient) CacheSet(ctx context.Context, key string, rec core.CacheRecord) error {
	const q = `
		INSERT INTO query_cache
			(query_hash, namespace, query_text, cached_result, embedding_model, usage_count, last_used_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, 1, now(), now() + make_interval(secs => $6))
		ON CONFLICT (query_hash) DO UPDATE SET
			cached_result = EXCLUDED.cached_result,
			query_text = EXCLUDED.query_text,
			embedding_model = EXCLUDED.embedding_model,
			last_used_at = now(),
			expires_at = EXCLUDED.expires_at
	`
	_, err := c.db.ExecContext(ctx, q, key, rec.Namespace, rec.Label, rec.Value, rec.Model, rec.TTL.Seconds())
	return err
}

func (c *DatabaseClient) CacheDelete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM query_cache WHERE query_hash = $1`, key)
	return err
}

// PurgeExpiredCache removes expired cache rows and returns how many were deleted.
func (c *DatabaseClient) PurgeExpiredCache(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM query_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// helpers

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(s)) + "%"
}

func docTypes(ts []models.DocumentType) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, string(t))
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
