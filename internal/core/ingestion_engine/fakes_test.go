package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/textbook-index/internal/core/llm"
	"github.com/markdave123-py/textbook-index/internal/models"
)

const lessonText = `Photosynthesis is how green plants turn light into food. Chlorophyll in the leaves absorbs sunlight.
Roots pull water from the soil and carry it up the stem. Leaves take in carbon dioxide through small pores.
The plant uses light energy to join water and carbon dioxide into sugar. Oxygen leaves the plant as a waste product.`

type storedObject struct {
	data     []byte
	modified time.Time
}

type fakeObjects struct {
	mu       sync.Mutex
	buckets  map[string]map[string]storedObject
	listErr  map[string]error
	getErr   error
	getCalls int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{buckets: map[string]map[string]storedObject{}, listErr: map[string]error{}}
}

func (f *fakeObjects) put(bucket, key string, data []byte, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buckets[bucket] == nil {
		f.buckets[bucket] = map[string]storedObject{}
	}
	f.buckets[bucket][key] = storedObject{data: data, modified: modified}
}

func (f *fakeObjects) ListObjects(_ context.Context, bucket, _ string) ([]models.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[bucket]; err != nil {
		return nil, err
	}
	var out []models.ObjectInfo
	for k, o := range f.buckets[bucket] {
		out = append(out, models.ObjectInfo{Key: k, Size: int64(len(o.data)), LastModified: o.modified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeObjects) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	f.put(bucket, key, data, time.Now())
	return "mem://" + bucket + "/" + key, nil
}

func (f *fakeObjects) DeleteFile(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buckets[bucket], key)
	return nil
}

func (f *fakeObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	o, ok := f.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("no such key %s/%s", bucket, key)
	}
	return o.data, nil
}

type fakeIndex struct {
	mu           sync.Mutex
	chunks       map[string][]models.DocumentChunk
	replaceErr   error
	replaceCalls int
	latestErr    error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{chunks: map[string][]models.DocumentChunk{}}
}

func (f *fakeIndex) seed(filePath string, n int, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := make([]models.DocumentChunk, n)
	for i := range cs {
		cs[i] = models.DocumentChunk{
			ID:         fmt.Sprintf("old-%d", i),
			Content:    "old content",
			ChunkIndex: i,
			Metadata:   models.ChunkMetadata{FilePath: filePath, TotalChunks: n},
			CreatedAt:  at,
		}
	}
	f.chunks[filePath] = cs
}

func (f *fakeIndex) get(filePath string) []models.DocumentChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DocumentChunk(nil), f.chunks[filePath]...)
}

func (f *fakeIndex) ReplaceFileChunks(_ context.Context, filePath string, chunks []models.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.chunks[filePath] = append([]models.DocumentChunk(nil), chunks...)
	return nil
}

func (f *fakeIndex) CountFileChunks(_ context.Context, filePath string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks[filePath]), nil
}

func (f *fakeIndex) LatestIndexedAt(_ context.Context, filePath string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return time.Time{}, false, f.latestErr
	}
	var latest time.Time
	for _, c := range f.chunks[filePath] {
		if c.CreatedAt.After(latest) {
			latest = c.CreatedAt
		}
	}
	return latest, len(f.chunks[filePath]) > 0, nil
}

func (f *fakeIndex) IndexedContentHash(_ context.Context, filePath string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.chunks[filePath]
	if len(cs) == 0 || cs[0].Metadata.ContentHash == "" {
		return "", false, nil
	}
	return cs[0].Metadata.ContentHash, true, nil
}

type fakeStatus struct {
	mu      sync.Mutex
	rows    map[string]models.ProcessingStatus
	history map[string][]models.Status
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{rows: map[string]models.ProcessingStatus{}, history: map[string][]models.Status{}}
}

func (f *fakeStatus) GetStatus(_ context.Context, filePath string) (*models.ProcessingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.rows[filePath]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (f *fakeStatus) UpsertStatus(_ context.Context, st *models.ProcessingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := *st
	row.UpdatedAt = time.Now()
	f.rows[st.FilePath] = row
	f.history[st.FilePath] = append(f.history[st.FilePath], st.Status)
	return nil
}

func (f *fakeStatus) ListStatuses(_ context.Context, status models.Status, _ int) ([]models.ProcessingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ProcessingStatus
	for _, st := range f.rows {
		if status == "" || st.Status == status {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out, nil
}

func (f *fakeStatus) row(filePath string) models.ProcessingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[filePath]
}

func (f *fakeStatus) transitions(filePath string) []models.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Status(nil), f.history[filePath]...)
}

type fakeExtractor struct {
	mu       sync.Mutex
	result   func(filename string) models.ExtractionResult
	calls    []string
	inflight int
	maxSeen  int
	hold     time.Duration
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, filename string) models.ExtractionResult {
	f.mu.Lock()
	f.calls = append(f.calls, filename)
	f.inflight++
	f.maxSeen = max(f.maxSeen, f.inflight)
	f.mu.Unlock()

	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()

	if f.result != nil {
		return f.result(filename)
	}
	return models.ExtractionResult{Text: lessonText, Method: "docconv", Success: true, PageCount: 12}
}

func (f *fakeExtractor) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeEmbedder) Model() string { return "test-embed" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) (llm.EmbedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return llm.EmbedResult{}, f.err
	}
	vs := make([][]float32, len(texts))
	for i := range vs {
		vs[i] = []float32{float32(i), 1, 0, 0}
	}
	return llm.EmbedResult{Vectors: vs, TokensUsed: 10 * len(texts), Model: "test-embed"}, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errFlaky = errors.New("flaky upstream")

type harness struct {
	objects   *fakeObjects
	index     *fakeIndex
	status    *fakeStatus
	extractor *fakeExtractor
	embedder  *fakeEmbedder
	pauses    int
	orch      *Orchestrator
}

func newHarness(cfg IngestConfig) *harness {
	h := &harness{
		objects:   newFakeObjects(),
		index:     newFakeIndex(),
		status:    newFakeStatus(),
		extractor: &fakeExtractor{},
		embedder:  &fakeEmbedder{},
	}
	h.orch = NewOrchestrator(h.objects, h.index, h.status, h.extractor, h.embedder, cfg)
	h.orch.pause = func(ctx context.Context, _ time.Duration) error {
		h.pauses++
		return ctx.Err()
	}
	return h
}

func testJob(key string, modified time.Time) models.ProcessingJob {
	return models.ProcessingJob{
		FilePath:     key,
		FileName:     path.Base(key),
		BucketName:   "textbook_content",
		GradeLevel:   4,
		DocumentType: models.DocTextbook,
		Priority:     models.PriorityNormal,
		LastModified: modified,
	}
}

