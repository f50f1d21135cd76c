package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/internal/core"
)

// memStore is an in-memory CacheStore. fail makes every call error. With a
// clock set, records expire after their TTL like the real stores.
type memStore struct {
	mu      sync.Mutex
	data    map[string]core.CacheRecord
	expires map[string]time.Time
	now     func() time.Time
	fail    bool
	gets    int
	setRecs []core.CacheRecord
}

func newMemStore() *memStore {
	return &memStore{data: map[string]core.CacheRecord{}, expires: map[string]time.Time{}}
}

func (s *memStore) CacheGet(_ context.Context, key string) (core.CachedValue, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.fail {
		return core.CachedValue{}, false, errors.New("connection refused")
	}
	rec, ok := s.data[key]
	if !ok {
		return core.CachedValue{}, false, nil
	}
	exp, ok := s.expires[key]
	if !ok {
		return core.CachedValue{Value: rec.Value}, true, nil
	}
	left := exp.Sub(s.now())
	if left <= 0 {
		return core.CachedValue{}, false, nil
	}
	return core.CachedValue{Value: rec.Value, Remaining: left}, true, nil
}

func (s *memStore) CacheSet(_ context.Context, key string, rec core.CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("connection refused")
	}
	s.data[key] = rec
	if s.now != nil {
		s.expires[key] = s.now().Add(rec.TTL)
	}
	s.setRecs = append(s.setRecs, rec)
	return nil
}

func (s *memStore) CacheDelete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func newTiered(store core.CacheStore) *TieredCache {
	return NewTieredCache(NewMemoryCache(10), store, config.CacheConfig{})
}

func TestTieredCache_WritesBothTiers(t *testing.T) {
	store := newMemStore()
	c := newTiered(store)
	ctx := context.Background()

	c.Set(ctx, NamespaceSearch, "k", "photosynthesis", "m", []byte("v"))

	require.Len(t, store.setRecs, 1)
	rec := store.setRecs[0]
	assert.Equal(t, "search", rec.Namespace)
	assert.Equal(t, "photosynthesis", rec.Label)
	assert.Equal(t, DefaultSearchTTL, rec.TTL)

	v, ok := c.Get(ctx, NamespaceSearch, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
	assert.Equal(t, 0, store.gets, "memory hit does not touch the store")
}

func TestTieredCache_BackfillsMemoryFromStore(t *testing.T) {
	store := newMemStore()
	store.data["k"] = core.CacheRecord{Value: []byte("persisted")}
	c := newTiered(store)
	ctx := context.Background()

	v, ok := c.Get(ctx, NamespaceContent, "k")
	require.True(t, ok)
	assert.Equal(t, "persisted", string(v))

	_, ok = c.Get(ctx, NamespaceContent, "k")
	require.True(t, ok)
	assert.Equal(t, 1, store.gets)
}

func TestTieredCache_BackfillKeepsRemainingLifetime(t *testing.T) {
	mem, clock := newClockedCache(1)
	store := newMemStore()
	store.now = clock.now
	c := NewTieredCache(mem, store, config.CacheConfig{SearchTTL: time.Hour})
	ctx := context.Background()

	c.Set(ctx, NamespaceSearch, "a", "", "", []byte("A"))
	clock.advance(time.Minute)
	c.Set(ctx, NamespaceSearch, "b", "", "", []byte("B"))
	require.Equal(t, 1, mem.Len(), "a was evicted from memory")

	clock.advance(58 * time.Minute)
	v, ok := c.Get(ctx, NamespaceSearch, "a")
	require.True(t, ok, "persistent tier still holds a")
	assert.Equal(t, "A", string(v))

	clock.advance(30 * time.Second)
	_, ok = c.Get(ctx, NamespaceSearch, "a")
	assert.True(t, ok, "served from memory before the original expiry")

	clock.advance(30 * time.Minute)
	_, ok = c.Get(ctx, NamespaceSearch, "a")
	assert.False(t, ok, "expired in both tiers one ttl after the write")
}

func TestBackfillTTL(t *testing.T) {
	assert.Equal(t, time.Minute, backfillTTL(time.Minute, time.Hour))
	assert.Equal(t, time.Hour, backfillTTL(2*time.Hour, time.Hour))
	assert.Equal(t, time.Hour, backfillTTL(0, time.Hour), "unknown lifetime")
}

func TestTieredCache_StoreFailuresAreSwallowed(t *testing.T) {
	store := newMemStore()
	store.fail = true
	c := newTiered(store)
	ctx := context.Background()

	c.Set(ctx, NamespaceEmbedding, "k", "", "m", []byte("v"))
	v, ok := c.Get(ctx, NamespaceEmbedding, "k")
	require.True(t, ok, "memory tier still serves")
	assert.Equal(t, "v", string(v))

	_, ok = c.Get(ctx, NamespaceEmbedding, "other")
	assert.False(t, ok)
}

func TestTieredCache_MemoryOnly(t *testing.T) {
	c := newTiered(nil)
	ctx := context.Background()
	c.Set(ctx, NamespaceSearch, "k", "", "", []byte("v"))

	_, ok := c.Get(ctx, NamespaceSearch, "k")
	assert.True(t, ok)
	c.Delete(ctx, "k")
	_, ok = c.Get(ctx, NamespaceSearch, "k")
	assert.False(t, ok)
}

func TestTieredCache_TTLs(t *testing.T) {
	c := NewTieredCache(NewMemoryCache(1), nil, config.CacheConfig{SearchTTL: time.Minute})
	assert.Equal(t, time.Minute, c.TTL(NamespaceSearch))
	assert.Equal(t, DefaultEmbeddingTTL, c.TTL(NamespaceEmbedding))
	assert.Equal(t, DefaultContentTTL, c.TTL(NamespaceContent))
	assert.Equal(t, 30*time.Minute, c.TTL(Namespace("other")))
}

func TestTieredCache_GetOrLoadCollapsesConcurrentMisses(t *testing.T) {
	c := newTiered(newMemStore())
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("loaded"), nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := c.GetOrLoad(ctx, NamespaceContent, "k", "", "", load)
			if err == nil {
				results[i] = string(v)
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "loaded", r)
	}

	_, cached, err := c.GetOrLoad(ctx, NamespaceContent, "k", "", "", load)
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestTieredCache_GetOrLoadErrorIsNotCached(t *testing.T) {
	c := newTiered(nil)
	ctx := context.Background()

	_, _, err := c.GetOrLoad(ctx, NamespaceContent, "k", "", "", func(context.Context) ([]byte, error) {
		return nil, errors.New("llm down")
	})
	require.Error(t, err)
	_, ok := c.Get(ctx, NamespaceContent, "k")
	assert.False(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	c := newTiered(nil)
	ctx := context.Background()

	type payload struct{ Vector []float32 }
	SetJSON(ctx, c, NamespaceEmbedding, "k", "q", "m", payload{Vector: []float32{1, 2}})

	got, ok := GetJSON[payload](ctx, c, NamespaceEmbedding, "k")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got.Vector)

	c.Set(ctx, NamespaceEmbedding, "bad", "", "", []byte("{not json"))
	_, ok = GetJSON[payload](ctx, c, NamespaceEmbedding, "bad")
	assert.False(t, ok)
	_, ok = c.Get(ctx, NamespaceEmbedding, "bad")
	assert.False(t, ok, "undecodable entries are dropped")
}
