package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/pkg/logger"
	"github.com/markdave123-py/textbook-index/pkg/metrics"
)

var tracer = otel.Tracer("cache")

// Default TTLs per namespace. Generated content changes least, search results
// go stale as documents are re-indexed.
const (
	DefaultEmbeddingTTL = 6 * time.Hour
	DefaultSearchTTL    = 2 * time.Hour
	DefaultContentTTL   = 24 * time.Hour
)

// TieredCache reads the memory tier first, then the persistent store, and
// back-fills memory on a persistent hit. Persistent failures are logged and
// treated as misses.
type TieredCache struct {
	mem        *MemoryCache
	store      core.CacheStore
	ttls       map[Namespace]time.Duration
	defaultTTL time.Duration
	group      singleflight.Group
}

// NewTieredCache builds the cache. store may be nil for a memory-only cache.
func NewTieredCache(mem *MemoryCache, store core.CacheStore, cfg config.CacheConfig) *TieredCache {
	ttl := func(d, def time.Duration) time.Duration {
		if d > 0 {
			return d
		}
		return def
	}
	return &TieredCache{
		mem:   mem,
		store: store,
		ttls: map[Namespace]time.Duration{
			NamespaceEmbedding: ttl(cfg.EmbeddingTTL, DefaultEmbeddingTTL),
			NamespaceSearch:    ttl(cfg.SearchTTL, DefaultSearchTTL),
			NamespaceContent:   ttl(cfg.ContentTTL, DefaultContentTTL),
		},
		defaultTTL: ttl(cfg.DefaultTTL, 30*time.Minute),
	}
}

// TTL returns the lifetime used for values in ns.
func (c *TieredCache) TTL(ns Namespace) time.Duration {
	if d, ok := c.ttls[ns]; ok {
		return d
	}
	return c.defaultTTL
}

func (c *TieredCache) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool) {
	ctx, span := tracer.Start(ctx, "cache.Get",
		trace.WithAttributes(attribute.String("cache.namespace", string(ns))))
	defer span.End()

	if v, ok := c.mem.Get(key); ok {
		metrics.CacheLookups.WithLabelValues(string(ns), "memory", "hit").Inc()
		span.SetAttributes(attribute.String("cache.tier", "memory"), attribute.Bool("cache.hit", true))
		return v, true
	}
	metrics.CacheLookups.WithLabelValues(string(ns), "memory", "miss").Inc()

	if c.store == nil {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, false
	}

	hit, found, err := c.store.CacheGet(ctx, key)
	if err != nil {
		span.RecordError(err)
		metrics.CacheErrors.WithLabelValues("get").Inc()
		logger.Warn(ctx, "persistent cache read failed", "namespace", string(ns), "error", err.Error())
		return nil, false
	}
	if !found {
		metrics.CacheLookups.WithLabelValues(string(ns), "persistent", "miss").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues(string(ns), "persistent", "hit").Inc()
	span.SetAttributes(attribute.String("cache.tier", "persistent"), attribute.Bool("cache.hit", true))
	c.mem.Set(key, hit.Value, backfillTTL(hit.Remaining, c.TTL(ns)))
	return hit.Value, true
}

// backfillTTL keeps a back-filled memory entry from outliving its persistent
// copy. An unknown remaining lifetime falls back to the namespace TTL.
func backfillTTL(remaining, nsTTL time.Duration) time.Duration {
	if remaining > 0 && remaining < nsTTL {
		return remaining
	}
	return nsTTL
}

// Set writes both tiers. label is a human readable description of the key
// (the query text) kept by stores that support it.
func (c *TieredCache) Set(ctx context.Context, ns Namespace, key, label, model string, value []byte) {
	ctx, span := tracer.Start(ctx, "cache.Set",
		trace.WithAttributes(attribute.String("cache.namespace", string(ns))))
	defer span.End()

	ttl := c.TTL(ns)
	c.mem.Set(key, value, ttl)
	if c.store == nil {
		return
	}
	err := c.store.CacheSet(ctx, key, core.CacheRecord{
		Namespace: string(ns),
		Label:     label,
		Model:     model,
		Value:     value,
		TTL:       ttl,
	})
	if err != nil {
		span.RecordError(err)
		metrics.CacheErrors.WithLabelValues("set").Inc()
		logger.Warn(ctx, "persistent cache write failed", "namespace", string(ns), "error", err.Error())
	}
}

func (c *TieredCache) Delete(ctx context.Context, key string) {
	c.mem.Delete(key)
	if c.store == nil {
		return
	}
	if err := c.store.CacheDelete(ctx, key); err != nil {
		metrics.CacheErrors.WithLabelValues("delete").Inc()
		logger.Warn(ctx, "persistent cache delete failed", "error", err.Error())
	}
}

// GetOrLoad returns the cached value or calls load once per key, even when
// many callers miss at the same time. cached reports whether load was skipped.
func (c *TieredCache) GetOrLoad(ctx context.Context, ns Namespace, key, label, model string,
	load func(ctx context.Context) ([]byte, error)) (value []byte, cached bool, err error) {
	if v, ok := c.Get(ctx, ns, key); ok {
		return v, true, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		data, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, ns, key, label, model, data)
		return data, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

func (c *TieredCache) Stats() Stats { return c.mem.Stats() }

// Start sweeps expired memory entries every interval until ctx ends.
func (c *TieredCache) Start(ctx context.Context, interval time.Duration) {
	c.mem.Start(ctx, interval)
}

// Close stops background work of the memory tier. The persistent store is
// owned by whoever created it.
func (c *TieredCache) Close() {
	c.mem.Close()
}

// GetJSON decodes a cached JSON value. Undecodable entries are misses.
func GetJSON[T any](ctx context.Context, c *TieredCache, ns Namespace, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, ns, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.Warn(ctx, "discarding undecodable cache entry", "namespace", string(ns), "error", err.Error())
		c.Delete(ctx, key)
		return out, false
	}
	return out, true
}

// SetJSON encodes v and stores it. Encoding failures are logged.
func SetJSON(ctx context.Context, c *TieredCache, ns Namespace, key, label, model string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Warn(ctx, "cache value not encodable", "namespace", string(ns), "error", err.Error())
		return
	}
	c.Set(ctx, ns, key, label, model, raw)
}
