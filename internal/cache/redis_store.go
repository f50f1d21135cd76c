package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/internal/core"
)

var _ core.CacheStore = (*RedisStore)(nil)

// RedisStore is a persistent tier backed by Redis. Expiry is delegated to
// Redis key TTLs.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg config.CacheConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: "textbook-index:"}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "textbook-index:"}
}

// CacheGet reads the value and its remaining TTL in one round trip. Keys
// without an expiry report a zero Remaining.
func (s *RedisStore) CacheGet(ctx context.Context, key string) (core.CachedValue, bool, error) {
	ctx, span := tracer.Start(ctx, "redis.Get")
	defer span.End()

	pipe := s.rdb.Pipeline()
	get := pipe.Get(ctx, s.prefix+key)
	pttl := pipe.PTTL(ctx, s.prefix+key)
	_, err := pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		return core.CachedValue{}, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return core.CachedValue{}, false, err
	}

	val, err := get.Bytes()
	if err != nil {
		span.RecordError(err)
		return core.CachedValue{}, false, err
	}
	hit := core.CachedValue{Value: val}
	if d := pttl.Val(); d > 0 {
		hit.Remaining = d
	}
	return hit, true, nil
}

func (s *RedisStore) CacheSet(ctx context.Context, key string, rec core.CacheRecord) error {
	ctx, span := tracer.Start(ctx, "redis.Set",
		trace.WithAttributes(
			attribute.String("cache.namespace", rec.Namespace),
			attribute.Int64("cache.ttl_ms", rec.TTL.Milliseconds()),
		))
	defer span.End()

	if err := s.rdb.Set(ctx, s.prefix+key, rec.Value, rec.TTL).Err(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *RedisStore) CacheDelete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
