// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markdave123-py/textbook-index/internal/cache"
	"github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/internal/core"
	db "github.com/markdave123-py/textbook-index/internal/core/database"
	"github.com/markdave123-py/textbook-index/internal/core/extraction"
	"github.com/markdave123-py/textbook-index/internal/core/ingestion_engine"
	"github.com/markdave123-py/textbook-index/internal/core/llm"
	objectclient "github.com/markdave123-py/textbook-index/internal/core/object-client"
	"github.com/markdave123-py/textbook-index/internal/search"
	"github.com/markdave123-py/textbook-index/internal/services"
	"github.com/markdave123-py/textbook-index/pkg/logger"
)

// App holds every long lived component. Both binaries build one; only the
// API server starts the HTTP listener and the background workers.
type App struct {
	cfg    *config.Config
	prompt search.PromptOptions

	DBClient     *db.DatabaseClient
	ObjectClient *objectclient.S3Client
	Cache        *cache.TieredCache
	Embedder     *llm.EmbeddingClient
	Orchestrator *ingestion_engine.Orchestrator
	Ingestor     *ingestion_engine.DocumentIngestor
	Search       *search.Engine
	Documents    *services.DocumentService
	Content      *services.ContentService
	Server       *Server

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient.Close)
	logger.Info(ctx, "database initialized", "vector", dbClient.VectorAvailable(ctx))

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	a.ObjectClient = objClient
	logger.Info(ctx, "object client initialized", "upload_bucket", cfg.BucketName)

	store, err := a.cacheStore(appCtx)
	if err != nil {
		return nil, err
	}
	a.Cache = cache.NewTieredCache(cache.NewMemoryCache(cfg.Cache.Capacity), store, cfg.Cache)

	provider, closeProvider, err := llm.NewEmbeddingProvider(appCtx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	a.closers = append(a.closers, closeProvider)
	a.Embedder = llm.NewEmbeddingClient(provider, cfg.Embedding)

	var generator core.LLMProvider
	if cfg.Embedding.GeminiAPIKey != "" {
		gen, err := llm.NewGeminiLLM(appCtx, cfg.Embedding.GeminiAPIKey, cfg.GenModel)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the generation model: %w", err)
		}
		a.closers = append(a.closers, gen.Close)
		generator = gen
	} else {
		logger.Warn(ctx, "GEMINI_API_KEY not set, content generation disabled")
	}

	chain := extraction.NewDefaultChain(cfg.Extraction, extraction.NewExecRunner())
	a.Orchestrator = ingestion_engine.NewOrchestrator(
		objClient, dbClient, dbClient, chain, a.Embedder, ingestion_engine.NewIngestConfig(cfg))
	a.Ingestor = ingestion_engine.NewDocumentIngestor(a.Orchestrator, cfg.Ingestion.QueueSize)

	a.Search = search.NewEngine(dbClient, a.Embedder, a.Cache, cfg.Search)
	prompt := search.PromptOptions{
		ChunkChars: cfg.Search.PromptChunkChars,
		Budget:     cfg.Search.PromptBudget,
		MaxChunks:  cfg.Search.PromptMaxChunks,
	}
	a.prompt = prompt

	a.Documents = services.NewDocumentService(
		objClient, dbClient, a.Ingestor, a.Orchestrator, cfg.BucketName, cfg.Ingestion.FallbackGrade)
	a.Content = services.NewContentService(a.Search, generator, a.Cache, prompt, cfg.GenModel)

	a.Server = NewServer(cfg, Handlers{
		Documents: a.Documents,
		Search:    a.Search,
		Content:   a.Content,
		DB:        dbClient,
		Prompt:    prompt,
	})

	ok = true
	return a, nil
}

// cacheStore picks the persistent tier. "none" keeps only the memory tier.
func (a *App) cacheStore(ctx context.Context) (core.CacheStore, error) {
	switch a.cfg.Cache.Backend {
	case "redis":
		rs, err := cache.NewRedisStore(ctx, a.cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		a.closers = append(a.closers, rs.Close)
		return rs, nil
	case "none":
		return nil, nil
	default:
		return a.DBClient, nil
	}
}

// PromptOptions are the limits used when search results are formatted as
// prompt context.
func (a *App) PromptOptions() search.PromptOptions { return a.prompt }

// StartBackground starts the ingestion workers, the memory cache sweeper and,
// with the postgres cache backend, the expired row purge. All stop with ctx.
func (a *App) StartBackground(ctx context.Context) {
	a.Ingestor.Start(ctx, a.cfg.Ingestion.Workers)
	a.Cache.Start(ctx, a.cfg.Cache.SweepInterval)
	if a.cfg.Cache.Backend == "postgres" {
		go a.purgeExpired(ctx, a.cfg.Cache.SweepInterval)
	}
}

func (a *App) purgeExpired(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.DBClient.PurgeExpiredCache(ctx)
			if err != nil {
				logger.Warn(ctx, "cache purge failed", "error", err.Error())
				continue
			}
			if n > 0 {
				logger.Debug(ctx, "purged expired cache rows", "rows", n)
			}
		}
	}
}

// Close stops background runs and releases clients in reverse order.
func (a *App) Close() {
	if a.Documents != nil {
		a.Documents.Close()
	}
	if a.Ingestor != nil {
		a.Ingestor.Wait()
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn(context.Background(), "shutdown: close failed", "error", err.Error())
	}
}
