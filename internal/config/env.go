package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL string
	SslCertPath string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	AwsEndpoint  string
	// BucketName receives uploads submitted through the API.
	BucketName string
	// DocumentBuckets are the locations scanned by the orchestrator.
	DocumentBuckets []string

	Embedding  EmbeddingConfig
	GenModel   string
	Extraction ExtractionConfig
	Chunking   ChunkingConfig
	Ingestion  IngestionConfig
	Cache      CacheConfig
	Search     SearchConfig

	Port      string
	LogLevel  string
	LogFormat string
}

type EmbeddingConfig struct {
	Provider     string // gemini | openai
	Model        string
	GeminiAPIKey string
	OpenAIAPIKey string
	// OpenAIBaseURL targets an OpenAI compatible server when set.
	OpenAIBaseURL string
	StorageWidth  int
	BatchSize     int
	MaxRetries    int
	BaseBackoff   time.Duration
	BatchDelay    time.Duration
}

type ExtractionConfig struct {
	MinTextLength  int
	PdftotextPath  string
	PdftoppmPath   string
	TesseractPath  string
	QpdfPath       string
	OCRLanguage    string
	OCRDPI         int
	OCRBaseTimeout time.Duration
	OCRPerMB       time.Duration
	OCRMaxTimeout  time.Duration
	// StrategyTimeout bounds a single in-process strategy; LargeStrategyTimeout
	// applies above LargeFileBytes.
	StrategyTimeout      time.Duration
	LargeStrategyTimeout time.Duration
	ProbeTimeout         time.Duration
	LargeFileBytes       int64
}

type ChunkingConfig struct {
	MaxSize int
	Overlap int
	MinSize int
}

type IngestionConfig struct {
	BatchConcurrency int
	BatchPause       time.Duration
	RetryLimit       int
	FallbackGrade    int
	Workers          int
	QueueSize        int
	JobTimeout       time.Duration
}

type CacheConfig struct {
	Backend       string // postgres | redis | none
	Capacity      int
	SweepInterval time.Duration
	DefaultTTL    time.Duration
	EmbeddingTTL  time.Duration
	SearchTTL     time.Duration
	ContentTTL    time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type SearchConfig struct {
	VectorEnabled      bool
	MaxResults         int
	MinSimilarity      float64
	LexicalConcurrency int
	PromptBudget       int
	PromptChunkChars   int
	PromptMaxChunks    int
}

// LoadConfig reads .env, an optional YAML file named by CONFIG_FILE and the
// process environment, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		DatabaseURL:     v.GetString("DATABASE_URL"),
		SslCertPath:     v.GetString("SSL_CERT_PATH"),
		AwsAccessKey:    v.GetString("AWS_ACCESS_KEY"),
		AwsSecretKey:    v.GetString("AWS_SECRET_KEY"),
		AwsRegion:       v.GetString("AWS_REGION"),
		AwsEndpoint:     v.GetString("AWS_ENDPOINT"),
		BucketName:      v.GetString("BUCKET_NAME"),
		DocumentBuckets: splitList(v.GetString("DOCUMENT_BUCKETS")),
		Embedding: EmbeddingConfig{
			Provider:      strings.ToLower(v.GetString("EMBED_PROVIDER")),
			Model:         v.GetString("EMBED_MODEL"),
			GeminiAPIKey:  v.GetString("GEMINI_API_KEY"),
			OpenAIAPIKey:  v.GetString("OPENAI_API_KEY"),
			OpenAIBaseURL: v.GetString("OPENAI_BASE_URL"),
			StorageWidth:  v.GetInt("EMBED_DIM"),
			BatchSize:     v.GetInt("EMBED_BATCH_SIZE"),
			MaxRetries:    v.GetInt("EMBED_MAX_RETRIES"),
			BaseBackoff:   v.GetDuration("EMBED_BASE_BACKOFF"),
			BatchDelay:    v.GetDuration("EMBED_BATCH_DELAY"),
		},
		GenModel: v.GetString("GEN_MODEL"),
		Extraction: ExtractionConfig{
			MinTextLength:        v.GetInt("EXTRACT_MIN_TEXT"),
			PdftotextPath:        v.GetString("PDFTOTEXT_PATH"),
			PdftoppmPath:         v.GetString("PDFTOPPM_PATH"),
			TesseractPath:        v.GetString("TESSERACT_PATH"),
			QpdfPath:             v.GetString("QPDF_PATH"),
			OCRLanguage:          v.GetString("OCR_LANGUAGE"),
			OCRDPI:               v.GetInt("OCR_DPI"),
			OCRBaseTimeout:       v.GetDuration("OCR_BASE_TIMEOUT"),
			OCRPerMB:             v.GetDuration("OCR_TIMEOUT_PER_MB"),
			OCRMaxTimeout:        v.GetDuration("OCR_MAX_TIMEOUT"),
			StrategyTimeout:      v.GetDuration("EXTRACT_STRATEGY_TIMEOUT"),
			LargeStrategyTimeout: v.GetDuration("EXTRACT_LARGE_STRATEGY_TIMEOUT"),
			ProbeTimeout:         v.GetDuration("EXTRACT_PROBE_TIMEOUT"),
			LargeFileBytes:       v.GetInt64("EXTRACT_LARGE_FILE_BYTES"),
		},
		Chunking: ChunkingConfig{
			MaxSize: v.GetInt("CHUNK_MAX_SIZE"),
			Overlap: v.GetInt("CHUNK_OVERLAP"),
			MinSize: v.GetInt("CHUNK_MIN_SIZE"),
		},
		Ingestion: IngestionConfig{
			BatchConcurrency: v.GetInt("INGEST_BATCH_CONCURRENCY"),
			BatchPause:       v.GetDuration("INGEST_BATCH_PAUSE"),
			RetryLimit:       v.GetInt("INGEST_RETRY_LIMIT"),
			FallbackGrade:    v.GetInt("INGEST_FALLBACK_GRADE"),
			Workers:          v.GetInt("INGEST_WORKERS"),
			QueueSize:        v.GetInt("INGEST_QUEUE_SIZE"),
			JobTimeout:       v.GetDuration("INGEST_JOB_TIMEOUT"),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(v.GetString("CACHE_BACKEND")),
			Capacity:      v.GetInt("CACHE_CAPACITY"),
			SweepInterval: v.GetDuration("CACHE_SWEEP_INTERVAL"),
			DefaultTTL:    v.GetDuration("CACHE_DEFAULT_TTL"),
			EmbeddingTTL:  v.GetDuration("CACHE_EMBEDDING_TTL"),
			SearchTTL:     v.GetDuration("CACHE_SEARCH_TTL"),
			ContentTTL:    v.GetDuration("CACHE_CONTENT_TTL"),
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
		},
		Search: SearchConfig{
			VectorEnabled:      v.GetBool("SEARCH_VECTOR_ENABLED"),
			MaxResults:         v.GetInt("SEARCH_MAX_RESULTS"),
			MinSimilarity:      v.GetFloat64("SEARCH_MIN_SIMILARITY"),
			LexicalConcurrency: v.GetInt("SEARCH_LEXICAL_CONCURRENCY"),
			PromptBudget:       v.GetInt("PROMPT_BUDGET"),
			PromptChunkChars:   v.GetInt("PROMPT_CHUNK_CHARS"),
			PromptMaxChunks:    v.GetInt("PROMPT_MAX_CHUNKS"),
		},
		Port:      v.GetString("PORT"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("AWS_REGION", "us-east-2")
	v.SetDefault("BUCKET_NAME", "textbook_content")
	v.SetDefault("DOCUMENT_BUCKETS", "textbook_content,Textbook Content,Curriculums,curriculums")

	v.SetDefault("EMBED_PROVIDER", "gemini")
	v.SetDefault("EMBED_MODEL", "")
	v.SetDefault("EMBED_DIM", 1536)
	v.SetDefault("EMBED_BATCH_SIZE", 100)
	v.SetDefault("EMBED_MAX_RETRIES", 3)
	v.SetDefault("EMBED_BASE_BACKOFF", "1s")
	v.SetDefault("EMBED_BATCH_DELAY", "100ms")
	v.SetDefault("GEN_MODEL", "gemini-1.5-flash")

	v.SetDefault("EXTRACT_MIN_TEXT", 50)
	v.SetDefault("PDFTOTEXT_PATH", "pdftotext")
	v.SetDefault("PDFTOPPM_PATH", "pdftoppm")
	v.SetDefault("TESSERACT_PATH", "tesseract")
	v.SetDefault("QPDF_PATH", "qpdf")
	v.SetDefault("OCR_LANGUAGE", "eng")
	v.SetDefault("OCR_DPI", 200)
	v.SetDefault("OCR_BASE_TIMEOUT", "2m")
	v.SetDefault("OCR_TIMEOUT_PER_MB", "10s")
	v.SetDefault("OCR_MAX_TIMEOUT", "10m")
	v.SetDefault("EXTRACT_STRATEGY_TIMEOUT", "2m")
	v.SetDefault("EXTRACT_LARGE_STRATEGY_TIMEOUT", "3m")
	v.SetDefault("EXTRACT_PROBE_TIMEOUT", "5s")
	v.SetDefault("EXTRACT_LARGE_FILE_BYTES", 10*1024*1024)

	v.SetDefault("CHUNK_MAX_SIZE", 1000)
	v.SetDefault("CHUNK_OVERLAP", 200)
	v.SetDefault("CHUNK_MIN_SIZE", 50)

	v.SetDefault("INGEST_BATCH_CONCURRENCY", 3)
	v.SetDefault("INGEST_BATCH_PAUSE", "1s")
	v.SetDefault("INGEST_RETRY_LIMIT", 3)
	v.SetDefault("INGEST_FALLBACK_GRADE", 1)
	v.SetDefault("INGEST_WORKERS", 2)
	v.SetDefault("INGEST_QUEUE_SIZE", 64)
	v.SetDefault("INGEST_JOB_TIMEOUT", "20m")

	v.SetDefault("CACHE_BACKEND", "postgres")
	v.SetDefault("CACHE_CAPACITY", 500)
	v.SetDefault("CACHE_SWEEP_INTERVAL", "1m")
	v.SetDefault("CACHE_DEFAULT_TTL", "30m")
	v.SetDefault("CACHE_EMBEDDING_TTL", "6h")
	v.SetDefault("CACHE_SEARCH_TTL", "2h")
	v.SetDefault("CACHE_CONTENT_TTL", "24h")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("SEARCH_VECTOR_ENABLED", true)
	v.SetDefault("SEARCH_MAX_RESULTS", 10)
	v.SetDefault("SEARCH_MIN_SIMILARITY", 0.1)
	v.SetDefault("SEARCH_LEXICAL_CONCURRENCY", 5)
	v.SetDefault("PROMPT_BUDGET", 2500)
	v.SetDefault("PROMPT_CHUNK_CHARS", 600)
	v.SetDefault("PROMPT_MAX_CHUNKS", 4)

	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	switch c.Embedding.Provider {
	case "gemini":
		if c.Embedding.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY not set"))
		}
	case "openai":
		if c.Embedding.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("EMBED_PROVIDER %q is not one of gemini, openai", c.Embedding.Provider))
	}
	if c.Embedding.StorageWidth <= 0 {
		errs = append(errs, errors.New("EMBED_DIM must be positive"))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, errors.New("EMBED_BATCH_SIZE must be positive"))
	}
	if c.Chunking.MaxSize <= c.Chunking.MinSize {
		errs = append(errs, errors.New("CHUNK_MAX_SIZE must exceed CHUNK_MIN_SIZE"))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxSize {
		errs = append(errs, errors.New("CHUNK_OVERLAP must be in [0, CHUNK_MAX_SIZE)"))
	}
	if c.Ingestion.BatchConcurrency <= 0 {
		errs = append(errs, errors.New("INGEST_BATCH_CONCURRENCY must be positive"))
	}
	switch c.Cache.Backend {
	case "postgres", "redis", "none":
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND %q is not one of postgres, redis, none", c.Cache.Backend))
	}
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 1 {
		errs = append(errs, errors.New("SEARCH_MIN_SIMILARITY must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// splitList splits a comma separated list, keeping inner spaces ("Textbook Content").
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
