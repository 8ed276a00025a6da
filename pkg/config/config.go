package config

import "time"

// Config is the root application configuration. Values come from struct
// defaults overridden by RAGLINE_-prefixed environment variables.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Database  DatabaseConfig  `koanf:"database"`
	Embedder  EmbedderConfig  `koanf:"embedder"`
	VectorDB  VectorDBConfig  `koanf:"vector_db"`
	Storage   StorageConfig   `koanf:"storage"`
	Queue     QueueConfig     `koanf:"queue"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `koanf:"json"`
}

// DatabaseConfig points at the postgres instance backing documents,
// pages, chunks and processing jobs.
type DatabaseConfig struct {
	DSN         string `koanf:"dsn"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// EmbedderConfig configures the remote embedding provider and its cache.
type EmbedderConfig struct {
	Provider           string        `koanf:"provider" validate:"required"`
	Model              string        `koanf:"model" validate:"required"`
	APIKey             string        `koanf:"api_key"`
	BaseURL            string        `koanf:"base_url"`
	Dimension          int           `koanf:"dimension" validate:"gt=0"`
	BatchSize          int           `koanf:"batch_size" validate:"gt=0"`
	RequestTimeout     time.Duration `koanf:"request_timeout"`
	MinRequestInterval time.Duration `koanf:"min_request_interval"`
	CacheSize          int           `koanf:"cache_size" validate:"gte=0"`
	CacheTTL           time.Duration `koanf:"cache_ttl"`
}

// VectorDBConfig configures the external vector database.
type VectorDBConfig struct {
	Provider             string        `koanf:"provider" validate:"oneof=qdrant pgvector memory"`
	DSN                  string        `koanf:"dsn"`
	APIKey               string        `koanf:"api_key"`
	CollectionPrefix     string        `koanf:"collection_prefix" validate:"required"`
	Metric               string        `koanf:"metric"`
	RequestTimeout       time.Duration `koanf:"request_timeout"`
	UpsertBatchSize      int           `koanf:"upsert_batch_size" validate:"gt=0"`
	DebugUnfilteredRetry bool          `koanf:"debug_unfiltered_retry"`
}

// StorageConfig controls where raw uploaded bytes are kept.
type StorageConfig struct {
	BlobRoot string `koanf:"blob_root" validate:"required"`
}

// QueueConfig tunes the processing queue and its worker pool.
type QueueConfig struct {
	Workers        int           `koanf:"workers" validate:"gt=0"`
	MaxRetries     int           `koanf:"max_retries" validate:"gte=0"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	StaleAfter     time.Duration `koanf:"stale_after"`
	ReaperInterval time.Duration `koanf:"reaper_interval"`
}

// IngestConfig tunes chunking and ingestion retries.
type IngestConfig struct {
	ChunkSize     int           `koanf:"chunk_size" validate:"gt=0"`
	ChunkOverlap  int           `koanf:"chunk_overlap" validate:"gte=0"`
	RetryAttempts int           `koanf:"retry_attempts" validate:"gt=0"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	RetryMax      time.Duration `koanf:"retry_max"`
}

// RetrievalConfig tunes context building.
type RetrievalConfig struct {
	TopK          int           `koanf:"top_k" validate:"gt=0"`
	MinScore      float64       `koanf:"min_score" validate:"gte=0,lte=1"`
	FallbackTopN  int           `koanf:"fallback_top_n" validate:"gt=0"`
	CacheSize     int           `koanf:"cache_size" validate:"gte=0"`
	CacheTTL      time.Duration `koanf:"cache_ttl"`
	MaxTokens     int           `koanf:"max_tokens" validate:"gte=0"`
	SearchTimeout time.Duration `koanf:"search_timeout"`
}

// Default returns the baseline configuration applied before env overrides.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Database: DatabaseConfig{
			AutoMigrate: true,
		},
		Embedder: EmbedderConfig{
			Provider:           "openai",
			Model:              "text-embedding-3-small",
			Dimension:          1536,
			BatchSize:          64,
			RequestTimeout:     30 * time.Second,
			MinRequestInterval: 100 * time.Millisecond,
			CacheSize:          2048,
			CacheTTL:           time.Hour,
		},
		VectorDB: VectorDBConfig{
			Provider:         "qdrant",
			CollectionPrefix: "ragline",
			Metric:           "cosine",
			RequestTimeout:   10 * time.Second,
			UpsertBatchSize:  100,
		},
		Storage: StorageConfig{
			BlobRoot: "./data/blobs",
		},
		Queue: QueueConfig{
			Workers:        4,
			MaxRetries:     3,
			PollInterval:   time.Second,
			StaleAfter:     10 * time.Minute,
			ReaperInterval: time.Minute,
		},
		Ingest: IngestConfig{
			ChunkSize:     1000,
			ChunkOverlap:  200,
			RetryAttempts: 3,
			RetryBackoff:  200 * time.Millisecond,
			RetryMax:      2 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MinScore:      0.3,
			FallbackTopN:  3,
			CacheSize:     512,
			CacheTTL:      5 * time.Minute,
			SearchTimeout: 10 * time.Second,
		},
	}
}
