package config

import (
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/medindex/internal/chunking"
	"github.com/cloo-solutions/medindex/internal/embedding"
	"github.com/cloo-solutions/medindex/internal/quality"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	// Without a database URL every store is kept in memory.
	DatabaseURL              string        `envconfig:"DATABASE_URL"`
	DatabaseMaxConns         int32         `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseStatementTimeout time.Duration `envconfig:"DATABASE_STATEMENT_TIMEOUT" default:"30s"`
	DatabaseConnectTimeout   time.Duration `envconfig:"DATABASE_CONNECT_TIMEOUT" default:"30s"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"medindex-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	FeedBucket   string        `envconfig:"FEED_BUCKET"`
	FeedTopics   []string      `envconfig:"FEED_TOPICS"`
	FeedWindow   time.Duration `envconfig:"FEED_WINDOW" default:"168h"`
	FeedInterval time.Duration `envconfig:"FEED_INTERVAL" default:"6h"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	ChatModel           string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	ChunkWindowTokens   int `envconfig:"CHUNK_WINDOW_TOKENS" default:"200"`
	ChunkOverlapTokens  int `envconfig:"CHUNK_OVERLAP_TOKENS" default:"40"`
	ChunkMinViableChars int `envconfig:"CHUNK_MIN_VIABLE_CHARS" default:"50"`

	QualityMinChars    int    `envconfig:"QUALITY_MIN_CHARS" default:"100"`
	QualityMinSignals  int    `envconfig:"QUALITY_MIN_SIGNALS" default:"0"`
	QualitySignalsFile string `envconfig:"QUALITY_SIGNALS_FILE"`

	EmbedBatchSize         int           `envconfig:"EMBED_BATCH_SIZE" default:"100"`
	EmbedMaxInFlight       int           `envconfig:"EMBED_MAX_IN_FLIGHT" default:"4"`
	EmbedMaxAttempts       int           `envconfig:"EMBED_MAX_ATTEMPTS" default:"3"`
	EmbedInitialBackoff    time.Duration `envconfig:"EMBED_INITIAL_BACKOFF" default:"1s"`
	EmbedRequestsPerSecond float64       `envconfig:"EMBED_REQUESTS_PER_SECOND" default:"0"`

	QueuePollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"5s"`
	QueueBatchSize    int           `envconfig:"QUEUE_BATCH_SIZE" default:"3"`
	QueueMaxRetries   int           `envconfig:"QUEUE_MAX_RETRIES" default:"3"`
	QueueJobTimeout   time.Duration `envconfig:"QUEUE_JOB_TIMEOUT" default:"1h"`

	IntegrityInterval  time.Duration `envconfig:"INTEGRITY_INTERVAL" default:"5m"`
	IntegrityTolerance int           `envconfig:"INTEGRITY_TOLERANCE" default:"10"`

	SearchAlpha               float64 `envconfig:"SEARCH_ALPHA" default:"0.5"`
	SearchCandidateMultiplier int     `envconfig:"SEARCH_CANDIDATE_MULTIPLIER" default:"3"`

	MaxUploadBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"52428800"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("MEDINDEX", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if cfg.SearchAlpha < 0 || cfg.SearchAlpha > 1 {
		return nil, fmt.Errorf("MEDINDEX_SEARCH_ALPHA must be within [0, 1], got %v", cfg.SearchAlpha)
	}
	if cfg.SearchCandidateMultiplier < 2 || cfg.SearchCandidateMultiplier > 4 {
		return nil, fmt.Errorf("MEDINDEX_SEARCH_CANDIDATE_MULTIPLIER must be within [2, 4], got %d", cfg.SearchCandidateMultiplier)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// HasFeed reports whether the literature feed sync is configured. The feed
// reads through the S3 client.
func (c *Config) HasFeed() bool {
	return c.HasS3() && c.FeedBucket != "" && len(c.FeedTopics) > 0
}

func (c *Config) ChunkingConfig() chunking.Config {
	return chunking.Config{
		WindowTokens:   c.ChunkWindowTokens,
		OverlapTokens:  c.ChunkOverlapTokens,
		MinViableChars: c.ChunkMinViableChars,
	}
}

func (c *Config) QualityConfig() quality.Config {
	return quality.Config{
		MinChars:   c.QualityMinChars,
		MinSignals: c.QualityMinSignals,
	}
}

func (c *Config) BatcherConfig() embedding.Config {
	return embedding.Config{
		BatchSize:         c.EmbedBatchSize,
		MaxInFlight:       c.EmbedMaxInFlight,
		MaxAttempts:       c.EmbedMaxAttempts,
		InitialBackoff:    c.EmbedInitialBackoff,
		Dimensions:        c.EmbeddingDimensions,
		RequestsPerSecond: c.EmbedRequestsPerSecond,
	}
}

// TracesSampleRate samples every transaction in development and 10% elsewhere.
func (c *Config) TracesSampleRate() float64 {
	if c.Environment == "development" {
		return 1.0
	}
	return 0.1
}
