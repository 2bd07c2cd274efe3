package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	Port         string
	JWTSecret    string
	AwsAccessKey string
	AwsSecretKey string
	AwsSession   string
	AwsRegion    string
	BucketName   string
	S3Endpoint   string

	// Embedding API (OpenAI-compatible).
	EmbedAPIKey  string
	EmbedBaseURL string
	EmbedModel   string
	EmbedDim     int

	// Pipeline tuning.
	ChunkSize       int
	ChunkOverlap    int
	EmbedBatchSize  int
	EmbedMaxRetries int
	PipelineBudget  time.Duration
	IngestWorkers   int
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		Port:         getEnv("PORT", "8080"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsSession:   getEnv("AWS_SESSION_TOKEN", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", ""),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),

		EmbedAPIKey:  getEnv("EMBED_API_KEY", ""),
		EmbedBaseURL: getEnv("EMBED_BASE_URL", "https://api.openai.com/v1"),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-3-small"),
		EmbedDim:     getEnvInt("EMBED_DIM", 1536),

		ChunkSize:       getEnvInt("CHUNK_SIZE", 2000),
		ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", 150),
		EmbedBatchSize:  getEnvInt("EMBED_BATCH_SIZE", 100),
		EmbedMaxRetries: getEnvInt("EMBED_MAX_RETRIES", 3),
		PipelineBudget:  getEnvDuration("PIPELINE_BUDGET", 50*time.Second),
		IngestWorkers:   getEnvInt("INGEST_WORKERS", 2),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	return cfg
}

// PipelineConfigured reports whether every setting the ingestion pipeline
// needs is present. Missing values don't stop the service from serving job
// status; they surface as a "not configured" failure when a trigger arrives.
func (c *Config) PipelineConfigured() error {
	missing := []string{}
	if c.AwsRegion == "" {
		missing = append(missing, "AWS_REGION")
	}
	if c.AwsAccessKey == "" {
		missing = append(missing, "AWS_ACCESS_KEY")
	}
	if c.AwsSecretKey == "" {
		missing = append(missing, "AWS_SECRET_KEY")
	}
	if c.BucketName == "" {
		missing = append(missing, "BUCKET_NAME")
	}
	if c.EmbedAPIKey == "" {
		missing = append(missing, "EMBED_API_KEY")
	}
	if len(missing) == 0 {
		return nil
	}
	return &NotConfiguredError{Missing: missing}
}

// NotConfiguredError names the env vars that keep the pipeline disabled.
type NotConfiguredError struct {
	Missing []string
}

func (e *NotConfiguredError) Error() string {
	return "ingestion pipeline is not configured: missing " + strings.Join(e.Missing, ", ")
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
