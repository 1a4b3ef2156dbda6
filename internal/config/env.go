package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	JWTSecret    string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	GenModel     string
	Port         string

	// Ingestion tuning.
	TargetTokens     int
	OverlapTokens    int
	MinChunkChars    int
	IngestWorkers    int
	EmbedConcurrency int
	EmbedMaxRetries  int
	EmbedRPS         float64

	// Retrieval tuning.
	TopK         int
	MinScore     float64
	QueryTimeout int // seconds

	LogLevel string
	LogJSON  bool
}

// LoadConfig loads the environment variables and returns the config.
// Required values fail fast at startup.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "globalbrain-docs"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		Port:         getEnv("PORT", "8080"),

		TargetTokens:     getEnvInt("CHUNK_TARGET_TOKENS", 400),
		OverlapTokens:    getEnvInt("CHUNK_OVERLAP_TOKENS", 40),
		MinChunkChars:    getEnvInt("CHUNK_MIN_CHARS", 50),
		IngestWorkers:    getEnvInt("INGEST_WORKERS", 4),
		EmbedConcurrency: getEnvInt("EMBED_CONCURRENCY", 4),
		EmbedMaxRetries:  getEnvInt("EMBED_MAX_RETRIES", 3),
		EmbedRPS:         getEnvFloat("EMBED_RPS", 10),

		TopK:         getEnvInt("RETRIEVE_TOP_K", 8),
		MinScore:     getEnvFloat("RETRIEVE_MIN_SCORE", 0.25),
		QueryTimeout: getEnvInt("QUERY_TIMEOUT_SECONDS", 60),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getEnv("LOG_FORMAT", "json") == "json",
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	return cfg
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

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}
