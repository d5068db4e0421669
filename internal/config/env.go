package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	AIAPIKey   string
	EmbedModel string
	EmbedDim   int

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	SyncInterval    time.Duration // 0 disables the background all-users sync
	SyncConcurrency int
}

// LoadConfig loads the environment variables and returns config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		Port:               getEnv("PORT", "8080"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/drive/callback"),
		AIAPIKey:           getEnv("GEMINI_API_KEY", ""),
		EmbedModel:         getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:           getEnvInt("EMBED_DIM", 768),
		AwsAccessKey:       getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:       getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:          getEnv("AWS_REGION", "us-east-2"),
		BucketName:         getEnv("BUCKET_NAME", "drivesearch-raw"),
		SyncInterval:       getEnvDuration("SYNC_INTERVAL", 0),
		SyncConcurrency:    getEnvInt("SYNC_CONCURRENCY", 1),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	return cfg
}

// ArchiveEnabled reports whether the S3 raw-content archive is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.AwsAccessKey != "" && c.AwsSecretKey != ""
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
