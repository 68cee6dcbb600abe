package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"manualgraph/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Ingestion
	MergeBatchSize   int
	MergeMaxAttempts int

	// Maintenance
	SweepInterval time.Duration // 0 disables the background orphan sweep
	ResetToken    string        // empty disables the reset endpoint

	// Extraction (optional - upload endpoint returns 503 without it)
	ExtractorURL    string
	ExtractorAPIKey string
	ModelID         string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		Neo4jURI:         getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:        getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:    getEnv("NEO4J_PASSWORD", "password"),
		MergeBatchSize:   getEnvInt("MERGE_BATCH_SIZE", 50),
		MergeMaxAttempts: getEnvInt("MERGE_MAX_ATTEMPTS", 3),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", 0),
		ResetToken:       getEnv("RESET_TOKEN", ""),
		ExtractorURL:     getEnv("EXTRACTOR_URL", ""),
		ExtractorAPIKey:  getEnv("EXTRACTOR_API_KEY", ""),
		ModelID:          getEnv("MODEL_ID", "gpt-4o-mini"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Neo4jURI == "" {
		return errors.NewConfigMissingRequired("NEO4J_URI")
	}
	if c.Neo4jUser == "" {
		return errors.NewConfigMissingRequired("NEO4J_USER")
	}
	if c.Neo4jPassword == "" {
		return errors.NewConfigMissingRequired("NEO4J_PASSWORD")
	}
	if c.MergeBatchSize <= 0 {
		return fmt.Errorf("MERGE_BATCH_SIZE must be positive")
	}
	if c.MergeMaxAttempts <= 0 {
		return fmt.Errorf("MERGE_MAX_ATTEMPTS must be positive")
	}
	// Extraction and reset settings are optional
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
