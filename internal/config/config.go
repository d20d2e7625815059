package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the segmenta server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Analysis AnalysisConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// AnalysisConfig configures the segmentation engine. ModelPath points at the
// pre-trained centroid artifact; a missing artifact is not fatal, it only
// disables the static pipeline and live prediction.
type AnalysisConfig struct {
	ModelPath       string
	Workers         int
	QueueSize       int
	Seed            int64
	MaxIterations   int
	DefaultClusters int
	MaxClusters     int
	JobStatusTTL    time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns a descriptive error if any required value is missing or
// invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SEGMENTA_PORT", 8080),
			Env:  envString("SEGMENTA_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Analysis: AnalysisConfig{
			ModelPath:       envString("SEGMENTA_MODEL_PATH", "ml_models/kmeans_model.json"),
			Workers:         envInt("SEGMENTA_ANALYSIS_WORKERS", 4),
			QueueSize:       envInt("SEGMENTA_ANALYSIS_QUEUE_SIZE", 64),
			Seed:            envInt64("SEGMENTA_KMEANS_SEED", 42),
			MaxIterations:   envInt("SEGMENTA_KMEANS_MAX_ITERATIONS", 300),
			DefaultClusters: envInt("SEGMENTA_DEFAULT_CLUSTERS", 5),
			MaxClusters:     envInt("SEGMENTA_MAX_CLUSTERS", 20),
			JobStatusTTL:    envDuration("SEGMENTA_JOB_STATUS_TTL", 30*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Analysis.Workers < 1 {
		return fmt.Errorf("SEGMENTA_ANALYSIS_WORKERS must be at least 1, got %d", c.Analysis.Workers)
	}
	if c.Analysis.QueueSize < 1 {
		return fmt.Errorf("SEGMENTA_ANALYSIS_QUEUE_SIZE must be at least 1, got %d", c.Analysis.QueueSize)
	}
	if c.Analysis.MaxIterations < 1 {
		return fmt.Errorf("SEGMENTA_KMEANS_MAX_ITERATIONS must be at least 1, got %d", c.Analysis.MaxIterations)
	}
	if c.Analysis.DefaultClusters < 1 {
		return fmt.Errorf("SEGMENTA_DEFAULT_CLUSTERS must be at least 1, got %d", c.Analysis.DefaultClusters)
	}
	if c.Analysis.MaxClusters < c.Analysis.DefaultClusters {
		return fmt.Errorf("SEGMENTA_MAX_CLUSTERS must be >= SEGMENTA_DEFAULT_CLUSTERS, got %d", c.Analysis.MaxClusters)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
