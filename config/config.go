package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Log        LogConfig
	Processing ProcessingConfig
	DLQ        DLQConfig
	HTTP       HTTPConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
}

// LogConfig holds settings for the external append-only log service
type LogConfig struct {
	// URL of the Redis instance backing the event streams
	URL string

	// BlockTimeout is how long tail reads block waiting for new entries
	BlockTimeout time.Duration
}

// ProcessingConfig holds worker pool and ingestion settings
type ProcessingConfig struct {
	WorkerCount      int
	MaxBatchSize     int
	ThroughputTarget int
	LatencyTargetP95 int
}

// DLQConfig holds dead-letter queue and retry settings
type DLQConfig struct {
	Enabled     bool
	MaxRetries  int
	BackoffBase float64
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Path string
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Log: LogConfig{
			URL:          getEnv("LOG_SERVICE_URL", "redis://localhost:6379"),
			BlockTimeout: getEnvDuration("LOG_BLOCK_TIMEOUT", time.Second),
		},
		Processing: ProcessingConfig{
			WorkerCount:      getEnvInt("WORKER_COUNT", 3),
			MaxBatchSize:     getEnvInt("MAX_BATCH_SIZE", 1000),
			ThroughputTarget: getEnvInt("THROUGHPUT_TARGET", 5000),
			LatencyTargetP95: getEnvInt("LATENCY_TARGET_P95", 50),
		},
		DLQ: DLQConfig{
			Enabled:     getEnvBool("DLQ_ENABLED", true),
			MaxRetries:  getEnvInt("DLQ_MAX_RETRIES", 3),
			BackoffBase: getEnvFloat("DLQ_BACKOFF_BASE", 2.0),
		},
		HTTP: HTTPConfig{
			Port:           getEnvInt("HTTP_PORT", 8080),
			ReadTimeout:    getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Metrics: MetricsConfig{
			Path: getEnv("METRICS_PATH", "/metrics"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnv("SERVICE_NAME", "streampulse"),
			Endpoint:    getEnv("OTLP_ENDPOINT", "localhost:4318"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
