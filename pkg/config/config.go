// Package config provides environment-based configuration for the Gary-Zero server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Gary-Zero server.
type Config struct {
	// Data directory for the SQLite database and settings file
	DataDir string

	// Database configuration. When DatabaseDSN is set the server uses
	// PostgreSQL instead of the default SQLite file under DataDir.
	DatabaseDSN string

	// Authentication
	JWTSecret    string
	JWTExpiry    time.Duration
	APIKeyHeader string

	// Server configuration
	APIPort int
	APIHost string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Environment name used for feature flag scoping (dev/staging/production)
	Environment string

	// Provider API keys, read from the conventional environment variables.
	// Values stored in the settings file take precedence once loaded.
	Providers ProviderConfig

	// Settings secret encryption
	Secrets SecretsConfig

	// Event log configuration
	EventLog EventLogConfig

	// Benchmark worker configuration
	Benchmark BenchmarkConfig

	// Deployment rollout configuration
	Deploy DeployConfig

	// AlertRulesPath points at a YAML file of alert rules. Empty
	// disables alert evaluation.
	AlertRulesPath string
}

// ProviderConfig holds API keys and endpoint overrides for LLM providers.
type ProviderConfig struct {
	OpenAIKey    string
	AnthropicKey string
	GeminiKey    string
	GroqKey      string

	// RequestTimeout bounds a single completion request.
	RequestTimeout time.Duration
	// MaxRetries is the number of retries for transient provider failures.
	MaxRetries int
	// RetryBackoff is the initial backoff between retries.
	RetryBackoff time.Duration
}

// SecretsConfig holds age encryption keys for settings secrets.
type SecretsConfig struct {
	// AgePublicKey encrypts API keys written to the settings file.
	// Format: age1... (Bech32 encoded)
	AgePublicKey string
	// AgePrivateKey decrypts API keys read from the settings file.
	// Format: AGE-SECRET-KEY-1... (Bech32 encoded)
	AgePrivateKey string
}

// EventLogConfig holds unified event log configuration.
type EventLogConfig struct {
	// BufferSize is the capacity of the in-memory ring buffer.
	BufferSize int
	// Retention is how long persisted events are kept before the janitor
	// removes them.
	Retention time.Duration
	// JanitorInterval is how often the retention janitor runs.
	JanitorInterval time.Duration
}

// BenchmarkConfig holds benchmark worker configuration.
type BenchmarkConfig struct {
	// MaxConcurrency is the number of tasks a harness runs in parallel.
	MaxConcurrency int
	// TaskTimeout bounds a single benchmark task execution.
	TaskTimeout time.Duration
	// PollInterval is how often the background worker polls the queue.
	PollInterval time.Duration
	// SuiteDir is scanned for YAML suite files at startup. Empty skips
	// suite loading.
	SuiteDir string
}

// DeployConfig holds deployment rollout configuration.
type DeployConfig struct {
	// AgentPort is the port the host deploy agent listens on.
	AgentPort int
	// RequestTimeout bounds a single agent call.
	RequestTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := LoadWithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	return nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	return &Config{
		DataDir:         getEnv("DATA_DIR", "tmp"),
		DatabaseDSN:     getEnv("DATABASE_URL", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTExpiry:       getDurationEnv("JWT_EXPIRY", 24*time.Hour),
		APIKeyHeader:    getEnv("API_KEY_HEADER", "X-API-Key"),
		APIPort:         getIntEnv("API_PORT", 8080),
		APIHost:         getEnv("API_HOST", "0.0.0.0"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		Environment:     getEnv("GARY_ENVIRONMENT", "dev"),
		Providers: ProviderConfig{
			OpenAIKey:      getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:   getEnv("ANTHROPIC_API_KEY", ""),
			GeminiKey:      getEnv("GEMINI_API_KEY", ""),
			GroqKey:        getEnv("GROQ_API_KEY", ""),
			RequestTimeout: getDurationEnv("PROVIDER_TIMEOUT", 2*time.Minute),
			MaxRetries:     getIntEnv("PROVIDER_MAX_RETRIES", 3),
			RetryBackoff:   getDurationEnv("PROVIDER_RETRY_BACKOFF", time.Second),
		},
		Secrets: SecretsConfig{
			AgePublicKey:  getEnv("SETTINGS_AGE_PUBLIC_KEY", ""),
			AgePrivateKey: getEnv("SETTINGS_AGE_PRIVATE_KEY", ""),
		},
		EventLog: EventLogConfig{
			BufferSize:      getIntEnv("EVENTLOG_BUFFER_SIZE", 1000),
			Retention:       getDurationEnv("EVENTLOG_RETENTION", 7*24*time.Hour),
			JanitorInterval: getDurationEnv("EVENTLOG_JANITOR_INTERVAL", time.Hour),
		},
		Benchmark: BenchmarkConfig{
			MaxConcurrency: getIntEnv("BENCH_MAX_CONCURRENCY", 4),
			TaskTimeout:    getDurationEnv("BENCH_TASK_TIMEOUT", 5*time.Minute),
			PollInterval:   getDurationEnv("BENCH_POLL_INTERVAL", 2*time.Second),
			SuiteDir:       getEnv("BENCH_SUITE_DIR", ""),
		},
		Deploy: DeployConfig{
			AgentPort:      getIntEnv("DEPLOY_AGENT_PORT", 9090),
			RequestTimeout: getDurationEnv("DEPLOY_AGENT_TIMEOUT", 30*time.Second),
		},
		AlertRulesPath: getEnv("ALERT_RULES_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
