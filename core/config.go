package core

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Storage backends understood by LoadConfig.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Queue drain policies applied when the process shuts down.
const (
	DrainPolicyDrain  = "drain"
	DrainPolicyReject = "reject"
)

// Config holds all configuration values
type Config struct {
	// Runtime mode
	DevMode bool // Debug-level colored logs
	Debug   bool // Surface internal error detail in API responses
	Port    int
	LogFile string

	// Database
	DatabasePath string

	// Object storage
	StorageBackend  string // "local" or "s3"
	LocalStorageDir string // Root directory for the local backend
	PublicBaseURL   string // URL prefix returned for locally stored images
	S3Bucket        string
	S3Region        string
	S3Endpoint      string // Optional override (minio, localstack)
	S3PublicBaseURL string // CDN prefix for stored objects (optional)

	// Provider configuration
	ProvidersFile         string // YAML provider catalog
	MultiProvider         bool   // Fan out to every candidate instead of picking one
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	AzureOpenAIKey        string
	AzureOpenAIEndpoint   string
	AzureOpenAIApiVersion string
	ProviderTimeout       time.Duration
	AllowSelfSignedCerts  bool // for self-hosted http providers behind private CAs

	// Queue configuration
	QueueMaxConcurrent  int
	QueueDefaultTimeout time.Duration
	QueueDrainPolicy    string

	// Generation defaults
	DefaultGuidance int
	TempDir         string

	// Tagging
	TaggingEnabled bool
	TaggingModel   string
	TaggingWorkers int
	TaggingTimeout time.Duration

	// Per-client limit on POST /api/generate, requests per second. 0 disables it.
	GenerateRateLimit float64
	GenerateBurst     int

	ShutdownTimeout time.Duration
}

// LoadConfig loads configuration from environment variables with defaults
// suitable for a single-node deployment on local storage.
func LoadConfig() (*Config, error) {
	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		openAIKey = os.Getenv("OPENAI_KEY") // Legacy support
	}

	cfg := &Config{
		DevMode: ParseBoolEnv("DEV_MODE", false),
		Debug:   ParseBoolEnv("DEBUG", false),
		Port:    ParseIntEnv("PORT", 3000),
		LogFile: GetEnvOrDefault("LOG_FILE", "app.log"),

		DatabasePath: GetEnvOrDefault("DATABASE_PATH", "./data/images.db"),

		StorageBackend:  strings.ToLower(GetEnvOrDefault("STORAGE_BACKEND", StorageLocal)),
		LocalStorageDir: GetEnvOrDefault("LOCAL_STORAGE_DIR", "./uploads"),
		PublicBaseURL:   GetEnvOrDefault("PUBLIC_BASE_URL", "/uploads"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3Region:        GetEnvOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		ProvidersFile:         GetEnvOrDefault("PROVIDERS_FILE", "providers.yaml"),
		MultiProvider:         ParseBoolEnv("MULTI_PROVIDER", false),
		OpenAIAPIKey:          openAIKey,
		OpenAIBaseURL:         GetEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AzureOpenAIKey:        os.Getenv("AZURE_OPENAI_KEY"),
		AzureOpenAIEndpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
		AzureOpenAIApiVersion: GetEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-15-preview"),
		ProviderTimeout:       ParseDurationEnv("PROVIDER_TIMEOUT", 120),
		AllowSelfSignedCerts:  ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),

		QueueMaxConcurrent:  ParseIntEnv("QUEUE_MAX_CONCURRENT", 4),
		QueueDefaultTimeout: ParseDurationMSEnv("QUEUE_DEFAULT_TIMEOUT_MS", 300000),
		QueueDrainPolicy:    strings.ToLower(GetEnvOrDefault("QUEUE_DRAIN_POLICY", DrainPolicyDrain)),

		DefaultGuidance: ParseIntEnv("DEFAULT_GUIDANCE", 10),
		TempDir:         GetEnvOrDefault("GENERATION_TEMP_DIR", filepath.Join(os.TempDir(), "gen_backend")),

		TaggingEnabled: ParseBoolEnv("TAGGING_ENABLED", true),
		TaggingModel:   GetEnvOrDefault("TAGGING_MODEL", "gpt-4o-mini"),
		TaggingWorkers: ParseIntEnv("TAGGING_WORKERS", 2),
		TaggingTimeout: ParseDurationEnv("TAGGING_TIMEOUT", 30),

		GenerateRateLimit: ParseFloatEnv("GENERATE_RATE_LIMIT", 0),
		GenerateBurst:     ParseIntEnv("GENERATE_BURST", 5),

		ShutdownTimeout: ParseDurationEnv("SHUTDOWN_TIMEOUT", 60),
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig checks cross-field constraints. It returns a *ConfigError
// describing the first problem found.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return ErrMissingConfig("config")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return ErrInvalidValue("PORT", fmt.Sprintf("%d", cfg.Port), "must be between 1 and 65535")
	}
	if cfg.DatabasePath == "" {
		return ErrMissingConfig("DATABASE_PATH")
	}

	switch cfg.StorageBackend {
	case StorageLocal:
		if cfg.LocalStorageDir == "" {
			return ErrMissingConfig("LOCAL_STORAGE_DIR")
		}
	case StorageS3:
		if cfg.S3Bucket == "" {
			return ErrMissingConfig("S3_BUCKET")
		}
	default:
		return ErrInvalidValue("STORAGE_BACKEND", cfg.StorageBackend, "must be \"local\" or \"s3\"")
	}

	if cfg.QueueMaxConcurrent < 1 || cfg.QueueMaxConcurrent > 64 {
		return ErrInvalidValue("QUEUE_MAX_CONCURRENT", fmt.Sprintf("%d", cfg.QueueMaxConcurrent), "must be between 1 and 64")
	}
	if cfg.QueueDefaultTimeout <= 0 {
		return ErrInvalidValue("QUEUE_DEFAULT_TIMEOUT_MS", cfg.QueueDefaultTimeout.String(), "must be positive")
	}
	if cfg.QueueDrainPolicy != DrainPolicyDrain && cfg.QueueDrainPolicy != DrainPolicyReject {
		return ErrInvalidValue("QUEUE_DRAIN_POLICY", cfg.QueueDrainPolicy, "must be \"drain\" or \"reject\"")
	}
	if cfg.DefaultGuidance < 1 || cfg.DefaultGuidance > 20 {
		return ErrInvalidValue("DEFAULT_GUIDANCE", fmt.Sprintf("%d", cfg.DefaultGuidance), "must be between 1 and 20")
	}
	if cfg.GenerateRateLimit < 0 {
		return ErrInvalidValue("GENERATE_RATE_LIMIT", fmt.Sprintf("%g", cfg.GenerateRateLimit), "must not be negative")
	}
	if cfg.TaggingWorkers < 1 {
		cfg.TaggingWorkers = 1
	}
	return nil
}

// HasOpenAI reports whether an OpenAI API key is configured.
func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// HasAzure reports whether Azure OpenAI credentials are configured.
func (c *Config) HasAzure() bool {
	return c.AzureOpenAIKey != "" && c.AzureOpenAIEndpoint != ""
}

// GetHTTPClient returns an HTTP client with the given timeout configured with
// the TLS settings from cfg.
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg != nil && cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}
