// Package core holds the configuration, error types and small shared
// helpers of the background studio service.
package core

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Synthesis providers selectable with SYNTHESIS_PROVIDER.
const (
	ProviderRunware = "runware"
	ProviderOpenAI  = "openai"
)

// DefaultRunwareURL is Runware's HTTP task endpoint.
const DefaultRunwareURL = "https://api.runware.ai/v1"

// Config holds all configuration values read from the environment.
type Config struct {
	// Providers
	RunwareAPIKey     string
	RunwareAPIURL     string
	SynthesisProvider string // runware | openai
	OpenAIAPIKey      string
	ImageLLMURL       string // OpenAI-compatible or Azure endpoint, empty for api.openai.com
	OpenAIImageModel  string
	AzureAPIVersion   string

	// Catalog YAML file. Empty uses the built-in catalog.
	CatalogPath string

	// Retry and timeouts
	MaxRetries        int
	RetryDelay        time.Duration
	AITimeout         time.Duration
	ProcessingTimeout time.Duration

	// HTTP server
	Port                 int
	AllowSelfSignedCerts bool

	// Storage
	DatabasePath  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	WorkflowTTL   time.Duration
	RetentionDays int
	DownloadsDir  string
	MaxImageBytes int64

	// Logging
	DevMode bool
	LogFile string
}

// LoadConfig reads the configuration from environment variables. Call
// godotenv.Load first if a .env file should be honoured.
//
// Only the credentials of the selected synthesis provider are required;
// background removal always goes through Runware.
func LoadConfig() (*Config, error) {
	maxImageBytes := int64(20 * BytesPerMB)
	if raw := os.Getenv("MAX_IMAGE_SIZE"); raw != "" {
		parsed, err := ParseBytes(raw)
		if err != nil {
			return nil, &ConfigError{
				Code:    ErrCodeInvalidValue,
				Message: fmt.Sprintf("Invalid MAX_IMAGE_SIZE %q: %v", raw, err),
				Action:  "Use a size such as 20MB",
			}
		}
		maxImageBytes = parsed
	}

	cfg := &Config{
		RunwareAPIKey:     os.Getenv("RUNWARE_API_KEY"),
		RunwareAPIURL:     GetEnvOrDefault("RUNWARE_API_URL", DefaultRunwareURL),
		SynthesisProvider: strings.ToLower(GetEnvOrDefault("SYNTHESIS_PROVIDER", ProviderRunware)),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		ImageLLMURL:       os.Getenv("IMAGE_LLM_URL"),
		OpenAIImageModel:  GetEnvOrDefault("OPENAI_IMAGE_MODEL", "dall-e-3"),
		AzureAPIVersion:   GetEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-15-preview"),

		CatalogPath: os.Getenv("CATALOG_PATH"),

		MaxRetries:        ParseIntEnv("MAX_RETRIES", 3),
		RetryDelay:        ParseMillisEnv("RETRY_DELAY_MS", 2000),
		AITimeout:         ParseDurationEnv("AI_TIMEOUT", 60),
		ProcessingTimeout: ParseDurationEnv("PROCESSING_TIMEOUT", 300),

		Port:                 ParseIntEnv("PORT", 3000),
		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),

		DatabasePath:  GetEnvOrDefault("DATABASE_PATH", "./data/bgstudio.db"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       ParseIntEnv("REDIS_DB", 0),
		WorkflowTTL:   ParseDurationEnv("WORKFLOW_TTL", 24*60*60),
		RetentionDays: ParseIntEnv("RETENTION_DAYS", 90),
		DownloadsDir:  GetEnvOrDefault("DOWNLOADS_DIR", "./downloads"),
		MaxImageBytes: maxImageBytes,

		DevMode: ParseBoolEnv("DEV_MODE", false),
		LogFile: GetEnvOrDefault("LOG_FILE", "./logs/bgstudio.log"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required credentials and value ranges.
func (c *Config) Validate() error {
	if c.RunwareAPIKey == "" {
		return ErrMissingAuth("runware")
	}
	switch c.SynthesisProvider {
	case ProviderRunware:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return ErrMissingAuth("openai")
		}
	default:
		return &ConfigError{
			Code:    ErrCodeInvalidValue,
			Message: fmt.Sprintf("Unknown SYNTHESIS_PROVIDER %q", c.SynthesisProvider),
			Action:  "Set SYNTHESIS_PROVIDER to runware or openai",
		}
	}
	if c.MaxRetries < 1 {
		return ErrInvalidValue("MAX_RETRIES", c.MaxRetries, "at least 1")
	}
	if c.RetryDelay < 0 {
		return ErrInvalidValue("RETRY_DELAY_MS", c.RetryDelay, "zero or more")
	}
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidValue("PORT", c.Port, "between 1 and 65535")
	}
	if c.RetentionDays < 0 {
		return ErrInvalidValue("RETENTION_DAYS", c.RetentionDays, "zero (keep forever) or more")
	}
	return nil
}

// GetHTTPClient returns an HTTP client honouring AllowSelfSignedCerts. Use
// it for every outbound provider request.
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}
