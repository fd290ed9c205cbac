package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppVersion string `envconfig:"APP_VERSION" default:"2.0.0-go"`
	Host       string `envconfig:"HOST" default:"0.0.0.0"`
	Port       int    `envconfig:"PORT" default:"7860"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"DEBUG"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"text"`

	OpenAIBaseURL        string  `envconfig:"DEFAULT_OPENAI_API_BASE_URL" default:"https://api.openai.com"`
	OpenAICompatiblePath string  `envconfig:"OPENAI_COMPATIBLE_PATH" default:"/v1/chat/completions"`
	GoogleBaseURL        string  `envconfig:"GOOGLE_API_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	GoogleAPIKey         string  `envconfig:"GOOGLE_API_KEY"`
	GoogleCSEID          string  `envconfig:"GOOGLE_CSE_ID"`
	APITimeoutSeconds    int     `envconfig:"API_TIMEOUT" default:"600"`
	ReadTimeoutSeconds   float64 `envconfig:"READ_TIMEOUT" default:"60.0"`
	MaxConnections       int     `envconfig:"MAX_CONNECTIONS" default:"200"`

	SearchResultCount      int           `envconfig:"SEARCH_RESULT_COUNT" default:"5"`
	SearchSnippetMaxLength int           `envconfig:"SEARCH_SNIPPET_MAX_LENGTH" default:"200"`
	SearchCacheSize        int           `envconfig:"SEARCH_CACHE_SIZE" default:"128"`
	SearchCacheTTL         time.Duration `envconfig:"SEARCH_CACHE_TTL" default:"10m"`

	MaxSSELineLength         int    `envconfig:"MAX_SSE_LINE_LENGTH" default:"1048576"`
	ContentFlushThreshold    int    `envconfig:"MIN_CONTENT_FLUSH_CHUNK_SIZE" default:"20"`
	ThinkingProcessSeparator string `envconfig:"THINKING_PROCESS_SEPARATOR" default:"--- FINAL ANSWER ---"`

	TempUploadDir             string `envconfig:"TEMP_UPLOAD_DIR" default:"/tmp/temp_document_uploads"`
	MaxDocumentUploadSizeMB   int    `envconfig:"MAX_DOCUMENT_UPLOAD_SIZE_MB" default:"20"`
	MaxDocumentCharsForPrompt int    `envconfig:"MAX_DOCUMENT_CONTENT_CHARS_FOR_PROMPT" default:"15000"`
	MaxRequestSizeMB          int    `envconfig:"MAX_REQUEST_SIZE_MB" default:"100"`
	GeminiEnableGCSUpload     bool   `envconfig:"GEMINI_ENABLE_GCS_UPLOAD" default:"false"`

	RateLimitRPS float64 `envconfig:"RATE_LIMIT_RPS" default:"0"`

	GCS  GCSConfig  `envconfig:"GCS"`
	Auth AuthConfig `envconfig:"AUTH"`
}

type GCSConfig struct {
	BucketName string `envconfig:"BUCKET_NAME"`
	ProjectID  string `envconfig:"PROJECT_ID"`
}

type AuthConfig struct {
	JWKSUrl      string `envconfig:"JWKS_URL"`
	Issuer       string `envconfig:"ISSUER"`
	Audience     string `envconfig:"AUDIENCE"`
	JWKSCacheTTL int    `envconfig:"JWKS_CACHE_TTL" default:"900"` // Cache TTL in seconds
}

// Load reads an optional .env file from the working directory and then
// decodes the process environment. Variables already set win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of [debug, info, warn, error], got %q", c.LogLevel)
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be 'text' or 'json', got %q", c.LogFormat)
	}

	for name, raw := range map[string]string{
		"DEFAULT_OPENAI_API_BASE_URL": c.OpenAIBaseURL,
		"GOOGLE_API_BASE_URL":         c.GoogleBaseURL,
	} {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}

	if c.APITimeoutSeconds < 1 {
		return fmt.Errorf("API_TIMEOUT must be at least 1 second, got %d", c.APITimeoutSeconds)
	}
	if c.ReadTimeoutSeconds <= 0 {
		return fmt.Errorf("READ_TIMEOUT must be positive, got %f", c.ReadTimeoutSeconds)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("MAX_CONNECTIONS must be at least 1, got %d", c.MaxConnections)
	}

	if c.SearchResultCount < 1 {
		return fmt.Errorf("SEARCH_RESULT_COUNT must be at least 1, got %d", c.SearchResultCount)
	}
	if c.SearchSnippetMaxLength < 1 {
		return fmt.Errorf("SEARCH_SNIPPET_MAX_LENGTH must be at least 1, got %d", c.SearchSnippetMaxLength)
	}
	if c.SearchCacheSize < 0 {
		return fmt.Errorf("SEARCH_CACHE_SIZE cannot be negative, got %d", c.SearchCacheSize)
	}

	if c.MaxSSELineLength < 1024 {
		return fmt.Errorf("MAX_SSE_LINE_LENGTH must be at least 1024 bytes, got %d", c.MaxSSELineLength)
	}
	if c.ContentFlushThreshold < 1 {
		return fmt.Errorf("MIN_CONTENT_FLUSH_CHUNK_SIZE must be at least 1, got %d", c.ContentFlushThreshold)
	}

	if c.TempUploadDir == "" {
		return errors.New("TEMP_UPLOAD_DIR cannot be empty")
	}
	if c.MaxDocumentUploadSizeMB < 1 {
		return fmt.Errorf("MAX_DOCUMENT_UPLOAD_SIZE_MB must be at least 1, got %d", c.MaxDocumentUploadSizeMB)
	}
	if c.MaxDocumentCharsForPrompt < 1 {
		return fmt.Errorf("MAX_DOCUMENT_CONTENT_CHARS_FOR_PROMPT must be at least 1, got %d", c.MaxDocumentCharsForPrompt)
	}
	if c.MaxRequestSizeMB < 1 {
		return fmt.Errorf("MAX_REQUEST_SIZE_MB must be at least 1, got %d", c.MaxRequestSizeMB)
	}
	if c.GeminiEnableGCSUpload && c.GCS.BucketName == "" {
		return errors.New("GCS_BUCKET_NAME is required when GEMINI_ENABLE_GCS_UPLOAD is true")
	}

	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS cannot be negative, got %f", c.RateLimitRPS)
	}

	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutSeconds) * time.Second
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds * float64(time.Second))
}

func (c *Config) MaxDocumentUploadSize() int64 {
	return int64(c.MaxDocumentUploadSizeMB) * 1024 * 1024
}

func (c *Config) MaxRequestSize() int64 {
	return int64(c.MaxRequestSizeMB) * 1024 * 1024
}

func (c *Config) SearchEnabled() bool {
	return c.GoogleAPIKey != "" && c.GoogleCSEID != ""
}

func (c *Config) AuthEnabled() bool {
	return c.Auth.JWKSUrl != ""
}
