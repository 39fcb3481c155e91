package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	ResponseModeStreaming = "streaming"
	ResponseModeBlocking  = "blocking"
)

// Config holds every setting the bridge reads at startup.
// It is never mutated after Load returns.
type Config struct {
	// Credentials
	DifyAPIKey      string `env:"DIFY_API_KEY,required,notEmpty"`
	DifyAPIEndpoint string `env:"DIFY_API_ENDPOINT,required,notEmpty"`
	FeishuAppID     string `env:"FEISHU_APP_ID,required,notEmpty"`
	FeishuAppSecret string `env:"FEISHU_APP_SECRET,required,notEmpty"`

	// Feishu
	FeishuBaseURL           string        `env:"FEISHU_BASE_URL" envDefault:"https://open.feishu.cn"`
	FeishuVerificationToken string        `env:"FEISHU_VERIFICATION_TOKEN"`
	FeishuTimeout           time.Duration `env:"FEISHU_TIMEOUT" envDefault:"30s"`

	// Dify
	DifyResponseMode string        `env:"DIFY_RESPONSE_MODE" envDefault:"streaming"`
	DifyTimeout      time.Duration `env:"DIFY_TIMEOUT" envDefault:"30s"`

	// Behaviour
	FallbackMessage    string        `env:"FALLBACK_MESSAGE"`
	DedupeEvents       bool          `env:"DEDUPE_EVENTS" envDefault:"false"`
	DedupeTTL          time.Duration `env:"DEDUPE_TTL" envDefault:"10m"`
	ConversationDBPath string        `env:"CONVERSATION_DB_PATH"`

	// HTTP server
	ListenAddr          string  `env:"LISTEN_ADDR" envDefault:"0.0.0.0:8000"`
	WebhookRateLimit    float64 `env:"WEBHOOK_RATE_LIMIT" envDefault:"20"`
	WebhookRateBurst    int     `env:"WEBHOOK_RATE_BURST" envDefault:"40"`
	WebhookMaxBodyBytes int64   `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// ConfigError reports a missing or invalid setting. It is fatal at startup.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &ConfigError{Err: fmt.Errorf("loading .env: %w", err)}
	}
	return LoadFrom(env.ToMap(os.Environ()))
}

// LoadFrom parses configuration from the given variables only.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, &ConfigError{Err: err}
	}

	cfg.DifyAPIEndpoint = strings.TrimRight(cfg.DifyAPIEndpoint, "/")
	cfg.FeishuBaseURL = strings.TrimRight(cfg.FeishuBaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DifyResponseMode {
	case ResponseModeStreaming, ResponseModeBlocking:
	default:
		return fmt.Errorf("DIFY_RESPONSE_MODE must be %q or %q, got %q", ResponseModeStreaming, ResponseModeBlocking, c.DifyResponseMode)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.DifyTimeout <= 0 || c.FeishuTimeout <= 0 {
		return errors.New("DIFY_TIMEOUT and FEISHU_TIMEOUT must be positive")
	}
	if c.WebhookRateLimit <= 0 || c.WebhookRateBurst <= 0 {
		return errors.New("WEBHOOK_RATE_LIMIT and WEBHOOK_RATE_BURST must be positive")
	}
	return nil
}

// Streaming reports whether Dify should be called in streaming mode.
func (c *Config) Streaming() bool {
	return c.DifyResponseMode == ResponseModeStreaming
}
