package tracelens

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

const (
	// DefaultHost is the TraceLens cloud ingestion host.
	DefaultHost = "https://api.tracelens.dev"

	// DefaultMaxQueueSize is the maximum number of pending events per kind
	// before the oldest are dropped.
	DefaultMaxQueueSize = 10000

	envPrefix = "tracelens"
)

// Config holds the configuration for the TraceLens client.
//
// Every field can also be supplied through TRACELENS_* environment
// variables via ConfigFromEnv.
type Config struct {
	// APIKey is the API key for authentication. Required unless the
	// client is disabled.
	APIKey string `envconfig:"API_KEY" validate:"required"`

	// Host is the TraceLens API host URL.
	Host string `envconfig:"HOST" validate:"url"`

	// ProjectName scopes traces, spans and scores to a project.
	ProjectName string `envconfig:"PROJECT_NAME"`

	// WorkspaceName is an optional workspace override, sent on every request.
	WorkspaceName string `envconfig:"WORKSPACE"`

	// Enabled controls whether tracing is enabled. Defaults to true.
	// A disabled client buffers nothing and issues no network calls.
	Enabled *bool `envconfig:"ENABLED"`

	// FlushAt is the per-kind number of pending events that triggers an
	// auto-flush. Defaults to 20.
	FlushAt int `envconfig:"FLUSH_AT" validate:"min=1"`

	// FlushInterval is the duration between auto-flushes. Defaults to 5 seconds.
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL"`

	// MaxRetries is the number of attempts for a failed batch before it is
	// dropped. Defaults to 3. Retries back off exponentially from 500ms;
	// 429 responses honor Retry-After; other 4xx responses are never retried.
	MaxRetries int `envconfig:"MAX_RETRIES" validate:"min=1"`

	// Timeout is the per-request timeout. Defaults to 10 seconds.
	Timeout time.Duration `envconfig:"TIMEOUT"`

	// MaxQueueSize is the maximum number of pending events per kind.
	// Defaults to 10000. When exceeded, oldest events of that kind are dropped.
	MaxQueueSize int `envconfig:"MAX_QUEUE_SIZE" validate:"min=1"`

	// Debug enables a development logger when no Logger is supplied.
	Debug bool `envconfig:"DEBUG"`

	// Logger receives SDK-internal logs. Defaults to a no-op logger.
	Logger *zap.Logger `ignored:"true" validate:"-"`

	// OnError is an optional callback for errors that occur during
	// background operations like flushing.
	OnError func(err error) `ignored:"true" validate:"-"`
}

// ConfigFromEnv builds a Config from TRACELENS_* environment variables.
// A .env file in the working directory is loaded first, if present.
func ConfigFromEnv() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("tracelens: reading env config: %w", err)
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
	if c.FlushAt == 0 {
		c.FlushAt = 20
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
}

var configValidator = validator.New()

// validate runs after setDefaults, so only caller-supplied values can fail.
// A disabled client needs no credentials.
func (c Config) validate() error {
	if c.Enabled != nil && !*c.Enabled {
		return nil
	}
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("tracelens: invalid config: %w", err)
	}
	return nil
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	if c.Debug {
		if l, err := zap.NewDevelopment(); err == nil {
			return l
		}
	}
	return zap.NewNop()
}
