package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Sender    SenderConfig
	Transport TransportConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Breaker   BreakerConfig
}

// SenderConfig holds the defaults applied to every send.
type SenderConfig struct {
	FollowRedirects              bool          `envconfig:"SENDER_FOLLOW_REDIRECTS" default:"false"`
	MaxRedirects                 int           `envconfig:"SENDER_MAX_REDIRECTS" default:"100"`
	MaxRetries                   int           `envconfig:"SENDER_MAX_RETRIES" default:"3"`
	UseCookies                   bool          `envconfig:"SENDER_USE_COOKIES" default:"false"`
	UseGlobalState               bool          `envconfig:"SENDER_GLOBAL_STATE" default:"false"`
	RemoveUserDefinedAuthHeaders bool          `envconfig:"SENDER_REPLACE_AUTH" default:"false"`
	ResponseTimeout              time.Duration `envconfig:"SENDER_RESPONSE_TIMEOUT" default:"0s"`
	ChunkSize                    int64         `envconfig:"SENDER_CHUNK_SIZE" default:"16777216"`
}

// TransportConfig holds HTTP client configuration.
type TransportConfig struct {
	Timeout      time.Duration `envconfig:"HTTP_TIMEOUT" default:"20s"`
	UserAgent    string        `envconfig:"HTTP_USER_AGENT" default:"httpsender/1.0"`
	Proxy        string        `envconfig:"HTTP_PROXY_URL"`
	RetryWaitMin time.Duration `envconfig:"HTTP_RETRY_WAIT_MIN" default:"100ms"`
	RetryWaitMax time.Duration `envconfig:"HTTP_RETRY_WAIT_MAX" default:"2s"`
	GlobalState  bool          `envconfig:"HTTP_GLOBAL_STATE" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds outbound rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"10"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"20"`
	Enabled           bool    `envconfig:"RATE_LIMIT_ENABLED" default:"false"`
}

// BreakerConfig holds the per-host circuit breaker configuration.
type BreakerConfig struct {
	Enabled          bool          `envconfig:"BREAKER_ENABLED" default:"true"`
	MaxRequests      uint32        `envconfig:"BREAKER_MAX_REQUESTS" default:"1"`
	Interval         time.Duration `envconfig:"BREAKER_INTERVAL" default:"0s"`
	Timeout          time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s"`
	FailureThreshold uint32        `envconfig:"BREAKER_FAILURES" default:"10"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Sender: SenderConfig{
			MaxRedirects: 100,
			MaxRetries:   3,
			ChunkSize:    16 << 20,
		},
		Transport: TransportConfig{
			Timeout:      20 * time.Second,
			UserAgent:    "httpsender/1.0",
			RetryWaitMin: 100 * time.Millisecond,
			RetryWaitMax: 2 * time.Second,
			GlobalState:  true,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			MaxRequests:      1,
			Timeout:          30 * time.Second,
			FailureThreshold: 10,
		},
	}
}

// Validation errors returned by Config.Validate.
var (
	ErrNegativeLimit  = errors.New("redirect and retry limits must be zero or greater")
	ErrChunkSize      = errors.New("chunk size must be positive")
	ErrRetryWait      = errors.New("retry wait minimum exceeds maximum")
	ErrRateLimit      = errors.New("rate limit must be positive when enabled")
	ErrBreakerTrigger = errors.New("breaker failure threshold must be positive")
)

// Validate checks values envconfig cannot constrain.
func (c *Config) Validate() error {
	switch {
	case c.Sender.MaxRedirects < 0 || c.Sender.MaxRetries < 0:
		return ErrNegativeLimit
	case c.Sender.ChunkSize <= 0:
		return ErrChunkSize
	case c.Transport.RetryWaitMin > c.Transport.RetryWaitMax:
		return ErrRetryWait
	case c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0):
		return ErrRateLimit
	case c.Breaker.Enabled && c.Breaker.FailureThreshold == 0:
		return ErrBreakerTrigger
	}
	return nil
}

// LoadFile overlays the YAML file at path onto the environment
// configuration. Keys missing from the file keep their loaded value.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := f.apply(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// file mirrors Config with optional fields. Durations are strings so the
// file uses the same notation as the environment.
type file struct {
	Sender struct {
		FollowRedirects              *bool   `yaml:"follow_redirects"`
		MaxRedirects                 *int    `yaml:"max_redirects"`
		MaxRetries                   *int    `yaml:"max_retries"`
		UseCookies                   *bool   `yaml:"use_cookies"`
		UseGlobalState               *bool   `yaml:"use_global_state"`
		RemoveUserDefinedAuthHeaders *bool   `yaml:"replace_auth_headers"`
		ResponseTimeout              *string `yaml:"response_timeout"`
		ChunkSize                    *int64  `yaml:"chunk_size"`
	} `yaml:"sender"`
	Transport struct {
		Timeout      *string `yaml:"timeout"`
		UserAgent    *string `yaml:"user_agent"`
		Proxy        *string `yaml:"proxy"`
		RetryWaitMin *string `yaml:"retry_wait_min"`
		RetryWaitMax *string `yaml:"retry_wait_max"`
		GlobalState  *bool   `yaml:"global_state"`
	} `yaml:"transport"`
	Logging struct {
		Level       *string `yaml:"level"`
		Development *bool   `yaml:"development"`
	} `yaml:"logging"`
	RateLimit struct {
		RequestsPerSecond *float64 `yaml:"rps"`
		Burst             *int     `yaml:"burst"`
		Enabled           *bool    `yaml:"enabled"`
	} `yaml:"rate_limit"`
	Breaker struct {
		Enabled          *bool   `yaml:"enabled"`
		MaxRequests      *uint32 `yaml:"max_requests"`
		Interval         *string `yaml:"interval"`
		Timeout          *string `yaml:"timeout"`
		FailureThreshold *uint32 `yaml:"failures"`
	} `yaml:"breaker"`
}

func (f *file) apply(c *Config) error {
	set(&c.Sender.FollowRedirects, f.Sender.FollowRedirects)
	set(&c.Sender.MaxRedirects, f.Sender.MaxRedirects)
	set(&c.Sender.MaxRetries, f.Sender.MaxRetries)
	set(&c.Sender.UseCookies, f.Sender.UseCookies)
	set(&c.Sender.UseGlobalState, f.Sender.UseGlobalState)
	set(&c.Sender.RemoveUserDefinedAuthHeaders, f.Sender.RemoveUserDefinedAuthHeaders)
	set(&c.Sender.ChunkSize, f.Sender.ChunkSize)

	set(&c.Transport.UserAgent, f.Transport.UserAgent)
	set(&c.Transport.Proxy, f.Transport.Proxy)
	set(&c.Transport.GlobalState, f.Transport.GlobalState)

	set(&c.Logging.Level, f.Logging.Level)
	set(&c.Logging.Development, f.Logging.Development)

	set(&c.RateLimit.RequestsPerSecond, f.RateLimit.RequestsPerSecond)
	set(&c.RateLimit.Burst, f.RateLimit.Burst)
	set(&c.RateLimit.Enabled, f.RateLimit.Enabled)

	set(&c.Breaker.Enabled, f.Breaker.Enabled)
	set(&c.Breaker.MaxRequests, f.Breaker.MaxRequests)
	set(&c.Breaker.FailureThreshold, f.Breaker.FailureThreshold)

	durations := []struct {
		key string
		dst *time.Duration
		src *string
	}{
		{"sender.response_timeout", &c.Sender.ResponseTimeout, f.Sender.ResponseTimeout},
		{"transport.timeout", &c.Transport.Timeout, f.Transport.Timeout},
		{"transport.retry_wait_min", &c.Transport.RetryWaitMin, f.Transport.RetryWaitMin},
		{"transport.retry_wait_max", &c.Transport.RetryWaitMax, f.Transport.RetryWaitMax},
		{"breaker.interval", &c.Breaker.Interval, f.Breaker.Interval},
		{"breaker.timeout", &c.Breaker.Timeout, f.Breaker.Timeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
