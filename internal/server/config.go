// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat gateway.
package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `validate:"gt=0"`
	RefillInterval time.Duration `validate:"gt=0"`
}

// Config holds the gateway configuration.
type Config struct {
	Port              string `validate:"required"`
	AllowedOrigins    []string
	MaxMessageSize    int64 `validate:"gt=0"`
	SendBufferSize    int   `validate:"gt=0"`
	RateLimit         RateLimitConfig
	StoreDriver       string        `validate:"oneof=badger sqlite"`
	StorePath         string        `validate:"required"`
	SessionSecret     string        `validate:"min=32"`
	SessionCookieName string        `validate:"required"`
	SessionTTL        time.Duration `validate:"gt=0"`
	TypingTimeout     time.Duration `validate:"gte=0"`
	ShutdownTimeout   time.Duration `validate:"gt=0"`
	LogLevel          string
	DevLogin          bool
}

// envConfig mirrors Config as flat environment variables.
type envConfig struct {
	Port              string        `env:"SERVER_PORT,default=:8080"`
	AllowedOrigins    string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize    int           `env:"MAX_MESSAGE_SIZE,default=16384"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE,default=256"`
	RateLimitBurst    int           `env:"RATE_LIMIT_BURST,default=10"`
	RateLimitInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	StoreDriver       string        `env:"STORE_DRIVER,default=badger"`
	StorePath         string        `env:"STORE_PATH,default=./data"`
	SessionSecret     string        `env:"SESSION_SECRET,required=true"`
	SessionCookieName string        `env:"SESSION_COOKIE_NAME,default=livechat.sid"`
	SessionTTL        time.Duration `env:"SESSION_TTL,default=24h"`
	TypingTimeout     time.Duration `env:"TYPING_TIMEOUT,default=5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO"`
	DevLogin          bool          `env:"DEV_LOGIN,default=false"`
}

// DefaultConfig returns a Config populated with default values. The session
// secret is left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 16384,
		SendBufferSize: 256,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		StoreDriver:       "badger",
		StorePath:         "./data",
		SessionCookieName: "livechat.sid",
		SessionTTL:        24 * time.Hour,
		TypingTimeout:     5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          "INFO",
	}
}

// LoadConfig reads the configuration from the environment, applies defaults
// to missing or non-positive values and validates the result.
func LoadConfig() (Config, error) {
	var raw envConfig
	if _, err := env.UnmarshalFromEnviron(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		Port:           raw.Port,
		AllowedOrigins: parseOrigins(raw.AllowedOrigins),
		MaxMessageSize: int64(raw.MaxMessageSize),
		SendBufferSize: raw.SendBufferSize,
		RateLimit: RateLimitConfig{
			Burst:          raw.RateLimitBurst,
			RefillInterval: raw.RateLimitInterval,
		},
		StoreDriver:       strings.ToLower(strings.TrimSpace(raw.StoreDriver)),
		StorePath:         raw.StorePath,
		SessionSecret:     raw.SessionSecret,
		SessionCookieName: raw.SessionCookieName,
		SessionTTL:        raw.SessionTTL,
		TypingTimeout:     raw.TypingTimeout,
		ShutdownTimeout:   raw.ShutdownTimeout,
		LogLevel:          raw.LogLevel,
		DevLogin:          raw.DevLogin,
	}
	cfg = SanitizeConfig(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SanitizeConfig replaces unusable values with defaults.
func SanitizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaults.SendBufferSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = defaults.StoreDriver
	}
	if cfg.StorePath == "" {
		cfg.StorePath = defaults.StorePath
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = defaults.SessionCookieName
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaults.SessionTTL
	}
	if cfg.TypingTimeout < 0 {
		cfg.TypingTimeout = 0
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}

	origins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	if allowAll {
		origins = append(origins, "*")
	}
	cfg.AllowedOrigins = origins
	return cfg
}

// ValidateConfig checks the structural constraints declared on Config.
func ValidateConfig(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.MaxMessageSize < MinMessageSize {
		return fmt.Errorf("invalid config: MAX_MESSAGE_SIZE %d is below %d, the frame size of a %d-rune message",
			cfg.MaxMessageSize, MinMessageSize, MaxTextLength)
	}
	return nil
}

// LogValue hides the session secret when the config is logged.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("port", c.Port),
		slog.Any("allowed_origins", c.AllowedOrigins),
		slog.String("store_driver", c.StoreDriver),
		slog.String("store_path", c.StorePath),
		slog.Duration("typing_timeout", c.TypingTimeout),
		slog.Int("rate_limit_burst", c.RateLimit.Burst),
		slog.Bool("dev_login", c.DevLogin),
	)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
