package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	defaultRateLimit = 50
	minJWTSecretLen  = 32
)

var digitsOnly = regexp.MustCompile(`^\d+$`)

type Config struct {
	Environment string
	Port        string
	LogLevel    string
	CORSOrigin  string

	RedisURL    string
	DatabaseURL string

	RateLimit          int
	RateLimitKeyPrefix string

	Upstream UpstreamConfig

	AdminJWTSecret  string
	EventBufferSize int
}

type UpstreamConfig struct {
	Targets  []string
	Strategy string
}

// AdminEnabled reports whether the /admin surface should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.AdminJWTSecret != ""
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// RequireDatabase fails when DATABASE_URL is missing. Only commands that
// touch the throttle event log call it.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required", ErrInvalidConfig)
	}
	return nil
}

// Load reads configuration from the environment, and from configFile when
// one is given. Environment variables win over file values.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("app_env", EnvDevelopment)
	v.SetDefault("port", "3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("rate_limit_key_prefix", "rate_limit")
	v.SetDefault("upstream_targets", "http://localhost:3001")
	v.SetDefault("upstream_strategy", "round_robin")
	v.SetDefault("event_buffer_size", 1000)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Environment:        strings.ToLower(strings.TrimSpace(v.GetString("app_env"))),
		Port:               strings.TrimSpace(v.GetString("port")),
		LogLevel:           v.GetString("log_level"),
		CORSOrigin:         v.GetString("cors_origin"),
		RedisURL:           strings.TrimSpace(v.GetString("redis_database_url")),
		DatabaseURL:        strings.TrimSpace(v.GetString("database_url")),
		RateLimitKeyPrefix: strings.TrimSpace(v.GetString("rate_limit_key_prefix")),
		AdminJWTSecret:     v.GetString("admin_jwt_secret"),
		Upstream: UpstreamConfig{
			Targets:  splitList(v.GetString("upstream_targets")),
			Strategy: strings.TrimSpace(v.GetString("upstream_strategy")),
		},
	}

	bufferSize, err := strconv.Atoi(strings.TrimSpace(v.GetString("event_buffer_size")))
	if err != nil || bufferSize <= 0 {
		return nil, fmt.Errorf("%w: EVENT_BUFFER_SIZE must be a positive integer", ErrInvalidConfig)
	}
	cfg.EventBufferSize = bufferSize

	limit, err := parseRateLimit(v.GetString("rate_limit"), cfg.Environment)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit = limit

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseRateLimit(raw, environment string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if environment == EnvProduction {
			return 0, fmt.Errorf("%w: RATE_LIMIT must be set in production", ErrInvalidConfig)
		}
		return defaultRateLimit, nil
	}

	if !digitsOnly.MatchString(raw) {
		return 0, fmt.Errorf("%w: RATE_LIMIT must be a positive integer, got %q", ErrInvalidConfig, raw)
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: RATE_LIMIT must be a positive integer, got %q", ErrInvalidConfig, raw)
	}
	return limit, nil
}

func (c *Config) validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("%w: APP_ENV must be development, production or test, got %q", ErrInvalidConfig, c.Environment)
	}

	if c.RedisURL == "" {
		return fmt.Errorf("%w: REDIS_DATABASE_URL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.RedisURL)
	if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
		return fmt.Errorf("%w: REDIS_DATABASE_URL must be a redis:// or rediss:// URL", ErrInvalidConfig)
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("%w: PORT must be numeric, got %q", ErrInvalidConfig, c.Port)
	}
	if c.RateLimitKeyPrefix == "" {
		return fmt.Errorf("%w: RATE_LIMIT_KEY_PREFIX must not be empty", ErrInvalidConfig)
	}

	if len(c.Upstream.Targets) == 0 {
		return fmt.Errorf("%w: UPSTREAM_TARGETS must list at least one URL", ErrInvalidConfig)
	}
	for _, target := range c.Upstream.Targets {
		u, err := url.Parse(target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: invalid upstream target %q", ErrInvalidConfig, target)
		}
	}
	switch c.Upstream.Strategy {
	case "round_robin", "random", "least_connections":
	default:
		return fmt.Errorf("%w: unknown UPSTREAM_STRATEGY %q", ErrInvalidConfig, c.Upstream.Strategy)
	}

	if c.AdminJWTSecret != "" && len(c.AdminJWTSecret) < minJWTSecretLen {
		return fmt.Errorf("%w: ADMIN_JWT_SECRET must be at least %d characters", ErrInvalidConfig, minJWTSecretLen)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
