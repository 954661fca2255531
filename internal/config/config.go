// Package config loads server settings from the environment.
//
// main loads a .env file with godotenv before calling Load, so every setting
// can come from either the process environment or .env (the environment
// wins; godotenv never overrides variables that are already set).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/auth-starter/internal/auth"
)

// Config holds server configuration.
type Config struct {
	Port           int
	DatabaseURL    string
	MongoDatabase  string
	JWTSecret      string
	TokenTTL       time.Duration
	RequestTimeout time.Duration
	BcryptCost     int
	LogLevel       slog.Level
	RateLimitRPS   float64
	RateLimitBurst int
}

// Defaults applied when a variable is unset or empty.
const (
	DefaultPort           = 8080
	DefaultDatabaseURL    = "sqlite://data/auth.db"
	DefaultMongoDatabase  = "authstarter"
	DefaultRequestTimeout = 15 * time.Second
	DefaultRateLimitRPS   = 5
	DefaultRateLimitBurst = 10
)

// Supported DATABASE_URL schemes.
var databaseSchemes = []string{"sqlite", "postgres", "postgresql", "mysql", "mongodb", "mongodb+srv"}

// Load reads configuration from the environment. All problems are reported
// together so a misconfigured deployment can be fixed in one pass.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	cfg := Config{
		Port:           p.integer("PORT", DefaultPort),
		DatabaseURL:    p.str("DATABASE_URL", DefaultDatabaseURL),
		MongoDatabase:  p.str("MONGO_DATABASE", DefaultMongoDatabase),
		JWTSecret:      getenv("JWT_SECRET"),
		TokenTTL:       p.duration("TOKEN_TTL", auth.DefaultTokenTTL),
		RequestTimeout: p.duration("REQUEST_TIMEOUT", DefaultRequestTimeout),
		BcryptCost:     p.integer("BCRYPT_COST", auth.DefaultCost),
		LogLevel:       p.level("LOG_LEVEL", slog.LevelInfo),
		RateLimitRPS:   p.number("RATE_LIMIT_RPS", DefaultRateLimitRPS),
		RateLimitBurst: p.integer("RATE_LIMIT_BURST", DefaultRateLimitBurst),
	}

	switch {
	case cfg.JWTSecret == "":
		p.fail("JWT_SECRET", "must be set (generate one with: openssl rand -hex 32)")
	case len(cfg.JWTSecret) < auth.MinSecretLength:
		p.fail("JWT_SECRET", fmt.Sprintf("must be at least %d characters", auth.MinSecretLength))
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		p.fail("PORT", "must be between 1 and 65535")
	}
	if cfg.TokenTTL <= 0 {
		p.fail("TOKEN_TTL", "must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		p.fail("REQUEST_TIMEOUT", "must be positive")
	}
	if cfg.RateLimitRPS <= 0 {
		p.fail("RATE_LIMIT_RPS", "must be positive")
	}
	if cfg.RateLimitBurst < 1 {
		p.fail("RATE_LIMIT_BURST", "must be at least 1")
	}
	if _, err := DatabaseScheme(cfg.DatabaseURL); err != nil {
		p.fail("DATABASE_URL", err.Error())
	}

	if len(p.errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(p.errs...))
	}
	return cfg, nil
}

// DatabaseScheme returns the lower-cased scheme of a DATABASE_URL, or an
// error when it is missing or unsupported. Only the part before "://" is
// inspected; sqlite URLs such as sqlite://:memory: are not valid net/url URLs.
func DatabaseScheme(databaseURL string) (string, error) {
	scheme, _, ok := strings.Cut(databaseURL, "://")
	if !ok || scheme == "" {
		return "", errors.New("must be a URL like sqlite://data/auth.db")
	}
	scheme = strings.ToLower(scheme)
	if !slices.Contains(databaseSchemes, scheme) {
		return "", fmt.Errorf("unsupported scheme %q (want one of %s)", scheme, strings.Join(databaseSchemes, ", "))
	}
	return scheme, nil
}

// parser collects every invalid variable instead of stopping at the first.
type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) fail(key, msg string) {
	p.errs = append(p.errs, fmt.Errorf("%s %s", key, msg))
}

func (p *parser) str(key, fallback string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (p *parser) integer(key string, fallback int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("must be an integer, got %q", v))
		return fallback
	}
	return n
}

func (p *parser) number(key string, fallback float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, fmt.Sprintf("must be a number, got %q", v))
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("must be a duration like 15s or 168h, got %q", v))
		return fallback
	}
	return d
}

func (p *parser) level(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, fmt.Sprintf("must be debug, info, warn or error, got %q", v))
		return fallback
	}
	return l
}
