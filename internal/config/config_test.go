package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/auth-starter/internal/auth"
)

const testSecret = "0123456789abcdef0123"

func env(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(env(map[string]string{"JWT_SECRET": testSecret}))
	require.NoError(t, err)

	assert.Equal(t, Config{
		Port:           8080,
		DatabaseURL:    "sqlite://data/auth.db",
		MongoDatabase:  "authstarter",
		JWTSecret:      testSecret,
		TokenTTL:       7 * 24 * time.Hour,
		RequestTimeout: 15 * time.Second,
		BcryptCost:     auth.DefaultCost,
		LogLevel:       slog.LevelInfo,
		RateLimitRPS:   5,
		RateLimitBurst: 10,
	}, cfg)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"PORT":             "9090",
		"DATABASE_URL":     "postgres://auth:auth@db:5432/auth?sslmode=disable",
		"MONGO_DATABASE":   "other",
		"JWT_SECRET":       testSecret,
		"TOKEN_TTL":        "1h",
		"REQUEST_TIMEOUT":  "3s",
		"BCRYPT_COST":      "10",
		"LOG_LEVEL":        "DEBUG",
		"RATE_LIMIT_RPS":   "0.5",
		"RATE_LIMIT_BURST": "2",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "postgres://auth:auth@db:5432/auth?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, "other", cfg.MongoDatabase)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 0.5, cfg.RateLimitRPS)
	assert.Equal(t, 2, cfg.RateLimitBurst)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing secret", map[string]string{}, "JWT_SECRET must be set"},
		{"short secret", map[string]string{"JWT_SECRET": "short"}, "at least 16 characters"},
		{"bad port", map[string]string{"JWT_SECRET": testSecret, "PORT": "http"}, "PORT must be an integer"},
		{"port out of range", map[string]string{"JWT_SECRET": testSecret, "PORT": "70000"}, "PORT must be between"},
		{"bad ttl", map[string]string{"JWT_SECRET": testSecret, "TOKEN_TTL": "7d"}, "TOKEN_TTL must be a duration"},
		{"negative ttl", map[string]string{"JWT_SECRET": testSecret, "TOKEN_TTL": "-1h"}, "TOKEN_TTL must be positive"},
		{"bad level", map[string]string{"JWT_SECRET": testSecret, "LOG_LEVEL": "loud"}, "LOG_LEVEL must be"},
		{"bad scheme", map[string]string{"JWT_SECRET": testSecret, "DATABASE_URL": "redis://localhost"}, "unsupported scheme"},
		{"zero burst", map[string]string{"JWT_SECRET": testSecret, "RATE_LIMIT_BURST": "0"}, "RATE_LIMIT_BURST must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(env(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	_, err := load(env(map[string]string{"PORT": "x", "BCRYPT_COST": "y"}))
	require.Error(t, err)

	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "BCRYPT_COST")
}

func TestLoad_UsesProcessEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "8181")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Port)
}

func TestDatabaseScheme(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"sqlite://data/auth.db", "sqlite"},
		{"sqlite://:memory:", "sqlite"},
		{"postgres://u:p@h/db", "postgres"},
		{"postgresql://u:p@h/db", "postgresql"},
		{"mysql://u:p@h/db", "mysql"},
		{"mongodb://h:27017", "mongodb"},
		{"mongodb+srv://cluster.example.net", "mongodb+srv"},
		{"MONGODB://h", "mongodb"},
	}
	for _, tt := range tests {
		got, err := DatabaseScheme(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}

	for _, bad := range []string{"", "data/auth.db", "redis://h", "://nope"} {
		_, err := DatabaseScheme(bad)
		assert.Error(t, err, bad)
	}
}
