// Package main is the entry point for the auth-starter server.
//
// The main package stays minimal: load configuration, build the logger,
// hand both to internal/server and block in Start. Everything else lives in
// imported packages so it can be tested without a process.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakif/auth-starter/internal/config"
	"github.com/sakif/auth-starter/internal/server"
)

// startupTimeout bounds connecting to the database and running migrations.
const startupTimeout = 30 * time.Second

func main() {
	// === 1. LOAD .env ===
	// A .env file is a development convenience. Real environment variables
	// win because godotenv.Load never overwrites an already-set variable.
	envErr := godotenv.Load()

	// === 2. READ CONFIGURATION ===
	// config.Load reports every invalid variable at once.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 3. SET UP LOGGING ===
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	switch {
	case envErr == nil:
		logger.Debug("loaded .env")
	case errors.Is(envErr, fs.ErrNotExist):
		logger.Debug("no .env file, using the process environment")
	default:
		logger.Warn("could not read .env", slog.String("error", envErr.Error()))
	}

	// === 4. OPEN THE STORE AND BUILD THE SERVER ===
	// DATABASE_URL picks the backend: sqlite://, postgres://, mysql:// or mongodb://.
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	srv, err := server.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM).
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
