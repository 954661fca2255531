// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: New opens the credential store named by
// DATABASE_URL and wires
//
//	store → AuthService → AuthHandler → chi routes
//
// so no other package constructs its own dependencies.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sakif/auth-starter/internal/auth"
	"github.com/sakif/auth-starter/internal/config"
	"github.com/sakif/auth-starter/internal/handler"
	"github.com/sakif/auth-starter/internal/metrics"
	"github.com/sakif/auth-starter/internal/middleware"
	"github.com/sakif/auth-starter/internal/repository"
	mongoRepo "github.com/sakif/auth-starter/internal/repository/mongo"
	mysqlRepo "github.com/sakif/auth-starter/internal/repository/mysql"
	postgresRepo "github.com/sakif/auth-starter/internal/repository/postgres"
	sqliteRepo "github.com/sakif/auth-starter/internal/repository/sqlite"
	"github.com/sakif/auth-starter/internal/service"
)

// shutdownTimeout bounds how long in-flight requests get after SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
// The Server owns the store and closes it when Start returns.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	store   repository.Store
	metrics *metrics.Metrics
}

// New opens the credential store for cfg.DatabaseURL and builds the server.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s, err := NewWithStore(cfg, store, metrics.NewRegistry(), logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// NewWithStore builds the server around an already opened store. Metrics are
// registered on reg, which should be a fresh registry per server.
func NewWithStore(cfg config.Config, store repository.Store, reg *prometheus.Registry, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		store:   store,
		metrics: metrics.New(reg),
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// OpenStore picks the store implementation from the DATABASE_URL scheme.
//
//	sqlite://data/auth.db, sqlite://:memory:   → repository/sqlite
//	postgres://…, postgresql://…               → repository/postgres
//	mysql://…                                  → repository/mysql
//	mongodb://…, mongodb+srv://…               → repository/mongo (MONGO_DATABASE)
func OpenStore(ctx context.Context, cfg config.Config) (repository.Store, error) {
	scheme, err := config.DatabaseScheme(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "sqlite":
		_, path, _ := strings.Cut(cfg.DatabaseURL, "://")
		if path == "" {
			return nil, errors.New("sqlite URL must name a file or :memory:")
		}
		if path != sqliteRepo.MemoryPath {
			dir := filepath.Dir(path)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		return storeOrNil(sqliteRepo.New(ctx, path))
	case "postgres", "postgresql":
		return storeOrNil(postgresRepo.New(ctx, cfg.DatabaseURL))
	case "mysql":
		return storeOrNil(mysqlRepo.New(ctx, cfg.DatabaseURL))
	case "mongodb", "mongodb+srv":
		return storeOrNil(mongoRepo.New(ctx, cfg.DatabaseURL, cfg.MongoDatabase))
	default:
		return nil, fmt.Errorf("no store for scheme %q", scheme)
	}
}

// storeOrNil keeps a failed constructor's typed nil pointer out of the
// interface.
func storeOrNil[S repository.Store](store S, err error) (repository.Store, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTES:
// POST /api/auth/register  → create account          (rate limited)
// POST /api/auth/login     → issue session token     (rate limited)
// GET  /api/auth/me        → current user            (Bearer token)
// GET  /healthz            → store ping
// GET  /metrics            → Prometheus exposition
//
// MIDDLEWARE ORDER:
// RequestID and RealIP run first so the logger and rate limiter see the
// request ID and the client address. Recoverer sits inside Logger so a
// panic is logged as a 500.
func (s *Server) setupRoutes() error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords, err := auth.NewPasswordServiceWithCost(s.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("creating password service: %w", err)
	}

	authService := service.NewAuthService(s.store, tokens, passwords, s.logger)
	authHandler := handler.NewAuthHandler(authService, s.metrics, s.logger)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)
	limiter := middleware.NewIPRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, s.metrics))
	s.router.Use(middleware.Recoverer(s.logger))

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api/auth", func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.RequestTimeout))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(limiter, s.metrics))
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
		})

		r.With(auth.RequireAuth(tokens)).Get("/me", authHandler.HandleMe)
	})

	return nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store. Start calls it on return.
func (s *Server) Close() error {
	return s.store.Close()
}

// Start serves HTTP until SIGINT/SIGTERM, then shuts down gracefully:
// stop accepting connections, give in-flight requests up to 30 seconds, and
// close the store.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Longer than the per-request timeout so its 504 can still be written.
		WriteTimeout: s.config.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", redactURL(s.config.DatabaseURL)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// redactURL hides the password in a database URL for logging.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return raw
	}
	userinfo := rest[:at]
	if user, _, hasPass := strings.Cut(userinfo, ":"); hasPass {
		userinfo = user + ":xxxxx"
	}
	return scheme + "://" + userinfo + rest[at:]
}
