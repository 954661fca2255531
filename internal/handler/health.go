package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable. repository.Store
// implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves GET /healthz.
type HealthHandler struct {
	store  Pinger
	logger *slog.Logger
}

func NewHealthHandler(store Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, logger: logger}
}

// HandleHealth returns 200 {"status":"ok"} when the credential store answers
// a ping within two seconds, 503 {"status":"unavailable"} otherwise.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
