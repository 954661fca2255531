package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/auth-starter/internal/apperror"
	"github.com/sakif/auth-starter/internal/auth"
	"github.com/sakif/auth-starter/internal/metrics"
	"github.com/sakif/auth-starter/internal/model"
)

// Authenticator is the part of service.AuthService the handlers call.
type Authenticator interface {
	Register(ctx context.Context, req model.RegisterRequest) (*model.PublicUser, error)
	Login(ctx context.Context, req model.LoginRequest) (*model.LoginResponse, error)
	GetUser(ctx context.Context, id string) (*model.PublicUser, error)
}

// AuthRecorder counts register/login outcomes. *metrics.Metrics implements it.
type AuthRecorder interface {
	RecordAuth(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuth(string, string) {}

// AuthHandler serves the credential endpoints.
//
//   - HandleRegister → POST /api/auth/register
//   - HandleLogin    → POST /api/auth/login
//   - HandleMe       → GET  /api/auth/me (behind auth.RequireAuth)
type AuthHandler struct {
	service  Authenticator
	recorder AuthRecorder
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. recorder may be nil.
func NewAuthHandler(service Authenticator, recorder AuthRecorder, logger *slog.Logger) *AuthHandler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &AuthHandler{
		service:  service,
		recorder: recorder,
		logger:   logger,
	}
}

// HandleRegister creates an account.
//
// HTTP: POST /api/auth/register {name, email, password}
// 201 {id, name, email}; 400 validation; 409 duplicate email.
// No token is issued here; clients log in separately.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if !decodeJSON(w, r, &req) {
		h.recorder.RecordAuth(metrics.OpRegister, apperror.KindValidation)
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.fail(w, metrics.OpRegister, err)
		return
	}

	h.recorder.RecordAuth(metrics.OpRegister, metrics.OutcomeSuccess)
	writeJSON(w, http.StatusCreated, user)
}

// HandleLogin checks credentials and returns a session token.
//
// HTTP: POST /api/auth/login {email, password}
// 200 {token, user}; 400 validation; 401 bad credentials.
// The 401 body is the same for an unknown email and a wrong password.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !decodeJSON(w, r, &req) {
		h.recorder.RecordAuth(metrics.OpLogin, apperror.KindValidation)
		return
	}

	resp, err := h.service.Login(r.Context(), req)
	if err != nil {
		h.fail(w, metrics.OpLogin, err)
		return
	}

	h.recorder.RecordAuth(metrics.OpLogin, metrics.OutcomeSuccess)
	writeJSON(w, http.StatusOK, resp)
}

// HandleMe returns the authenticated user's public profile.
//
// HTTP: GET /api/auth/me
// Auth: required (auth.RequireAuth puts the user ID in the context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) fail(w http.ResponseWriter, operation string, err error) {
	kind := apperror.KindOf(err)
	h.recorder.RecordAuth(operation, kind)
	if kind != apperror.KindInternal {
		h.logger.Debug("auth request rejected",
			slog.String("operation", operation),
			slog.String("kind", kind),
		)
	}
	writeError(w, h.logger, err)
}
