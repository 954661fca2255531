// Package service implements the authentication business rules.
//
// AuthService sits between the HTTP handlers and the store/auth utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
//
// Every failure it returns is an *apperror.AppError of a known kind
// (validation, conflict, unauthorized, not_found) or a wrapped internal error.
// The handler maps kinds to status codes; nothing here knows about HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/auth-starter/internal/apperror"
	"github.com/sakif/auth-starter/internal/auth"
	"github.com/sakif/auth-starter/internal/model"
	"github.com/sakif/auth-starter/internal/repository"
)

const (
	// MinPasswordLength is the shortest accepted password, in characters.
	MinPasswordLength = 6
	// MaxPasswordLength is bcrypt's input limit, in bytes.
	MaxPasswordLength = auth.MaxPasswordBytes
)

// Messages returned to clients. Login failures for an unknown email and a
// wrong password share one message so responses cannot be told apart.
const (
	msgMissingFields      = "missing fields"
	msgMissingCredentials = "missing credentials"
	msgInvalidEmail       = "invalid email"
	msgPasswordTooShort   = "password too short"
	msgPasswordTooLong    = "password too long"
	msgInvalidCredentials = "invalid credentials"
)

// AuthService handles registration, login and token-based user lookup.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// Register creates a new account and returns its public view. It does not
// log the user in; the client calls Login afterwards.
//
// Checks run in a fixed order and the first failure wins:
//
//  1. name, email or password empty           → validation "missing fields"
//  2. email not a plain address with a domain → validation "invalid email"
//  3. password shorter than 6 characters      → validation "password too short"
//  4. password longer than 72 bytes           → validation "password too long"
//  5. email already registered                → conflict
//
// Two concurrent registrations for the same email can both pass step 5; the
// store's unique index lets exactly one insert through and the other comes
// back as the same conflict.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.PublicUser, error) {
	name := strings.TrimSpace(req.Name)
	email := NormalizeEmail(req.Email)

	if name == "" || email == "" || req.Password == "" {
		return nil, apperror.ValidationFailed("", msgMissingFields)
	}
	if !ValidEmail(email) {
		return nil, apperror.ValidationFailed("email", msgInvalidEmail)
	}
	if len([]rune(req.Password)) < MinPasswordLength {
		return nil, apperror.ValidationFailed("password", msgPasswordTooShort)
	}
	if len(req.Password) > MaxPasswordLength {
		return nil, apperror.ValidationFailed("password", msgPasswordTooLong)
	}

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, apperror.Conflict("email", repository.DuplicateEmailMessage)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/auth: checking email: %w", err)
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			s.logger.Debug("register lost uniqueness race", slog.String("email", email))
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID))

	pub := user.Public()
	return &pub, nil
}

// Login checks credentials and issues a session token.
//
// An unknown email and a wrong password produce the same error value. The
// unknown-email path still runs one bcrypt comparison so both take roughly
// the same time.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResponse, error) {
	email := NormalizeEmail(req.Email)

	if email == "" || req.Password == "" {
		return nil, apperror.ValidationFailed("", msgMissingCredentials)
	}
	if !ValidEmail(email) {
		return nil, apperror.ValidationFailed("email", msgInvalidEmail)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.passwords.CompareDummy(req.Password)
			s.logger.Debug("login failed", slog.String("reason", "unknown email"))
			return nil, apperror.Unauthorized(msgInvalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if !s.passwords.Verify(req.Password, user.PasswordHash) {
		s.logger.Debug("login failed",
			slog.String("reason", "wrong password"),
			slog.String("userID", user.ID),
		)
		return nil, apperror.Unauthorized(msgInvalidCredentials)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))

	return &model.LoginResponse{
		Token: token,
		User:  user.Public(),
	}, nil
}

// GetUser returns the public view of the user with the given ID. Used by
// /api/auth/me after RequireAuth has verified the token.
func (s *AuthService) GetUser(ctx context.Context, id string) (*model.PublicUser, error) {
	if id == "" {
		return nil, apperror.Unauthorized("invalid or expired token")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// A valid token for a user that no longer resolves.
			return nil, apperror.Unauthorized("invalid or expired token")
		}
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}

	pub := user.Public()
	return &pub, nil
}

// ValidateToken verifies a session token and returns the user ID it names.
func (s *AuthService) ValidateToken(token string) (string, error) {
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return userID, nil
}

// NormalizeEmail trims surrounding space and lower-cases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email is a bare RFC 5322 address (no display
// name, no angle brackets) whose domain contains a dot.
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return false
	}
	domain := email[at+1:]
	dot := strings.IndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1
}
