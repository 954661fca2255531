// Package auth provides the credential primitives of the service: bcrypt
// password hashing, JWT session tokens and the bearer-token middleware.
//
// TOKEN FLOW:
// 1. POST /api/auth/login verifies the password and calls TokenService.Issue
// 2. The client keeps the token (see internal/session) and sends it back as
//    "Authorization: Bearer <jwt>"
// 3. RequireAuth calls TokenService.Verify and puts the subject in the context
//
// Tokens are stateless: nothing is stored server-side and there is no
// revocation list. A token stops working only when it expires.
//
// JWT STRUCTURE (three base64url parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"iss":"auth-starter","sub":"<user id>","iat":...,"exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of an issued token when none is configured.
const DefaultTokenTTL = 7 * 24 * time.Hour

// MinSecretLength is the shortest signing secret NewTokenService accepts.
const MinSecretLength = 16

const tokenIssuer = "auth-starter"

// InvalidReason says why Verify rejected a token.
type InvalidReason int

const (
	// Malformed: not a parseable JWT, wrong claims, missing subject.
	Malformed InvalidReason = iota + 1
	// BadSignature: signature does not match, or the algorithm is not HS256.
	BadSignature
	// Expired: signature is fine but exp is not in the future.
	Expired
)

func (r InvalidReason) String() string {
	switch r {
	case Malformed:
		return "malformed"
	case BadSignature:
		return "bad_signature"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// InvalidTokenError is the only error Verify returns.
//
// Use errors.As to read the Reason:
//
//	var invalid *auth.InvalidTokenError
//	if errors.As(err, &invalid) && invalid.Reason == auth.Expired { ... }
type InvalidTokenError struct {
	Reason InvalidReason
	Err    error
}

func (e *InvalidTokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: invalid token (%s)", e.Reason)
	}
	return fmt.Sprintf("auth: invalid token (%s): %v", e.Reason, e.Err)
}

func (e *InvalidTokenError) Unwrap() error {
	return e.Err
}

// TokenService issues and verifies HS256 JWTs.
//
// The secret is process-wide configuration loaded once at startup.
// now is swappable so tests can mint tokens in the past.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService.
// Fails if the secret is shorter than MinSecretLength or ttl is not positive;
// main treats either as fatal.
//
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("auth: token TTL must be positive, got %s", ttl)
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// claims is the JWT payload. Subject carries the user ID.
type claims struct {
	jwt.RegisteredClaims
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue creates and signs a token for subjectID with iat=now and exp=now+TTL.
func (s *TokenService) Issue(subjectID string) (string, error) {
	if subjectID == "" {
		return "", errors.New("auth: token subject must not be empty")
	}

	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the subject.
//
// Every failure is an *InvalidTokenError. The library checks the signature
// before the claims, so a forged token that is also expired reports
// BadSignature.
//
// ALGORITHM CONFUSION:
// jwt.WithValidMethods rejects "none" and asymmetric algorithms; a token
// signed with anything but HS256 is a BadSignature.
func (s *TokenService) Verify(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", &InvalidTokenError{Reason: Malformed, Err: errors.New("empty token")}
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(*jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", &InvalidTokenError{Reason: classify(err), Err: err}
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", &InvalidTokenError{Reason: Malformed, Err: errors.New("unexpected claims")}
	}
	if c.Subject == "" {
		return "", &InvalidTokenError{Reason: Malformed, Err: errors.New("token has no subject")}
	}

	return c.Subject, nil
}

// classify maps jwt library errors onto InvalidReason.
func classify(err error) InvalidReason {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return BadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return Expired
	default:
		return Malformed
	}
}
