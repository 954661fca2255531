package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// contextKey is unexported so only this package can set or read the user ID.
type contextKey string

const userIDKey contextKey = "userID"

// TokenVerifier is the part of TokenService the middleware needs.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// RequireAuth rejects requests without a valid bearer token with
// 401 {"message": "..."} and otherwise stores the token subject in the
// request context for UserIDFromContext.
//
// The token is read from "Authorization: Bearer <jwt>". The client keeps it
// in its own session cache; the server never sets cookies.
func RequireAuth(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			userID, err := tokens.Verify(token)
			if err != nil {
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the authenticated user's ID set by RequireAuth.
// Returns ("", false) on routes without the middleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// BearerToken extracts the token from the Authorization header.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
