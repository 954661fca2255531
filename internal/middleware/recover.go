package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	msgInternalError = "an internal error occurred"
	msgTimeout       = "request timed out"
)

// writeMessage writes the API's error shape: {"message": "..."}.
func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// Recoverer turns a panic into 500 {"message":"an internal error occurred"}
// and logs it with the stack. http.ErrAbortHandler is re-panicked so
// net/http can abort the connection.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tracked := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if err, ok := rvr.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rvr)
				}

				logger.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("panic", rvr),
					slog.String("stack", string(debug.Stack())),
					slog.String("request_id", chimiddleware.GetReqID(r.Context())),
				)
				if !tracked.wroteHeader {
					writeMessage(w, http.StatusInternalServerError, msgInternalError)
				}
			}()

			next.ServeHTTP(tracked, r)
		})
	}
}

// Timeout cancels the request context after d. When the deadline passed and
// the handler wrote nothing, it answers 504 {"message":"request timed out"}.
// Handlers must watch ctx.Done(); the handler is not abandoned.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			tracked := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(tracked, r.WithContext(ctx))

			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !tracked.wroteHeader {
				writeMessage(w, http.StatusGatewayTimeout, msgTimeout)
			}
		})
	}
}
