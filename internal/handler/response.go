package handler

// RESPONSE HELPERS:
// Every response from the API is JSON. Errors always have the same shape:
//
//	{"message": "email already registered"}
//
// writeError is the single place where domain errors become HTTP status
// codes; the service layer never sees net/http.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/auth-starter/internal/apperror"
	"github.com/sakif/auth-starter/internal/model"
)

// MaxBodyBytes caps request bodies. Larger bodies get 413.
const MaxBodyBytes = 1 << 20

const (
	msgInvalidBody   = "invalid request body"
	msgBodyTooLarge  = "request body too large"
	msgInternalError = "an internal error occurred"
)

// writeJSON sends data as JSON with the given status code.
// Headers and status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.ErrorResponse{Message: message})
}

// statusFor maps an error kind to its HTTP status code.
func statusFor(kind string) int {
	switch kind {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindUnauthorized:
		return http.StatusUnauthorized
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error to a status code and sends its message.
//
// errors.Is walks the whole chain, so a service error like
//
//	fmt.Errorf("service/auth: ...: %w", apperror.Conflict(...))
//
// still maps to 409. Anything outside the taxonomy is a 500 with a generic
// message; the real error is logged and never sent to the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := apperror.KindOf(err)
	if kind == apperror.KindInternal {
		logger.Error("internal error", slog.String("error", err.Error()))
		writeMessage(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	var appErr *apperror.AppError
	errors.As(err, &appErr)
	writeMessage(w, statusFor(kind), appErr.Message)
}

// decodeJSON reads a single JSON object from the request body into dst.
// It writes the 400/413 response itself and reports whether decoding
// succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return false
		}
		writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}

	// Anything but whitespace after the object is malformed input too.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}
