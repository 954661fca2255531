// Package apperror defines the error taxonomy shared by the service and HTTP layers.
//
// Every domain failure is an *AppError wrapping one of the sentinel errors below.
// The service layer returns them; the handler layer maps the sentinel to a status
// code with errors.Is and sends Message to the client. Anything that is not an
// *AppError is an internal error and never reaches the client verbatim.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// Kind names used in logs and metrics labels.
const (
	KindValidation   = "validation"
	KindConflict     = "conflict"
	KindUnauthorized = "unauthorized"
	KindNotFound     = "not_found"
	KindInternal     = "internal"
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message, safe to show to clients
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports that a write collided with an existing record,
// e.g. a second registration for the same email.
func Conflict(field, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
	}
}

// Unauthorized reports failed authentication. Callers must use the same
// message for every cause so responses cannot be told apart.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// KindOf classifies err into one of the Kind constants.
// Errors outside the taxonomy are KindInternal.
func KindOf(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return KindInternal
	}

	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
