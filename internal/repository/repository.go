// Package repository defines the credential store contract.
//
// Implementations live in sub-packages (mongo, sqlite, postgres, mysql).
// Every backend enforces email uniqueness with a unique index, so two
// concurrent registrations for one email cannot both succeed: the loser
// gets an apperror.ErrConflict from Create.
package repository

import (
	"context"

	"github.com/sakif/auth-starter/internal/model"
)

// DuplicateEmailMessage is the client-facing message for a taken email.
const DuplicateEmailMessage = "email already registered"

// UserRepository persists user records.
type UserRepository interface {
	// Create inserts user, assigning user.ID and user.CreatedAt.
	// Returns an apperror.ErrConflict error if the email is taken.
	// A failed Create leaves nothing behind.
	Create(ctx context.Context, user *model.User) error

	// GetByEmail looks up a user by (already normalised) email.
	// Returns an apperror.ErrNotFound error if there is none.
	GetByEmail(ctx context.Context, email string) (*model.User, error)

	// GetByID looks up a user by ID.
	// Returns an apperror.ErrNotFound error if there is none.
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// Store is a UserRepository plus the lifecycle methods the server needs.
type Store interface {
	UserRepository

	// Ping checks that the backend is reachable. Used by /healthz.
	Ping(ctx context.Context) error

	Close() error
}
