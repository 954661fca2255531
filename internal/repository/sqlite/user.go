package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/auth-starter/internal/apperror"
	"github.com/sakif/auth-starter/internal/model"
	"github.com/sakif/auth-starter/internal/repository"
)

// Create inserts a new user.
//
// There is no SELECT-before-INSERT here: the UNIQUE index on email decides
// which of two racing registrations wins, and the loser's INSERT fails as a
// whole. The ID and timestamp are only written back to user on success.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	id := xid.New().String()
	now := time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id,
		user.Name,
		user.Email,
		user.PasswordHash,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("email", repository.DuplicateEmailMessage)
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	user.ID = id
	user.CreatedAt = now
	return nil
}

// GetByEmail retrieves a user by email.
// Returns apperror.ErrNotFound if no user exists with that email.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at
		 FROM users WHERE email = ?`,
		email,
	)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at
		 FROM users WHERE id = ?`,
		id,
	)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
