// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// PasswordHash holds the full bcrypt record ($2a$<cost>$<salt><digest>).
// The `json:"-"` tag keeps it out of every encoded response; handlers should
// still send PublicUser rather than User.
type User struct {
	ID           string    `json:"id"        db:"id"`
	Name         string    `json:"name"      db:"name"`
	Email        string    `json:"email"     db:"email"` // lower-cased, unique
	PasswordHash string    `json:"-"         db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Public returns the view of u that is safe to send to clients.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
	}
}

// PublicUser is the user shape returned by every endpoint.
type PublicUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the success body of POST /api/auth/login.
type LoginResponse struct {
	Token string     `json:"token"`
	User  PublicUser `json:"user"`
}

// ErrorResponse is the body of every error response: {"message": "..."}.
type ErrorResponse struct {
	Message string `json:"message"`
}
