package client

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sakif/auth-starter/internal/model"
	"github.com/sakif/auth-starter/internal/session"
)

// ErrSubmissionPending is returned when a form is submitted while its
// previous submission is still in flight. The second submission is dropped,
// not queued.
var ErrSubmissionPending = errors.New("a submission is already in progress")

// ErrPasswordMismatch is returned by SubmitRegister before any request is
// made when the confirmation does not match.
var ErrPasswordMismatch = errors.New("passwords do not match")

// LoginInput is the login form's state.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
}

// RegisterInput is the registration form's state.
type RegisterInput struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
}

// Forms submits the login and registration forms. Each form allows one
// submission at a time. Inputs are edited in place: password fields are
// cleared after every submission that reached the submit step, other fields
// are left for the user to correct.
type Forms struct {
	client *Client
	cache  *session.Cache

	loginBusy    atomic.Bool
	registerBusy atomic.Bool
}

// NewForms returns Forms that save successful logins into cache.
func NewForms(c *Client, cache *session.Cache) *Forms {
	return &Forms{client: c, cache: cache}
}

// LoginPending reports whether a login is in flight.
func (f *Forms) LoginPending() bool { return f.loginBusy.Load() }

// RegisterPending reports whether a registration is in flight.
func (f *Forms) RegisterPending() bool { return f.registerBusy.Load() }

// SubmitLogin logs in and stores the session. Without RememberMe the
// session is kept only for the life of the process.
func (f *Forms) SubmitLogin(ctx context.Context, in *LoginInput) (*model.LoginResponse, error) {
	if !f.loginBusy.CompareAndSwap(false, true) {
		return nil, ErrSubmissionPending
	}
	defer f.loginBusy.Store(false)

	resp, err := f.client.Login(ctx, model.LoginRequest{Email: in.Email, Password: in.Password})
	in.Password = ""
	if err != nil {
		return nil, err
	}

	var opts []session.SaveOption
	if !in.RememberMe {
		opts = append(opts, session.SessionOnly())
	}
	profile := &session.Profile{ID: resp.User.ID, Name: resp.User.Name, Email: resp.User.Email}
	if err := f.cache.Save(resp.Token, profile, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// SubmitRegister creates an account. It does not log in.
func (f *Forms) SubmitRegister(ctx context.Context, in *RegisterInput) (*model.PublicUser, error) {
	if !f.registerBusy.CompareAndSwap(false, true) {
		return nil, ErrSubmissionPending
	}
	defer f.registerBusy.Store(false)

	defer func() {
		in.Password = ""
		in.ConfirmPassword = ""
	}()

	if in.Password != in.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	return f.client.Register(ctx, model.RegisterRequest{
		Name:     in.Name,
		Email:    in.Email,
		Password: in.Password,
	})
}

// Logout clears the session. Tokens are stateless, so the server is not
// contacted.
func (f *Forms) Logout() error {
	return f.cache.Clear()
}

// UserMessage is the text to show next to a form for err.
func UserMessage(err error) string {
	var apiErr *APIError
	var transportErr *TransportError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.As(err, &transportErr):
		return ConnectivityMessage
	case errors.Is(err, ErrSubmissionPending), errors.Is(err, ErrPasswordMismatch):
		return err.Error()
	default:
		return "something went wrong, please try again"
	}
}
