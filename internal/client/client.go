// Package client calls the auth endpoints over HTTP.
//
// Every call returns one of three outcomes:
//
//   - a decoded, validated success body;
//   - *APIError, when the server answered with a JSON {"message"} error;
//   - *TransportError, when no usable answer arrived (connection refused,
//     timeout, non-JSON body, success body missing required fields).
//
// The two error types never overlap, so callers can show the server's
// message verbatim and a generic connectivity message otherwise.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/auth-starter/internal/apperror"
	"github.com/sakif/auth-starter/internal/model"
)

// DefaultTimeout bounds each request unless overridden with WithTimeout.
const DefaultTimeout = 10 * time.Second

// ConnectivityMessage is what users see for any TransportError.
const ConnectivityMessage = "could not reach the server, please try again"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Client talks to one auth server.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// Option configures New.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying *http.Client (its Timeout is used
// as is).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parsing server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: server URL must be http or https, got %q", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("client: server URL %q has no host", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (*model.PublicUser, error) {
	var user model.PublicUser
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", "", req, http.StatusCreated, &user); err != nil {
		return nil, err
	}
	if err := validateUser(user); err != nil {
		return nil, &TransportError{Op: "register", Err: err}
	}
	return &user, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResponse, error) {
	var resp model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, &TransportError{Op: "login", Err: errors.New("response has no token")}
	}
	if err := validateUser(resp.User); err != nil {
		return nil, &TransportError{Op: "login", Err: err}
	}
	return &resp, nil
}

// Me returns the profile of the user token belongs to.
func (c *Client) Me(ctx context.Context, token string) (*model.PublicUser, error) {
	var user model.PublicUser
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", token, nil, http.StatusOK, &user); err != nil {
		return nil, err
	}
	if err := validateUser(user); err != nil {
		return nil, &TransportError{Op: "me", Err: err}
	}
	return &user, nil
}

func validateUser(u model.PublicUser) error {
	if u.ID == "" || u.Email == "" {
		return errors.New("response user is missing id or email")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body any, wantStatus int, out any) error {
	op := strings.TrimPrefix(path, "/api/auth/")

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encoding %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), reader)
	if err != nil {
		return fmt.Errorf("client: building %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode == wantStatus {
		if err := json.Unmarshal(data, out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
		}
		return nil
	}

	var e model.ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil || e.Message == "" {
		return &TransportError{
			Op:  op,
			Err: fmt.Errorf("unexpected %d response without a JSON message", resp.StatusCode),
		}
	}
	return &APIError{Status: resp.StatusCode, Kind: kindForStatus(resp.StatusCode), Message: e.Message}
}

// APIError is an error the server reported with a JSON message.
type APIError struct {
	Status  int
	Kind    string // one of the apperror Kind constants, or "rate_limited"
	Message string // safe to show to the user verbatim
}

// KindRateLimited is the APIError kind for 429 responses.
const KindRateLimited = "rate_limited"

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Unwrap exposes the matching apperror sentinel so callers can use
// errors.Is(err, apperror.ErrConflict) on either side of the wire.
func (e *APIError) Unwrap() error {
	switch e.Kind {
	case apperror.KindValidation:
		return apperror.ErrValidation
	case apperror.KindConflict:
		return apperror.ErrConflict
	case apperror.KindUnauthorized:
		return apperror.ErrUnauthorized
	case apperror.KindNotFound:
		return apperror.ErrNotFound
	default:
		return nil
	}
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return apperror.KindValidation
	case http.StatusUnauthorized:
		return apperror.KindUnauthorized
	case http.StatusNotFound:
		return apperror.KindNotFound
	case http.StatusConflict:
		return apperror.KindConflict
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return apperror.KindInternal
	}
}

// TransportError means no usable server answer was received.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
