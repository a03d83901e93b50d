// Package auth proxies login and registration to the remote authentication service.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/validation"
)

// ErrUnreachable is wrapped by AuthError when the service could not be contacted.
var ErrUnreachable = errors.New("cannot connect to server")

// ErrMalformedResponse is returned when a successful response cannot be decoded.
var ErrMalformedResponse = errors.New("malformed auth response")

const (
	msgLoginFailed    = "invalid email or password"
	msgRegisterFailed = "registration failed"
)

// AuthError is a failed auth call. Status is the upstream HTTP status, or 0
// when the service was unreachable. Message is shown to the user as-is.
type AuthError struct {
	Status  int
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("auth: HTTP %d: %s", e.Status, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// Registration is the register payload.
type Registration struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// User is the profile returned on login.
type User struct {
	Name string `json:"name"`
}

// Session is a successful login.
type Session struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// Client calls the auth service. Each call is a single attempt.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient returns a Client for baseURL (e.g. "http://localhost:5000").
// timeout <= 0 means no client-side timeout.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Login checks that both fields are present and exchanges them for a session.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	creds := Credentials{Email: email, Password: password}
	if err := validation.Struct(creds); err != nil {
		observability.AuthRequestsTotal.WithLabelValues("login", "invalid").Inc()
		return Session{}, err
	}
	var session Session
	if err := c.post(ctx, "login", "/api/auth/login", creds, msgLoginFailed, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Register checks that every field is present and creates the account.
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	reg := Registration{Name: name, Email: email, Password: password}
	if err := validation.Struct(reg); err != nil {
		observability.AuthRequestsTotal.WithLabelValues("register", "invalid").Inc()
		return err
	}
	return c.post(ctx, "register", "/api/auth/register", reg, msgRegisterFailed, nil)
}

func (c *Client) post(ctx context.Context, op, path string, payload interface{}, defaultMsg string, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id, ok := observability.CorrelationIDFromContext(ctx); ok {
		req.Header.Set(observability.CorrelationIDHeader, id)
	}

	logger := observability.LoggerFromContext(ctx, c.logger)
	resp, err := c.http.Do(req)
	if err != nil {
		observability.AuthRequestsTotal.WithLabelValues(op, "unreachable").Inc()
		logger.Warn("auth service unreachable", zap.String("operation", op), zap.Error(err))
		return &AuthError{Message: ErrUnreachable.Error(), Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		observability.AuthRequestsTotal.WithLabelValues(op, "unreachable").Inc()
		return &AuthError{Message: ErrUnreachable.Error(), Err: fmt.Errorf("%w: read body: %v", ErrUnreachable, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.AuthRequestsTotal.WithLabelValues(op, "rejected").Inc()
		msg := serverMessage(raw)
		if msg == "" {
			msg = defaultMsg
		}
		logger.Info("auth request rejected", zap.String("operation", op), zap.Int("status", resp.StatusCode))
		return &AuthError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			observability.AuthRequestsTotal.WithLabelValues(op, "malformed").Inc()
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	observability.AuthRequestsTotal.WithLabelValues(op, "success").Inc()
	return nil
}

// serverMessage extracts the "msg" field from an error body, if any.
func serverMessage(raw []byte) string {
	var body struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Msg)
}
