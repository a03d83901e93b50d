package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/validation"
)

// TestClient_Login_Success verifies the request payload and session decoding.
func TestClient_Login_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(observability.CorrelationIDHeader); got != "req-1" {
			t.Errorf("correlation header = %q, want req-1", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["email"] != "lan@example.vn" || body["password"] != "matkhau" {
			t.Errorf("body = %v", body)
		}
		_, _ = w.Write([]byte(`{"user":{"name":"Lan"},"token":"tok-123"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", time.Second, nil)
	ctx := observability.WithCorrelationID(context.Background(), "req-1")
	session, err := c.Login(ctx, "lan@example.vn", "matkhau")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.User.Name != "Lan" || session.Token != "tok-123" {
		t.Errorf("session = %+v", session)
	}
}

func TestClient_Login_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"server message", http.StatusUnauthorized, `{"msg":"Sai mật khẩu"}`, "Sai mật khẩu"},
		{"no message", http.StatusUnauthorized, `{}`, msgLoginFailed},
		{"non json body", http.StatusBadRequest, `Bad Request`, msgLoginFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, time.Second, nil).Login(context.Background(), "a@b.vn", "x")
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("Login() error = %v, want *AuthError", err)
			}
			if authErr.Status != tt.status || authErr.Message != tt.wantMsg {
				t.Errorf("AuthError = %+v, want status %d message %q", authErr, tt.status, tt.wantMsg)
			}
		})
	}
}

// TestClient_Unreachable verifies transport failures produce the generic connectivity error.
func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewClient(url, time.Second, nil).Register(context.Background(), "Lan", "a@b.vn", "x")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Register() error = %v, want *AuthError", err)
	}
	if authErr.Status != 0 || authErr.Message != "cannot connect to server" {
		t.Errorf("AuthError = %+v", authErr)
	}
	if !errors.Is(err, ErrUnreachable) {
		t.Error("error should wrap ErrUnreachable")
	}
}

func TestClient_Register(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/auth/register" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body Registration
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Email == "taken@b.vn" {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"msg":"Email đã tồn tại"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"msg":"ok"}`))
	}))
	defer server.Close()
	c := NewClient(server.URL, time.Second, nil)

	if err := c.Register(context.Background(), "Lan", "lan@b.vn", "pw"); err != nil {
		t.Errorf("Register() error = %v", err)
	}

	err := c.Register(context.Background(), "Lan", "taken@b.vn", "pw")
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Status != http.StatusConflict || authErr.Message != "Email đã tồn tại" {
		t.Errorf("Register() error = %v, want 409 AuthError", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

// TestClient_MissingFields verifies validation happens before any network call.
func TestClient_MissingFields(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer server.Close()
	c := NewClient(server.URL, time.Second, nil)

	if _, err := c.Login(context.Background(), "", "pw"); !errors.Is(err, validation.ErrInvalidRequest) {
		t.Errorf("Login() error = %v, want ErrInvalidRequest", err)
	}
	if err := c.Register(context.Background(), "", "a@b.vn", "pw"); !errors.Is(err, validation.ErrInvalidRequest) {
		t.Errorf("Register() error = %v, want ErrInvalidRequest", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestClient_Login_MalformedSuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second, nil).Login(context.Background(), "a@b.vn", "pw")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Login() error = %v, want ErrMalformedResponse", err)
	}
}
