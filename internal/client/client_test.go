package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, url string) *OpenWeatherClient {
	t.Helper()
	c, err := NewOpenWeatherClient(Options{APIKey: "test-api-key-12345", APIURL: url, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

func TestNewOpenWeatherClient_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{name: "empty API key", apiKey: "", wantErr: ErrInvalidAPIKey},
		{name: "too short API key", apiKey: "short", wantErr: ErrInvalidAPIKey},
		{name: "valid API key", apiKey: "valid-api-key-12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOpenWeatherClient(Options{APIKey: tt.apiKey})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewOpenWeatherClient() error = %v, want %v", err, tt.wantErr)
				}
				if client != nil {
					t.Errorf("NewOpenWeatherClient() expected nil client on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewOpenWeatherClient() unexpected error: %v", err)
			}
			if client.apiURL != DefaultAPIURL || client.countryCode != "VN" || client.language != "vi" {
				t.Errorf("defaults not applied: url=%q country=%q lang=%q", client.apiURL, client.countryCode, client.language)
			}
		})
	}
}

// TestOpenWeatherClient_GetCurrentWeather_Success verifies query construction and
// response mapping, including rounding of the temperature.
func TestOpenWeatherClient_GetCurrentWeather_Success(t *testing.T) {
	apiResp := map[string]interface{}{
		"cod":  200,
		"name": "Hanoi",
		"main": map[string]interface{}{
			"temp":       28.6,
			"humidity":   75,
			"feels_like": 31.2,
		},
		"weather": []map[string]interface{}{
			{"main": "Clouds", "description": "mây rải rác", "icon": "03d"},
		},
		"wind": map[string]interface{}{"speed": 2.5},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		q := r.URL.Query()
		if got := q.Get("q"); got != "ha noi,VN" {
			t.Errorf("q = %q, want %q", got, "ha noi,VN")
		}
		if q.Get("units") != "metric" {
			t.Errorf("units = %q, want metric", q.Get("units"))
		}
		if q.Get("lang") != "vi" {
			t.Errorf("lang = %q, want vi", q.Get("lang"))
		}
		if q.Get("appid") != "test-api-key-12345" {
			t.Errorf("appid = %q, want API key", q.Get("appid"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(apiResp)
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL).GetCurrentWeather(context.Background(), "ha noi")
	if err != nil {
		t.Fatalf("GetCurrentWeather() error = %v", err)
	}
	if got.Temperature == nil || *got.Temperature != 29 {
		t.Errorf("Temperature = %v, want 29", got.Temperature)
	}
	if got.Description == nil || *got.Description != "mây rải rác" {
		t.Errorf("Description = %v, want %q", got.Description, "mây rải rác")
	}
	if got.IconID == nil || *got.IconID != "03d" {
		t.Errorf("IconID = %v, want 03d", got.IconID)
	}
	if got.Humidity == nil || *got.Humidity != 75 {
		t.Errorf("Humidity = %v, want 75", got.Humidity)
	}
	if got.WindSpeed == nil || *got.WindSpeed != 2.5 {
		t.Errorf("WindSpeed = %v, want 2.5", got.WindSpeed)
	}
	if got.FetchedAt.IsZero() {
		t.Error("FetchedAt is zero")
	}
}

// TestOpenWeatherClient_GetCurrentWeather_MissingFields verifies that absent
// fields stay nil instead of failing the lookup.
func TestOpenWeatherClient_GetCurrentWeather_MissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cod":200,"main":{"temp":-0.4},"weather":[]}`))
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL).GetCurrentWeather(context.Background(), "sa pa")
	if err != nil {
		t.Fatalf("GetCurrentWeather() error = %v", err)
	}
	if got.Temperature == nil || *got.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", got.Temperature)
	}
	if got.Description != nil || got.IconID != nil || got.Humidity != nil || got.WindSpeed != nil {
		t.Errorf("expected absent fields to be nil, got %+v", got)
	}
}

func TestOpenWeatherClient_GetCurrentWeather_ErrorHandling(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name:    "401 unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			wantErr: ErrInvalidAPIKey,
		},
		{
			name: "404 not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"cod":"404","message":"city not found"}`))
			},
			wantErr: ErrLocationNotFound,
		},
		{
			name:    "429 rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			wantErr: ErrRateLimited,
		},
		{
			name:    "500 server error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			wantErr: ErrUpstreamFailure,
		},
		{
			name:    "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`<html>oops`)) },
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "api level error status",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"cod":"500","message":"internal"}`)) },
			wantErr: ErrUpstreamFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := newTestClient(t, server.URL).GetCurrentWeather(context.Background(), "invalidcityxyz")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GetCurrentWeather() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestOpenWeatherClient_SingleAttempt verifies a failing upstream is called exactly once.
func TestOpenWeatherClient_SingleAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).GetCurrentWeather(context.Background(), "hue")
	if err == nil {
		t.Fatal("GetCurrentWeather() error = nil, want upstream failure")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

// TestOpenWeatherClient_NetworkError verifies transport failures are returned as errors.
func TestOpenWeatherClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url).GetCurrentWeather(context.Background(), "hue")
	if err == nil {
		t.Fatal("GetCurrentWeather() error = nil, want network error")
	}
	if CategorizeError(err) != ErrorCategoryNetwork {
		t.Errorf("CategorizeError() = %v, want %v", CategorizeError(err), ErrorCategoryNetwork)
	}
}

// TestOpenWeatherClient_CircuitBreaker verifies the breaker opens after the
// failure threshold and then short-circuits without calling upstream.
func TestOpenWeatherClient_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var transitions []string
	c := newTestClient(t, server.URL)
	c.SetCircuitBreaker(BreakerConfig{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		OnStateChange:    func(from, to string) { transitions = append(transitions, from+"->"+to) },
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.GetCurrentWeather(ctx, "hue"); !errors.Is(err, ErrUpstreamFailure) {
			t.Fatalf("call %d error = %v, want ErrUpstreamFailure", i, err)
		}
	}
	_, err := c.GetCurrentWeather(ctx, "hue")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("third call error = %v, want ErrCircuitOpen", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("transitions = %v, want [closed->open]", transitions)
	}
}

// TestOpenWeatherClient_CircuitBreaker_IgnoresNotFound verifies unknown cities do not trip the breaker.
func TestOpenWeatherClient_CircuitBreaker_IgnoresNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	c.SetCircuitBreaker(BreakerConfig{FailureThreshold: 1, Timeout: time.Minute})
	for i := 0; i < 3; i++ {
		if _, err := c.GetCurrentWeather(context.Background(), "atlantis"); !errors.Is(err, ErrLocationNotFound) {
			t.Fatalf("call %d error = %v, want ErrLocationNotFound", i, err)
		}
	}
}
