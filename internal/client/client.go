package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// WeatherClient resolves current conditions for a normalized city name.
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, city string) (models.WeatherSnapshot, error)
}

var (
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrLocationNotFound  = errors.New("location not found")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

// Defaults matching the upstream app: Vietnamese cities, Vietnamese descriptions.
const (
	DefaultAPIURL      = "https://api.openweathermap.org/data/2.5/weather"
	DefaultCountryCode = "VN"
	DefaultLanguage    = "vi"
)

// Options configures an OpenWeatherClient. Zero values fall back to the defaults above.
type Options struct {
	APIKey      string
	APIURL      string
	CountryCode string
	Language    string
	// Timeout bounds each HTTP call. Zero means no timeout.
	Timeout time.Duration
	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
}

// OpenWeatherClient calls the OpenWeatherMap current-weather endpoint.
// Each lookup is a single attempt; there is no retry or backoff.
type OpenWeatherClient struct {
	apiKey      string
	apiURL      string
	countryCode string
	language    string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
}

// NewOpenWeatherClient validates opts and returns a client.
func NewOpenWeatherClient(opts Options) (*OpenWeatherClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(opts.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	c := &OpenWeatherClient{
		apiKey:      opts.APIKey,
		apiURL:      opts.APIURL,
		countryCode: opts.CountryCode,
		language:    opts.Language,
		client:      opts.HTTPClient,
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.countryCode == "" {
		c.countryCode = DefaultCountryCode
	}
	if c.language == "" {
		c.language = DefaultLanguage
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: opts.Timeout}
	}
	return c, nil
}

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// MaxProbes requests are allowed through while half-open.
	MaxProbes uint32
	// OnStateChange, when set, is called on every transition (for metrics/logs).
	OnStateChange func(from, to string)
}

// SetCircuitBreaker guards upstream calls with a breaker. While open, lookups
// fail immediately with ErrCircuitOpen. Not-found responses do not count as failures.
func (c *OpenWeatherClient) SetCircuitBreaker(cfg BreakerConfig) {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxProbes == 0 {
		cfg.MaxProbes = 1
	}
	threshold := uint32(cfg.FailureThreshold)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weather_api",
		MaxRequests: cfg.MaxProbes,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(from.String(), to.String())
			}
		},
	})
}

type openWeatherResponse struct {
	Cod  json.RawMessage `json:"cod"`
	Main *struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
}

// GetCurrentWeather fetches current conditions for city (already normalized by the caller).
// The country qualifier, metric units and response language are appended to the query.
func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, city string) (models.WeatherSnapshot, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, city)
	}
	var (
		snap    models.WeatherSnapshot
		callErr error
	)
	_, err := c.breaker.Execute(func() (interface{}, error) {
		snap, callErr = c.callAPI(ctx, city)
		if callErr != nil && !errors.Is(callErr, ErrLocationNotFound) {
			return nil, callErr
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.WeatherAPICallsTotal.WithLabelValues("circuit_open").Inc()
		return models.WeatherSnapshot{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return snap, callErr
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, city string) (models.WeatherSnapshot, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, city)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.WeatherSnapshot{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.WeatherSnapshot{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.WeatherSnapshot{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return models.WeatherSnapshot{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
	}
	if cod := codValue(apiResp.Cod); cod != "" && cod != "200" {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: api status %s", ErrUpstreamFailure, cod)
	}

	return mapResponse(apiResp), nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("q", city+","+c.countryCode)
	params.Set("units", "metric")
	params.Set("lang", c.language)
	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP 401", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return ErrLocationNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

// codValue returns the "cod" field as text; upstream sends it as a number on
// success and as a string on errors.
func codValue(raw json.RawMessage) string {
	return string(bytes.Trim(bytes.TrimSpace(raw), `"`))
}

// mapResponse converts the upstream payload into a snapshot. Missing fields stay nil.
func mapResponse(apiResp openWeatherResponse) models.WeatherSnapshot {
	snap := models.WeatherSnapshot{FetchedAt: time.Now()}
	if apiResp.Main != nil {
		if apiResp.Main.Temp != nil {
			t := int(math.Round(*apiResp.Main.Temp))
			snap.Temperature = &t
		}
		if apiResp.Main.Humidity != nil {
			h := int(math.Round(*apiResp.Main.Humidity))
			snap.Humidity = &h
		}
	}
	if len(apiResp.Weather) > 0 {
		first := apiResp.Weather[0]
		desc := first.Description
		if desc == "" {
			desc = first.Main
		}
		if desc != "" {
			snap.Description = &desc
		}
		if first.Icon != "" {
			icon := first.Icon
			snap.IconID = &icon
		}
	}
	if apiResp.Wind != nil && apiResp.Wind.Speed != nil {
		speed := *apiResp.Wind.Speed
		snap.WindSpeed = &speed
	}
	return snap
}

func extractCorrelationID(ctx context.Context) string {
	if corrID, ok := observability.CorrelationIDFromContext(ctx); ok {
		return corrID
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues one lookup for a known city and reports whether the key is accepted.
// Called once at startup.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "ha noi")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}
	return nil
}
