package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/auth"
	"github.com/kjstillabower/city-weather-service/internal/citylist"
	"github.com/kjstillabower/city-weather-service/internal/lifecycle"
	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/traffic"
	"github.com/kjstillabower/city-weather-service/internal/validation"
)

// WeatherFetcher resolves weather snapshots. Lookups never fail; a failed
// fetch yields a snapshot with every reading absent.
type WeatherFetcher interface {
	FetchWeather(ctx context.Context, city string) models.WeatherSnapshot
	FetchAsync(ctx context.Context, city string, apply func(models.WeatherSnapshot))
	FetchAll(ctx context.Context, cities []string) []models.WeatherSnapshot
}

// CityList is the saved-city list.
type CityList interface {
	List() []string
	Add(name string) ([]string, error)
	Remove(name string) []string
	Search(keyword string) []string
	Clear(ctx context.Context) error
}

// Authenticator proxies login and registration.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Register(ctx context.Context, name, email, password string) error
}

// HandlerConfig holds presentation and health settings.
type HandlerConfig struct {
	IconURLTemplate string
	MaxCityLen      int
	// DegradedWindow and DegradedErrorPct bound the share of failed weather
	// lookups tolerated before /health reports degraded. Zero disables the check.
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// CachePing, when set, is called to check cache reachability.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather WeatherFetcher
	cities  CityList
	auth    Authenticator
	cfg     HandlerConfig
	logger  *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. authenticator may be nil, in which case
// the auth routes are not registered.
func NewHandler(weather WeatherFetcher, cities CityList, authenticator Authenticator, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IconURLTemplate == "" {
		cfg.IconURLTemplate = models.DefaultIconURLTemplate
	}
	return &Handler{
		weather: weather,
		cities:  cities,
		auth:    authenticator,
		cfg:     cfg,
		logger:  logger,
	}
}

// weatherResponse is a snapshot labeled with its city and derived icon URL.
type weatherResponse struct {
	City string `json:"city"`
	models.WeatherSnapshot
	IconURL string `json:"iconUrl"`
}

func (h *Handler) toResponse(city string, snap models.WeatherSnapshot) weatherResponse {
	return weatherResponse{City: city, WeatherSnapshot: snap, IconURL: snap.IconURL(h.cfg.IconURLTemplate)}
}

type cityListResponse struct {
	Cities []string `json:"cities"`
}

// GetWeather handles GET /weather/{city}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCityName(mux.Vars(r)["city"], h.cfg.MaxCityLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	ctx := r.Context()
	result := make(chan models.WeatherSnapshot, 1)
	h.weather.FetchAsync(ctx, city, func(s models.WeatherSnapshot) { result <- s })
	select {
	case snap := <-result:
		writeJSON(w, http.StatusOK, h.toResponse(city, snap))
	case <-ctx.Done():
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "weather lookup timed out")
	}
}

// ListCities handles GET /cities?q=. An empty query returns the full list.
func (h *Handler) ListCities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cityListResponse{Cities: h.cities.Search(r.URL.Query().Get("q"))})
}

// AddCity handles POST /cities.
func (h *Handler) AddCity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON with a name field")
		return
	}
	name, err := validation.ValidateCityName(body.Name, h.cfg.MaxCityLen)
	switch {
	case errors.Is(err, validation.ErrCityEmpty):
		writeError(w, r, http.StatusBadRequest, "EMPTY_NAME", citylist.ErrEmptyName.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	cities, err := h.cities.Add(name)
	switch {
	case errors.Is(err, citylist.ErrEmptyName):
		writeError(w, r, http.StatusBadRequest, "EMPTY_NAME", err.Error())
	case errors.Is(err, citylist.ErrDuplicate):
		writeError(w, r, http.StatusConflict, "DUPLICATE_CITY", err.Error())
	case err != nil:
		writeInternalError(w, r, err)
	default:
		writeJSON(w, http.StatusCreated, cityListResponse{Cities: cities})
	}
}

// RemoveCity handles DELETE /cities/{name}. Unknown names leave the list unchanged.
func (h *Handler) RemoveCity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cityListResponse{Cities: h.cities.Remove(mux.Vars(r)["name"])})
}

// ClearCities handles DELETE /cities, emptying the list and its stored copy.
func (h *Handler) ClearCities(w http.ResponseWriter, r *http.Request) {
	if err := h.cities.Clear(r.Context()); err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cityListResponse{Cities: []string{}})
}

// ListCityWeather handles GET /cities/weather?q=, returning a snapshot for
// every listed (or matching) city in list order.
func (h *Handler) ListCityWeather(w http.ResponseWriter, r *http.Request) {
	cities := h.cities.Search(r.URL.Query().Get("q"))
	snaps := h.weather.FetchAll(r.Context(), cities)
	out := make([]weatherResponse, len(cities))
	for i, city := range cities {
		out[i] = h.toResponse(city, snaps[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cities": out})
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON")
		return
	}
	session, err := h.auth.Login(r.Context(), creds.Email, creds.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Register handles POST /api/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var reg auth.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON")
		return
	}
	if err := h.auth.Register(r.Context(), reg.Name, reg.Email, reg.Password); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "registered"})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.reason == "lookup_failure_rate" {
		checks["weatherApi"] = "unhealthy"
	}
	if h.cfg.CachePing != nil {
		if h.cfg.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "city-weather-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if since, ok := lifecycle.ShutdownStartedAt(); ok {
		resp["drainingSince"] = since.UTC().Format(time.RFC3339)
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in order: shutting-down, then the failed
// weather lookup rate, then healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.cfg.DegradedWindow > 0 && h.cfg.DegradedErrorPct > 0 {
		failed, total := traffic.LookupFailureRate(h.cfg.DegradedWindow)
		if total > 0 && failed*100 >= h.cfg.DegradedErrorPct*total {
			return healthResult{"degraded", http.StatusServiceUnavailable, "lookup_failure_rate"}
		}
		errs, total := traffic.ErrorRate(h.cfg.DegradedWindow)
		if total > 0 && errs*100 >= h.cfg.DegradedErrorPct*total {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope, including the request's
// correlation ID when one is set.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := observability.CorrelationIDFromContext(r.Context())
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	observability.LoggerFromContext(r.Context(), nil).Error("request failed", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
}

// writeAuthError maps auth failures: validation to 400, upstream rejections to
// their status, everything else to 502. Messages pass through verbatim.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, validation.ErrInvalidRequest) {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", strings.TrimPrefix(err.Error(), validation.ErrInvalidRequest.Error()+": "))
		return
	}
	var ae *auth.AuthError
	if errors.As(err, &ae) {
		if ae.Status >= 400 && ae.Status < 600 {
			writeError(w, r, ae.Status, "AUTH_FAILED", ae.Message)
			return
		}
		writeError(w, r, http.StatusBadGateway, "AUTH_UNAVAILABLE", ae.Message)
		return
	}
	observability.LoggerFromContext(r.Context(), nil).Warn("auth call failed", zap.Error(err))
	writeError(w, r, http.StatusBadGateway, "AUTH_UNAVAILABLE", err.Error())
}
