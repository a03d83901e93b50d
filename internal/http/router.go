package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// NewRouter wires the API routes. Rate limiting and the request timeout apply
// to the API routes only; /health and /metrics stay reachable under load.
func NewRouter(h *Handler, limiter *rate.Limiter, requestTimeout time.Duration, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	api.Use(TimeoutMiddleware(requestTimeout))
	api.HandleFunc("/cities", h.ListCities).Methods(http.MethodGet)
	api.HandleFunc("/cities", h.AddCity).Methods(http.MethodPost)
	api.HandleFunc("/cities", h.ClearCities).Methods(http.MethodDelete)
	api.HandleFunc("/cities/weather", h.ListCityWeather).Methods(http.MethodGet)
	api.HandleFunc("/cities/{name}", h.RemoveCity).Methods(http.MethodDelete)
	api.HandleFunc("/weather/{city}", h.GetWeather).Methods(http.MethodGet)
	if h.auth != nil {
		api.HandleFunc("/api/auth/login", h.Login).Methods(http.MethodPost)
		api.HandleFunc("/api/auth/register", h.Register).Methods(http.MethodPost)
	}
	return router
}
