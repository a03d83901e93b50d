package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-service/internal/auth"
	"github.com/kjstillabower/city-weather-service/internal/cache"
	"github.com/kjstillabower/city-weather-service/internal/citylist"
	"github.com/kjstillabower/city-weather-service/internal/client"
	"github.com/kjstillabower/city-weather-service/internal/config"
	httphandler "github.com/kjstillabower/city-weather-service/internal/http"
	"github.com/kjstillabower/city-weather-service/internal/lifecycle"
	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/scheduler"
	"github.com/kjstillabower/city-weather-service/internal/service"
	"github.com/kjstillabower/city-weather-service/internal/storage"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClient(client.Options{
		APIKey:      cfg.WeatherAPIKey,
		APIURL:      cfg.WeatherAPIURL,
		CountryCode: cfg.WeatherCountry,
		Language:    cfg.WeatherLanguage,
		Timeout:     cfg.WeatherAPITimeout,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.ValidateAPIKey {
		if err := weatherClient.ValidateAPIKey(context.Background()); err != nil {
			logger.Warn("weather API key check failed; lookups will return empty snapshots", zap.Error(err))
		}
	}
	if cfg.CircuitBreakerEnabled {
		weatherClient.SetCircuitBreaker(client.BreakerConfig{
			FailureThreshold: cfg.CircuitBreakerThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(from, to string) {
				observability.RecordCircuitBreakerTransition(from, to)
				logger.Warn("weather API circuit breaker transition", zap.String("from", from), zap.String("to", to))
			},
		})
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	ctx := context.Background()
	weatherCache, cachePing, closeCache, err := buildCache(cfg, logger)
	if err != nil {
		logger.Fatal("weather cache", zap.Error(err))
	}
	weatherService := service.NewWeatherService(weatherClient, weatherCache, cfg.CacheTTL, service.WithLogger(logger))

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("city storage", zap.Error(err))
	}
	cities := citylist.NewManager(storage.Instrument(store),
		citylist.WithDefaults(cfg.DefaultCities),
		citylist.WithSaveTimeout(cfg.SaveTimeout),
		citylist.WithLogger(logger))
	if err := cities.Load(ctx); err != nil {
		logger.Warn("city list not loaded from storage", zap.Error(err))
	}
	observability.SetTrackedLocations(cfg.TrackedLocations)

	warmer := cache.NewCacheWarmer(weatherService, logger)
	if cfg.CacheWarmOnStart {
		warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := warmer.Warm(warmCtx, cities.List()); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
	}
	rewarm := scheduler.New(cities, warmer, cfg.CacheWarmInterval, 0, logger)
	if err := rewarm.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	var authenticator httphandler.Authenticator
	if cfg.AuthBaseURL != "" {
		authenticator = auth.NewClient(cfg.AuthBaseURL, cfg.AuthTimeout, logger)
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(weatherService, cities, authenticator, httphandler.HandlerConfig{
		IconURLTemplate:  cfg.IconURLTemplate,
		DegradedWindow:   cfg.HealthWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		CachePing:        cachePing,
	}, logger)
	router := httphandler.NewRouter(handler, limiter, cfg.RequestTimeout, logger)

	go func() {
		for err := range cities.SaveErrors() {
			logger.Debug("city list save error observed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	<-sigCtx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	rewarm.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	logger.Info("waiting for pending city list saves")
	cities.Wait()

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if err := closeStore(); err != nil {
		logger.Error("storage close", zap.Error(err))
	}
	if err := closeCache(); err != nil {
		logger.Error("cache close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func noopClose() error { return nil }

// buildCache selects the weather cache backend. The returned ping is nil for
// the in-process cache.
func buildCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, func() error, func() error, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheRetention)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc.Ping, mc.Close, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		logger.Info("cache backend: redis", zap.String("addr", opts.Addr))
		rc := cache.NewRedisCache(rdb, cfg.CacheRetention)
		return rc, rc.Ping, rdb.Close, nil
	default:
		lru, err := cache.NewLRUCache(cfg.CacheCapacity)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("cache backend: in_memory", zap.Int("capacity", cfg.CacheCapacity))
		return lru, nil, noopClose, nil
	}
}

// buildStore selects the city list persistence backend.
func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, func() error, error) {
	logger.Info("storage backend", zap.String("backend", cfg.StorageBackend))
	switch cfg.StorageBackend {
	case "sqlite":
		s, err := storage.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		s, err := storage.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		return storage.NewRedisStore(rdb, cfg.RedisKeyPrefix), rdb.Close, nil
	case "dynamodb":
		ddb, err := storage.NewDynamoClient(ctx, cfg.DynamoRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewDynamoStore(ddb, cfg.DynamoTable), noopClose, nil
	default:
		return storage.NewMemoryStore(), noopClose, nil
	}
}
