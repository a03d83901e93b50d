package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/city-weather-service/internal/cache"
	"github.com/kjstillabower/city-weather-service/internal/client"
	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/textnorm"
	"github.com/kjstillabower/city-weather-service/internal/traffic"
)

// WeatherService resolves current weather per city using a cache-aside
// pattern over the remote weather client. Lookups never fail: an unsuccessful
// fetch yields either the last known snapshot marked stale or an all-absent
// failure snapshot.
type WeatherService struct {
	client    client.WeatherClient
	cache     cache.Cache
	ttl       time.Duration
	coalescer *requestCoalescer
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a WeatherService.
type Option func(*WeatherService)

// WithClock replaces time.Now, e.g. to step past the TTL in tests.
func WithClock(now func() time.Time) Option {
	return func(s *WeatherService) { s.now = now }
}

// WithLogger sets the service logger used when the request context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(s *WeatherService) { s.logger = logger }
}

// NewWeatherService creates a WeatherService. ttl <= 0 uses cache.DefaultTTL.
func NewWeatherService(c client.WeatherClient, wc cache.Cache, ttl time.Duration, opts ...Option) *WeatherService {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	s := &WeatherService{
		client:    c,
		cache:     wc,
		ttl:       ttl,
		coalescer: newRequestCoalescer(),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// FetchWeather returns the weather for cityName. A fresh cache entry is
// returned without a network call; otherwise one remote call is made, shared
// by all concurrent callers for the same normalized key.
func (s *WeatherService) FetchWeather(ctx context.Context, cityName string) models.WeatherSnapshot {
	key := textnorm.Normalize(cityName)
	logger := observability.LoggerFromContext(ctx, s.logger)
	observability.RecordWeatherQuery(key)

	if cached, ok := s.cacheGet(ctx, logger, key); ok && cache.IsFresh(cached, s.now(), s.ttl) {
		observability.CacheHitsTotal.WithLabelValues("weather").Inc()
		logger.Debug("cache hit", zap.String("city", key))
		return cached
	}
	observability.CacheMissesTotal.WithLabelValues("weather").Inc()

	// The remote call outlives the caller's cancellation so joined callers still get a result.
	fetchCtx := context.WithoutCancel(ctx)
	snap, joined := s.coalescer.Do(key, func() models.WeatherSnapshot {
		return s.refresh(fetchCtx, logger, key)
	})
	if joined {
		observability.RequestCoalescingHitsTotal.Inc()
		logger.Debug("joined in-flight fetch", zap.String("city", key))
	}
	return snap
}

// refresh performs the remote call for key and records the outcome in the cache.
func (s *WeatherService) refresh(ctx context.Context, logger *zap.Logger, key string) models.WeatherSnapshot {
	start := time.Now()
	snap, err := s.client.GetCurrentWeather(ctx, key)
	if err == nil {
		snap.FetchedAt = s.now()
		snap.Stale = false
		traffic.Record(traffic.LookupOK)
		s.cachePut(ctx, logger, key, snap)
		logger.Debug("weather fetched", zap.String("city", key), zap.Duration("duration", time.Since(start)))
		return snap
	}

	traffic.Record(traffic.LookupFailed)
	category := client.CategorizeError(err)
	observability.WeatherAPIErrorsTotal.WithLabelValues(string(category)).Inc()

	if previous, ok := s.cacheGet(ctx, logger, key); ok && previous.HasData() {
		observability.CacheStaleServesTotal.Inc()
		logger.Info("serving stale weather",
			zap.String("city", key),
			zap.String("category", string(category)),
			zap.Duration("age", s.now().Sub(previous.FetchedAt)),
			zap.Error(err))
		previous.Stale = true
		return previous
	}

	failed := models.FailedSnapshot(s.now())
	s.cachePut(ctx, logger, key, failed)
	observability.FailureSnapshotsTotal.Inc()
	logger.Warn("weather fetch failed",
		zap.String("city", key),
		zap.String("category", string(category)),
		zap.Error(err))
	return failed
}

// FetchAsync looks up cityName in the background and passes the result to
// apply, unless ctx was canceled first. Cancellation only discards the
// result; the lookup itself runs to completion and still fills the cache.
func (s *WeatherService) FetchAsync(ctx context.Context, cityName string, apply func(models.WeatherSnapshot)) {
	detached := context.WithoutCancel(ctx)
	go func() {
		snap := s.FetchWeather(detached, cityName)
		if ctx.Err() != nil {
			return
		}
		apply(snap)
	}()
}

// FetchAll looks up every city concurrently and returns the snapshots in input order.
func (s *WeatherService) FetchAll(ctx context.Context, cities []string) []models.WeatherSnapshot {
	out := make([]models.WeatherSnapshot, len(cities))
	var g errgroup.Group
	for i, city := range cities {
		i, city := i, city
		g.Go(func() error {
			out[i] = s.FetchWeather(ctx, city)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *WeatherService) cacheGet(ctx context.Context, logger *zap.Logger, key string) (models.WeatherSnapshot, bool) {
	start := time.Now()
	snap, ok, err := s.cache.Get(ctx, key)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(duration)
		logger.Warn("cache get failed", zap.String("city", key), zap.Error(err))
		return models.WeatherSnapshot{}, false
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(duration)
	return snap, ok
}

func (s *WeatherService) cachePut(ctx context.Context, logger *zap.Logger, key string, snap models.WeatherSnapshot) {
	start := time.Now()
	if err := s.cache.Put(ctx, key, snap); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("put", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("put", "error").Observe(time.Since(start).Seconds())
		logger.Warn("cache put failed", zap.String("city", key), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("put", "success").Observe(time.Since(start).Seconds())
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
