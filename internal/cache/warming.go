package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// WeatherFetcher is implemented by the service layer to fetch weather for a city.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type WeatherFetcher interface {
	FetchWeather(ctx context.Context, city string) models.WeatherSnapshot
}

// CacheWarmer warms the cache by prefetching weather for a list of cities.
type CacheWarmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches weather for each city concurrently; the fetcher populates the cache.
// Cities that came back without any reading are reported in the returned error.
func (w *CacheWarmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cities)))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)
	for _, city := range cities {
		wg.Add(1)
		go func(city string) {
			defer wg.Done()
			if snap := w.fetcher.FetchWeather(ctx, city); !snap.HasData() {
				mu.Lock()
				failed = append(failed, city)
				mu.Unlock()
			}
		}(city)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("cities", len(cities)),
		zap.Int("errors", len(failed)),
		zap.Float64("duration_seconds", duration))
	if len(failed) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: no data for %v", failed)
	}
	return nil
}
