// Package scheduler periodically re-warms the weather cache for the saved cities.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// CityLister returns the cities to warm.
type CityLister interface {
	List() []string
}

// Warmer prefetches weather for cities.
type Warmer interface {
	Warm(ctx context.Context, cities []string) error
}

// Scheduler runs a warm job every interval. A zero interval disables it.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	cities     CityLister
	warmer     Warmer
	interval   time.Duration
	jobTimeout time.Duration
	logger     *zap.Logger
}

// New returns a stopped Scheduler. jobTimeout bounds each run; <= 0 uses interval.
func New(cities CityLister, warmer Warmer, interval, jobTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if jobTimeout <= 0 {
		jobTimeout = interval
	}
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		cities:     cities,
		warmer:     warmer,
		interval:   interval,
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

// Start schedules the warm job and starts the underlying scheduler. The first
// run happens one interval after Start; startup warming is done by the caller.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("cache re-warm disabled")
		return nil
	}
	_, err := s.scheduler.Every(s.interval).WaitForSchedule().SingletonMode().Do(s.run)
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("cache re-warm scheduled", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the scheduler. Runs already in progress finish on their own.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) run() {
	cities := s.cities.List()
	if len(cities) == 0 {
		s.logger.Debug("cache re-warm skipped, no saved cities")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	if err := s.warmer.Warm(ctx, cities); err != nil {
		s.logger.Warn("cache re-warm incomplete", zap.Error(err))
	}
}
