// Package citylist maintains the user's ordered list of saved cities. Names are
// unique by their normalized form; every successful mutation is written
// through to the store by a single background writer that only ever persists
// the latest list.
package citylist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/storage"
	"github.com/kjstillabower/city-weather-service/internal/textnorm"
)

var (
	// ErrEmptyName is returned by Add when the name is empty after trimming.
	ErrEmptyName = errors.New("city name is empty")
	// ErrDuplicate is returned by Add when a city with the same normalized name exists.
	ErrDuplicate = errors.New("city already exists")
)

// DefaultCities seeds an empty list.
var DefaultCities = []string{"Hà Nội", "Hồ Chí Minh"}

// DefaultSaveTimeout bounds each background save.
const DefaultSaveTimeout = 10 * time.Second

// Manager owns the in-memory city list. Safe for concurrent use.
type Manager struct {
	store       storage.Store
	defaults    []string
	logger      *zap.Logger
	saveTimeout time.Duration

	mu     sync.RWMutex
	cities []string

	// writeMu guards the writer state. Lock order: mu before writeMu.
	writeMu    sync.Mutex
	pending    []string
	hasPending bool
	writing    bool
	saves      sync.WaitGroup
	saveErrors chan error
}

// Option customizes a Manager.
type Option func(*Manager)

// WithDefaults overrides the seed list used when the stored list is empty.
func WithDefaults(cities []string) Option {
	return func(m *Manager) { m.defaults = append([]string(nil), cities...) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithSaveTimeout bounds each background save; <= 0 keeps DefaultSaveTimeout.
func WithSaveTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.saveTimeout = d
		}
	}
}

// NewManager returns an empty Manager backed by store. Call Load to populate it.
func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		defaults:    append([]string(nil), DefaultCities...),
		logger:      zap.NewNop(),
		saveTimeout: DefaultSaveTimeout,
		cities:      []string{},
		saveErrors:  make(chan error, 16),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// Load replaces the in-memory list with the stored one. An empty stored list,
// or a failed load, seeds the defaults instead; the seed is not written back
// until the next mutation. The load error, if any, is returned after seeding.
func (m *Manager) Load(ctx context.Context) error {
	names, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("load city list failed, using defaults", zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil || len(names) == 0 {
		m.cities = append([]string(nil), m.defaults...)
		m.logger.Info("seeded default cities", zap.Strings("cities", m.cities))
	} else {
		m.cities = names
		m.logger.Info("loaded city list", zap.Int("count", len(names)))
	}
	if err != nil {
		return fmt.Errorf("load city list: %w", err)
	}
	return nil
}

// List returns a copy of the current list in insertion order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.cities...)
}

// Add appends the trimmed name and returns the updated list.
func (m *Manager) Add(name string) ([]string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		observability.CityListMutationsTotal.WithLabelValues("add", "empty_name").Inc()
		return nil, ErrEmptyName
	}
	key := textnorm.Normalize(trimmed)

	m.mu.Lock()
	for _, existing := range m.cities {
		if textnorm.Normalize(existing) == key {
			m.mu.Unlock()
			observability.CityListMutationsTotal.WithLabelValues("add", "duplicate").Inc()
			return nil, fmt.Errorf("%w: %q matches %q", ErrDuplicate, trimmed, existing)
		}
	}
	m.cities = append(m.cities, trimmed)
	snapshot := append([]string(nil), m.cities...)
	m.saveAsync(snapshot)
	m.mu.Unlock()

	observability.CityListMutationsTotal.WithLabelValues("add", "success").Inc()
	m.logger.Info("city added", zap.String("city", trimmed))
	return append([]string(nil), snapshot...), nil
}

// Remove deletes every entry exactly equal to name and returns the updated
// list. An unknown name leaves the list unchanged and issues no save.
func (m *Manager) Remove(name string) []string {
	m.mu.Lock()
	kept := make([]string, 0, len(m.cities))
	for _, c := range m.cities {
		if c != name {
			kept = append(kept, c)
		}
	}
	removed := len(kept) != len(m.cities)
	m.cities = kept
	snapshot := append([]string(nil), kept...)
	if removed {
		m.saveAsync(snapshot)
	}
	m.mu.Unlock()

	if !removed {
		observability.CityListMutationsTotal.WithLabelValues("remove", "not_found").Inc()
		return snapshot
	}
	observability.CityListMutationsTotal.WithLabelValues("remove", "success").Inc()
	m.logger.Info("city removed", zap.String("city", name))
	return append([]string(nil), snapshot...)
}

// Search returns the entries whose normalized form contains the normalized
// keyword, in list order. An empty keyword returns the full list.
func (m *Manager) Search(keyword string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if textnorm.Normalize(keyword) == "" {
		return append([]string(nil), m.cities...)
	}
	out := []string{}
	for _, c := range m.cities {
		if textnorm.Contains(c, keyword) {
			out = append(out, c)
		}
	}
	return out
}

// Clear empties the list and removes it from the store. Queued saves are
// dropped and an in-progress save is allowed to finish first, so no older
// list can land in the store after the clear. Mutations block until it returns.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cities = []string{}

	m.writeMu.Lock()
	m.pending, m.hasPending = nil, false
	m.writeMu.Unlock()
	m.saves.Wait()

	if err := m.store.Clear(ctx); err != nil {
		observability.CityListMutationsTotal.WithLabelValues("clear", "error").Inc()
		return fmt.Errorf("clear city list: %w", err)
	}
	observability.CityListMutationsTotal.WithLabelValues("clear", "success").Inc()
	return nil
}

// SaveErrors delivers background save failures. Failures are dropped when
// nobody drains the channel and its buffer is full; they are always logged.
func (m *Manager) SaveErrors() <-chan error {
	return m.saveErrors
}

// Wait blocks until the writer has persisted the latest list.
func (m *Manager) Wait() {
	m.saves.Wait()
}

// saveAsync queues names for the writer without blocking the caller. Only the
// newest queued list is kept, so a slow save is followed by exactly one save of
// the latest state. Caller holds m.mu, which orders snapshots.
func (m *Manager) saveAsync(names []string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.pending, m.hasPending = names, true
	if m.writing {
		return
	}
	m.writing = true
	m.saves.Add(1)
	go m.writeLoop()
}

func (m *Manager) writeLoop() {
	defer m.saves.Done()
	for {
		m.writeMu.Lock()
		if !m.hasPending {
			m.writing = false
			m.writeMu.Unlock()
			return
		}
		names := m.pending
		m.pending, m.hasPending = nil, false
		m.writeMu.Unlock()

		m.save(names)
	}
}

func (m *Manager) save(names []string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.saveTimeout)
	defer cancel()
	if err := m.store.Save(ctx, names); err != nil {
		err = fmt.Errorf("save city list: %w", err)
		m.logger.Error("persist city list failed", zap.Int("count", len(names)), zap.Error(err))
		select {
		case m.saveErrors <- err:
		default:
		}
	}
}
