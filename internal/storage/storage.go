// Package storage persists the saved city list as a JSON array of names under
// a single fixed key. Backends differ only in where that one value lives.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// Key is the fixed key the city list is stored under.
const Key = "cities"

// Store loads, saves and clears the city list. A missing key loads as an
// empty list with no error.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, names []string) error
	Clear(ctx context.Context) error
}

func encode(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	b, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("encode city list: %w", err)
	}
	return string(b), nil
}

func decode(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("decode city list: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Instrument wraps s so every call is counted and timed in the persistence metrics.
func Instrument(s Store) Store {
	return &instrumented{next: s}
}

type instrumented struct {
	next Store
}

func (i *instrumented) Load(ctx context.Context) ([]string, error) {
	start := time.Now()
	names, err := i.next.Load(ctx)
	record("load", start, err)
	return names, err
}

func (i *instrumented) Save(ctx context.Context, names []string) error {
	start := time.Now()
	err := i.next.Save(ctx, names)
	record("save", start, err)
	return err
}

func (i *instrumented) Clear(ctx context.Context) error {
	start := time.Now()
	err := i.next.Clear(ctx)
	record("clear", start, err)
	return err
}

func record(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	observability.PersistenceOperationsTotal.WithLabelValues(op, result).Inc()
	observability.PersistenceDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
