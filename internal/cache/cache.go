package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// DefaultTTL is how long a snapshot counts as fresh.
const DefaultTTL = 10 * time.Minute

// DefaultCapacity bounds the in-memory cache when no capacity is configured.
const DefaultCapacity = 1000

// Cache stores weather snapshots keyed by normalized city name.
// Get returns whatever snapshot is stored, fresh or not; freshness is the
// caller's decision (see IsFresh) so stale entries stay available as fallback.
// Put overwrites: last write wins.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherSnapshot, bool, error)
	Put(ctx context.Context, key string, snapshot models.WeatherSnapshot) error
}

// IsFresh reports whether snapshot is younger than ttl at now.
func IsFresh(snapshot models.WeatherSnapshot, now time.Time, ttl time.Duration) bool {
	return now.Sub(snapshot.FetchedAt) < ttl
}

// LRUCache implements Cache in process memory, capped at a fixed number of
// entries. The least recently used entry is evicted when the cap is reached.
// Safe for concurrent use.
type LRUCache struct {
	entries *lru.Cache[string, models.WeatherSnapshot]
}

// NewLRUCache creates an LRUCache holding at most capacity snapshots.
// capacity <= 0 uses DefaultCapacity.
func NewLRUCache(capacity int) (*LRUCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.NewWithEvict(capacity, func(string, models.WeatherSnapshot) {
		observability.CacheEvictionsTotal.Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRUCache{entries: entries}, nil
}

// Get returns the snapshot stored under key and marks it recently used.
func (c *LRUCache) Get(ctx context.Context, key string) (models.WeatherSnapshot, bool, error) {
	snap, ok := c.entries.Get(key)
	return snap, ok, nil
}

// Put stores snapshot under key, evicting the least recently used entry when full.
func (c *LRUCache) Put(ctx context.Context, key string, snapshot models.WeatherSnapshot) error {
	c.entries.Add(key, snapshot)
	observability.CacheEntries.Set(float64(c.Len()))
	return nil
}

// Len returns the number of cached snapshots.
func (c *LRUCache) Len() int {
	return c.entries.Len()
}
