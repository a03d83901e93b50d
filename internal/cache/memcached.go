package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

const keyPrefix = "weather:"

// maxKeyLen is the longest key memcached accepts, in bytes.
const maxKeyLen = 250

// maxRelativeExp is the largest relative expiration memcached accepts (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache using memcached. Items are kept for the
// retention period, which should exceed the freshness TTL so that stale
// snapshots remain available as fallback.
type MemcachedCache struct {
	client    *memcache.Client
	retention time.Duration
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. retention <= 0 means 1h.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, retention time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &MemcachedCache{client: client, retention: retention}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcachedKey prefixes k and replaces spaces, which memcached rejects in keys.
// Keys that would exceed maxKeyLen bytes are replaced by a digest of k.
func memcachedKey(k string) string {
	key := keyPrefix + strings.ReplaceAll(k, " ", "_")
	if len(key) <= maxKeyLen {
		return key
	}
	sum := sha1.Sum([]byte(k))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.WeatherSnapshot, bool, error) {
	if ctx.Err() != nil {
		return models.WeatherSnapshot{}, false, ctx.Err()
	}
	item, err := c.client.Get(memcachedKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.WeatherSnapshot{}, false, nil
		}
		return models.WeatherSnapshot{}, false, err
	}
	var snap models.WeatherSnapshot
	if err := json.Unmarshal(item.Value, &snap); err != nil {
		return models.WeatherSnapshot{}, false, err
	}
	return snap, true, nil
}

// Put implements Cache.Put.
func (c *MemcachedCache) Put(ctx context.Context, key string, snapshot models.WeatherSnapshot) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	expSec := int32(c.retention.Seconds())
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600
	}
	return c.client.Set(&memcache.Item{
		Key:        memcachedKey(key),
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
