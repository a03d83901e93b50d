package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// RedisCache implements Cache on a redis client. Values are JSON snapshots
// stored with the retention period as expiration.
type RedisCache struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisCache wraps client. retention <= 0 means 1h.
func NewRedisCache(client redis.UniversalClient, retention time.Duration) *RedisCache {
	if retention <= 0 {
		retention = time.Hour
	}
	return &RedisCache{client: client, retention: retention}
}

// Get implements Cache.Get.
func (c *RedisCache) Get(ctx context.Context, key string) (models.WeatherSnapshot, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.WeatherSnapshot{}, false, nil
		}
		return models.WeatherSnapshot{}, false, err
	}
	var snap models.WeatherSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.WeatherSnapshot{}, false, err
	}
	return snap, true, nil
}

// Put implements Cache.Put.
func (c *RedisCache) Put(ctx context.Context, key string, snapshot models.WeatherSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, raw, c.retention).Err()
}

// Ping checks if redis is reachable. Used for health checks.
func (c *RedisCache) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}
