package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the encoded list in a plain string key without expiration.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore wraps client. prefix namespaces the key; empty uses Key as-is.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, key: prefix + Key}
}

func (r *RedisStore) Load(ctx context.Context) ([]string, error) {
	raw, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load city list: %w", err)
	}
	return decode(raw)
}

func (r *RedisStore) Save(ctx context.Context, names []string) error {
	raw, err := encode(names)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("save city list: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("clear city list: %w", err)
	}
	return nil
}
