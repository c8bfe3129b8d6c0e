package redis

import (
	"context"
	"time"

	customErrors "github.com/kseleznyov/identity-service/internal/domain/identity/errors"
	"github.com/redis/go-redis/v9"
)

type RedisCacheStore struct {
	client *redis.Client
}

func NewRedisCacheStore(client *redis.Client) *RedisCacheStore {
	return &RedisCacheStore{
		client: client,
	}
}

func (r *RedisCacheStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	switch {
	case err == redis.Nil:
		return "", customErrors.ErrNotFound
	case err != nil:
		return "", customErrors.WrapStoreUnavailable(err, "cache get")
	default:
		return val, nil
	}
}

func (r *RedisCacheStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return customErrors.WrapStoreUnavailable(err, "cache set")
	}
	return nil
}
