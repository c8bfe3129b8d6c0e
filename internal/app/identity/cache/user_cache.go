package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	customErrors "github.com/kseleznyov/identity-service/internal/domain/identity/errors"
	"github.com/kseleznyov/identity-service/internal/domain/identity/model"
	"github.com/kseleznyov/identity-service/internal/domain/identity/repo"
	"go.uber.org/zap"
)

// Loader fetches a profile from the primary store on a cache miss.
type Loader func(ctx context.Context) (model.Profile, error)

// UserCache is a read-through cache over profile lookups. The TTL is the only
// staleness bound: nothing invalidates entries on write, so a read right after
// a write may serve the previous value until the entry expires.
type UserCache struct {
	store repo.CacheStore
	ttl   time.Duration
	log   *zap.Logger
}

func NewUserCache(store repo.CacheStore, ttl time.Duration, log *zap.Logger) *UserCache {
	return &UserCache{store: store, ttl: ttl, log: log}
}

func UserKey(id uuid.UUID) string {
	return "user:" + id.String()
}

// Get returns the cached profile for key, or loads it from the primary store
// and populates the cache. A loader ErrNotFound is never cached, so a later
// write to the primary store is visible on the next read.
func (c *UserCache) Get(ctx context.Context, key string, load Loader) (model.Profile, error) {
	cached, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var p model.Profile
		if jsonErr := json.Unmarshal([]byte(cached), &p); jsonErr == nil {
			c.log.Info("cache hit", zap.String("key", key))
			return p, nil
		}
		// Undecodable entry: treat as a miss and overwrite below.
		c.log.Warn("cache entry undecodable", zap.String("key", key))
	case !customErrors.IsNotFound(err):
		return model.Profile{}, err
	}

	c.log.Info("cache miss", zap.String("key", key))

	p, err := load(ctx)
	if err != nil {
		return model.Profile{}, err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return model.Profile{}, customErrors.WrapInternal(err, "marshal profile")
	}
	if err := c.store.Set(ctx, key, string(raw), c.ttl); err != nil {
		return model.Profile{}, err
	}
	c.log.Info("cache set", zap.String("key", key), zap.Duration("ttl", c.ttl))

	return p, nil
}
