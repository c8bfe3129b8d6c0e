package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redisadapter "github.com/kseleznyov/identity-service/internal/adapters/db/redis"
	"github.com/kseleznyov/identity-service/internal/app/identity/cache"
	customErrors "github.com/kseleznyov/identity-service/internal/domain/identity/errors"
	"github.com/kseleznyov/identity-service/internal/domain/identity/model"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCache(t *testing.T, ttl time.Duration) (*cache.UserCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Cleanup(mr.Close)

	store := redisadapter.NewRedisCacheStore(redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()}))
	return cache.NewUserCache(store, ttl, zap.NewNop()), mr
}

func TestUserCache_MissLoadsAndPopulates(t *testing.T) {
	c, _ := newCache(t, 120*time.Second)
	ctx := context.Background()

	profile := model.Profile{ID: uuid.New(), Email: "a@b.c", Name: "alice"}
	key := cache.UserKey(profile.ID)

	calls := 0
	load := func(context.Context) (model.Profile, error) {
		calls++
		return profile, nil
	}

	got, err := c.Get(ctx, key, load)
	require.NoError(t, err)
	require.Equal(t, profile.ID, got.ID)
	require.Equal(t, 1, calls)

	// Second read within the TTL is served from cache, no loader call.
	got, err = c.Get(ctx, key, load)
	require.NoError(t, err)
	require.Equal(t, profile.Email, got.Email)
	require.Equal(t, 1, calls)
}

func TestUserCache_ExpiryInvokesLoaderOnce(t *testing.T) {
	c, mr := newCache(t, 120*time.Second)
	ctx := context.Background()

	profile := model.Profile{ID: uuid.New(), Email: "a@b.c"}
	key := cache.UserKey(profile.ID)

	calls := 0
	load := func(context.Context) (model.Profile, error) {
		calls++
		return profile, nil
	}

	_, err := c.Get(ctx, key, load)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	mr.FastForward(121 * time.Second)

	_, err = c.Get(ctx, key, load)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestUserCache_NotFoundIsNotCached(t *testing.T) {
	c, _ := newCache(t, 120*time.Second)
	ctx := context.Background()

	id := uuid.New()
	key := cache.UserKey(id)

	calls := 0
	missing := func(context.Context) (model.Profile, error) {
		calls++
		return model.Profile{}, customErrors.ErrNotFound
	}

	_, err := c.Get(ctx, key, missing)
	require.ErrorIs(t, err, customErrors.ErrNotFound)

	// The negative result was not cached: the loader runs again and a freshly
	// created profile is visible immediately.
	profile := model.Profile{ID: id, Email: "late@b.c"}
	found := func(context.Context) (model.Profile, error) {
		calls++
		return profile, nil
	}

	got, err := c.Get(ctx, key, found)
	require.NoError(t, err)
	require.Equal(t, "late@b.c", got.Email)
	require.Equal(t, 2, calls)
}

func TestUserCache_UndecodableEntryFallsBackToLoader(t *testing.T) {
	c, mr := newCache(t, 120*time.Second)
	ctx := context.Background()

	profile := model.Profile{ID: uuid.New(), Email: "a@b.c"}
	key := cache.UserKey(profile.ID)
	require.NoError(t, mr.Set(key, "{broken"))

	got, err := c.Get(ctx, key, func(context.Context) (model.Profile, error) {
		return profile, nil
	})
	require.NoError(t, err)
	require.Equal(t, profile.ID, got.ID)
}
