package flagstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisFlagStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	store := NewRedisFlagStore(rc)
	ctx := context.Background()

	_, err := store.GetFlag(ctx, "waiting-room-enabled")
	require.ErrorIs(t, err, ErrFlagNotFound)

	require.NoError(t, mr.Set("waiting-room-enabled", "TRUE"))
	val, err := store.GetFlag(ctx, "waiting-room-enabled")
	require.NoError(t, err)
	assert.Equal(t, "TRUE", val)
}

func TestCachedHonorsTTL(t *testing.T) {
	now := time.Now()
	fetches := 0
	store := FlagStoreFunc(func(ctx context.Context, name string) (string, error) {
		fetches++
		return "true", nil
	})
	cached := NewCached(store, "waiting-room-enabled",
		WithCacheTTL(30*time.Second),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	assert.True(t, cached.Enabled(ctx))
	assert.True(t, cached.Enabled(ctx))
	assert.Equal(t, 1, fetches)

	now = now.Add(31 * time.Second)
	assert.True(t, cached.Enabled(ctx))
	assert.Equal(t, 2, fetches)
}

func TestCachedCaseInsensitive(t *testing.T) {
	store := FlagStoreFunc(func(ctx context.Context, name string) (string, error) {
		return "True", nil
	})
	cached := NewCached(store, "waiting-room-enabled")
	assert.True(t, cached.Enabled(context.Background()))
}

func TestCachedFailsOpen(t *testing.T) {
	store := FlagStoreFunc(func(ctx context.Context, name string) (string, error) {
		return "", errors.New("flag store unavailable")
	})
	cached := NewCached(store, "waiting-room-enabled")

	// fetch failure with an empty cache: treat the room as disabled
	assert.False(t, cached.Enabled(context.Background()))
}

func TestCachedRetriesAfterFailure(t *testing.T) {
	now := time.Now()
	fetches := 0
	fail := true
	store := FlagStoreFunc(func(ctx context.Context, name string) (string, error) {
		fetches++
		if fail {
			return "", errors.New("flag store unavailable")
		}
		return "true", nil
	})
	cached := NewCached(store, "waiting-room-enabled",
		WithCacheTTL(30*time.Second),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	assert.False(t, cached.Enabled(ctx))
	// the failure is not cached for the TTL: the very next call refetches
	assert.False(t, cached.Enabled(ctx))
	assert.Equal(t, 2, fetches)

	fail = false
	assert.True(t, cached.Enabled(ctx))
	assert.Equal(t, 3, fetches)

	// a successful refresh is trusted for the TTL again
	assert.True(t, cached.Enabled(ctx))
	assert.Equal(t, 3, fetches)
}

func TestCachedKeepsStaleValueUntilRefresh(t *testing.T) {
	now := time.Now()
	value := "true"
	store := FlagStoreFunc(func(ctx context.Context, name string) (string, error) {
		return value, nil
	})
	cached := NewCached(store, "waiting-room-enabled",
		WithCacheTTL(30*time.Second),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	assert.True(t, cached.Enabled(ctx))

	value = "false"
	// within the TTL the stale true is still served
	assert.True(t, cached.Enabled(ctx))

	now = now.Add(31 * time.Second)
	assert.False(t, cached.Enabled(ctx))
}
