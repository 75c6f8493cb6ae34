package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courriel-systems/messagerie/internal/cache"
)

func newTestCache(t *testing.T, maxStaleness time.Duration) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache("redis://"+mr.Addr(), maxStaleness)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_SetGet(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "entity:C1", []byte(`{"state":"created"}`), 30*time.Second))

	val, err := c.Get(ctx, "entity:C1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"state":"created"}`), val)
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	_, err := c.Get(context.Background(), "entity:absent")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestRedisCache_Expiry(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "entity:C1", []byte(`{}`), 10*time.Second))

	mr.FastForward(11 * time.Second)

	_, err := c.Get(ctx, "entity:C1")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestRedisCache_TTLClampedToStalenessBound(t *testing.T) {
	c, mr := newTestCache(t, 5*time.Second)
	ctx := context.Background()

	// Requested TTL exceeds the staleness bound; the bound wins.
	require.NoError(t, c.Set(ctx, "entity:C1", []byte(`{}`), time.Hour))

	mr.FastForward(6 * time.Second)

	_, err := c.Get(ctx, "entity:C1")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestRedisCache_Del(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "entity:C1", []byte(`{}`), time.Minute))
	require.NoError(t, c.Del(ctx, "entity:C1"))

	_, err := c.Get(ctx, "entity:C1")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestNoOpCache(t *testing.T) {
	c := cache.NoOpCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrMiss)
}
