package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"hardwarepos/backend/internal/domain"
)

// setupTestRedis starts a miniredis instance and a cache bound to it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisItemQueryCache) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisItemQueryCacheWithClient(client)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisCacheRoundTrip(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()

	miss, err := c.GetItems(ctx, "low-stock:20")
	require.NoError(t, err)
	require.False(t, miss.Found)

	items := []domain.Item{{ID: 1, CustomID: "HW-1", Name: "Hammer", StockQuantity: 3, PriceCents: 500}}
	require.NoError(t, c.SetItems(ctx, miss.Generation, "low-stock:20", items, time.Minute))

	hit, err := c.GetItems(ctx, "low-stock:20")
	require.NoError(t, err)
	require.True(t, hit.Found)
	require.Equal(t, items, hit.Items)
}

func TestRedisCacheEmptyResultIsCached(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.SetItems(ctx, 0, "search:nothing", nil, time.Minute))

	hit, err := c.GetItems(ctx, "search:nothing")
	require.NoError(t, err)
	require.True(t, hit.Found)
	require.Empty(t, hit.Items)
}

func TestRedisCacheInvalidateOrphansEntries(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.SetItems(ctx, 0, "all", []domain.Item{{ID: 1}}, time.Minute))
	require.NoError(t, c.Invalidate(ctx))

	miss, err := c.GetItems(ctx, "all")
	require.NoError(t, err)
	require.False(t, miss.Found)
	require.Equal(t, int64(1), miss.Generation)

	require.NoError(t, c.SetItems(ctx, miss.Generation, "all", []domain.Item{{ID: 2}}, time.Minute))
	hit, err := c.GetItems(ctx, "all")
	require.NoError(t, err)
	require.True(t, hit.Found)
	require.Equal(t, int64(2), hit.Items[0].ID)
}

func TestRedisCacheFillAfterInvalidateIsDropped(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()

	miss, err := c.GetItems(ctx, "all")
	require.NoError(t, err)
	require.False(t, miss.Found)

	// A write commits and invalidates while the reader is still loading rows.
	require.NoError(t, c.Invalidate(ctx))
	require.NoError(t, c.SetItems(ctx, miss.Generation, "all", []domain.Item{{ID: 1, StockQuantity: 10}}, time.Minute))

	after, err := c.GetItems(ctx, "all")
	require.NoError(t, err)
	require.False(t, after.Found, "rows loaded before the invalidation must not be served")
}

func TestRedisCacheEntriesExpire(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.SetItems(ctx, 0, "all", []domain.Item{{ID: 1}}, time.Second))
	mr.FastForward(2 * time.Second)

	miss, err := c.GetItems(ctx, "all")
	require.NoError(t, err)
	require.False(t, miss.Found)
}

func TestRedisCacheReportsBackendErrors(t *testing.T) {
	mr, c := setupTestRedis(t)
	mr.Close()

	_, err := c.GetItems(context.Background(), "all")
	require.Error(t, err)
	require.Error(t, c.SetItems(context.Background(), 0, "all", nil, time.Minute))
}
