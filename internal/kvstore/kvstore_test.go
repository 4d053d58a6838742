package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *RedisClient {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return NewRedisClient(mr.Addr(), "", 0)
}

func testBothBackends(t *testing.T, fn func(t *testing.T, c Client)) {
	t.Run("redis", func(t *testing.T) { fn(t, newTestRedis(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryClient()) })
}

func TestGetSetRoundTrip(t *testing.T) {
	testBothBackends(t, func(t *testing.T, c Client) {
		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "k1", "v1", 0))
		v, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, "v1", v)
	})
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	testBothBackends(t, func(t *testing.T, c Client) {
		_, err := c.Get(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestIncrByFloatAccumulates(t *testing.T) {
	testBothBackends(t, func(t *testing.T, c Client) {
		ctx := context.Background()
		v, err := c.IncrByFloat(ctx, "cost:daily:20260101", 1.5)
		require.NoError(t, err)
		require.Equal(t, 1.5, v)
		v, err = c.IncrByFloat(ctx, "cost:daily:20260101", 2.5)
		require.NoError(t, err)
		require.Equal(t, 4.0, v)
	})
}

func TestKeysFiltersByPrefix(t *testing.T) {
	testBothBackends(t, func(t *testing.T, c Client) {
		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "risk:events:1", "a", 0))
		require.NoError(t, c.Set(ctx, "risk:events:2", "b", 0))
		require.NoError(t, c.Set(ctx, "cost:daily:1", "c", 0))
		keys, err := c.Keys(ctx, "risk:events:")
		require.NoError(t, err)
		require.Len(t, keys, 2)
	})
}

func TestDeleteMissingKeyIsNotError(t *testing.T) {
	testBothBackends(t, func(t *testing.T, c Client) {
		require.NoError(t, c.Delete(context.Background(), "nope"))
	})
}

func TestPingSucceeds(t *testing.T) {
	testBothBackends(t, func(t *testing.T, c Client) {
		require.NoError(t, c.Ping(context.Background()))
	})
}

func TestSetWithTTLExpires(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "ephemeral", "x", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	_, err := c.Get(ctx, "ephemeral")
	require.ErrorIs(t, err, ErrNotFound)
}
