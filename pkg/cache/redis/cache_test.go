package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pario-ai/meshbridge/pkg/cache"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := New(context.Background(), Options{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestCache_PutAndGet(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k1", "/static/models/a.glb"))

	ref, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/static/models/a.glb", ref)

	stored, err := mr.Get(DefaultPrefix + "k1")
	require.NoError(t, err)
	assert.Equal(t, "/static/models/a.glb", stored)
	assert.Zero(t, mr.TTL(DefaultPrefix+"k1"))
}

func TestCache_Miss(t *testing.T) {
	_, c := setupTestRedis(t)

	_, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_FirstWriterWins(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k1", "/a.glb"))
	require.NoError(t, c.Put(ctx, "k1", "/a.glb"))

	err := c.Put(ctx, "k1", "/b.glb")
	assert.ErrorIs(t, err, cache.ErrConflict)

	ref, _, _ := c.Get(ctx, "k1")
	assert.Equal(t, "/a.glb", ref)
}

func TestCache_Stats(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k1", "/a.glb"))
	require.NoError(t, c.Put(ctx, "k2", "/b.glb"))
	require.NoError(t, mr.Set("unrelated", "x"))
	c.Get(ctx, "k1")
	c.Get(ctx, "nope")

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestNew_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = New(context.Background(), Options{Addr: addr}, nil)
	assert.Error(t, err)
}
