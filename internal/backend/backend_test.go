package backend_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/cinematch/internal/backend"
	"github.com/oggyb/cinematch/internal/cache"
	"github.com/oggyb/cinematch/internal/config"
	"github.com/oggyb/cinematch/internal/model"
	"github.com/oggyb/cinematch/internal/store"
)

func TestOpenRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := config.New()
	cfg.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()
	rc := cache.NewRedisCache(cfg)

	b, err := backend.Open(ctx, cfg, rc)
	require.NoError(t, err)
	require.NoError(t, b.Ping(ctx))
	assert.Nil(t, b.Gorm)

	require.NoError(t, b.Store.PutUser(ctx, &model.User{ID: "u1", DisplayName: "Ana"}))
	u, err := b.Store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.DisplayName)

	_, err = b.Store.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	cfg := config.New()

	cfg.Backend = config.BackendRedis
	_, err := backend.Open(ctx, cfg, nil)
	assert.Error(t, err)

	cfg.Backend = "cassandra"
	_, err = backend.Open(ctx, cfg, nil)
	assert.ErrorContains(t, err, "unknown store backend")
}
