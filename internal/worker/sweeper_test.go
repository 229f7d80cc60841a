package worker_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/cinematch/internal/app"
	"github.com/oggyb/cinematch/internal/config"
	"github.com/oggyb/cinematch/internal/logger"
	"github.com/oggyb/cinematch/internal/quota"
	"github.com/oggyb/cinematch/internal/quotasvc"
	"github.com/oggyb/cinematch/internal/redisstore"
	"github.com/oggyb/cinematch/internal/worker"
)

func TestSweepOnceExpiresElapsedCooldowns(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := config.New()
	cfg.Quota.ChangeThreshold = 1
	cfg.Quota.Cooldown = 120 * time.Second
	cfg.Tx.BackoffInitial = time.Millisecond

	var mu sync.Mutex
	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	appCtx := app.New(cfg, redisstore.New(rdb), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	appCtx.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	quotas := quotasvc.New(appCtx)

	// u1 and u2 cool down now, u3 a minute later
	for _, id := range []string{"u1", "u2"} {
		out, err := quotas.Apply(ctx, id, quota.KindChange)
		require.NoError(t, err)
		require.True(t, out.CooldownStarted)
	}
	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()
	_, err = quotas.Apply(ctx, "u3", quota.KindChange)
	require.NoError(t, err)

	var (
		hookMu sync.Mutex
		hooked []string
	)
	sweeper := worker.NewCooldownSweeper(appCtx, quotas)
	sweeper.OnExpired = func(_ context.Context, userID string) {
		hookMu.Lock()
		defer hookMu.Unlock()
		hooked = append(hooked, userID)
	}

	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mu.Lock()
	now = now.Add(90 * time.Second)
	mu.Unlock()

	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	sort.Strings(hooked)
	assert.Equal(t, []string{"u1", "u2"}, hooked)

	ids, err := appCtx.Store.ListCooldownUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, ids)

	// the lazy path agrees with the sweeper
	d, err := quotas.Check(ctx, "u1", quota.KindChange)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRunStopsOnCancel(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := config.New()
	cfg.Quota.SweepInterval = 5 * time.Millisecond
	appCtx := app.New(cfg, redisstore.New(rdb), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sweeper := worker.NewCooldownSweeper(appCtx, quotasvc.New(appCtx))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepLogsUnderSweeperSubsystem(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := config.New()
	cfg.Quota.ChangeThreshold = 1
	cfg.Quota.Cooldown = time.Minute
	cfg.Tx.BackoffInitial = time.Millisecond

	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "info", Component: logger.ComponentServer, Output: &buf})

	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	appCtx := app.New(cfg, redisstore.New(rdb), nil, log)
	appCtx.Now = func() time.Time { return now }
	quotas := quotasvc.New(appCtx)

	_, err = quotas.Apply(ctx, "u1", quota.KindChange)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)

	n, err := worker.NewCooldownSweeper(appCtx, quotas).SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	out := buf.String()
	assert.Contains(t, out, "cooldowns expired")
	assert.Contains(t, out, "subsystem="+logger.SubsystemSweeper)
	assert.Contains(t, out, "component="+logger.ComponentServer)
}
