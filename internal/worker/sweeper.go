// Package worker runs background maintenance loops.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oggyb/cinematch/internal/app"
	"github.com/oggyb/cinematch/internal/logger"
	"github.com/oggyb/cinematch/internal/metrics"
	"github.com/oggyb/cinematch/internal/quotasvc"
)

const defaultSweepConcurrency = 8

// CooldownSweeper periodically persists cooldown expiry for users flagged
// unavailable. It uses the same refresh as the lazy read path, so whichever
// runs first wins and the other is a no-op.
type CooldownSweeper struct {
	appCtx      *app.AppContext
	quotas      *quotasvc.Service
	log         *slog.Logger
	interval    time.Duration
	concurrency int

	// OnExpired, when set, runs for every user whose cooldown was expired by
	// a sweep.
	OnExpired func(ctx context.Context, userID string)
}

func NewCooldownSweeper(appCtx *app.AppContext, quotas *quotasvc.Service) *CooldownSweeper {
	return &CooldownSweeper{
		appCtx:      appCtx,
		quotas:      quotas,
		log:         logger.Subsystem(appCtx.Logger, logger.SubsystemSweeper),
		interval:    appCtx.Config.Quota.SweepInterval,
		concurrency: defaultSweepConcurrency,
	}
}

// Run sweeps every interval until ctx is done.
func (w *CooldownSweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info("cooldown sweeper disabled")
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("cooldown sweeper started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("cooldown sweeper stopped")
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				w.log.Error("cooldown sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce refreshes every user currently flagged unavailable and returns
// how many of them became available again.
func (w *CooldownSweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	ids, err := w.appCtx.Store.ListCooldownUsers(ctx)
	if err != nil {
		return 0, err
	}

	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			changed, err := w.quotas.Refresh(gctx, id)
			if err != nil {
				// one bad record must not stop the sweep
				w.log.Warn("cooldown refresh failed", "user", id, "err", err)
				return nil
			}
			if !changed {
				return nil
			}
			expired.Add(1)
			if w.OnExpired != nil {
				w.OnExpired(gctx, id)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(expired.Load()), err
	}

	n := int(expired.Load())
	metrics.RecordSweep(n, time.Since(start))
	if n > 0 {
		w.log.Info("cooldowns expired", "count", n, "scanned", len(ids))
	}
	return n, ctx.Err()
}
