package main

import (
	"context"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/oggyb/cinematch/internal/app"
	"github.com/oggyb/cinematch/internal/backend"
	"github.com/oggyb/cinematch/internal/cache"
	"github.com/oggyb/cinematch/internal/config"
	"github.com/oggyb/cinematch/internal/db"
	"github.com/oggyb/cinematch/internal/logger"
	"github.com/oggyb/cinematch/internal/matching"
	"github.com/oggyb/cinematch/internal/server"
	"github.com/oggyb/cinematch/internal/service/matchmaking"
	"github.com/oggyb/cinematch/internal/worker"
)

func main() {
	cfg := config.New()

	// Init logger (global singleton)
	log := logger.InitFromConfig(cfg, logger.ComponentServer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init Redis. It backs the status cache and, for the redis backend, the store.
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		redisCache = cache.NewRedisCache(cfg)
		if err := redisCache.Ping(ctx); err != nil {
			if cfg.Backend == config.BackendRedis {
				log.Error("failed to connect to redis", "err", err)
				return
			}
			log.Warn("redis unreachable, quota status cache disabled", "err", err)
			redisCache = nil
		}
	}

	// Init store
	be, err := backend.Open(ctx, cfg, redisCache)
	if err != nil {
		log.Error("failed to init store", "backend", cfg.Backend, "err", err)
		return
	}
	log.Info("store ready", "backend", cfg.Backend)

	// Inject logger into app context
	appCtx := app.New(cfg, be.Store, redisCache, log)

	registrar := matchmaking.NewRegistrar(appCtx)
	svc := registrar.Service()

	if cfg.IsDevelopment() {
		if be.Gorm != nil {
			if err := db.ClearTables(be.Gorm); err != nil {
				log.Error("failed to clear tables", "err", err)
			}
		}
		if err := db.SeedDemoData(ctx, be.Store, svc.Favorites(), 20, rand.New(rand.NewSource(time.Now().UnixNano()))); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	// Background cooldown sweeper; users coming out of cooldown get a
	// passive discovery pass when discovery-on-change is enabled.
	sweeper := worker.NewCooldownSweeper(appCtx, svc.Quotas())
	if cfg.Match.DiscoverOnFavorite {
		sweeper.OnExpired = func(ctx context.Context, userID string) {
			if _, err := svc.Engine().Discover(ctx, userID, matching.ModePassive); err != nil {
				log.Warn("post-cooldown discovery failed", "user", userID, "err", err)
			}
		}
	}
	go sweeper.Run(ctx)

	// Admin HTTP: probes, metrics, quota lookup
	pingers := map[string]server.Pinger{"store": be.Ping}
	if redisCache != nil {
		pingers["redis"] = redisCache.Ping
	}
	go func() {
		adminLog := logger.Subsystem(log, logger.SubsystemAdmin)
		adminLog.Info("starting admin server", "addr", cfg.Admin.Addr)
		if err := server.StartAdminServer(ctx, cfg.Admin.Addr, server.AdminRouter(svc.Quotas().Status, pingers)); err != nil {
			adminLog.Error("admin server stopped", "err", err)
		}
	}()

	addr := cfg.GRPC.Host + ":" + cfg.GRPC.Port
	log.Info("starting gRPC server", "addr", addr)

	if err := server.StartGRPCServer(ctx, cfg, logger.Subsystem(log, logger.SubsystemGRPC), registrar); err != nil {
		log.Error("failed to start gRPC server", "err", err)
	}
}
