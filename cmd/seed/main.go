package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/oggyb/cinematch/internal/app"
	"github.com/oggyb/cinematch/internal/backend"
	"github.com/oggyb/cinematch/internal/cache"
	"github.com/oggyb/cinematch/internal/config"
	"github.com/oggyb/cinematch/internal/db"
	"github.com/oggyb/cinematch/internal/favorites"
	"github.com/oggyb/cinematch/internal/logger"
	"github.com/oggyb/cinematch/internal/quotasvc"
)

func main() {
	var (
		users int
		reset bool
		seed  int64
	)
	flag.IntVar(&users, "users", 20, "number of demo users to create")
	flag.BoolVar(&reset, "reset", true, "clear existing rows first (gorm backend only)")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed for favorite selection")
	flag.Parse()

	// Load configuration
	cfg := config.New()
	logger.InitFromConfig(cfg, logger.ComponentSeed)
	ctx := context.Background()

	var redisCache *cache.RedisCache
	if cfg.Backend == config.BackendRedis {
		redisCache = cache.NewRedisCache(cfg)
	}

	be, err := backend.Open(ctx, cfg, redisCache)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	if reset && be.Gorm != nil {
		if err := db.ClearTables(be.Gorm); err != nil {
			log.Fatalf("failed to reset: %v", err)
		}
	}

	appCtx := app.New(cfg, be.Store, redisCache, logger.L())
	favs := favorites.New(appCtx, quotasvc.New(appCtx))

	if err := db.SeedDemoData(ctx, be.Store, favs, users, rand.New(rand.NewSource(seed))); err != nil {
		log.Fatalf("failed to seed: %v", err)
	}

	log.Println("Seeding completed.")
}
