package app

import (
	"log/slog"
	"time"

	"github.com/oggyb/cinematch/internal/cache"
	"github.com/oggyb/cinematch/internal/config"
	"github.com/oggyb/cinematch/internal/store"
)

// AppContext holds shared dependencies (Store, Redis, Logger, etc.)
type AppContext struct {
	Config     *config.Config
	Store      store.DataStore
	RedisCache *cache.RedisCache // optional; nil disables the status cache
	Logger     *slog.Logger

	// Now is the server clock. Quota timestamps are only ever taken from it.
	Now func() time.Time
}

// New creates a new AppContext
func New(cfg *config.Config, ds store.DataStore, rdb *cache.RedisCache, logger *slog.Logger) *AppContext {
	return &AppContext{
		Config:     cfg,
		Store:      ds,
		RedisCache: rdb,
		Logger:     logger,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}
