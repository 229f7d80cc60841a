// Package backend opens the DataStore selected by configuration.
package backend

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/oggyb/cinematch/internal/cache"
	"github.com/oggyb/cinematch/internal/config"
	"github.com/oggyb/cinematch/internal/db"
	"github.com/oggyb/cinematch/internal/dynamostore"
	"github.com/oggyb/cinematch/internal/redisstore"
	"github.com/oggyb/cinematch/internal/repository"
	"github.com/oggyb/cinematch/internal/store"
)

// Backend is the opened persistence layer plus its readiness probe.
type Backend struct {
	Store store.DataStore
	// Gorm is set for the gorm backend only.
	Gorm *gorm.DB
	Ping func(ctx context.Context) error
}

// Open connects the DataStore selected by cfg.Backend.
func Open(ctx context.Context, cfg *config.Config, rdb *cache.RedisCache) (*Backend, error) {
	switch cfg.Backend {
	case config.BackendGorm:
		gdb, err := db.NewDB(cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		return &Backend{Store: repository.NewStore(gdb), Gorm: gdb, Ping: sqlDB.PingContext}, nil

	case config.BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis backend needs a redis connection")
		}
		return &Backend{Store: redisstore.New(rdb.Client), Ping: rdb.Ping}, nil

	case config.BackendDynamo:
		client, err := dynamostore.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		ds := dynamostore.New(client, dynamostore.Tables{
			Users:  cfg.Dynamo.UsersTable,
			Quotas: cfg.Dynamo.QuotasTable,
			Titles: cfg.Dynamo.TitlesTable,
		})
		return &Backend{Store: ds, Ping: ds.Ping}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
