package db_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oggyb/cinematch/internal/app"
	"github.com/oggyb/cinematch/internal/config"
	"github.com/oggyb/cinematch/internal/db"
	"github.com/oggyb/cinematch/internal/favorites"
	"github.com/oggyb/cinematch/internal/quotasvc"
	"github.com/oggyb/cinematch/internal/repository"
)

func TestSeedDemoData(t *testing.T) {
	ctx := context.Background()
	dbName := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	ds := repository.NewStore(gdb)
	appCtx := app.New(config.New(), ds, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	favs := favorites.New(appCtx, quotasvc.New(appCtx))

	require.NoError(t, db.SeedDemoData(ctx, ds, favs, 6, rand.New(rand.NewSource(1))))

	u, err := ds.GetUser(ctx, db.DemoUserID(1))
	require.NoError(t, err)
	assert.Equal(t, "user1", u.DisplayName)
	assert.GreaterOrEqual(t, len(u.FavoriteKeys()), 4)

	// every favorite is reachable through the title index
	for _, key := range u.FavoriteKeys() {
		members, err := ds.GetTitleIndex(ctx, key)
		require.NoError(t, err)
		assert.Contains(t, members, u.ID)
	}

	// ids are stable, so a reseed overwrites in place
	assert.Equal(t, db.DemoUserID(3), db.DemoUserID(3))
	require.NoError(t, db.SeedDemoData(ctx, ds, favs, 6, rand.New(rand.NewSource(1))))
	var users int64
	require.NoError(t, gdb.Model(&db.User{}).Count(&users).Error)
	assert.Equal(t, int64(6), users)

	require.NoError(t, db.ClearTables(gdb))
	require.NoError(t, gdb.Model(&db.User{}).Count(&users).Error)
	assert.Zero(t, users)
}
