package favorites_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oggyb/cinematch/internal/app"
	"github.com/oggyb/cinematch/internal/config"
	"github.com/oggyb/cinematch/internal/db"
	"github.com/oggyb/cinematch/internal/favorites"
	"github.com/oggyb/cinematch/internal/model"
	"github.com/oggyb/cinematch/internal/quota"
	"github.com/oggyb/cinematch/internal/quotasvc"
	"github.com/oggyb/cinematch/internal/repository"
	"github.com/oggyb/cinematch/internal/store"
)

// setupIndex spins up an in-memory SQLite store and wires the index on it.
// Each test gets its own isolated DB.
func setupIndex(t *testing.T) (*favorites.Index, store.DataStore) {
	t.Helper()
	dbName := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	cfg := config.New()
	cfg.Quota.ChangeThreshold = 2
	cfg.Quota.Cooldown = 120 * time.Second
	cfg.Tx.BackoffInitial = time.Millisecond

	ds := repository.NewStore(gdb)
	appCtx := app.New(cfg, ds, nil, slog.New(slog.NewTextHandler(io.Discard, nil))) // discard logs in tests
	return favorites.New(appCtx, quotasvc.New(appCtx)), ds
}

func movie(id string) model.Title {
	return model.Title{Category: model.CategoryMovie, ID: id, Name: "movie " + id}
}

func TestAddUpdatesUserAndIndex(t *testing.T) {
	ctx := context.Background()
	idx, ds := setupIndex(t)
	require.NoError(t, ds.PutUser(ctx, &model.User{ID: "a"}))

	res, err := idx.Add(ctx, "a", movie("1"))
	require.NoError(t, err)
	assert.True(t, res.Added)

	res, err = idx.Add(ctx, "a", movie("1"))
	require.NoError(t, err)
	assert.False(t, res.Added)

	// same id in the other category is a different title
	_, err = idx.Add(ctx, "a", model.Title{Category: model.CategoryTV, ID: "1", Name: "show 1"})
	require.NoError(t, err)

	u, err := ds.GetUser(ctx, "a")
	require.NoError(t, err)
	assert.True(t, u.HasFavorite(model.CategoryMovie, "1"))
	assert.True(t, u.HasFavorite(model.CategoryTV, "1"))

	for _, key := range []string{"movie:1", "tv:1"} {
		members, err := ds.GetTitleIndex(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, members, key)
	}

	// adding never touches the quota
	_, found, err := ds.GetQuota(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAddRejectsInvalidTitle(t *testing.T) {
	idx, _ := setupIndex(t)

	_, err := idx.Add(context.Background(), "a", model.Title{Category: "book", ID: "1"})
	assert.ErrorIs(t, err, favorites.ErrInvalidTitle)

	_, err = idx.Add(context.Background(), "a", model.Title{Category: model.CategoryMovie})
	assert.ErrorIs(t, err, favorites.ErrInvalidTitle)
}

func TestAddUnknownUser(t *testing.T) {
	ctx := context.Background()
	idx, ds := setupIndex(t)

	_, err := idx.Add(ctx, "ghost", movie("1"))
	require.ErrorIs(t, err, store.ErrNotFound)

	members, err := ds.GetTitleIndex(ctx, "movie:1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRemoveIsQuotaGated(t *testing.T) {
	ctx := context.Background()
	idx, ds := setupIndex(t)
	require.NoError(t, ds.PutUser(ctx, &model.User{ID: "a"}))
	for _, id := range []string{"1", "2", "3"} {
		_, err := idx.Add(ctx, "a", movie(id))
		require.NoError(t, err)
	}

	res, err := idx.Remove(ctx, "a", model.CategoryMovie, "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Removed)
	assert.Equal(t, 1, res.RemainingChanges)

	res, err = idx.Remove(ctx, "a", model.CategoryMovie, "2")
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Equal(t, 0, res.RemainingChanges)

	// third change is refused and nothing moves
	res, err = idx.Remove(ctx, "a", model.CategoryMovie, "3")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.False(t, res.Removed)
	assert.Equal(t, quota.ReasonLimitReached, res.Reason)
	assert.Equal(t, 120*time.Second, res.RetryAfter.Round(time.Second))

	u, err := ds.GetUser(ctx, "a")
	require.NoError(t, err)
	assert.True(t, u.HasFavorite(model.CategoryMovie, "3"))
	assert.False(t, u.HasFavorite(model.CategoryMovie, "1"))

	members, err := ds.GetTitleIndex(ctx, "movie:3")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)
	members, err = ds.GetTitleIndex(ctx, "movie:1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRemoveAbsentTitleConsumesNothing(t *testing.T) {
	ctx := context.Background()
	idx, ds := setupIndex(t)
	require.NoError(t, ds.PutUser(ctx, &model.User{ID: "a"}))

	res, err := idx.Remove(ctx, "a", model.CategoryTV, "99")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.False(t, res.Removed)
	// the untouched allowance is reported, not zero
	assert.Equal(t, 2, res.RemainingChanges)

	_, found, err := ds.GetQuota(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemoveAbsentTitleReportsAllowance(t *testing.T) {
	ctx := context.Background()
	idx, ds := setupIndex(t)
	require.NoError(t, ds.PutUser(ctx, &model.User{ID: "a"}))
	for _, id := range []string{"1", "2"} {
		_, err := idx.Add(ctx, "a", movie(id))
		require.NoError(t, err)
	}

	_, err := idx.Remove(ctx, "a", model.CategoryMovie, "1")
	require.NoError(t, err)

	res, err := idx.Remove(ctx, "a", model.CategoryMovie, "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.False(t, res.Removed)
	assert.Equal(t, 1, res.RemainingChanges)

	// in cooldown the no-op still succeeds and reports nothing left
	_, err = idx.Remove(ctx, "a", model.CategoryMovie, "2")
	require.NoError(t, err)
	res, err = idx.Remove(ctx, "a", model.CategoryMovie, "2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.RemainingChanges)

	q, _, err := ds.GetQuota(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, q.ChangesThisWeek)
}

func TestCandidatesCountsSharedFavorites(t *testing.T) {
	ctx := context.Background()
	idx, ds := setupIndex(t)

	favs := map[string][]string{
		"a": {"1", "2", "3"},
		"b": {"1", "2", "3"},
		"c": {"2"},
		"d": {"1", "3"},
		"e": {"7"},
	}
	for id, titles := range favs {
		require.NoError(t, ds.PutUser(ctx, &model.User{ID: id}))
		for _, tid := range titles {
			_, err := idx.Add(ctx, id, movie(tid))
			require.NoError(t, err)
		}
	}
	require.NoError(t, ds.TransactionalUpdate(ctx, store.MutateUser("a", func(u *model.User) error {
		u.PutMatch("d", model.MatchData{DisplayName: "d", Strength: 2})
		return nil
	})))

	a, err := ds.GetUser(ctx, "a")
	require.NoError(t, err)
	counts, err := idx.Candidates(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"b": 3, "c": 1}, counts)

	// no favorites, no candidates
	lonely := &model.User{ID: "z"}
	counts, err = idx.Candidates(ctx, lonely)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestReindexRestoresMembership(t *testing.T) {
	ctx := context.Background()
	idx, ds := setupIndex(t)
	require.NoError(t, ds.PutUser(ctx, &model.User{ID: "a"}))
	_, err := idx.Add(ctx, "a", movie("5"))
	require.NoError(t, err)

	require.NoError(t, ds.ArrayRemove(ctx, store.CollectionTitles, "movie:5", store.FieldUsers, "a"))

	n, err := idx.Reindex(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	members, err := ds.GetTitleIndex(ctx, "movie:5")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)
}

func TestSharedCount(t *testing.T) {
	a := &model.User{ID: "a"}
	b := &model.User{ID: "b"}
	a.AddFavorite(movie("1"))
	a.AddFavorite(movie("2"))
	a.AddFavorite(model.Title{Category: model.CategoryTV, ID: "2"})
	b.AddFavorite(movie("2"))
	b.AddFavorite(model.Title{Category: model.CategoryTV, ID: "2"})

	assert.Equal(t, 2, favorites.SharedCount(a, b))
	assert.Equal(t, 2, favorites.SharedCount(b, a))
}
