// Package favorites keeps a user's favorite sets and the per-title favorite
// index in lockstep. Both sides change in the same transaction and index
// membership uses the store's atomic set primitive.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oggyb/cinematch/internal/app"
	"github.com/oggyb/cinematch/internal/model"
	"github.com/oggyb/cinematch/internal/quota"
	"github.com/oggyb/cinematch/internal/quotasvc"
	"github.com/oggyb/cinematch/internal/store"
)

// ErrInvalidTitle is returned for titles with an unknown category or no id.
var ErrInvalidTitle = errors.New("invalid title")

var errNotFavorite = errors.New("title is not a favorite")

type Index struct {
	appCtx *app.AppContext
	quotas *quotasvc.Service
}

func New(appCtx *app.AppContext, quotas *quotasvc.Service) *Index {
	return &Index{appCtx: appCtx, quotas: quotas}
}

type AddResult struct {
	// Added is false when the title was already a favorite; its cached
	// metadata is refreshed either way.
	Added bool
}

type RemoveResult struct {
	Allowed    bool
	Reason     quota.Reason
	RetryAfter time.Duration
	// Removed is false for a title that was not a favorite. Nothing is
	// consumed in that case.
	Removed          bool
	RemainingChanges int
}

// Add puts title into the user's favorites. Adding is never quota gated.
func (x *Index) Add(ctx context.Context, userID string, t model.Title) (AddResult, error) {
	if !t.Category.Valid() || t.ID == "" {
		return AddResult{}, fmt.Errorf("%w: %q/%q", ErrInvalidTitle, t.Category, t.ID)
	}

	var res AddResult
	err := x.quotas.Transact(ctx, func() []store.Mutation {
		res = AddResult{}
		return []store.Mutation{
			store.MutateUser(userID, func(u *model.User) error {
				res.Added = u.AddFavorite(t)
				return nil
			}),
			store.IndexAdd(t.Key(), userID),
		}
	})
	if err != nil {
		return AddResult{}, err
	}
	x.appCtx.Logger.Debug("favorite added", "user", userID, "title", t.Key(), "new", res.Added)
	return res, nil
}

// Remove drops a favorite. It consumes one change unit and is refused while
// the user is out of changes or cooling down.
func (x *Index) Remove(ctx context.Context, userID string, c model.Category, titleID string) (RemoveResult, error) {
	if !c.Valid() || titleID == "" {
		return RemoveResult{}, fmt.Errorf("%w: %q/%q", ErrInvalidTitle, c, titleID)
	}

	u, err := x.appCtx.Store.GetUser(ctx, userID)
	if err != nil {
		return RemoveResult{}, err
	}
	if !u.HasFavorite(c, titleID) {
		return x.noopRemove(ctx, userID)
	}

	key := model.TitleKey(c, titleID)
	out, err := x.quotas.Apply(ctx, userID, quota.KindChange,
		store.MutateUser(userID, func(u *model.User) error {
			if !u.RemoveFavorite(c, titleID) {
				return errNotFavorite
			}
			return nil
		}),
		store.IndexRemove(key, userID),
	)
	switch {
	case errors.Is(err, errNotFavorite):
		// removed concurrently by another session
		return x.noopRemove(ctx, userID)
	case err != nil:
		return RemoveResult{}, err
	}

	res := RemoveResult{
		Allowed:    out.Allowed,
		Reason:     out.Reason,
		RetryAfter: out.RetryAfter,
		Removed:    out.Allowed,
	}
	if out.Allowed {
		res.RemainingChanges = out.Remaining
		x.appCtx.Logger.Debug("favorite removed", "user", userID, "title", key, "remaining", out.Remaining)
	}
	return res, nil
}

// noopRemove answers a removal that changes nothing. It consumes no unit
// and reports the allowance the user still has.
func (x *Index) noopRemove(ctx context.Context, userID string) (RemoveResult, error) {
	d, err := x.quotas.Check(ctx, userID, quota.KindChange)
	if err != nil {
		return RemoveResult{}, err
	}
	return RemoveResult{Allowed: true, RemainingChanges: d.Remaining}, nil
}

// Candidates counts, per other user, how many of u's favorites they share.
// Users already matched with u and u itself are never candidates. Missing
// index entries count as empty.
func (x *Index) Candidates(ctx context.Context, u *model.User) (map[string]int, error) {
	counts := make(map[string]int)
	for _, key := range u.FavoriteKeys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		members, err := x.appCtx.Store.GetTitleIndex(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read index %s: %w", key, err)
		}
		for _, id := range members {
			if id == u.ID || u.IsMatchedWith(id) {
				continue
			}
			counts[id]++
		}
	}
	return counts, nil
}

// SharedCount returns how many favorites a and b have in common.
func SharedCount(a, b *model.User) int {
	n := 0
	for c, set := range a.Favorites {
		for id := range set {
			if b.HasFavorite(c, id) {
				n++
			}
		}
	}
	return n
}

// Reindex re-asserts the user's membership in the index of every favorite.
// Set-add is idempotent, so this is safe to run at any time.
func (x *Index) Reindex(ctx context.Context, userID string) (int, error) {
	u, err := x.appCtx.Store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	keys := u.FavoriteKeys()
	for _, key := range keys {
		if err := x.appCtx.Store.ArrayUnion(ctx, store.CollectionTitles, key, store.FieldUsers, userID); err != nil {
			return 0, fmt.Errorf("failed to reindex %s: %w", key, err)
		}
	}
	return len(keys), nil
}
