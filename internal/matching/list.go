package matching

import (
	"context"
	"sort"

	"github.com/oggyb/cinematch/internal/utils/pagination"
)

// ListMatches returns the user's matches newest first (ties by user id),
// starting after cursor. next is nil on the last page.
func (e *Engine) ListMatches(ctx context.Context, userID string, cursor pagination.Cursor, limit int) ([]Match, *pagination.Cursor, error) {
	u, err := e.appCtx.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	all := make([]Match, 0, len(u.Matches))
	for id, md := range u.Matches {
		all = append(all, Match{
			UserID:      id,
			DisplayName: md.DisplayName,
			PhotoRef:    md.PhotoRef,
			Strength:    md.Strength,
			MatchedAt:   md.MatchedAt,
		})
	}
	sort.Slice(all, func(i, j int) bool {
		mi, mj := all[i].MatchedAt.UnixMilli(), all[j].MatchedAt.UnixMilli()
		if mi != mj {
			return mi > mj
		}
		return all[i].UserID < all[j].UserID
	})

	startIdx := 0
	if !cursor.IsZero() {
		startIdx = sort.Search(len(all), func(i int) bool {
			ms := all[i].MatchedAt.UnixMilli()
			if ms != cursor.MatchedUnix {
				return ms < cursor.MatchedUnix
			}
			return all[i].UserID > cursor.UserID
		})
	}

	page := all[startIdx:]
	if limit <= 0 || len(page) <= limit {
		return page, nil, nil
	}
	page = page[:limit]
	last := page[len(page)-1]
	return page, &pagination.Cursor{UserID: last.UserID, MatchedUnix: last.MatchedAt.UnixMilli()}, nil
}
