package dynamostore

import (
	"fmt"
	"sort"
	"time"

	"github.com/oggyb/cinematch/internal/model"
)

func toUserItem(u *model.User, version int64) userItem {
	it := userItem{
		UserID:        u.ID,
		Version:       version,
		DisplayName:   u.DisplayName,
		PhotoRef:      u.PhotoRef,
		Gender:        string(u.Gender),
		MatchGender:   string(u.MatchGender),
		Location:      u.Location,
		MatchLocation: string(u.MatchLocation),
	}
	for c, set := range u.Favorites {
		if len(set) == 0 {
			continue
		}
		if it.Favorites == nil {
			it.Favorites = make(map[string]map[string]title)
		}
		m := make(map[string]title, len(set))
		for id, t := range set {
			m[id] = title{Name: t.Name, PosterRef: t.PosterRef}
		}
		it.Favorites[string(c)] = m
	}
	if len(u.Matches) > 0 {
		it.MatchesData = make(map[string]matchData, len(u.Matches))
		for id, md := range u.Matches {
			it.Matches = append(it.Matches, id)
			it.MatchesData[id] = matchData{
				DisplayName: md.DisplayName,
				PhotoRef:    md.PhotoRef,
				Strength:    md.Strength,
				MatchedAt:   md.MatchedAt.UTC().Format(time.RFC3339Nano),
			}
		}
		sort.Strings(it.Matches)
	}
	return it
}

func fromUserItem(it userItem) *model.User {
	u := &model.User{
		ID:            it.UserID,
		DisplayName:   it.DisplayName,
		PhotoRef:      it.PhotoRef,
		Gender:        model.Gender(it.Gender),
		MatchGender:   model.MatchGender(it.MatchGender),
		Location:      it.Location,
		MatchLocation: model.MatchLocation(it.MatchLocation),
	}
	for c, set := range it.Favorites {
		for id, t := range set {
			u.AddFavorite(model.Title{Category: model.Category(c), ID: id, Name: t.Name, PosterRef: t.PosterRef})
		}
	}
	for _, id := range it.Matches {
		md := it.MatchesData[id]
		at, _ := time.Parse(time.RFC3339Nano, md.MatchedAt)
		u.PutMatch(id, model.MatchData{
			DisplayName: md.DisplayName,
			PhotoRef:    md.PhotoRef,
			Strength:    md.Strength,
			MatchedAt:   at,
		})
	}
	return u
}

func toQuotaItem(q model.UsageQuota, version int64) quotaItem {
	it := quotaItem{
		UserID:               q.UserID,
		Version:              version,
		IsPremium:            q.IsPremium,
		ChangesThisWeek:      q.ChangesThisWeek,
		MatchCount:           q.MatchCount,
		ChangeThreshold:      q.ChangeThreshold,
		MatchThreshold:       q.MatchThreshold,
		AvailableForMatching: q.AvailableForMatching,
		LastResetAt:          q.LastResetAt.UTC().Format(time.RFC3339Nano),
	}
	if q.CooldownStartedAt != nil {
		it.CooldownStartedAt = q.CooldownStartedAt.UTC().Format(time.RFC3339Nano)
	}
	return it
}

func fromQuotaItem(it quotaItem) (model.UsageQuota, error) {
	q := model.UsageQuota{
		UserID:               it.UserID,
		IsPremium:            it.IsPremium,
		ChangesThisWeek:      it.ChangesThisWeek,
		MatchCount:           it.MatchCount,
		ChangeThreshold:      it.ChangeThreshold,
		MatchThreshold:       it.MatchThreshold,
		AvailableForMatching: it.AvailableForMatching,
	}
	if it.LastResetAt != "" {
		t, err := time.Parse(time.RFC3339Nano, it.LastResetAt)
		if err != nil {
			return q, fmt.Errorf("bad lastResetAt for %s: %w", it.UserID, err)
		}
		q.LastResetAt = t
	}
	if it.CooldownStartedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, it.CooldownStartedAt)
		if err != nil {
			return q, fmt.Errorf("bad cooldownStartedAt for %s: %w", it.UserID, err)
		}
		q.CooldownStartedAt = &t
	}
	return q, nil
}
