package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/cinematch/internal/db"
	"github.com/oggyb/cinematch/internal/model"
	"github.com/oggyb/cinematch/internal/store"
)

// Store is the gorm implementation of store.DataStore.
//
// Concurrency:
//   - users and usage_quotas carry a version column; writes are
//     "UPDATE ... WHERE version = ?" and zero affected rows means a concurrent
//     writer won, reported as store.ErrContention.
//   - the title index is one row per (title, user), so membership changes are
//     single-row inserts/deletes.
type Store struct {
	db *gorm.DB
}

var _ store.DataStore = (*Store)(nil)

// NewStore creates a store bound to the given DB connection.
func NewStore(database *gorm.DB) *Store {
	return &Store{db: database}
}

// GetUser loads a user with both favorite sets and matches.
func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	u, _, err := loadUser(s.db.WithContext(ctx), userID)
	return u, err
}

// PutUser upserts profile columns only.
//
// Behavior:
//   - New user → row inserted with version 0.
//   - Existing user → profile columns overwritten, favorites/matches untouched.
func (s *Store) PutUser(ctx context.Context, u *model.User) error {
	row := userRow(u)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "photo_ref", "gender", "match_gender", "location", "match_location", "updated_at",
			}),
		}).
		Create(&row).Error
}

// GetQuota returns the stored quota, found=false if the user has none yet.
func (s *Store) GetQuota(ctx context.Context, userID string) (model.UsageQuota, bool, error) {
	q, _, found, err := loadQuota(s.db.WithContext(ctx), userID)
	return q, found, err
}

// TransactionalUpdate runs every mutation inside one gorm transaction.
func (s *Store) TransactionalUpdate(ctx context.Context, muts ...store.Mutation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range muts {
			var err error
			switch m := m.(type) {
			case store.UserMutation:
				err = applyUser(tx, m)
			case store.QuotaMutation:
				err = applyQuota(tx, m)
			case store.IndexMutation:
				err = applyIndex(tx, m)
			default:
				err = fmt.Errorf("unknown mutation %T", m)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ArrayUnion adds value to the set. Only titles.users is supported.
func (s *Store) ArrayUnion(ctx context.Context, collection, id, field, value string) error {
	if err := store.CheckSetTarget(collection, field); err != nil {
		return err
	}
	return applyIndex(s.db.WithContext(ctx), store.IndexMutation{TitleKey: id, UserID: value})
}

// ArrayRemove removes value from the set. Only titles.users is supported.
func (s *Store) ArrayRemove(ctx context.Context, collection, id, field, value string) error {
	if err := store.CheckSetTarget(collection, field); err != nil {
		return err
	}
	return applyIndex(s.db.WithContext(ctx), store.IndexMutation{TitleKey: id, UserID: value, Remove: true})
}

// GetTitleIndex returns the members of a title's favorite index, ordered by
// user id. Missing titles yield an empty slice.
func (s *Store) GetTitleIndex(ctx context.Context, titleKey string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&db.TitleFavorite{}).
		Where("title_key = ?", titleKey).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// ListCooldownUsers returns users whose quota is flagged unavailable.
func (s *Store) ListCooldownUsers(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&db.UsageQuota{}).
		Where("available_for_matching = ?", false).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

func loadUser(tx *gorm.DB, userID string) (*model.User, uint64, error) {
	var row db.User
	if err := tx.Where("id = ?", userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
		}
		return nil, 0, err
	}

	var favs []db.Favorite
	if err := tx.Where("user_id = ?", userID).Find(&favs).Error; err != nil {
		return nil, 0, err
	}
	var matches []db.Match
	if err := tx.Where("user_id = ?", userID).Find(&matches).Error; err != nil {
		return nil, 0, err
	}

	u := &model.User{
		ID:            row.ID,
		DisplayName:   row.DisplayName,
		PhotoRef:      row.PhotoRef,
		Gender:        model.Gender(row.Gender),
		MatchGender:   model.MatchGender(row.MatchGender),
		Location:      row.Location,
		MatchLocation: model.MatchLocation(row.MatchLocation),
	}
	for _, f := range favs {
		u.AddFavorite(model.Title{Category: model.Category(f.Category), ID: f.TitleID, Name: f.Name, PosterRef: f.PosterRef})
	}
	for _, m := range matches {
		if u.Matches == nil {
			u.Matches = make(map[string]model.MatchData, len(matches))
		}
		u.Matches[m.MatchUserID] = model.MatchData{
			DisplayName: m.DisplayName,
			PhotoRef:    m.PhotoRef,
			Strength:    m.Strength,
			MatchedAt:   m.MatchedAt,
		}
	}
	return u, row.Version, nil
}

// applyUser loads the user, runs the mutation on a copy and writes back only
// the rows that differ.
func applyUser(tx *gorm.DB, m store.UserMutation) error {
	before, version, err := loadUser(tx, m.UserID)
	if err != nil {
		return err
	}
	after := before.Clone()
	if err := m.Fn(after); err != nil {
		return err
	}

	dirty := !before.SameProfile(after)

	for _, c := range model.Categories {
		for id, t := range after.Favorites[c] {
			if prev, ok := before.Favorites[c][id]; ok && prev == t {
				continue
			}
			dirty = true
			row := db.Favorite{UserID: m.UserID, Category: string(c), TitleID: id, Name: t.Name, PosterRef: t.PosterRef}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		for id := range before.Favorites[c] {
			if after.HasFavorite(c, id) {
				continue
			}
			dirty = true
			if err := tx.Where("user_id = ? AND category = ? AND title_id = ?", m.UserID, string(c), id).
				Delete(&db.Favorite{}).Error; err != nil {
				return err
			}
		}
	}

	for other, data := range after.Matches {
		if prev, ok := before.Matches[other]; ok && prev == data {
			continue
		}
		dirty = true
		row := db.Match{
			UserID:      m.UserID,
			MatchUserID: other,
			DisplayName: data.DisplayName,
			PhotoRef:    data.PhotoRef,
			Strength:    data.Strength,
			MatchedAt:   data.MatchedAt,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
	}
	for other := range before.Matches {
		if after.IsMatchedWith(other) {
			continue
		}
		dirty = true
		if err := tx.Where("user_id = ? AND match_user_id = ?", m.UserID, other).Delete(&db.Match{}).Error; err != nil {
			return err
		}
	}

	if !dirty {
		return nil
	}

	res := tx.Model(&db.User{}).
		Where("id = ? AND version = ?", m.UserID, version).
		Updates(map[string]any{
			"display_name":   after.DisplayName,
			"photo_ref":      after.PhotoRef,
			"gender":         string(after.Gender),
			"match_gender":   string(after.MatchGender),
			"location":       after.Location,
			"match_location": string(after.MatchLocation),
			"version":        version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", m.UserID, store.ErrContention)
	}
	return nil
}

func loadQuota(tx *gorm.DB, userID string) (model.UsageQuota, uint64, bool, error) {
	var row db.UsageQuota
	err := tx.Where("user_id = ?", userID).Limit(1).Find(&row).Error
	if err != nil {
		return model.UsageQuota{}, 0, false, err
	}
	if row.UserID == "" {
		return model.UsageQuota{UserID: userID}, 0, false, nil
	}
	return model.UsageQuota{
		UserID:               row.UserID,
		IsPremium:            row.IsPremium,
		ChangesThisWeek:      row.ChangesThisWeek,
		MatchCount:           row.MatchCount,
		ChangeThreshold:      row.ChangeThreshold,
		MatchThreshold:       row.MatchThreshold,
		CooldownStartedAt:    row.CooldownStartedAt,
		AvailableForMatching: row.AvailableForMatching,
		LastResetAt:          row.LastResetAt,
	}, row.Version, true, nil
}

func applyQuota(tx *gorm.DB, m store.QuotaMutation) error {
	q, version, found, err := loadQuota(tx, m.UserID)
	if err != nil {
		return err
	}
	before := q.Clone()
	if err := m.Fn(&q, found); err != nil {
		return err
	}
	q.UserID = m.UserID

	if !found {
		row := quotaRow(q)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("quota %s: %w", m.UserID, store.ErrContention)
		}
		return nil
	}
	if before.Equal(q) {
		return nil
	}

	res := tx.Model(&db.UsageQuota{}).
		Where("user_id = ? AND version = ?", m.UserID, version).
		Updates(map[string]any{
			"is_premium":             q.IsPremium,
			"changes_this_week":      q.ChangesThisWeek,
			"match_count":            q.MatchCount,
			"change_threshold":       q.ChangeThreshold,
			"match_threshold":        q.MatchThreshold,
			"cooldown_started_at":    q.CooldownStartedAt,
			"available_for_matching": q.AvailableForMatching,
			"last_reset_at":          q.LastResetAt,
			"version":                version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("quota %s: %w", m.UserID, store.ErrContention)
	}
	return nil
}

func applyIndex(tx *gorm.DB, m store.IndexMutation) error {
	if m.Remove {
		return tx.Where("title_key = ? AND user_id = ?", m.TitleKey, m.UserID).Delete(&db.TitleFavorite{}).Error
	}
	row := db.TitleFavorite{TitleKey: m.TitleKey, UserID: m.UserID}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func userRow(u *model.User) db.User {
	return db.User{
		ID:            u.ID,
		DisplayName:   u.DisplayName,
		PhotoRef:      u.PhotoRef,
		Gender:        string(u.Gender),
		MatchGender:   string(u.MatchGender),
		Location:      u.Location,
		MatchLocation: string(u.MatchLocation),
	}
}

func quotaRow(q model.UsageQuota) db.UsageQuota {
	return db.UsageQuota{
		UserID:               q.UserID,
		IsPremium:            q.IsPremium,
		ChangesThisWeek:      q.ChangesThisWeek,
		MatchCount:           q.MatchCount,
		ChangeThreshold:      q.ChangeThreshold,
		MatchThreshold:       q.MatchThreshold,
		CooldownStartedAt:    q.CooldownStartedAt,
		AvailableForMatching: q.AvailableForMatching,
		LastResetAt:          q.LastResetAt,
	}
}
