package db

import (
	"time"
)

// User table. Favorites and matches live in their own tables keyed by user.
//
// Version is bumped by every transactional write touching the user and is
// the optimistic concurrency guard of the gorm store.
type User struct {
	ID            string `gorm:"primaryKey;size:64"`
	DisplayName   string `gorm:"size:128;not null"`
	PhotoRef      string `gorm:"size:512"`
	Gender        string `gorm:"size:16;not null"`
	MatchGender   string `gorm:"size:16;not null"`
	Location      string `gorm:"size:128"`
	MatchLocation string `gorm:"size:16;not null"`
	Version       uint64 `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Favorite is one title in a user's favorite set for a category.
//
// Composite PK: (UserID, Category, TitleID)
//   - A title appears at most once per user per category.
type Favorite struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Category  string `gorm:"primaryKey;size:16"`
	TitleID   string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255;not null"`
	PosterRef string `gorm:"size:512"`
	CreatedAt time.Time
}

// TitleFavorite is the title → user favorite index. One row per member, so
// adding or removing a member is a single-row insert or delete and never a
// read-modify-write of the whole set.
//
// Composite PK: (TitleKey, UserID)
//   - TitleKey is "<category>:<title id>".
type TitleFavorite struct {
	TitleKey  string `gorm:"primaryKey;size:96"`
	UserID    string `gorm:"primaryKey;size:64;index"`
	CreatedAt time.Time
}

// Match is one side of a reciprocal match. Every match is stored twice,
// once per participant.
//
// Composite PK: (UserID, MatchUserID)
type Match struct {
	UserID      string `gorm:"primaryKey;size:64"`
	MatchUserID string `gorm:"primaryKey;size:64"`
	DisplayName string `gorm:"size:128"`
	PhotoRef    string `gorm:"size:512"`
	Strength    int    `gorm:"not null"`
	MatchedAt   time.Time
	UpdatedAt   time.Time
}

// UsageQuota mirrors model.UsageQuota, plus the optimistic lock version.
//
// Indexes:
//   - idx_quota_available(available_for_matching) feeds the cooldown sweeper.
type UsageQuota struct {
	UserID               string `gorm:"primaryKey;size:64"`
	IsPremium            bool   `gorm:"not null"`
	ChangesThisWeek      int    `gorm:"not null"`
	MatchCount           int    `gorm:"not null"`
	ChangeThreshold      int    `gorm:"not null"`
	MatchThreshold       int    `gorm:"not null"`
	CooldownStartedAt    *time.Time
	AvailableForMatching bool      `gorm:"not null;index:idx_quota_available"`
	LastResetAt          time.Time `gorm:"not null"`
	Version              uint64    `gorm:"not null"`
	UpdatedAt            time.Time
}

// Models lists every table, in migration order.
func Models() []any {
	return []any{&User{}, &Favorite{}, &TitleFavorite{}, &Match{}, &UsageQuota{}}
}
