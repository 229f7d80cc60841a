package model

import "time"

// UsageQuota is a user's weekly change/match allowance and cooldown window.
// One record per user, created with defaults on first access.
type UsageQuota struct {
	UserID               string     `json:"user_id"`
	IsPremium            bool       `json:"is_premium"`
	ChangesThisWeek      int        `json:"changes_this_week"`
	MatchCount           int        `json:"match_count"`
	ChangeThreshold      int        `json:"change_threshold"`
	MatchThreshold       int        `json:"match_threshold"`
	CooldownStartedAt    *time.Time `json:"cooldown_started_at,omitempty"`
	AvailableForMatching bool       `json:"available_for_matching"`
	LastResetAt          time.Time  `json:"last_reset_at"`
}

// Clone returns a copy that does not share the cooldown timestamp.
func (q UsageQuota) Clone() UsageQuota {
	if q.CooldownStartedAt != nil {
		t := *q.CooldownStartedAt
		q.CooldownStartedAt = &t
	}
	return q
}

// Equal compares every field, timestamps by instant.
func (q UsageQuota) Equal(o UsageQuota) bool {
	sameCooldown := (q.CooldownStartedAt == nil) == (o.CooldownStartedAt == nil) &&
		(q.CooldownStartedAt == nil || q.CooldownStartedAt.Equal(*o.CooldownStartedAt))
	return sameCooldown &&
		q.UserID == o.UserID &&
		q.IsPremium == o.IsPremium &&
		q.ChangesThisWeek == o.ChangesThisWeek &&
		q.MatchCount == o.MatchCount &&
		q.ChangeThreshold == o.ChangeThreshold &&
		q.MatchThreshold == o.MatchThreshold &&
		q.AvailableForMatching == o.AvailableForMatching &&
		q.LastResetAt.Equal(o.LastResetAt)
}
