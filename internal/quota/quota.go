// Package quota implements the usage quota state machine: weekly change and
// match counters, the cooldown window they trigger, and the premium bypass.
//
// Everything here is pure. Callers pass the current time explicitly and are
// responsible for persisting the returned record atomically (see quotasvc).
//
// States:
//
//	ACTIVE   -> ACTIVE    consume while counter+1 < threshold
//	ACTIVE   -> COOLDOWN  consume that makes counter reach threshold
//	COOLDOWN -> ACTIVE    now >= cooldownStartedAt + cooldown (counters reset)
package quota

import (
	"errors"
	"fmt"
	"time"

	"github.com/oggyb/cinematch/internal/model"
)

// Kind is the unit a gated operation consumes.
type Kind string

const (
	KindChange Kind = "change"
	KindMatch  Kind = "match"
)

// Reason explains a denied decision.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonLimitReached Reason = "LIMIT_REACHED"
	ReasonCooldown     Reason = "COOLDOWN"
)

// Unlimited is the Remaining value reported for premium users.
const Unlimited = -1

const (
	TierFree    = "free"
	TierPremium = "premium"
)

// ErrQuotaExceeded is matched by every *ExceededError.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ExceededError is returned by Consume when the quota does not allow the
// requested unit.
type ExceededError struct {
	Kind       Kind
	Reason     Reason
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %s (retry after %s)", e.Kind, e.Reason, e.RetryAfter.Round(time.Second))
}

func (e *ExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// Decision is the side-effect free answer of CanConsume.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Remaining is how many units may still be consumed before the gate
	// closes: Unlimited for premium, 0 during cooldown, otherwise at least 1.
	Remaining  int
	RetryAfter time.Duration
}

// Policy holds the configured thresholds and windows. Thresholds here are the
// defaults stamped on new records; each record carries its own copy.
type Policy struct {
	ChangeThreshold int
	MatchThreshold  int
	Cooldown        time.Duration
	// ResetPeriod is the weekly accounting window. Zero disables rollover.
	ResetPeriod time.Duration
}

// DefaultPolicy mirrors the default configuration.
func DefaultPolicy() Policy {
	return Policy{
		ChangeThreshold: 2,
		MatchThreshold:  2,
		Cooldown:        120 * time.Second,
		ResetPeriod:     7 * 24 * time.Hour,
	}
}

// New returns the default record for a user seen for the first time.
func (p Policy) New(userID string, now time.Time) model.UsageQuota {
	return model.UsageQuota{
		UserID:               userID,
		ChangeThreshold:      p.ChangeThreshold,
		MatchThreshold:       p.MatchThreshold,
		AvailableForMatching: true,
		LastResetAt:          now,
	}
}

// InCooldown reports whether the cooldown window is still running at now.
func (p Policy) InCooldown(q model.UsageQuota, now time.Time) bool {
	return q.CooldownStartedAt != nil && now.Before(q.CooldownStartedAt.Add(p.Cooldown))
}

// CooldownEndsAt returns the end of the running window, or nil.
func (p Policy) CooldownEndsAt(q model.UsageQuota) *time.Time {
	if q.CooldownStartedAt == nil {
		return nil
	}
	end := q.CooldownStartedAt.Add(p.Cooldown)
	return &end
}

// MaybeExpireCooldown moves a record whose cooldown has elapsed back to
// ACTIVE: counters reset to zero, cooldown cleared, available again. It also
// repairs a record flagged unavailable without a cooldown timestamp. The
// second return value reports whether anything changed.
func (p Policy) MaybeExpireCooldown(q model.UsageQuota, now time.Time) (model.UsageQuota, bool) {
	q = q.Clone()
	switch {
	case q.CooldownStartedAt != nil && !p.InCooldown(q, now):
		q.ChangesThisWeek = 0
		q.MatchCount = 0
		q.CooldownStartedAt = nil
		q.AvailableForMatching = true
		q.LastResetAt = now
		return q, true
	case q.CooldownStartedAt == nil && !q.AvailableForMatching:
		q.AvailableForMatching = true
		return q, true
	}
	return q, false
}

// Refresh applies cooldown expiry and then the weekly rollover. A record in
// cooldown keeps its counters until the cooldown ends.
func (p Policy) Refresh(q model.UsageQuota, now time.Time) (model.UsageQuota, bool) {
	q, changed := p.MaybeExpireCooldown(q, now)
	if p.ResetPeriod > 0 && q.CooldownStartedAt == nil && !now.Before(q.LastResetAt.Add(p.ResetPeriod)) {
		q.ChangesThisWeek = 0
		q.MatchCount = 0
		q.LastResetAt = now
		changed = true
	}
	return q, changed
}

// CanConsume evaluates whether one unit of kind may be consumed at now.
func (p Policy) CanConsume(q model.UsageQuota, kind Kind, now time.Time) Decision {
	q, _ = p.Refresh(q, now)
	if q.IsPremium {
		return Decision{Allowed: true, Remaining: Unlimited}
	}

	count, threshold := counter(q, kind)
	if p.InCooldown(q, now) {
		reason := ReasonCooldown
		if count >= threshold {
			reason = ReasonLimitReached
		}
		return Decision{
			Reason:     reason,
			RetryAfter: q.CooldownStartedAt.Add(p.Cooldown).Sub(now),
		}
	}

	remaining := threshold - count
	if remaining < 1 {
		// the next unit is still allowed and is the one that starts cooldown
		remaining = 1
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// Consume applies one unit of kind. Premium records are returned unchanged.
// A denied unit yields an *ExceededError and the refreshed record.
func (p Policy) Consume(q model.UsageQuota, kind Kind, now time.Time) (model.UsageQuota, error) {
	q, _ = p.Refresh(q, now)
	d := p.CanConsume(q, kind, now)
	if !d.Allowed {
		return q, &ExceededError{Kind: kind, Reason: d.Reason, RetryAfter: d.RetryAfter}
	}
	if q.IsPremium {
		return q, nil
	}

	var count, threshold int
	switch kind {
	case KindChange:
		q.ChangesThisWeek++
		count, threshold = q.ChangesThisWeek, q.ChangeThreshold
	default:
		q.MatchCount++
		count, threshold = q.MatchCount, q.MatchThreshold
	}
	if count >= threshold {
		started := now
		q.CooldownStartedAt = &started
		q.AvailableForMatching = false
	}
	return q, nil
}

// Status is the pull-based view of a quota rendered by clients.
type Status struct {
	Tier              string
	RemainingChanges  int
	RemainingMatches  int
	CooldownRemaining time.Duration
	CooldownEndsAt    *time.Time
}

// Status summarises q at now.
func (p Policy) Status(q model.UsageQuota, now time.Time) Status {
	q, _ = p.Refresh(q, now)
	s := Status{
		Tier:             TierFree,
		RemainingChanges: p.CanConsume(q, KindChange, now).Remaining,
		RemainingMatches: p.CanConsume(q, KindMatch, now).Remaining,
	}
	if q.IsPremium {
		s.Tier = TierPremium
	}
	if !q.IsPremium && p.InCooldown(q, now) {
		s.CooldownEndsAt = p.CooldownEndsAt(q)
		s.CooldownRemaining = s.CooldownEndsAt.Sub(now)
	}
	return s
}

func counter(q model.UsageQuota, kind Kind) (count, threshold int) {
	if kind == KindChange {
		return q.ChangesThisWeek, q.ChangeThreshold
	}
	return q.MatchCount, q.MatchThreshold
}
