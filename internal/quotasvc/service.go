// Package quotasvc applies quota transitions against persisted state. Every
// gated mutation in the system goes through Apply, which runs the quota
// read-modify-write and the caller's own mutations in one transaction and
// retries the whole unit on contention.
package quotasvc

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oggyb/cinematch/internal/app"
	"github.com/oggyb/cinematch/internal/cache"
	"github.com/oggyb/cinematch/internal/config"
	"github.com/oggyb/cinematch/internal/metrics"
	"github.com/oggyb/cinematch/internal/model"
	"github.com/oggyb/cinematch/internal/quota"
	"github.com/oggyb/cinematch/internal/store"
)

// sentinels that abort a transaction without writing
var (
	errDenied    = errors.New("quota denied")
	errUnchanged = errors.New("quota unchanged")
)

// Outcome is the typed result of a gated operation.
type Outcome struct {
	Allowed    bool
	Reason     quota.Reason
	RetryAfter time.Duration
	// Remaining is what is left of the consumed kind after this call.
	Remaining       int
	CooldownStarted bool
	Quota           model.UsageQuota
}

type Service struct {
	appCtx *app.AppContext
	policy quota.Policy
}

// PolicyFromConfig builds the quota policy from configuration.
func PolicyFromConfig(cfg *config.Config) quota.Policy {
	return quota.Policy{
		ChangeThreshold: cfg.Quota.ChangeThreshold,
		MatchThreshold:  cfg.Quota.MatchThreshold,
		Cooldown:        cfg.Quota.Cooldown,
		ResetPeriod:     cfg.Quota.ResetPeriod,
	}
}

func New(appCtx *app.AppContext) *Service {
	return &Service{appCtx: appCtx, policy: PolicyFromConfig(appCtx.Config)}
}

func (s *Service) Policy() quota.Policy { return s.policy }

// Apply consumes one unit of kind for userID and commits extra in the same
// transaction. A denied unit writes nothing and is reported through the
// Outcome, not as an error. store.ErrContention is returned once retries are
// exhausted.
func (s *Service) Apply(ctx context.Context, userID string, kind quota.Kind, extra ...store.Mutation) (Outcome, error) {
	var out Outcome
	err := s.Transact(ctx, func() []store.Mutation {
		out = Outcome{}
		consume := store.MutateQuota(userID, func(q *model.UsageQuota, found bool) error {
			now := s.appCtx.Now()
			cur := *q
			if !found {
				cur = s.policy.New(userID, now)
			}
			next, err := s.policy.Consume(cur, kind, now)
			var exceeded *quota.ExceededError
			if errors.As(err, &exceeded) {
				out = Outcome{Reason: exceeded.Reason, RetryAfter: exceeded.RetryAfter, Quota: next}
				return errDenied
			} else if err != nil {
				return err
			}
			out.Allowed = true
			out.CooldownStarted = !next.IsPremium && next.CooldownStartedAt != nil
			out.Remaining = s.policy.CanConsume(next, kind, now).Remaining
			out.Quota = next
			*q = next
			return nil
		})
		return append([]store.Mutation{consume}, extra...)
	})

	switch {
	case errors.Is(err, errDenied):
		metrics.RecordQuotaDecision(string(kind), false, string(out.Reason))
		s.appCtx.Logger.Debug("quota denied", "user", userID, "kind", kind, "reason", out.Reason, "retry_after", out.RetryAfter)
		return out, nil
	case err != nil:
		return Outcome{}, err
	}

	metrics.RecordQuotaDecision(string(kind), true, "")
	if out.CooldownStarted {
		metrics.RecordCooldownStarted(string(kind))
		s.appCtx.Logger.Info("cooldown started", "user", userID, "kind", kind)
	}
	s.invalidate(ctx, userID)
	return out, nil
}

// Transact runs the mutations built by build in one transactional update,
// rebuilding and retrying them with exponential backoff on contention. Any
// other error is returned immediately.
func (s *Service) Transact(ctx context.Context, build func() []store.Mutation) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.appCtx.Config.Tx.BackoffInitial
	b.MaxElapsedTime = 0

	attempts := s.appCtx.Config.Tx.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	try := 0
	op := func() error {
		try++
		if try > 1 {
			metrics.RecordTxRetry()
		}
		err := s.appCtx.Store.TransactionalUpdate(ctx, build()...)
		if err == nil || errors.Is(err, store.ErrContention) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
	if errors.Is(err, store.ErrContention) {
		metrics.RecordTxContentionFailure()
		s.appCtx.Logger.Warn("transaction contention, retries exhausted", "attempts", try)
	}
	return err
}

// Check evaluates kind without writing anything.
func (s *Service) Check(ctx context.Context, userID string, kind quota.Kind) (quota.Decision, error) {
	q, err := s.Get(ctx, userID)
	if err != nil {
		return quota.Decision{}, err
	}
	return s.policy.CanConsume(q, kind, s.appCtx.Now()), nil
}

// Get returns the user's quota with lazy expiry applied in memory. A user
// without a record gets the defaults; nothing is persisted.
func (s *Service) Get(ctx context.Context, userID string) (model.UsageQuota, error) {
	now := s.appCtx.Now()
	q, found, err := s.appCtx.Store.GetQuota(ctx, userID)
	if err != nil {
		return model.UsageQuota{}, err
	}
	if !found {
		return s.policy.New(userID, now), nil
	}
	q, _ = s.policy.Refresh(q, now)
	return q, nil
}

// Refresh persists cooldown expiry and weekly rollover. It reports whether
// the stored record changed.
func (s *Service) Refresh(ctx context.Context, userID string) (bool, error) {
	err := s.Transact(ctx, func() []store.Mutation {
		return []store.Mutation{store.MutateQuota(userID, func(q *model.UsageQuota, found bool) error {
			now := s.appCtx.Now()
			if !found {
				*q = s.policy.New(userID, now)
				return nil
			}
			next, changed := s.policy.Refresh(*q, now)
			if !changed {
				return errUnchanged
			}
			*q = next
			return nil
		})}
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	s.invalidate(ctx, userID)
	return true, nil
}

// SetPremium flips the tier flag. Counters are kept as they are and only
// matter again after a downgrade.
func (s *Service) SetPremium(ctx context.Context, userID string, premium bool) (model.UsageQuota, error) {
	var updated model.UsageQuota
	err := s.Transact(ctx, func() []store.Mutation {
		return []store.Mutation{store.MutateQuota(userID, func(q *model.UsageQuota, found bool) error {
			now := s.appCtx.Now()
			cur := *q
			if !found {
				cur = s.policy.New(userID, now)
			}
			cur, _ = s.policy.Refresh(cur, now)
			cur.IsPremium = premium
			*q = cur
			updated = cur.Clone()
			return nil
		})}
	})
	if err != nil {
		return model.UsageQuota{}, err
	}
	s.appCtx.Logger.Info("tier changed", "user", userID, "premium", premium)
	s.invalidate(ctx, userID)
	return updated, nil
}

// Status returns the pull-based quota view. The Redis snapshot is consulted
// first when a cache is configured.
func (s *Service) Status(ctx context.Context, userID string) (quota.Status, error) {
	now := s.appCtx.Now()
	rc := s.appCtx.RedisCache

	if rc != nil {
		snap, ok, err := rc.GetQuotaStatus(ctx, userID)
		if err != nil {
			s.appCtx.Logger.Warn("status cache read failed", "user", userID, "err", err)
		}
		if ok && (snap.CooldownEndsAt == nil || now.Before(*snap.CooldownEndsAt)) {
			metrics.RecordStatusCache(true)
			st := quota.Status{
				Tier:             snap.Tier,
				RemainingChanges: snap.RemainingChanges,
				RemainingMatches: snap.RemainingMatches,
				CooldownEndsAt:   snap.CooldownEndsAt,
			}
			if snap.CooldownEndsAt != nil {
				st.CooldownRemaining = snap.CooldownEndsAt.Sub(now)
			}
			return st, nil
		}
		metrics.RecordStatusCache(false)
	}

	q, err := s.Get(ctx, userID)
	if err != nil {
		return quota.Status{}, err
	}
	st := s.policy.Status(q, now)

	if rc != nil {
		snap := cache.QuotaSnapshot{
			Tier:             st.Tier,
			RemainingChanges: st.RemainingChanges,
			RemainingMatches: st.RemainingMatches,
			CooldownEndsAt:   st.CooldownEndsAt,
		}
		if err := rc.PutQuotaStatus(ctx, userID, snap, s.appCtx.Config.Quota.StatusCacheTTL); err != nil {
			s.appCtx.Logger.Warn("status cache write failed", "user", userID, "err", err)
		}
	}
	return st, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.appCtx.RedisCache == nil {
		return
	}
	if err := s.appCtx.RedisCache.InvalidateQuotaStatus(ctx, userID); err != nil {
		s.appCtx.Logger.Warn("status cache invalidation failed", "user", userID, "err", err)
	}
}
