// Package matching discovers reciprocal matches from shared favorites.
//
// A discovery pass:
//  1. counts shared favorites per candidate through the title index
//  2. keeps candidates sharing at least the content threshold
//  3. drops candidates whose quota is in cooldown
//  4. drops candidates failing the compatibility filter
//  5. in search mode, caps new matches at the querying user's remaining quota
//  6. writes each match on both users and consumes one match unit per side
//
// Each match is committed on its own, so a cancelled pass leaves only whole
// matches behind. Quota consumption after a match is bookkeeping: a failure
// there is logged and never undoes the match.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/oggyb/cinematch/internal/app"
	"github.com/oggyb/cinematch/internal/compat"
	"github.com/oggyb/cinematch/internal/favorites"
	"github.com/oggyb/cinematch/internal/logger"
	"github.com/oggyb/cinematch/internal/metrics"
	"github.com/oggyb/cinematch/internal/model"
	"github.com/oggyb/cinematch/internal/quota"
	"github.com/oggyb/cinematch/internal/quotasvc"
	"github.com/oggyb/cinematch/internal/store"
)

type Mode string

const (
	// ModeSearch is the user-initiated, quota capped search.
	ModeSearch Mode = "search"
	// ModePassive is background recomputation. It is not capped but does
	// not run while the querying user is cooling down.
	ModePassive Mode = "passive"
)

var errAlreadyMatched = errors.New("already matched")

// Match is one match as seen from the querying user.
type Match struct {
	UserID      string
	DisplayName string
	PhotoRef    string
	Strength    int
	MatchedAt   time.Time
}

type Result struct {
	Allowed    bool
	Reason     quota.Reason
	RetryAfter time.Duration
	NewMatches []Match
	// Deferred counts eligible candidates left for a later call by the cap.
	Deferred int
	// Remaining is the querying user's match allowance after the call.
	Remaining int
}

type Engine struct {
	appCtx    *app.AppContext
	log       *slog.Logger
	quotas    *quotasvc.Service
	favs      *favorites.Index
	threshold int
}

func New(appCtx *app.AppContext, quotas *quotasvc.Service, favs *favorites.Index) *Engine {
	return &Engine{
		appCtx:    appCtx,
		log:       logger.Subsystem(appCtx.Logger, logger.SubsystemMatching),
		quotas:    quotas,
		favs:      favs,
		threshold: appCtx.Config.Match.ContentThreshold,
	}
}

// SearchMatches is the quota gated search a user triggers.
func (e *Engine) SearchMatches(ctx context.Context, userID string) (Result, error) {
	return e.Discover(ctx, userID, ModeSearch)
}

type candidate struct {
	user     *model.User
	strength int
}

// Discover runs one discovery pass for userID.
func (e *Engine) Discover(ctx context.Context, userID string, mode Mode) (Result, error) {
	start := time.Now()
	log := e.log.With("user", userID, "mode", mode)

	u, err := e.appCtx.Store.GetUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	gate, err := e.quotas.Check(ctx, userID, quota.KindMatch)
	if err != nil {
		return Result{}, err
	}
	if !gate.Allowed {
		log.Debug("discovery skipped", "reason", gate.Reason)
		return Result{Reason: gate.Reason, RetryAfter: gate.RetryAfter}, nil
	}

	eligible, err := e.eligible(ctx, u)
	if err != nil {
		return Result{}, err
	}

	accepted := eligible
	if mode == ModeSearch && gate.Remaining != quota.Unlimited && len(eligible) > gate.Remaining {
		accepted = eligible[:gate.Remaining]
	}
	res := Result{Allowed: true, Deferred: len(eligible) - len(accepted)}

	for _, c := range accepted {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m, created, err := e.link(ctx, u, c.user, c.strength)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("candidate vanished", "candidate", c.user.ID)
			continue
		} else if err != nil {
			return res, fmt.Errorf("failed to write match %s-%s: %w", u.ID, c.user.ID, err)
		}
		if !created {
			continue
		}
		res.NewMatches = append(res.NewMatches, m)
		e.consumeMatchUnit(ctx, u.ID)
		e.consumeMatchUnit(ctx, c.user.ID)
	}

	after, err := e.quotas.Check(ctx, userID, quota.KindMatch)
	if err != nil {
		return res, err
	}
	res.Remaining = after.Remaining

	metrics.RecordDiscover(string(mode), len(res.NewMatches), res.Deferred, time.Since(start))
	log.Info("discovery done", "new", len(res.NewMatches), "deferred", res.Deferred, "remaining", res.Remaining)
	return res, nil
}

// eligible returns candidates passing the content threshold, availability
// and compatibility checks, strongest first, ties by user id.
func (e *Engine) eligible(ctx context.Context, u *model.User) ([]candidate, error) {
	counts, err := e.favs.Candidates(ctx, u)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(counts))
	for id, n := range counts {
		if n >= e.threshold {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})

	prefs := compat.PrefsOf(u)
	var out []candidate
	for _, id := range ids {
		q, err := e.quotas.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !q.IsPremium && !q.AvailableForMatching {
			continue
		}
		other, err := e.appCtx.Store.GetUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		if !compat.IsCompatible(prefs, compat.PrefsOf(other)) {
			continue
		}
		out = append(out, candidate{user: other, strength: counts[id]})
	}
	return out, nil
}

// link writes the match on both users in one transaction. It reports
// created=false without writing when both sides already hold the match.
func (e *Engine) link(ctx context.Context, a, b *model.User, strength int) (Match, bool, error) {
	now := e.appCtx.Now()
	var seen Match
	err := e.quotas.Transact(ctx, func() []store.Mutation {
		var aHad, bHad bool
		return []store.Mutation{
			store.MutateUser(a.ID, func(u *model.User) error {
				aHad = u.IsMatchedWith(b.ID)
				u.PutMatch(b.ID, model.MatchData{DisplayName: b.DisplayName, PhotoRef: b.PhotoRef, Strength: strength, MatchedAt: now})
				md := u.Matches[b.ID]
				seen = Match{UserID: b.ID, DisplayName: md.DisplayName, PhotoRef: md.PhotoRef, Strength: md.Strength, MatchedAt: md.MatchedAt}
				return nil
			}),
			store.MutateUser(b.ID, func(u *model.User) error {
				bHad = u.IsMatchedWith(a.ID)
				if aHad && bHad {
					return errAlreadyMatched
				}
				u.PutMatch(a.ID, model.MatchData{DisplayName: a.DisplayName, PhotoRef: a.PhotoRef, Strength: strength, MatchedAt: now})
				return nil
			}),
		}
	})
	if errors.Is(err, errAlreadyMatched) {
		return Match{}, false, nil
	} else if err != nil {
		return Match{}, false, err
	}
	return seen, true, nil
}

func (e *Engine) consumeMatchUnit(ctx context.Context, userID string) {
	out, err := e.quotas.Apply(ctx, userID, quota.KindMatch)
	switch {
	case err != nil:
		e.log.Warn("match quota not recorded", "user", userID, "err", err)
	case !out.Allowed:
		e.log.Info("match quota already exhausted", "user", userID, "reason", out.Reason)
	}
}

// RefreshStrengths recomputes the strength of every existing match of
// userID on both sides. The match set and quotas are left alone. It returns
// how many matches changed.
func (e *Engine) RefreshStrengths(ctx context.Context, userID string) (int, error) {
	u, err := e.appCtx.Store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(u.Matches))
	for id := range u.Matches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	updated := 0
	for _, id := range ids {
		other, err := e.appCtx.Store.GetUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		} else if err != nil {
			return updated, err
		}
		strength := favorites.SharedCount(u, other)
		if u.Matches[id].Strength == strength && other.Matches[userID].Strength == strength {
			continue
		}

		setStrength := func(peer string) func(*model.User) error {
			return func(doc *model.User) error {
				md, ok := doc.Matches[peer]
				if !ok {
					return nil
				}
				md.Strength = strength
				doc.Matches[peer] = md
				return nil
			}
		}
		err = e.quotas.Transact(ctx, func() []store.Mutation {
			return []store.Mutation{
				store.MutateUser(userID, setStrength(id)),
				store.MutateUser(id, setStrength(userID)),
			}
		})
		if err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}
