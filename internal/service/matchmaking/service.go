package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	pb "github.com/oggyb/cinematch/internal/api/matchmaking"
	"github.com/oggyb/cinematch/internal/app"
	svcErr "github.com/oggyb/cinematch/internal/errors"
	"github.com/oggyb/cinematch/internal/favorites"
	"github.com/oggyb/cinematch/internal/matching"
	"github.com/oggyb/cinematch/internal/model"
	"github.com/oggyb/cinematch/internal/quota"
	"github.com/oggyb/cinematch/internal/quotasvc"
	"github.com/oggyb/cinematch/internal/utils/pagination"
)

const defaultPageSize = 20

// Service implements the Matchmaking gRPC API.
// It validates requests and translates between wire messages and the
// favorites, matching and quota layers.
type Service struct {
	appCtx   *app.AppContext
	quotas   *quotasvc.Service
	favs     *favorites.Index
	engine   *matching.Engine
	validate *validator.Validate

	pb.UnimplementedMatchmakingServer
}

// NewMatchmakingService creates the service with its dependencies built
// from AppContext.
func NewMatchmakingService(appCtx *app.AppContext) *Service {
	quotas := quotasvc.New(appCtx)
	favs := favorites.New(appCtx, quotas)
	return &Service{
		appCtx:   appCtx,
		quotas:   quotas,
		favs:     favs,
		engine:   matching.New(appCtx, quotas, favs),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Engine exposes the matching engine so background workers share the
// service's wiring.
func (s *Service) Engine() *matching.Engine { return s.engine }

// Quotas exposes the quota service for the same reason.
func (s *Service) Quotas() *quotasvc.Service { return s.quotas }

func (s *Service) Favorites() *favorites.Index { return s.favs }

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return svcErr.InvalidArgument(fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()))
		}
		return svcErr.InvalidArgument(err.Error())
	}
	return nil
}

// UpsertUser creates a user or updates its profile and preferences.
// Favorites and matches of an existing user are kept.
func (s *Service) UpsertUser(ctx context.Context, req *pb.UpsertUserRequest) (*pb.UpsertUserResponse, error) {
	s.appCtx.Logger.Debug("UpsertUser called", "user", req.UserId)
	if err := s.check(req); err != nil {
		return nil, err
	}

	u := &model.User{
		ID:            req.UserId,
		DisplayName:   req.DisplayName,
		PhotoRef:      req.PhotoRef,
		Gender:        model.Gender(req.Gender),
		MatchGender:   model.MatchGender(req.MatchGender),
		Location:      req.Location,
		MatchLocation: model.MatchLocation(req.MatchLocation),
	}
	if u.MatchGender == "" {
		u.MatchGender = model.MatchEveryone
	}
	if u.MatchLocation == "" {
		u.MatchLocation = model.MatchWorldwide
	}

	if err := s.appCtx.Store.PutUser(ctx, u); err != nil {
		s.appCtx.Logger.Error("PutUser failed", "user", req.UserId, "err", err)
		return nil, svcErr.Map(err)
	}
	return &pb.UpsertUserResponse{User: toProfile(u)}, nil
}

// AddFavorite adds a title to the user's favorites. Adding never consumes
// quota. With passive discovery enabled, matches the new title unlocks are
// created right away and returned.
func (s *Service) AddFavorite(ctx context.Context, req *pb.AddFavoriteRequest) (*pb.AddFavoriteResponse, error) {
	s.appCtx.Logger.Debug("AddFavorite called", "user", req.UserId, "category", req.Category, "title", req.TitleId)
	if err := s.check(req); err != nil {
		return nil, err
	}

	res, err := s.favs.Add(ctx, req.UserId, model.Title{
		Category:  model.Category(req.Category),
		ID:        req.TitleId,
		Name:      req.Name,
		PosterRef: req.PosterRef,
	})
	if err != nil {
		return nil, svcErr.Map(err)
	}
	resp := &pb.AddFavoriteResponse{Added: res.Added}
	if res.Added {
		s.refreshStrengths(ctx, req.UserId)
	}

	if res.Added && s.appCtx.Config.Match.DiscoverOnFavorite {
		found, err := s.engine.Discover(ctx, req.UserId, matching.ModePassive)
		if err != nil {
			// the favorite is stored; discovery runs again on the next search
			s.appCtx.Logger.Warn("passive discovery failed", "user", req.UserId, "err", err)
			return resp, nil
		}
		resp.NewMatches = toMatches(found.NewMatches)
	}
	return resp, nil
}

// RemoveFavorite removes a title, consuming one change unit. A denied
// removal is reported in the response, not as an error.
func (s *Service) RemoveFavorite(ctx context.Context, req *pb.RemoveFavoriteRequest) (*pb.RemoveFavoriteResponse, error) {
	s.appCtx.Logger.Debug("RemoveFavorite called", "user", req.UserId, "category", req.Category, "title", req.TitleId)
	if err := s.check(req); err != nil {
		return nil, err
	}

	res, err := s.favs.Remove(ctx, req.UserId, model.Category(req.Category), req.TitleId)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	if res.Removed {
		s.refreshStrengths(ctx, req.UserId)
	}
	return &pb.RemoveFavoriteResponse{
		Allowed:           res.Allowed,
		Reason:            string(res.Reason),
		RetryAfterSeconds: ceilSeconds(res.RetryAfter),
		Removed:           res.Removed,
		RemainingChanges:  int32(res.RemainingChanges),
	}, nil
}

// SearchMatches runs a quota capped discovery pass for the user.
func (s *Service) SearchMatches(ctx context.Context, req *pb.SearchMatchesRequest) (*pb.SearchMatchesResponse, error) {
	s.appCtx.Logger.Debug("SearchMatches called", "user", req.UserId)
	if err := s.check(req); err != nil {
		return nil, err
	}

	res, err := s.engine.SearchMatches(ctx, req.UserId)
	if err != nil {
		s.appCtx.Logger.Error("SearchMatches failed", "user", req.UserId, "err", err)
		return nil, svcErr.Map(err)
	}
	return &pb.SearchMatchesResponse{
		Allowed:           res.Allowed,
		Reason:            string(res.Reason),
		RetryAfterSeconds: ceilSeconds(res.RetryAfter),
		NewMatches:        toMatches(res.NewMatches),
		Deferred:          int32(res.Deferred),
		Remaining:         int32(res.Remaining),
	}, nil
}

// ListMatches pages through the user's matches, newest first.
//
// Example:
//
//	svc.ListMatches(ctx, &pb.ListMatchesRequest{UserId: "u1", PageSize: 10})
func (s *Service) ListMatches(ctx context.Context, req *pb.ListMatchesRequest) (*pb.ListMatchesResponse, error) {
	s.appCtx.Logger.Debug("ListMatches called", "user", req.UserId, "token", req.PaginationToken)
	if err := s.check(req); err != nil {
		return nil, err
	}

	cursor, err := pagination.Decode(req.PaginationToken)
	if err != nil {
		return nil, svcErr.InvalidArgument(err.Error())
	}
	limit := int(req.PageSize)
	if limit == 0 {
		limit = defaultPageSize
	}

	page, next, err := s.engine.ListMatches(ctx, req.UserId, cursor, limit)
	if err != nil {
		return nil, svcErr.Map(err)
	}

	resp := &pb.ListMatchesResponse{Matches: toMatches(page)}
	if next != nil {
		token, err := pagination.Encode(*next)
		if err != nil {
			return nil, svcErr.Map(err)
		}
		resp.NextPaginationToken = token
	}
	return resp, nil
}

// GetQuotaStatus reports the user's tier, remaining units and cooldown.
func (s *Service) GetQuotaStatus(ctx context.Context, req *pb.GetQuotaStatusRequest) (*pb.GetQuotaStatusResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	st, err := s.quotas.Status(ctx, req.UserId)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &pb.GetQuotaStatusResponse{
		Tier:                     st.Tier,
		RemainingChanges:         int32(st.RemainingChanges),
		RemainingMatches:         int32(st.RemainingMatches),
		CooldownRemainingSeconds: ceilSeconds(st.CooldownRemaining),
	}, nil
}

// SetPremium switches the user's tier. Downgrading keeps the counters, so
// a free user who went over the limit while premium is gated again.
func (s *Service) SetPremium(ctx context.Context, req *pb.SetPremiumRequest) (*pb.SetPremiumResponse, error) {
	s.appCtx.Logger.Info("SetPremium called", "user", req.UserId, "premium", req.Premium)
	if err := s.check(req); err != nil {
		return nil, err
	}

	q, err := s.quotas.SetPremium(ctx, req.UserId, req.Premium)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	tier := quota.TierFree
	if q.IsPremium {
		tier = quota.TierPremium
	}
	return &pb.SetPremiumResponse{Tier: tier}, nil
}

// refreshStrengths brings the strength of the user's existing matches in
// line with the changed favorite set. The favorite change is already stored,
// so a failure here is only logged.
func (s *Service) refreshStrengths(ctx context.Context, userID string) {
	n, err := s.engine.RefreshStrengths(ctx, userID)
	if err != nil {
		s.appCtx.Logger.Warn("match strength refresh failed", "user", userID, "err", err)
		return
	}
	if n > 0 {
		s.appCtx.Logger.Debug("match strengths refreshed", "user", userID, "updated", n)
	}
}

func toProfile(u *model.User) *pb.UserProfile {
	return &pb.UserProfile{
		UserId:        u.ID,
		DisplayName:   u.DisplayName,
		PhotoRef:      u.PhotoRef,
		Gender:        string(u.Gender),
		MatchGender:   string(u.MatchGender),
		Location:      u.Location,
		MatchLocation: string(u.MatchLocation),
	}
}

func toMatches(ms []matching.Match) []*pb.Match {
	out := make([]*pb.Match, 0, len(ms))
	for _, m := range ms {
		out = append(out, &pb.Match{
			UserId:          m.UserID,
			DisplayName:     m.DisplayName,
			PhotoRef:        m.PhotoRef,
			Strength:        int32(m.Strength),
			MatchedAtUnixMs: m.MatchedAt.UnixMilli(),
		})
	}
	return out
}

// ceilSeconds rounds up so a client never retries a moment too early.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
