package matchmaking

type UserProfile struct {
	UserId        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	PhotoRef      string `json:"photo_ref,omitempty"`
	Gender        string `json:"gender,omitempty"`
	MatchGender   string `json:"match_gender,omitempty"`
	Location      string `json:"location,omitempty"`
	MatchLocation string `json:"match_location,omitempty"`
}

type UpsertUserRequest struct {
	UserId        string `json:"user_id" validate:"required,max=128"`
	DisplayName   string `json:"display_name" validate:"required,max=64"`
	PhotoRef      string `json:"photo_ref,omitempty" validate:"max=512"`
	Gender        string `json:"gender,omitempty" validate:"omitempty,oneof=male female"`
	MatchGender   string `json:"match_gender,omitempty" validate:"omitempty,oneof=male female everyone"`
	Location      string `json:"location,omitempty" validate:"max=128"`
	MatchLocation string `json:"match_location,omitempty" validate:"omitempty,oneof=local worldwide"`
}

type UpsertUserResponse struct {
	User *UserProfile `json:"user"`
}

type AddFavoriteRequest struct {
	UserId    string `json:"user_id" validate:"required,max=128"`
	Category  string `json:"category" validate:"required,oneof=movie tv"`
	TitleId   string `json:"title_id" validate:"required,max=64"`
	Name      string `json:"name,omitempty" validate:"max=256"`
	PosterRef string `json:"poster_ref,omitempty" validate:"max=512"`
}

type AddFavoriteResponse struct {
	Added bool `json:"added"`
	// NewMatches is filled when passive discovery runs after the add.
	NewMatches []*Match `json:"new_matches,omitempty"`
}

type RemoveFavoriteRequest struct {
	UserId   string `json:"user_id" validate:"required,max=128"`
	Category string `json:"category" validate:"required,oneof=movie tv"`
	TitleId  string `json:"title_id" validate:"required,max=64"`
}

type RemoveFavoriteResponse struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
	Removed           bool   `json:"removed"`
	RemainingChanges  int32  `json:"remaining_changes"`
}

type Match struct {
	UserId          string `json:"user_id"`
	DisplayName     string `json:"display_name"`
	PhotoRef        string `json:"photo_ref,omitempty"`
	Strength        int32  `json:"match_strength"`
	MatchedAtUnixMs int64  `json:"matched_at_unix_ms"`
}

type SearchMatchesRequest struct {
	UserId string `json:"user_id" validate:"required,max=128"`
}

type SearchMatchesResponse struct {
	Allowed           bool     `json:"allowed"`
	Reason            string   `json:"reason,omitempty"`
	RetryAfterSeconds int64    `json:"retry_after_seconds,omitempty"`
	NewMatches        []*Match `json:"new_matches"`
	Deferred          int32    `json:"deferred"`
	Remaining         int32    `json:"remaining"`
}

type ListMatchesRequest struct {
	UserId          string `json:"user_id" validate:"required,max=128"`
	PageSize        int32  `json:"page_size,omitempty" validate:"min=0,max=100"`
	PaginationToken string `json:"pagination_token,omitempty"`
}

type ListMatchesResponse struct {
	Matches             []*Match `json:"matches"`
	NextPaginationToken string   `json:"next_pagination_token,omitempty"`
}

type GetQuotaStatusRequest struct {
	UserId string `json:"user_id" validate:"required,max=128"`
}

type GetQuotaStatusResponse struct {
	Tier                     string `json:"tier"`
	RemainingChanges         int32  `json:"remaining_changes"`
	RemainingMatches         int32  `json:"remaining_matches"`
	CooldownRemainingSeconds int64  `json:"cooldown_remaining_seconds"`
}

type SetPremiumRequest struct {
	UserId  string `json:"user_id" validate:"required,max=128"`
	Premium bool   `json:"premium"`
}

type SetPremiumResponse struct {
	Tier string `json:"tier"`
}
