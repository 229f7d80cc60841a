package model

import (
	"fmt"
	"time"
)

type Gender string

const (
	GenderUnset  Gender = ""
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type MatchGender string

const (
	MatchMale     MatchGender = "male"
	MatchFemale   MatchGender = "female"
	MatchEveryone MatchGender = "everyone"
)

type MatchLocation string

const (
	MatchLocal     MatchLocation = "local"
	MatchWorldwide MatchLocation = "worldwide"
)

// Category separates the two favorite sets a user keeps.
type Category string

const (
	CategoryMovie Category = "movie"
	CategoryTV    Category = "tv"
)

// Categories lists every favorite category in a stable order.
var Categories = []Category{CategoryMovie, CategoryTV}

func (c Category) Valid() bool {
	return c == CategoryMovie || c == CategoryTV
}

// Title is a favorited media title with its cached display metadata.
type Title struct {
	Category  Category `json:"category"`
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	PosterRef string   `json:"poster_ref,omitempty"`
}

// Key identifies the title across categories. Movie and TV ids come from
// different catalogues and may collide, so the category is part of the key.
func (t Title) Key() string {
	return TitleKey(t.Category, t.ID)
}

// TitleKey builds the index key for a title.
func TitleKey(c Category, id string) string {
	return fmt.Sprintf("%s:%s", c, id)
}

// MatchData is the per-match payload materialized on each side of a match.
type MatchData struct {
	DisplayName string    `json:"display_name"`
	PhotoRef    string    `json:"photo_ref,omitempty"`
	Strength    int       `json:"strength"`
	MatchedAt   time.Time `json:"matched_at"`
}

// User is the user document: profile, matching preferences, both favorite
// sets and the redundantly stored match relation.
type User struct {
	ID            string        `json:"id"`
	DisplayName   string        `json:"display_name"`
	PhotoRef      string        `json:"photo_ref,omitempty"`
	Gender        Gender        `json:"gender"`
	MatchGender   MatchGender   `json:"match_gender"`
	Location      string        `json:"location,omitempty"`
	MatchLocation MatchLocation `json:"match_location"`

	// Favorites maps category → title id → title.
	Favorites map[Category]map[string]Title `json:"favorites,omitempty"`
	// Matches maps the matched user id to its match payload. The key set is
	// the user's match list.
	Matches map[string]MatchData `json:"matches,omitempty"`
}

// HasFavorite reports whether the title is in the user's favorite set.
func (u *User) HasFavorite(c Category, titleID string) bool {
	_, ok := u.Favorites[c][titleID]
	return ok
}

// AddFavorite inserts the title and reports whether the set changed.
func (u *User) AddFavorite(t Title) bool {
	if u.Favorites == nil {
		u.Favorites = make(map[Category]map[string]Title)
	}
	set := u.Favorites[t.Category]
	if set == nil {
		set = make(map[string]Title)
		u.Favorites[t.Category] = set
	}
	_, existed := set[t.ID]
	set[t.ID] = t
	return !existed
}

// RemoveFavorite deletes the title and reports whether it was present.
func (u *User) RemoveFavorite(c Category, titleID string) bool {
	set := u.Favorites[c]
	if _, ok := set[titleID]; !ok {
		return false
	}
	delete(set, titleID)
	return true
}

// FavoriteKeys returns the index keys of every favorite across categories.
func (u *User) FavoriteKeys() []string {
	var keys []string
	for _, c := range Categories {
		for id := range u.Favorites[c] {
			keys = append(keys, TitleKey(c, id))
		}
	}
	return keys
}

// IsMatchedWith reports whether other is already in the user's matches.
func (u *User) IsMatchedWith(other string) bool {
	_, ok := u.Matches[other]
	return ok
}

// PutMatch records a match with other. An existing match only gets its
// payload refreshed, the original MatchedAt is kept. Reports whether the
// match is new.
func (u *User) PutMatch(other string, data MatchData) bool {
	if u.Matches == nil {
		u.Matches = make(map[string]MatchData)
	}
	prev, existed := u.Matches[other]
	if existed && !prev.MatchedAt.IsZero() {
		data.MatchedAt = prev.MatchedAt
	}
	u.Matches[other] = data
	return !existed
}

// Clone returns a deep copy, so mutation funcs never alias stored state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Favorites != nil {
		c.Favorites = make(map[Category]map[string]Title, len(u.Favorites))
		for cat, set := range u.Favorites {
			cp := make(map[string]Title, len(set))
			for id, t := range set {
				cp[id] = t
			}
			c.Favorites[cat] = cp
		}
	}
	if u.Matches != nil {
		c.Matches = make(map[string]MatchData, len(u.Matches))
		for id, m := range u.Matches {
			c.Matches[id] = m
		}
	}
	return &c
}

// SameProfile reports whether the profile and preference fields match.
func (u *User) SameProfile(o *User) bool {
	return u.DisplayName == o.DisplayName &&
		u.PhotoRef == o.PhotoRef &&
		u.Gender == o.Gender &&
		u.MatchGender == o.MatchGender &&
		u.Location == o.Location &&
		u.MatchLocation == o.MatchLocation
}
