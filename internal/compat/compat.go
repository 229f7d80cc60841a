// Package compat decides whether two users' matching preferences are
// mutually satisfied.
package compat

import "github.com/oggyb/cinematch/internal/model"

// Prefs is the slice of a user profile the filter looks at.
type Prefs struct {
	Gender        model.Gender
	MatchGender   model.MatchGender
	Location      string
	MatchLocation model.MatchLocation
}

// PrefsOf extracts the preferences of u.
func PrefsOf(u *model.User) Prefs {
	return Prefs{
		Gender:        u.Gender,
		MatchGender:   u.MatchGender,
		Location:      u.Location,
		MatchLocation: u.MatchLocation,
	}
}

// IsCompatible is symmetric: IsCompatible(a, b) == IsCompatible(b, a).
func IsCompatible(a, b Prefs) bool {
	return GenderCompatible(a, b) && LocationCompatible(a, b)
}

// GenderCompatible holds when either gender is unset, or each side accepts
// the other's gender. "everyone" only widens its own side.
func GenderCompatible(a, b Prefs) bool {
	if a.Gender == model.GenderUnset || b.Gender == model.GenderUnset {
		return true
	}
	return accepts(a, b.Gender) && accepts(b, a.Gender)
}

// LocationCompatible holds when either side matches worldwide, or both are
// local and share the same non-empty location (exact, case-sensitive).
func LocationCompatible(a, b Prefs) bool {
	if worldwide(a) || worldwide(b) {
		return true
	}
	return a.Location != "" && a.Location == b.Location
}

// an unset preference accepts everyone
func accepts(p Prefs, g model.Gender) bool {
	switch p.MatchGender {
	case model.MatchEveryone, "":
		return true
	default:
		return string(p.MatchGender) == string(g)
	}
}

func worldwide(p Prefs) bool {
	return p.MatchLocation != model.MatchLocal
}
