// Package store defines the narrow document-store contract the matching and
// quota core runs against. Backends live in repository (gorm), redisstore
// and dynamostore.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/oggyb/cinematch/internal/model"
)

var (
	// ErrNotFound is returned when a user document does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrContention is returned when a transactional update lost a race
	// against a concurrent writer.
	ErrContention = errors.New("transaction contention")
	// ErrUnsupported is returned for set operations on unknown fields.
	ErrUnsupported = errors.New("unsupported collection or field")
)

// Collections and fields accepted by ArrayUnion / ArrayRemove.
const (
	CollectionTitles = "titles"
	FieldUsers       = "users"
)

// DataStore is implemented by every persistence backend.
type DataStore interface {
	// GetUser returns ErrNotFound when the user does not exist.
	GetUser(ctx context.Context, userID string) (*model.User, error)
	// PutUser creates the user or overwrites its profile fields. Favorites
	// and matches of an existing user are left untouched.
	PutUser(ctx context.Context, u *model.User) error
	// GetQuota returns the stored quota and whether it exists.
	GetQuota(ctx context.Context, userID string) (model.UsageQuota, bool, error)
	// TransactionalUpdate applies every mutation atomically. If any mutation
	// func returns an error nothing is written and that error is returned.
	// A concurrent writer yields ErrContention.
	TransactionalUpdate(ctx context.Context, muts ...Mutation) error
	// ArrayUnion and ArrayRemove are atomic set operations on a single field.
	ArrayUnion(ctx context.Context, collection, id, field, value string) error
	ArrayRemove(ctx context.Context, collection, id, field, value string) error
	// GetTitleIndex returns the users who favorited the title. A missing
	// entry is an empty set, never an error.
	GetTitleIndex(ctx context.Context, titleKey string) ([]string, error)
	// ListCooldownUsers returns ids of users whose quota is flagged
	// unavailable for matching.
	ListCooldownUsers(ctx context.Context) ([]string, error)
}

// Mutation is one record touched by a transactional update.
type Mutation interface {
	mutation()
}

// UserMutation edits a user document in place. The user must exist.
type UserMutation struct {
	UserID string
	Fn     func(u *model.User) error
}

// QuotaMutation edits a quota record in place. When found is false the
// record is zero-valued apart from UserID and the func must initialise it.
type QuotaMutation struct {
	UserID string
	Fn     func(q *model.UsageQuota, found bool) error
}

// IndexMutation adds or removes a user from a title's favorite index using
// the backend's atomic set primitive.
type IndexMutation struct {
	TitleKey string
	UserID   string
	Remove   bool
}

func (UserMutation) mutation()  {}
func (QuotaMutation) mutation() {}
func (IndexMutation) mutation() {}

func MutateUser(userID string, fn func(u *model.User) error) Mutation {
	return UserMutation{UserID: userID, Fn: fn}
}

func MutateQuota(userID string, fn func(q *model.UsageQuota, found bool) error) Mutation {
	return QuotaMutation{UserID: userID, Fn: fn}
}

func IndexAdd(titleKey, userID string) Mutation {
	return IndexMutation{TitleKey: titleKey, UserID: userID}
}

func IndexRemove(titleKey, userID string) Mutation {
	return IndexMutation{TitleKey: titleKey, UserID: userID, Remove: true}
}

// CheckSetTarget validates an ArrayUnion/ArrayRemove target.
func CheckSetTarget(collection, field string) error {
	if collection == CollectionTitles && field == FieldUsers {
		return nil
	}
	return fmt.Errorf("%w: %s.%s", ErrUnsupported, collection, field)
}
