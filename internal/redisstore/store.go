// Package redisstore implements store.DataStore on Redis.
//
// Layout:
//   - user:{id}            JSON user document
//   - quota:{id}           JSON quota document
//   - title:{key}:users    SET of user ids who favorited the title
//   - quota:cooldown       SET of user ids whose quota is unavailable
//
// Transactions use optimistic locking: every touched document key is
// WATCHed, mutations are applied in memory and written with MULTI/EXEC.
// An aborted EXEC surfaces as store.ErrContention. Index updates are
// SADD/SREM inside the same MULTI.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/oggyb/cinematch/internal/model"
	"github.com/oggyb/cinematch/internal/store"
)

const cooldownSetKey = "quota:cooldown"

type Store struct {
	rdb *redis.Client
}

var _ store.DataStore = (*Store)(nil)

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func userKey(id string) string   { return "user:" + id }
func quotaKey(id string) string  { return "quota:" + id }
func titleKey(key string) string { return "title:" + key + ":users" }

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return getUser(ctx, s.rdb, userID)
}

// PutUser overwrites profile fields and keeps favorites and matches.
func (s *Store) PutUser(ctx context.Context, u *model.User) error {
	key := userKey(u.ID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		doc := u.Clone()
		existing, err := getUser(ctx, tx, u.ID)
		switch {
		case err == nil:
			doc.Favorites = existing.Favorites
			doc.Matches = existing.Matches
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal user: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}, key)
	return mapTxErr(err)
}

func (s *Store) GetQuota(ctx context.Context, userID string) (model.UsageQuota, bool, error) {
	return getQuota(ctx, s.rdb, userID)
}

// TransactionalUpdate applies the mutations under WATCH on every document
// they touch.
func (s *Store) TransactionalUpdate(ctx context.Context, muts ...store.Mutation) error {
	var keys []string
	for _, m := range muts {
		switch m := m.(type) {
		case store.UserMutation:
			keys = append(keys, userKey(m.UserID))
		case store.QuotaMutation:
			keys = append(keys, quotaKey(m.UserID))
		case store.IndexMutation:
		default:
			return fmt.Errorf("unknown mutation %T", m)
		}
	}

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		users := make(map[string]*model.User)
		quotas := make(map[string]*model.UsageQuota)
		var index []store.IndexMutation

		for _, m := range muts {
			switch m := m.(type) {
			case store.UserMutation:
				u, ok := users[m.UserID]
				if !ok {
					loaded, err := getUser(ctx, tx, m.UserID)
					if err != nil {
						return err
					}
					u = loaded
					users[m.UserID] = u
				}
				if err := m.Fn(u); err != nil {
					return err
				}
			case store.QuotaMutation:
				q, ok := quotas[m.UserID]
				found := true
				if !ok {
					loaded, exists, err := getQuota(ctx, tx, m.UserID)
					if err != nil {
						return err
					}
					q, found = &loaded, exists
					quotas[m.UserID] = q
				}
				if err := m.Fn(q, found); err != nil {
					return err
				}
				q.UserID = m.UserID
			case store.IndexMutation:
				index = append(index, m)
			}
		}

		docs := make(map[string][]byte, len(users)+len(quotas))
		for id, u := range users {
			raw, err := json.Marshal(u)
			if err != nil {
				return fmt.Errorf("failed to marshal user: %w", err)
			}
			docs[userKey(id)] = raw
		}
		for id, q := range quotas {
			raw, err := json.Marshal(q)
			if err != nil {
				return fmt.Errorf("failed to marshal quota: %w", err)
			}
			docs[quotaKey(id)] = raw
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, raw := range docs {
				pipe.Set(ctx, k, raw, 0)
			}
			for id, q := range quotas {
				if q.AvailableForMatching {
					pipe.SRem(ctx, cooldownSetKey, id)
				} else {
					pipe.SAdd(ctx, cooldownSetKey, id)
				}
			}
			for _, m := range index {
				if m.Remove {
					pipe.SRem(ctx, titleKey(m.TitleKey), m.UserID)
				} else {
					pipe.SAdd(ctx, titleKey(m.TitleKey), m.UserID)
				}
			}
			return nil
		})
		return err
	}, keys...)
	return mapTxErr(err)
}

func (s *Store) ArrayUnion(ctx context.Context, collection, id, field, value string) error {
	if err := store.CheckSetTarget(collection, field); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, titleKey(id), value).Err()
}

func (s *Store) ArrayRemove(ctx context.Context, collection, id, field, value string) error {
	if err := store.CheckSetTarget(collection, field); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, titleKey(id), value).Err()
}

// GetTitleIndex returns the sorted members. A missing key is an empty set.
func (s *Store) GetTitleIndex(ctx context.Context, key string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, titleKey(key)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListCooldownUsers(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, cooldownSetKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func getUser(ctx context.Context, c getter, userID string) (*model.User, error) {
	raw, err := c.Get(ctx, userKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user %s: %w", userID, err)
	}
	return &u, nil
}

func getQuota(ctx context.Context, c getter, userID string) (model.UsageQuota, bool, error) {
	raw, err := c.Get(ctx, quotaKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.UsageQuota{UserID: userID}, false, nil
	} else if err != nil {
		return model.UsageQuota{}, false, err
	}
	var q model.UsageQuota
	if err := json.Unmarshal(raw, &q); err != nil {
		return model.UsageQuota{}, false, fmt.Errorf("failed to unmarshal quota %s: %w", userID, err)
	}
	return q, true, nil
}

func mapTxErr(err error) error {
	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrContention
	}
	return err
}
