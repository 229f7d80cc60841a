package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/oggyb/cinematch/internal/config"
)

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.Client.Del(ctx, key).Err()
}

// QuotaSnapshot is the cached form of a quota status. The cooldown is stored
// as an absolute end time so readers can derive the remaining seconds.
type QuotaSnapshot struct {
	Tier             string     `json:"tier"`
	RemainingChanges int        `json:"remaining_changes"`
	RemainingMatches int        `json:"remaining_matches"`
	CooldownEndsAt   *time.Time `json:"cooldown_ends_at,omitempty"`
}

// KeyForQuotaStatus generates Redis key for a user's quota status snapshot
func (c *RedisCache) KeyForQuotaStatus(userID string) string {
	return fmt.Sprintf("quota:status:%s", userID)
}

func (c *RedisCache) PutQuotaStatus(ctx context.Context, userID string, snap QuotaSnapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal quota snapshot: %w", err)
	}
	// never outlive the cooldown it describes
	if snap.CooldownEndsAt != nil {
		if left := time.Until(*snap.CooldownEndsAt); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return nil
	}
	return c.Client.Set(ctx, c.KeyForQuotaStatus(userID), raw, ttl).Err()
}

// GetQuotaStatus returns the snapshot and whether it was present.
func (c *RedisCache) GetQuotaStatus(ctx context.Context, userID string) (QuotaSnapshot, bool, error) {
	raw, err := c.Client.Get(ctx, c.KeyForQuotaStatus(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return QuotaSnapshot{}, false, nil // cache miss
	} else if err != nil {
		return QuotaSnapshot{}, false, err
	}
	var snap QuotaSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return QuotaSnapshot{}, false, fmt.Errorf("failed to unmarshal quota snapshot: %w", err)
	}
	return snap, true, nil
}

func (c *RedisCache) InvalidateQuotaStatus(ctx context.Context, userID string) error {
	return c.Del(ctx, c.KeyForQuotaStatus(userID))
}
