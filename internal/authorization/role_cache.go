package authorization

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pavetrack/internal/cache"
	"github.com/smallbiznis/pavetrack/internal/clock"
)

// RoleCache stores resolved profile roles per user.
type RoleCache interface {
	Get(ctx context.Context, userID string) ([]string, bool, error)
	Set(ctx context.Context, userID string, roles []string, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

type memoryRoleCache struct {
	entries *cache.TTLCache[string, []string]
}

func NewMemoryRoleCache(clk clock.Clock) RoleCache {
	return &memoryRoleCache{entries: cache.NewTTLCacheWithClock[string, []string](clk)}
}

func (c *memoryRoleCache) Get(_ context.Context, userID string) ([]string, bool, error) {
	roles, ok := c.entries.Get(userID)
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), roles...), true, nil
}

func (c *memoryRoleCache) Set(_ context.Context, userID string, roles []string, ttl time.Duration) error {
	c.entries.Set(userID, append([]string{}, roles...), ttl)
	return nil
}

func (c *memoryRoleCache) Delete(_ context.Context, userID string) error {
	c.entries.Delete(userID)
	return nil
}

const redisRoleKeyPrefix = "pavetrack:roles:"

type redisRoleCache struct {
	client *redis.Client
}

func NewRedisRoleCache(client *redis.Client) RoleCache {
	return &redisRoleCache{client: client}
}

func (c *redisRoleCache) Get(ctx context.Context, userID string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, redisRoleKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var roles []string
	if err := json.Unmarshal(raw, &roles); err != nil {
		return nil, false, err
	}
	return roles, true, nil
}

func (c *redisRoleCache) Set(ctx context.Context, userID string, roles []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if roles == nil {
		roles = []string{}
	}
	payload, err := json.Marshal(roles)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisRoleKeyPrefix+userID, payload, ttl).Err()
}

func (c *redisRoleCache) Delete(ctx context.Context, userID string) error {
	return c.client.Del(ctx, redisRoleKeyPrefix+userID).Err()
}
