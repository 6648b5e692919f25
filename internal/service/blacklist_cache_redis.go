package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlacklistCache keys revoked token ids and principal cutoffs with
// TTLs matching the tokens' own lifetimes, so entries age out on their
// own and the cache never outlives the durable rows it mirrors.
type RedisBlacklistCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisBlacklistCache(client redis.UniversalClient, prefix string) *RedisBlacklistCache {
	if prefix == "" {
		prefix = "blacklist"
	}
	return &RedisBlacklistCache{client: client, prefix: prefix}
}

func (c *RedisBlacklistCache) SetToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.tokenKey(tokenID), "1", ttl).Err()
}

func (c *RedisBlacklistCache) HasToken(ctx context.Context, tokenID string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	n, err := c.client.Exists(ctx, c.tokenKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisBlacklistCache) SetUserCutoff(ctx context.Context, userID string, cutoff time.Time, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.userKey(userID), strconv.FormatInt(cutoff.UnixNano(), 10), ttl).Err()
}

func (c *RedisBlacklistCache) UserCutoff(ctx context.Context, userID string) (time.Time, bool, error) {
	if c.client == nil {
		return time.Time{}, false, nil
	}
	raw, err := c.client.Get(ctx, c.userKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(0, nanos), true, nil
}

func (c *RedisBlacklistCache) tokenKey(tokenID string) string {
	return fmt.Sprintf("%s:token:%s", c.prefix, tokenID)
}

func (c *RedisBlacklistCache) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", c.prefix, userID)
}
