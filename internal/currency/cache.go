package currency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateCache stores recently fetched tables.
type RateCache interface {
	Get(ctx context.Context, base string) (RateTable, bool, error)
	Set(ctx context.Context, table RateTable) error
}

// RedisCache keeps tables under rates:<BASE> with a TTL.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache constructs a RedisCache.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(base string) string {
	return "rates:" + base
}

// Get implements RateCache.
func (c *RedisCache) Get(ctx context.Context, base string) (RateTable, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(base)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RateTable{}, false, nil
		}
		return RateTable{}, false, err
	}
	var table RateTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return RateTable{}, false, err
	}
	return table, true, nil
}

// Set implements RateCache.
func (c *RedisCache) Set(ctx context.Context, table RateTable) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(table.Base), raw, c.ttl).Err()
}
