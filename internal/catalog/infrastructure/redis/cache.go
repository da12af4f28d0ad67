package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a TTL byte cache for single-product reads.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func key(id int64) string { return fmt.Sprintf("product:%d", id) }

func (c *Cache) Get(ctx context.Context, id int64) ([]byte, error) {
	payload, err := c.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return payload, err
}

func (c *Cache) Set(ctx context.Context, id int64, payload []byte) error {
	return c.rdb.Set(ctx, key(id), payload, c.ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, id int64) error {
	return c.rdb.Del(ctx, key(id)).Err()
}
