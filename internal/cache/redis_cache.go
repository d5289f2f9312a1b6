package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"hardwarepos/backend/internal/domain"
)

const defaultKeyPrefix = "hardwarepos:items"

// RedisItemQueryCache namespaces entries by a generation counter. Invalidate
// bumps the counter, which orphans older entries until their TTL expires.
type RedisItemQueryCache struct {
	client *redis.Client
	prefix string
}

func NewRedisItemQueryCache(addr string, password string, db int) *RedisItemQueryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return NewRedisItemQueryCacheWithClient(client)
}

func NewRedisItemQueryCacheWithClient(client *redis.Client) *RedisItemQueryCache {
	return &RedisItemQueryCache{client: client, prefix: defaultKeyPrefix}
}

func (c *RedisItemQueryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisItemQueryCache) Close() error {
	return c.client.Close()
}

func (c *RedisItemQueryCache) generationKey() string {
	return c.prefix + ":gen"
}

func (c *RedisItemQueryCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisItemQueryCache) entryKey(gen int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, gen, key)
}

func (c *RedisItemQueryCache) GetItems(ctx context.Context, key string) (Lookup, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return Lookup{}, err
	}
	val, err := c.client.Get(ctx, c.entryKey(gen, key)).Result()
	if errors.Is(err, redis.Nil) {
		return Lookup{Generation: gen}, nil
	}
	if err != nil {
		return Lookup{}, err
	}

	var items []domain.Item
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		return Lookup{}, err
	}
	return Lookup{Items: items, Found: true, Generation: gen}, nil
}

// SetItems stores items under the generation returned by the GetItems miss.
// Nothing is written once that generation has been invalidated, and a write
// racing an invalidation lands under the stale generation where no reader
// looks.
func (c *RedisItemQueryCache) SetItems(ctx context.Context, generation int64, key string, items []domain.Item, ttl time.Duration) error {
	current, err := c.generation(ctx)
	if err != nil {
		return err
	}
	if current != generation {
		return nil
	}
	if items == nil {
		items = []domain.Item{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.entryKey(generation, key), payload, ttl).Err()
}

func (c *RedisItemQueryCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.generationKey()).Err()
}
