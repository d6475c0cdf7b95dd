package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const resolveKey = "resolve:%s|%s" // String: (title, artist) -> contentID

// ResolveCache 内容ID解析结果的 Redis 二级缓存
// 只缓存正向结果：查不到的曲目下次换曲时重查
type ResolveCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResolveCache 创建解析缓存
func NewResolveCache(ttl time.Duration) *ResolveCache {
	return &ResolveCache{client: RedisClient, ttl: ttl}
}

// Get 查缓存，未命中返回空串
func (c *ResolveCache) Get(ctx context.Context, title, artist string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(resolveKey, title, artist)
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

// Set 写入正向结果
func (c *ResolveCache) Set(ctx context.Context, title, artist, contentID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(resolveKey, title, artist)
	return c.client.Set(ctx, key, contentID, c.ttl).Err()
}
