package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MirrorFM/core/playback"

	"github.com/go-redis/redis/v8"
)

const (
	latestSnapshotKey  = "sync:latest_snapshot"    // String: 最新快照 JSON
	sessionPresenceKey = "sync:presence:%s"        // String: 会话心跳 key
	sessionSetKey      = "sync:online_sessions"    // Set: 在线会话集合
	snapshotTTL        = 10 * time.Minute
	presenceTTL        = 60 * time.Second
)

// SessionCache 会话与快照的 Redis 镜像
// 同步核心完全跑在内存里，这里只是给 HTTP API 和在线统计用的副本
type SessionCache struct {
	client *redis.Client
}

// NewSessionCache 创建会话缓存
func NewSessionCache() *SessionCache {
	return &SessionCache{client: RedisClient}
}

// SetLatestSnapshot 镜像最新快照
func (c *SessionCache) SetLatestSnapshot(ctx context.Context, snap playback.Snapshot) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return c.client.Set(ctx, latestSnapshotKey, data, snapshotTTL).Err()
}

// GetLatestSnapshot 读取快照镜像，没有时返回 ok=false
func (c *SessionCache) GetLatestSnapshot(ctx context.Context) (playback.Snapshot, bool, error) {
	var snap playback.Snapshot
	if c.client == nil {
		return snap, false, fmt.Errorf("Redis client not initialized")
	}

	data, err := c.client.Get(ctx, latestSnapshotKey).Result()
	if err != nil {
		if err == redis.Nil {
			return snap, false, nil
		}
		return snap, false, err
	}
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return snap, false, err
	}
	return snap, true, nil
}

// UpdateSessionPresence 刷新会话心跳
func (c *SessionCache) UpdateSessionPresence(ctx context.Context, sessionID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(sessionPresenceKey, sessionID), time.Now().UnixMilli(), presenceTTL)
	pipe.SAdd(ctx, sessionSetKey, sessionID)
	pipe.Expire(ctx, sessionSetKey, snapshotTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveSessionPresence 移除会话心跳
func (c *SessionCache) RemoveSessionPresence(ctx context.Context, sessionID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf(sessionPresenceKey, sessionID))
	pipe.SRem(ctx, sessionSetKey, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// ActiveSessionCount 基于心跳统计活跃会话数，顺带清理过期成员
func (c *SessionCache) ActiveSessionCount(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, fmt.Errorf("Redis client not initialized")
	}

	members, err := c.client.SMembers(ctx, sessionSetKey).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	active := int64(0)
	expired := make([]interface{}, 0)
	for _, sessionID := range members {
		exists, err := c.client.Exists(ctx, fmt.Sprintf(sessionPresenceKey, sessionID)).Result()
		if err != nil {
			continue
		}
		if exists > 0 {
			active++
		} else {
			expired = append(expired, sessionID)
		}
	}

	if len(expired) > 0 {
		c.client.SRem(ctx, sessionSetKey, expired...)
	}

	return active, nil
}
