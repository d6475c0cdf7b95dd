package sync

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"time"

	"MirrorFM/cache"
	"MirrorFM/core/playback"
	"MirrorFM/logger"
)

// SessionRecord 会话记录
type SessionRecord struct {
	SessionID     string `json:"sessionId"`
	Role          string `json:"role"`
	Username      string `json:"username,omitempty"`
	ConnectedAtMs int64  `json:"connectedAtMs"`
}

// Registry 会话注册表
// 维护会话记录和"最新快照"这一份唯一状态：快照到达即覆盖，不留历史，
// 轮询来的和主端推送来的一视同仁，后写者胜
type Registry struct {
	hub *Hub

	mu       stdsync.RWMutex
	sessions map[string]*SessionRecord
	latest   playback.Snapshot
	hasSnap  bool

	nowFn func() int64
}

// NewRegistry 创建注册表并挂上 Hub 的连接钩子
func NewRegistry(hub *Hub) *Registry {
	r := &Registry{
		hub:      hub,
		sessions: make(map[string]*SessionRecord),
		nowFn:    func() int64 { return time.Now().UnixMilli() },
	}
	hub.SetHooks(r.handleConnect, r.handleDisconnect)
	return r
}

// handleConnect 新会话接入：先记录，再把最新快照单播补发给它
// 补发必须发生在它收到任何后续广播之前，晚加入的会话靠这一步拿到当前状态
func (r *Registry) handleConnect(client *Client) {
	now := r.nowFn()

	r.mu.Lock()
	r.sessions[client.SessionID] = &SessionRecord{
		SessionID:     client.SessionID,
		Role:          client.Role,
		Username:      client.Username,
		ConnectedAtMs: now,
	}
	snap, ok := r.latest, r.hasSnap
	r.mu.Unlock()

	if ok {
		if err := r.unicastSnapshot(client, MsgTypeSyncResponse, snap.Refreshed(now)); err != nil {
			logger.Warn("catch-up unicast failed",
				logger.ErrorField(err),
				logger.String("session", client.SessionID))
		}
	}

	r.broadcastListenerCount()
}

// handleDisconnect 会话断开：丢弃记录，人数变了就广播新的听众数
func (r *Registry) handleDisconnect(client *Client) {
	r.mu.Lock()
	delete(r.sessions, client.SessionID)
	r.mu.Unlock()

	r.broadcastListenerCount()
}

// UpdateSnapshot 覆盖最新快照并镜像到 Redis
// Redis 只是给 HTTP API 用的副本，写失败不影响同步
func (r *Registry) UpdateSnapshot(snap playback.Snapshot) {
	r.mu.Lock()
	r.latest = snap
	r.hasSnap = true
	r.mu.Unlock()

	sessionCache := cache.NewSessionCache()
	if err := sessionCache.SetLatestSnapshot(context.Background(), snap); err != nil {
		logger.Warn("snapshot mirror write failed", logger.ErrorField(err))
	}
}

// Latest 读取最新快照
func (r *Registry) Latest() (playback.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.hasSnap
}

// HandleRequestSync 单播回复最新快照
// capturedAtMs 重写为当前时刻，位置按估算推进，避免估算误差随转发叠加
func (r *Registry) HandleRequestSync(client *Client) {
	r.mu.RLock()
	snap, ok := r.latest, r.hasSnap
	r.mu.RUnlock()

	if !ok {
		client.SendMessage(&WSMessage{Type: MsgTypeSyncResponse})
		return
	}

	if err := r.unicastSnapshot(client, MsgTypeSyncResponse, snap.Refreshed(r.nowFn())); err != nil {
		logger.Warn("sync response failed",
			logger.ErrorField(err),
			logger.String("session", client.SessionID))
	}
}

// PublishSnapshot 更新最新快照并广播给所有会话
func (r *Registry) PublishSnapshot(snap playback.Snapshot) {
	r.UpdateSnapshot(snap)

	data, err := json.Marshal(snap)
	if err != nil {
		logger.Error("failed to marshal snapshot", logger.ErrorField(err))
		return
	}
	r.hub.Publish(&WSMessage{Type: MsgTypeHostUpdate, Data: data})
}

// SessionCount 会话总数
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ListenerCount 非主端会话数
func (r *Registry) ListenerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, record := range r.sessions {
		if record.Role != RoleHost {
			count++
		}
	}
	return count
}

// Sessions 当前会话记录的副本
func (r *Registry) Sessions() []SessionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]SessionRecord, 0, len(r.sessions))
	for _, record := range r.sessions {
		result = append(result, *record)
	}
	return result
}

// broadcastListenerCount 广播当前听众人数
func (r *Registry) broadcastListenerCount() {
	data, err := json.Marshal(ListenerCountData{Count: r.ListenerCount()})
	if err != nil {
		return
	}
	r.hub.Publish(&WSMessage{Type: MsgTypeListenerCount, Data: data})
}

func (r *Registry) unicastSnapshot(client *Client, msgType MessageType, snap playback.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return client.SendMessage(&WSMessage{Type: msgType, Data: data})
}
