package sync

import (
	"context"
	"encoding/json"
	"time"

	"MirrorFM/core/playback"
	"MirrorFM/logger"
)

// Manager 同步消息分发器
type Manager struct {
	hub      *Hub
	registry *Registry
}

// NewManager 创建消息分发器
func NewManager(hub *Hub, registry *Registry) *Manager {
	return &Manager{hub: hub, registry: registry}
}

// Hub 返回底层 Hub
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Registry 返回会话注册表
func (m *Manager) Registry() *Registry {
	return m.registry
}

// HandleMessage 处理客户端上行消息
func (m *Manager) HandleMessage(ctx context.Context, client *Client, msg *WSMessage) {
	switch msg.Type {
	case MsgTypeHostUpdate:
		m.handleHostUpdate(client, msg)

	case MsgTypeRequestSync:
		m.registry.HandleRequestSync(client)

	default:
		m.sendError(client, "unknown message type: "+string(msg.Type))
	}
}

// handleHostUpdate 主端上行推送的快照
// 只有 host 角色可以推；推上来的和轮询拉到的走同一条路，后写者胜
func (m *Manager) handleHostUpdate(client *Client, msg *WSMessage) {
	if client.Role != RoleHost {
		m.sendError(client, "only the host may push playback updates")
		return
	}

	var snap playback.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		logger.Warn("invalid host update payload",
			logger.ErrorField(err),
			logger.String("session", client.SessionID))
		m.sendError(client, "invalid playback payload")
		return
	}

	if snap.CapturedAtMs == 0 {
		snap.CapturedAtMs = time.Now().UnixMilli()
	}

	m.registry.PublishSnapshot(snap)
}

func (m *Manager) sendError(client *Client, reason string) {
	data, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return
	}
	client.SendMessage(&WSMessage{Type: MsgTypeError, Data: data})
}
