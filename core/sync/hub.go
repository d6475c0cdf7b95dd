package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"MirrorFM/cache"
	"MirrorFM/logger"

	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	MsgTypeHostUpdate    MessageType = "host_update"    // 主端快照（服务端广播，host 角色也可上行推送）
	MsgTypeRequestSync   MessageType = "request_sync"   // 客户端请求立即同步
	MsgTypeSyncResponse  MessageType = "sync_response"  // 针对 request_sync 的单播回复
	MsgTypeListenerCount MessageType = "listener_count" // 听众人数变更广播
	MsgTypeError         MessageType = "error"          // 错误消息
	MsgTypePing          MessageType = "ping"           // 心跳
	MsgTypePong          MessageType = "pong"           // 心跳响应
)

// 会话角色
const (
	RoleHost     = "host"     // 被镜像的主账号
	RoleListener = "listener" // 已登录的听众
	RoleGuest    = "guest"    // 未登录的访客
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ListenerCountData 听众人数数据
type ListenerCountData struct {
	Count int `json:"count"`
}

// Client WebSocket 客户端
type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	SessionID string
	UserID    int64 // 游客为 0
	Username  string
	Role      string // host, listener, guest
}

// Hub 同步广播中心
// 单一广播域：所有会话收到同一份快照流，投递尽力而为、至多一次，
// 发送缓冲满的慢消费者直接断开，错过的广播靠注册表的接入补发修复
type Hub struct {
	sessions map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	// 连接/断开钩子，由注册表挂上来做补发与计数广播
	onConnect    func(*Client)
	onDisconnect func(*Client)

	mu   sync.RWMutex
	done chan struct{}
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// SetHooks 设置连接/断开钩子，必须在 Run 之前调用
func (h *Hub) SetHooks(onConnect, onDisconnect func(*Client)) {
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToAll(message)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	close(h.done)
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.sessions[client] = true
	h.mu.Unlock()

	ctx := context.Background()
	sessionCache := cache.NewSessionCache()
	if err := sessionCache.UpdateSessionPresence(ctx, client.SessionID); err != nil {
		logger.Warn("failed to update session presence on register",
			logger.ErrorField(err),
			logger.String("session", client.SessionID))
	}

	logger.Info("session connected",
		logger.String("session", client.SessionID),
		logger.String("role", client.Role),
		logger.String("username", client.Username))

	if h.onConnect != nil {
		h.onConnect(client)
	}
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.sessions[client]
	if ok {
		delete(h.sessions, client)
		close(client.Send)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	ctx := context.Background()
	sessionCache := cache.NewSessionCache()
	if err := sessionCache.RemoveSessionPresence(ctx, client.SessionID); err != nil {
		logger.Warn("failed to remove session presence on unregister",
			logger.ErrorField(err),
			logger.String("session", client.SessionID))
	}

	logger.Info("session disconnected",
		logger.String("session", client.SessionID),
		logger.String("role", client.Role))

	if h.onDisconnect != nil {
		h.onDisconnect(client)
	}
}

// broadcastToAll 向所有会话广播消息
func (h *Hub) broadcastToAll(message []byte) {
	h.mu.RLock()
	clientList := make([]*Client, 0, len(h.sessions))
	for client := range h.sessions {
		clientList = append(clientList, client)
	}
	h.mu.RUnlock()

	for _, client := range clientList {
		select {
		case client.Send <- message:
		default:
			// 发送缓冲区满，直接移除这个慢消费者
			// 这里已经在 Hub 主循环里，不能再往 unregister 通道投递
			h.unregisterClient(client)
		}
	}
}

// cleanup 清理所有连接
func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.sessions {
		close(client.Send)
	}
	h.sessions = make(map[*Client]bool)
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Publish 广播 WSMessage 给所有会话
func (h *Hub) Publish(msg *WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- data:
	default:
		// 广播队列满，丢弃这一条，下一条快照会覆盖它
	}
	return nil
}

// SessionCount 当前连接数
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ========== Client 方法 ==========

// ReadPump 读取消息循环
func (c *Client) ReadPump(ctx context.Context, handler func(ctx context.Context, client *Client, msg *WSMessage)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096) // 4KB
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := c.Conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn("websocket read error",
						logger.ErrorField(err),
						logger.String("session", c.SessionID))
				}
				return
			}

			var msg WSMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				logger.Warn("invalid message format",
					logger.ErrorField(err),
					logger.String("session", c.SessionID))
				continue
			}

			// 处理心跳
			if msg.Type == MsgTypePing {
				sessionCache := cache.NewSessionCache()
				if err := sessionCache.UpdateSessionPresence(ctx, c.SessionID); err != nil {
					logger.Warn("failed to update session presence",
						logger.ErrorField(err),
						logger.String("session", c.SessionID))
				}

				pong := &WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}
				if data, err := json.Marshal(pong); err == nil {
					select {
					case c.Send <- data:
					default:
					}
				}
				continue
			}

			handler(ctx, c, &msg)
		}
	}
}

// WritePump 写入消息循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 合并发送队列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 发送消息给客户端
func (c *Client) SendMessage(msg *WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	default:
		return nil // 缓冲区满，丢弃消息
	}
}
