package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"MirrorFM/cache"
	"MirrorFM/core/auth"
	"MirrorFM/core/spotify"
	"MirrorFM/core/sync"
	"MirrorFM/logger"
	"MirrorFM/model"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// SyncHandler 同步链路的 HTTP/WebSocket 处理器
type SyncHandler struct {
	api      *APIHandler
	upgrader websocket.Upgrader
}

// NewSyncHandler 创建同步处理器
func NewSyncHandler(api *APIHandler) *SyncHandler {
	return &SyncHandler{
		api: api,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WebSocketHandler 会话接入
// token 查询参数：有效 JWT 按账号定角色（host 账号 -> host，其余 -> listener），
// 没带 token 的按游客接入
func (h *SyncHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	role := sync.RoleGuest
	var userID int64
	var username string

	if token := r.URL.Query().Get("token"); token != "" {
		claims, err := auth.ParseToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		userID = claims.UserID
		username = claims.Username
		role = sync.RoleListener

		if user, err := h.api.userRepo.GetUserByID(userID); err == nil && user != nil && user.IsHost {
			role = sync.RoleHost
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket 升级失败", logger.ErrorField(err))
		return
	}

	client := &sync.Client{
		Hub:       h.api.manager.Hub(),
		Conn:      conn,
		Send:      make(chan []byte, 256),
		SessionID: uuid.NewString(),
		UserID:    userID,
		Username:  username,
		Role:      role,
	}

	h.api.manager.Hub().Register(client)

	// 会话历史只做事后统计，写失败不拦接入
	if h.api.sessionRepo != nil {
		if err := h.api.sessionRepo.RecordConnect(r.Context(), &model.ListenSession{
			SessionID: client.SessionID,
			UserID:    userID,
			Role:      role,
		}); err != nil {
			logger.Warn("failed to record listen session", logger.ErrorField(err))
		}
	}

	go client.WritePump()
	go func() {
		client.ReadPump(context.Background(), h.api.manager.HandleMessage)
		if h.api.sessionRepo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.api.sessionRepo.RecordDisconnect(ctx, client.SessionID); err != nil {
				logger.Warn("failed to close listen session", logger.ErrorField(err))
			}
		}
	}()

	logger.Info("WebSocket 连接建立",
		logger.String("session", client.SessionID),
		logger.String("role", role),
		logger.String("username", username))
}

// PlaybackHandler 返回最新快照
// 注册表没有时退回 Redis 镜像（比如刚重启、轮询还没跑出第一拍）
func (h *SyncHandler) PlaybackHandler(w http.ResponseWriter, r *http.Request) {
	if snap, ok := h.api.manager.Registry().Latest(); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	sessionCache := cache.NewSessionCache()
	snap, ok, err := sessionCache.GetLatestSnapshot(r.Context())
	if err != nil || !ok {
		http.Error(w, "No playback snapshot available", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PlaybackCommandRequest 设备控制请求
type PlaybackCommandRequest struct {
	Action     string `json:"action"` // play, pause, seek, load
	TrackID    string `json:"trackId,omitempty"`
	PositionMs int64  `json:"positionMs,omitempty"`
}

// PlaybackCommandHandler 把播放指令透传到调用者自己的 Spotify 设备
func (h *SyncHandler) PlaybackCommandHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.api.userRepo.GetUserByID(userID)
	if err != nil || user == nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if user.SpotifyRefreshToken == "" {
		http.Error(w, "No Spotify account bound", http.StatusBadRequest)
		return
	}

	var req PlaybackCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	client := spotify.NewClient(spotify.Config{
		APIBase:      h.api.cfg.SpotifyAPIBase,
		AccountsBase: h.api.cfg.SpotifyAccountsBase,
		ClientID:     h.api.cfg.SpotifyClientID,
		ClientSecret: h.api.cfg.SpotifyClientSecret,
	})
	client.SetRefreshToken(user.SpotifyRefreshToken)

	ctx := r.Context()
	switch req.Action {
	case "play":
		err = client.Play(ctx)
	case "pause":
		err = client.Pause(ctx)
	case "seek":
		err = client.Seek(ctx, req.PositionMs)
	case "load":
		if req.TrackID == "" {
			http.Error(w, "trackId is required for load", http.StatusBadRequest)
			return
		}
		err = client.LoadTrack(ctx, req.TrackID, req.PositionMs)
	default:
		http.Error(w, "Unknown action: "+req.Action, http.StatusBadRequest)
		return
	}

	if err != nil {
		logger.Warn("playback command failed",
			logger.ErrorField(err),
			logger.String("action", req.Action),
			logger.Int64("user", userID))
		http.Error(w, "Command failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResolveHandler 把曲目的标题+艺术家解析成视频内容 ID
// 浏览器里的游客播放面走这里，命中两级缓存时不会打到上游搜索接口
func (h *SyncHandler) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	artist := r.URL.Query().Get("artist")
	if title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	contentID, err := h.api.resolver.Resolve(title, artist)
	if err != nil {
		logger.Warn("resolve failed",
			logger.ErrorField(err),
			logger.String("title", title),
			logger.String("artist", artist))
		http.Error(w, "No content found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"contentId": contentID})
}

// ArtworkHandler 提供镜像过的封面
func (h *SyncHandler) ArtworkHandler(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["track_id"]
	if trackID == "" {
		http.Error(w, "track_id is required", http.StatusBadRequest)
		return
	}

	obj, contentType, err := h.api.artwork.Open(r.Context(), trackID)
	if err != nil {
		http.Error(w, "Artwork not found", http.StatusNotFound)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000") // 封面按曲目不可变，缓存一年
	if _, err := io.Copy(w, obj); err != nil {
		logger.Warn("error serving artwork", logger.ErrorField(err))
	}
}

// HealthHandler 存活探针
// activeSessions 来自 Redis 心跳，多实例部署时比本进程的连接数更全；
// Redis 不在时省略该字段
func (h *SyncHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":   "ok",
		"sessions": h.api.manager.Registry().SessionCount(),
	}
	if count, err := cache.NewSessionCache().ActiveSessionCount(r.Context()); err == nil {
		resp["activeSessions"] = count
	}
	writeJSON(w, http.StatusOK, resp)
}

// SessionsHandler 当前在线会话
func (h *SyncHandler) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":      h.api.manager.Registry().Sessions(),
		"listenerCount": h.api.manager.Registry().ListenerCount(),
	})
}

// SessionHistoryHandler 会话历史：最近接入记录加上调用者自己的累计接入数
func (h *SyncHandler) SessionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if h.api.sessionRepo == nil {
		http.Error(w, "Session history unavailable", http.StatusServiceUnavailable)
		return
	}

	recent, err := h.api.sessionRepo.GetRecent(r.Context(), 50)
	if err != nil {
		logger.Error("failed to load session history", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	total, err := h.api.sessionRepo.CountByUser(r.Context(), userID)
	if err != nil {
		logger.Error("failed to count user sessions", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	username, _ := GetUsernameFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username":   username,
		"totalCount": total,
		"recent":     recent,
	})
}

// RegisterSyncRoutes 注册同步相关路由
func RegisterSyncRoutes(router *mux.Router, handler *SyncHandler, authMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	router.HandleFunc("/api/playback", handler.PlaybackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/playback/cmd", authMiddleware(handler.PlaybackCommandHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/resolve", handler.ResolveHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions", handler.SessionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/history", authMiddleware(handler.SessionHistoryHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/health", handler.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/artwork/{track_id}", handler.ArtworkHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws/sync", handler.WebSocketHandler)
}
