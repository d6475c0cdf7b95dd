package server

import (
	"encoding/json"
	"net/http"

	"MirrorFM/config"
	"MirrorFM/core/resolve"
	"MirrorFM/core/spotify"
	"MirrorFM/core/sync"
	"MirrorFM/repository"
	"MirrorFM/storage"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	manager     *sync.Manager
	hostClient  *spotify.Client
	artwork     *storage.ArtworkMirror
	resolver    *resolve.Client
	cfg         *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	manager *sync.Manager,
	hostClient *spotify.Client,
	artwork *storage.ArtworkMirror,
	resolver *resolve.Client,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		manager:     manager,
		hostClient:  hostClient,
		artwork:     artwork,
		resolver:    resolver,
		cfg:         cfg,
	}
}

// writeJSON 输出 JSON 响应
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
