package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MirrorFM/cache"
	"MirrorFM/config"
	"MirrorFM/core/auth"
	"MirrorFM/core/resolve"
	"MirrorFM/core/spotify"
	"MirrorFM/core/sync"
	"MirrorFM/db"
	"MirrorFM/logger"
	"MirrorFM/model"
	"MirrorFM/repository"
	"MirrorFM/storage"

	"github.com/gorilla/mux"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()
	logger.InitLogger(logger.Config{Level: logger.LogLevel(cfg.LogLevel), OutputPath: cfg.LogPath})
	auth.SetJWTSecret(cfg.JWTSecret)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 数据库是认证的依赖，连不上直接退出
	if err := db.ConnectDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseDB()

	if err := db.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database with GORM: %v", err)
	}
	defer db.CloseGormDB()

	if err := db.AutoMigrateModels(&model.ListenSession{}); err != nil {
		log.Fatalf("Failed to migrate models: %v", err)
	}

	// Redis 和 MinIO 都是可降级的：快照镜像、封面镜像、解析缓存
	// 少了它们同步链路照常工作
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis unavailable, snapshot mirror and resolve cache disabled", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
		log.Println("Successfully connected to Redis")
	}

	if err := storage.InitMinio(cfg); err != nil {
		logger.Warn("MinIO unavailable, artwork mirroring disabled", logger.ErrorField(err))
	}

	userRepo := repository.NewMySQLUserRepository(db.DB)
	sessionRepo := repository.NewGormSessionRepository(db.GormDB)

	// 主账号 Spotify 客户端：refresh token 优先取数据库里的 host 账号，
	// 没有就退回环境变量
	hostClient := spotify.NewClient(spotify.Config{
		APIBase:      cfg.SpotifyAPIBase,
		AccountsBase: cfg.SpotifyAccountsBase,
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
	})
	if hostUser, err := userRepo.GetHostUser(); err == nil && hostUser != nil && hostUser.SpotifyRefreshToken != "" {
		hostClient.SetRefreshToken(hostUser.SpotifyRefreshToken)
	} else if cfg.SpotifyHostRefresh != "" {
		hostClient.SetRefreshToken(cfg.SpotifyHostRefresh)
	}

	// 同步核心：Hub + 注册表 + 轮询器
	hub := sync.NewHub()
	registry := sync.NewRegistry(hub)
	manager := sync.NewManager(hub, registry)
	go hub.Run()
	defer hub.Stop()

	tuning := config.NewTuningStore(config.TuningFromConfig(cfg))
	if err := tuning.Watch(".env"); err != nil {
		logger.Warn("tuning hot-reload disabled", logger.ErrorField(err))
	}
	defer tuning.Stop()

	pollCtx, cancelPoll := context.WithCancel(context.Background())
	defer cancelPoll()
	poller := sync.NewPoller(hostClient, registry, tuning)
	go poller.Run(pollCtx)

	artwork := storage.NewArtworkMirror()
	go mirrorArtworkLoop(pollCtx, registry, artwork)

	resolver := resolve.NewClient(resolve.Config{
		Endpoint:  cfg.ResolverEndpoint,
		APIKey:    cfg.ResolverAPIKey,
		CacheSize: cfg.ResolverCacheSize,
		RedisTier: cache.NewResolveCache(cfg.ResolverCacheTTL),
	})

	apiHandler := NewAPIHandler(userRepo, sessionRepo, manager, hostClient, artwork, resolver, cfg)
	syncHandler := NewSyncHandler(apiHandler)

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 用户认证相关的API端点
	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/register", apiHandler.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/spotify/bind", apiHandler.AuthMiddleware(apiHandler.BindSpotifyHandler)).Methods(http.MethodPost)

	// 同步相关端点
	RegisterSyncRoutes(router, syncHandler, apiHandler.AuthMiddleware)

	server.Handler = router

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s...", cfg.ServerAddr)
		log.Println("Attach listeners via WS /ws/sync")
		log.Println("Latest snapshot via GET /api/playback")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// mirrorArtworkLoop 跟着最新快照做封面镜像
// 每次轮到新曲目才触发一次，镜像失败只记日志
func mirrorArtworkLoop(ctx context.Context, registry *sync.Registry, artwork *storage.ArtworkMirror) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastTrackID string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := registry.Latest()
			if !ok || !snap.HasTrack() || snap.TrackID == lastTrackID {
				continue
			}
			lastTrackID = snap.TrackID
			artwork.MirrorAsync(snap.TrackID, snap.ArtworkURL)
		}
	}
}
