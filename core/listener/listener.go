package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"MirrorFM/config"
	"MirrorFM/core/playback"
	"MirrorFM/core/resolve"
	"MirrorFM/core/spotify"
	"MirrorFM/core/sync"
	"MirrorFM/logger"

	"github.com/gorilla/websocket"
)

// reconnectDelay 断线重连间隔
const reconnectDelay = 5 * time.Second

// Options 听众端运行参数
type Options struct {
	ServerURL string // 服务端基地址，如 http://localhost:8080
	Token     string // JWT，留空按游客接入
	Guest     bool   // 游客模式：用视频协调器代替设备协调器
}

// applier 两种协调器的公共面
type applier interface {
	Apply(s playback.Snapshot)
	SetTuning(toleranceMs, cooldownMs int64)
	State() playback.State
	LastError() string
	Stop()
}

// Runner 无头听众端
// 连上服务端的 WebSocket，把收到的快照喂给协调器：
// 登录听众直控自己的 Spotify 设备，游客走内容解析+模拟视频面
type Runner struct {
	opts   Options
	cfg    *config.Config
	recon  applier
	tuning *config.TuningStore
}

// NewRunner 创建听众端
func NewRunner(cfg *config.Config, opts Options) *Runner {
	tuning := config.NewTuningStore(config.TuningFromConfig(cfg))

	r := &Runner{opts: opts, cfg: cfg, tuning: tuning}
	if opts.Guest {
		resolver := resolve.NewClient(resolve.Config{
			Endpoint:  cfg.ResolverEndpoint,
			APIKey:    cfg.ResolverAPIKey,
			CacheSize: cfg.ResolverCacheSize,
		})
		r.recon = playback.NewVideoReconciler(newConsoleSurface(), resolver, playback.VideoOptions{
			ToleranceMs:     tuning.Current().VideoToleranceMs,
			CooldownMs:      tuning.Current().VideoCooldownMs,
			AutoplayRetryMs: tuning.Current().AutoplayRetryMs,
		})
	} else {
		client := spotify.NewClient(spotify.Config{
			APIBase:      cfg.SpotifyAPIBase,
			AccountsBase: cfg.SpotifyAccountsBase,
			ClientID:     cfg.SpotifyClientID,
			ClientSecret: cfg.SpotifyClientSecret,
		})
		client.SetRefreshToken(cfg.SpotifyHostRefresh)
		r.recon = playback.NewReconciler(&deviceSink{client: client}, playback.Options{
			ToleranceMs: tuning.Current().DeviceToleranceMs,
			CooldownMs:  tuning.Current().DeviceCooldownMs,
		})
	}

	tuning.OnChange(r.applyTuning)
	return r
}

// applyTuning 把热更新后的旋钮推进协调器，按角色取对应的一组
func (r *Runner) applyTuning(t config.Tuning) {
	if r.opts.Guest {
		r.recon.SetTuning(t.VideoToleranceMs, t.VideoCooldownMs)
	} else {
		r.recon.SetTuning(t.DeviceToleranceMs, t.DeviceCooldownMs)
	}
	logger.Info("sync tuning applied",
		logger.Bool("guest", r.opts.Guest))
}

// Run 主循环：连接、消费、断了就重连，直到 ctx 取消
func (r *Runner) Run(ctx context.Context) error {
	wsURL, err := r.wsURL()
	if err != nil {
		return err
	}

	// 调优旋钮跟服务端一样盯 .env 热更新，盯不上也不影响运行
	if err := r.tuning.Watch(".env"); err != nil {
		logger.Warn("tuning watcher unavailable", logger.ErrorField(err))
	}
	defer r.tuning.Stop()
	defer r.recon.Stop()

	for {
		if err := r.runOnce(ctx, wsURL); err != nil {
			logger.Warn("sync connection lost", logger.ErrorField(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	logger.Info("connected to sync server", logger.String("url", wsURL))

	// 连上先要一拍，不等下一次广播
	request, _ := json.Marshal(&sync.WSMessage{
		Type:      sync.MsgTypeRequestSync,
		Timestamp: time.Now().UnixMilli(),
	})
	if err := conn.WriteMessage(websocket.TextMessage, request); err != nil {
		return err
	}

	// 心跳维持在线状态
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ping, _ := json.Marshal(&sync.WSMessage{
					Type:      sync.MsgTypePing,
					Timestamp: time.Now().UnixMilli(),
				})
				if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg sync.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("invalid message from server", logger.ErrorField(err))
			continue
		}
		r.handleMessage(&msg)
	}
}

func (r *Runner) handleMessage(msg *sync.WSMessage) {
	switch msg.Type {
	case sync.MsgTypeHostUpdate, sync.MsgTypeSyncResponse:
		if len(msg.Data) == 0 {
			return
		}
		var snap playback.Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			logger.Warn("invalid snapshot payload", logger.ErrorField(err))
			return
		}
		r.recon.Apply(snap)
		if r.recon.State() == playback.StateError {
			logger.Warn("sync action failed", logger.String("reason", r.recon.LastError()))
		}

	case sync.MsgTypeListenerCount:
		var count sync.ListenerCountData
		if err := json.Unmarshal(msg.Data, &count); err == nil {
			logger.Info("listener count", logger.Int("count", count.Count))
		}

	case sync.MsgTypePong:
		// 心跳回包，不用处理

	case sync.MsgTypeError:
		logger.Warn("server error message", logger.String("data", string(msg.Data)))
	}
}

// wsURL 把基地址转成带 token 的 WebSocket 地址
func (r *Runner) wsURL() (string, error) {
	base, err := url.Parse(r.opts.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	switch base.Scheme {
	case "http", "":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	}
	base.Path = "/ws/sync"

	if r.opts.Token != "" {
		q := base.Query()
		q.Set("token", r.opts.Token)
		base.RawQuery = q.Encode()
	}
	return base.String(), nil
}
