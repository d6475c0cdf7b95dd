package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"MirrorFM/config"
	"MirrorFM/core/playback"
	"MirrorFM/core/spotify"
	"MirrorFM/logger"
)

// authLogInterval 认证错误的日志限流间隔
const authLogInterval = 30 * time.Second

// PlaybackSource 上游播放状态来源
type PlaybackSource interface {
	CurrentPlayback(ctx context.Context) (*spotify.CurrentlyPlaying, error)
}

// Poller 主端轮询器
// 固定间隔拉取主账号的播放状态并送进注册表；tick 不可重入：
// 上一次还没回来时新的 tick 直接跳过，绝不排队
type Poller struct {
	source   PlaybackSource
	registry *Registry
	tuning   *config.TuningStore

	inFlight      atomic.Bool
	lastAuthLogMs atomic.Int64

	// 上一个 tick 的快照，用来判断这次值不值得记日志
	prev    playback.Snapshot
	hasPrev bool

	nowFn func() int64
}

// NewPoller 创建轮询器
func NewPoller(source PlaybackSource, registry *Registry, tuning *config.TuningStore) *Poller {
	return &Poller{
		source:   source,
		registry: registry,
		tuning:   tuning,
		nowFn:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Run 启动轮询循环，阻塞直到 ctx 取消
// 循环自身永不崩溃：单次失败记日志后跳过，等下一个 tick
func (p *Poller) Run(ctx context.Context) {
	interval := p.tuning.Current().PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("host poller started", logger.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("host poller stopped")
			return

		case <-ticker.C:
			// 热更新轮询间隔
			if next := p.tuning.Current().PollInterval; next != interval {
				interval = next
				ticker.Reset(interval)
				logger.Info("poll interval updated", logger.Duration("interval", interval))
			}

			if !p.inFlight.CompareAndSwap(false, true) {
				continue // 上一次 poll 还在路上
			}
			go func() {
				defer p.inFlight.Store(false)
				p.tick(ctx)
			}()
		}
	}
}

// tick 执行一次轮询
func (p *Poller) tick(ctx context.Context) {
	cp, err := p.source.CurrentPlayback(ctx)
	if err != nil {
		if errors.Is(err, spotify.ErrNotAuthenticated) {
			p.logAuthError(err)
		} else {
			logger.Warn("poll failed", logger.ErrorField(err))
		}
		return
	}

	now := p.nowFn()
	snap := snapshotFrom(cp, now)

	notable := !p.hasPrev || !snap.SameProgram(p.prev)
	p.prev = snap
	p.hasPrev = true

	if notable {
		logger.Info("host playback changed",
			logger.String("track", snap.TrackID),
			logger.String("title", snap.TrackTitle),
			logger.Bool("playing", snap.IsPlaying),
			logger.Int64("positionMs", snap.PositionMs))
	}

	// 快照无条件进注册表；没有会话连着就不占广播队列
	if p.registry.SessionCount() > 0 {
		p.registry.PublishSnapshot(snap)
	} else {
		p.registry.UpdateSnapshot(snap)
	}
}

// logAuthError 认证错误限流记录，30 秒最多一条
func (p *Poller) logAuthError(err error) {
	now := p.nowFn()
	last := p.lastAuthLogMs.Load()
	if now-last < authLogInterval.Milliseconds() {
		return
	}
	if p.lastAuthLogMs.CompareAndSwap(last, now) {
		logger.Warn("host account not authenticated, skipping poll", logger.ErrorField(err))
	}
}

// snapshotFrom 把上游播放状态转成快照，capturedAtMs 取本地当前时刻
func snapshotFrom(cp *spotify.CurrentlyPlaying, nowMs int64) playback.Snapshot {
	if cp == nil || cp.Item == nil {
		return playback.Snapshot{CapturedAtMs: nowMs}
	}
	return playback.Snapshot{
		TrackID:      cp.Item.ID,
		TrackTitle:   cp.Item.Name,
		Artist:       cp.Item.ArtistNames(),
		AlbumTitle:   cp.Item.Album.Name,
		ArtworkURL:   cp.Item.ArtworkURL(),
		IsPlaying:    cp.IsPlaying,
		PositionMs:   cp.ProgressMs,
		DurationMs:   cp.Item.DurationMs,
		CapturedAtMs: nowMs,
	}
}
