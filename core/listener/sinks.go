package listener

import (
	"context"
	stdsync "sync"
	"time"

	"MirrorFM/core/spotify"
	"MirrorFM/logger"
)

// commandTimeout 单条设备指令的超时
const commandTimeout = 8 * time.Second

// deviceSink 把协调器指令翻译成 Spotify 设备调用
type deviceSink struct {
	client *spotify.Client
}

func (s *deviceSink) Load(trackID string, positionMs int64, play bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := s.client.LoadTrack(ctx, trackID, positionMs); err != nil {
		return err
	}
	if !play {
		return s.client.Pause(ctx)
	}
	return nil
}

func (s *deviceSink) Play() error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return s.client.Play(ctx)
}

func (s *deviceSink) Pause() error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return s.client.Pause(ctx)
}

func (s *deviceSink) Seek(positionMs int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return s.client.Seek(ctx, positionMs)
}

// consoleSurface 无头环境下的模拟视频面
// 记住播放状态并打日志，让游客模式可以脱离浏览器跑通整条链路
type consoleSurface struct {
	mu      stdsync.Mutex
	playing bool
}

func newConsoleSurface() *consoleSurface {
	return &consoleSurface{}
}

func (s *consoleSurface) Load(contentID string, positionMs int64, play bool) error {
	s.mu.Lock()
	s.playing = play
	s.mu.Unlock()

	logger.Info("video load",
		logger.String("content", contentID),
		logger.Int64("positionMs", positionMs),
		logger.Bool("play", play))
	return nil
}

func (s *consoleSurface) Play() error {
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
	logger.Info("video play")
	return nil
}

func (s *consoleSurface) PlayMuted() error {
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
	logger.Info("video play muted")
	return nil
}

func (s *consoleSurface) Pause() error {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
	logger.Info("video pause")
	return nil
}

func (s *consoleSurface) Seek(positionMs int64) error {
	logger.Info("video seek", logger.Int64("positionMs", positionMs))
	return nil
}

func (s *consoleSurface) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}
