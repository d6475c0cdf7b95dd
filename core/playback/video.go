package playback

import (
	"fmt"
	"sync"
	"time"
)

// VideoSurface 替代视频播放面
// 与直控设备不同，装载新内容本身是异步的，且平台可能静默拦截自动播放
type VideoSurface interface {
	Load(contentID string, positionMs int64, play bool) error
	Play() error
	PlayMuted() error
	Pause() error
	Seek(positionMs int64) error
	IsPlaying() bool
}

// Resolver 把曲目元数据翻译成替代面可播放的内容ID
// 查找慢且有配额，调用方必须按 (title, artist) 缓存正向结果
type Resolver interface {
	Resolve(title, artist string) (string, error)
}

// pendingLoad 待装载缓冲：内容ID解析完成但播放面尚未就绪时暂存目标状态
type pendingLoad struct {
	contentID  string
	positionMs int64
	play       bool
}

// VideoOptions 视频纠偏器配置
type VideoOptions struct {
	ToleranceMs     int64
	CooldownMs      int64
	AutoplayRetryMs int64        // play 之后多久未进入播放态就改用静音重试
	Now             func() int64
}

// VideoReconciler 作用于视频替代面的纠偏器
// 决策算法与 Reconciler 完全一致，只是容差更松，并多出装载缓冲、
// 静音重试与可见性恢复三种处理
type VideoReconciler struct {
	inner *Reconciler
	sink  *videoSink

	mu      sync.Mutex
	pending *pendingLoad
	ready   bool
	muted   bool
	retried bool
	retryMs int64

	suspended bool
}

// NewVideoReconciler 创建视频纠偏器
func NewVideoReconciler(surface VideoSurface, resolver Resolver, opts VideoOptions) *VideoReconciler {
	v := &VideoReconciler{retryMs: opts.AutoplayRetryMs}
	if v.retryMs <= 0 {
		v.retryMs = 400
	}
	v.sink = &videoSink{surface: surface, resolver: resolver, owner: v}
	v.inner = NewReconciler(v.sink, Options{
		ToleranceMs: opts.ToleranceMs,
		CooldownMs:  opts.CooldownMs,
		Now:         opts.Now,
	})
	return v
}

// Stop 结束底层指令执行协程
func (v *VideoReconciler) Stop() {
	v.inner.Stop()
}

// SetTuning 热更新容差与冷却
func (v *VideoReconciler) SetTuning(toleranceMs, cooldownMs int64) {
	v.inner.SetTuning(toleranceMs, cooldownMs)
}

// Apply 处理新快照
// 页面不可见期间纠偏挂起，只记录展示状态，等恢复可见后整体重同步
func (v *VideoReconciler) Apply(s Snapshot) {
	v.mu.Lock()
	v.sink.meta = s
	suspended := v.suspended
	v.mu.Unlock()

	if suspended {
		v.rememberDisplay(s)
		return
	}
	v.inner.Apply(s)
}

// rememberDisplay 挂起期间只更新展示状态
func (v *VideoReconciler) rememberDisplay(s Snapshot) {
	v.inner.mu.Lock()
	v.inner.display = s
	v.inner.hasDisplay = true
	v.inner.mu.Unlock()
}

// HandleReady 播放面就绪回调：补放待装载缓冲里的目标状态
func (v *VideoReconciler) HandleReady() {
	v.mu.Lock()
	v.ready = true
	p := v.pending
	v.pending = nil
	v.mu.Unlock()

	if p == nil {
		return
	}
	if err := v.sink.surface.Seek(p.positionMs); err != nil {
		return
	}
	if p.play {
		v.playWithAutoplayGuard()
	} else {
		v.sink.surface.Pause()
	}
}

// HandleHidden 宿主文档进入不可见状态，挂起纠偏
func (v *VideoReconciler) HandleHidden() {
	v.mu.Lock()
	v.suspended = true
	v.mu.Unlock()
}

// HandleVisible 文档恢复可见：装载期漂移可以任意大，直接整体重同步
func (v *VideoReconciler) HandleVisible() {
	v.mu.Lock()
	v.suspended = false
	v.mu.Unlock()
	v.inner.ManualResync()
}

// ManualResync 手动重同步
func (v *VideoReconciler) ManualResync() {
	v.inner.ManualResync()
}

// SetSyncEnabled 同步开关
func (v *VideoReconciler) SetSyncEnabled(enabled bool) {
	v.inner.SetSyncEnabled(enabled)
}

// State 当前状态
func (v *VideoReconciler) State() State {
	return v.inner.State()
}

// LastError 最近一次指令失败原因
func (v *VideoReconciler) LastError() string {
	return v.inner.LastError()
}

// Display 展示状态
func (v *VideoReconciler) Display() (Snapshot, bool) {
	return v.inner.Display()
}

// Muted 是否处于静音兜底状态，UI 据此显示手动取消静音入口
func (v *VideoReconciler) Muted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.muted
}

// ClearMuted 用户手动取消静音后复位标记
func (v *VideoReconciler) ClearMuted() {
	v.mu.Lock()
	v.muted = false
	v.retried = false
	v.mu.Unlock()
}

// playWithAutoplayGuard 发起播放并在重试窗口后检查是否真的播起来了
func (v *VideoReconciler) playWithAutoplayGuard() {
	if err := v.sink.surface.Play(); err != nil {
		return
	}
	v.mu.Lock()
	v.retried = false
	retry := time.Duration(v.retryMs) * time.Millisecond
	v.mu.Unlock()

	time.AfterFunc(retry, v.CheckAutoplay)
}

// CheckAutoplay 自动播放兜底：未进入播放态则静音重试一次
// 多数平台在没有用户手势时拦截有声自动播放
func (v *VideoReconciler) CheckAutoplay() {
	v.mu.Lock()
	if v.retried {
		v.mu.Unlock()
		return
	}
	v.retried = true
	surface := v.sink.surface
	v.mu.Unlock()

	if surface.IsPlaying() {
		return
	}
	if err := surface.PlayMuted(); err != nil {
		return
	}
	v.mu.Lock()
	v.muted = true
	v.mu.Unlock()
}

// videoSink 把纠偏指令翻译成替代面操作
type videoSink struct {
	surface  VideoSurface
	resolver Resolver
	owner    *VideoReconciler
	meta     Snapshot // 最近一次 Apply 的快照，Load 取 title/artist 用，owner.mu 保护
}

// Load 换曲：先解析内容ID，再异步装载
// 在指令执行协程里跑，读 meta 要拿 owner 的锁
// 解析失败向上返回错误（用户可见的"未找到"状态），不做负缓存，下次换曲重查
func (k *videoSink) Load(trackID string, positionMs int64, play bool) error {
	k.owner.mu.Lock()
	meta := k.meta
	k.owner.mu.Unlock()

	contentID, err := k.resolver.Resolve(meta.TrackTitle, meta.Artist)
	if err != nil {
		return fmt.Errorf("resolve %q by %q: %w", meta.TrackTitle, meta.Artist, err)
	}

	k.owner.mu.Lock()
	k.owner.ready = false
	k.owner.pending = &pendingLoad{contentID: contentID, positionMs: positionMs, play: play}
	k.owner.mu.Unlock()

	return k.surface.Load(contentID, positionMs, play)
}

func (k *videoSink) Play() error {
	k.owner.playWithAutoplayGuard()
	return nil
}

func (k *videoSink) Pause() error {
	return k.surface.Pause()
}

func (k *videoSink) Seek(positionMs int64) error {
	return k.surface.Seek(positionMs)
}
