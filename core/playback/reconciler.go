package playback

import (
	"sync"
	"time"
)

// State 纠偏状态机的对外状态
type State string

const (
	StateIdle     State = "idle"     // 尚未附加设备或收到快照
	StateSyncing  State = "syncing"  // 纠偏指令执行中
	StateSynced   State = "synced"   // 已对齐，稳态
	StateError    State = "error"    // 上一条指令失败，下一个快照自动重试
	StateDisabled State = "disabled" // 用户关闭同步，快照只更新展示状态
)

// CommandSink 设备指令接口，一次纠偏动作对应一次调用
type CommandSink interface {
	Load(trackID string, positionMs int64, play bool) error
	Play() error
	Pause() error
	Seek(positionMs int64) error
}

// PositionSource 本地播放位置的度量来源
// 返回 ok=false 表示当前查不到位置，此时退回用推算位置
type PositionSource interface {
	PositionMs(nowMs int64) (int64, bool)
}

// Options 纠偏器配置
// Tolerance/Cooldown 是调优旋钮而非常数：直控设备面宜紧，视频嵌入面宜松
type Options struct {
	ToleranceMs int64
	CooldownMs  int64
	Source      PositionSource // 为空时使用"上次指令假定位置"作为度量基准
	Now         func() int64   // 为空时使用系统时钟，测试注入用
}

// appliedState 上一条成功派发的指令之后设备应当处于的状态
// 派发时乐观落账，指令失败整体回滚，下一个快照据此重试
type appliedState struct {
	trackID         string
	positionMs      int64
	atMs            int64 // positionMs 生效的时刻，用于推算假定位置
	playing         bool
	lastSyncAtMs    int64
	initialSyncDone bool
}

// pendingCmd 已派发、等待执行协程消费的指令
type pendingCmd struct {
	seq  int64
	run  func() error
	prev appliedState // 失败时回滚到的账面状态
}

// Reconciler 监听端纠偏状态机
// 每个会话一个实例；决策在 Apply 里同步完成，指令由独立的执行协程
// 消费，设备再慢也不会卡住下一个快照的处理
type Reconciler struct {
	mu   sync.Mutex
	sink CommandSink
	opts Options

	state   State
	lastErr string

	// 展示状态：无论同步开关与否都跟随最新快照
	display    Snapshot
	hasDisplay bool

	syncEnabled bool
	applied     appliedState

	cmdSeq int64
	cmds   chan pendingCmd
	done   chan struct{}
	stop   sync.Once
}

// NewReconciler 创建纠偏器并启动指令执行协程
func NewReconciler(sink CommandSink, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	r := &Reconciler{
		sink:        sink,
		opts:        opts,
		state:       StateIdle,
		syncEnabled: true,
		cmds:        make(chan pendingCmd, 16),
		done:        make(chan struct{}),
	}
	go r.worker()
	return r
}

// Stop 结束指令执行协程
func (r *Reconciler) Stop() {
	r.stop.Do(func() { close(r.done) })
}

// SetTuning 热更新容差与冷却
func (r *Reconciler) SetTuning(toleranceMs, cooldownMs int64) {
	r.mu.Lock()
	r.opts.ToleranceMs = toleranceMs
	r.opts.CooldownMs = cooldownMs
	r.mu.Unlock()
}

// SetSyncEnabled 同步开关；重新打开时立即对最近的快照补一次决策
func (r *Reconciler) SetSyncEnabled(enabled bool) {
	r.mu.Lock()
	r.syncEnabled = enabled
	if !enabled {
		r.state = StateDisabled
		r.mu.Unlock()
		return
	}
	if r.state == StateDisabled {
		r.state = StateIdle
	}
	snap, ok := r.display, r.hasDisplay
	r.mu.Unlock()

	if ok {
		r.Apply(snap)
	}
}

// SyncEnabled 同步是否开启
func (r *Reconciler) SyncEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncEnabled
}

// State 当前状态
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastError 上一条失败指令的错误信息，稳态下为空串
func (r *Reconciler) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Display 最近一次收到的快照（展示用，与同步开关无关）
func (r *Reconciler) Display() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.display, r.hasDisplay
}

// ManualResync 手动重同步：清掉迟滞状态后对最近的快照重跑决策
func (r *Reconciler) ManualResync() {
	r.mu.Lock()
	r.applied.lastSyncAtMs = 0
	r.applied.trackID = ""
	snap, ok := r.display, r.hasDisplay
	r.mu.Unlock()

	if ok {
		r.Apply(snap)
	}
}

// Apply 对新快照跑一次决策，快照到达一次调用一次
// 分支的先后顺序即决胜顺序，不可调换
func (r *Reconciler) Apply(s Snapshot) {
	r.mu.Lock()
	r.display = s
	r.hasDisplay = true

	if !r.syncEnabled {
		r.state = StateDisabled
		r.mu.Unlock()
		return
	}

	now := r.opts.Now()
	expected := Estimate(s, now)

	// 主端空播：本地若在播就停下，其余状态保持
	if !s.HasTrack() {
		if r.applied.playing {
			r.issue(func() error { return r.sink.Pause() }, func() {
				r.applied.playing = false
			})
		}
		r.mu.Unlock()
		return
	}

	trackChanged := s.TrackID != r.applied.trackID

	switch {
	case trackChanged:
		// 换曲永远立即执行，无视冷却
		r.issue(func() error {
			return r.sink.Load(s.TrackID, expected, s.IsPlaying)
		}, func() {
			r.applied = appliedState{
				trackID:         s.TrackID,
				positionMs:      expected,
				atMs:            now,
				playing:         s.IsPlaying,
				lastSyncAtMs:    now,
				initialSyncDone: true,
			}
		})

	case !r.applied.initialSyncDone && s.IsPlaying:
		// 中途加入：补一次初始校正
		wasPlaying := r.applied.playing
		r.issue(func() error {
			if err := r.sink.Seek(expected); err != nil {
				return err
			}
			if !wasPlaying {
				return r.sink.Play()
			}
			return nil
		}, func() {
			r.applied.positionMs = expected
			r.applied.atMs = now
			r.applied.playing = true
			r.applied.lastSyncAtMs = now
			r.applied.initialSyncDone = true
		})

	case s.IsPlaying != r.applied.playing:
		// 播放/暂停翻转：廉价指令，不受冷却限制，也不顺带 seek
		play := s.IsPlaying
		r.issue(func() error {
			if play {
				return r.sink.Play()
			}
			return r.sink.Pause()
		}, func() {
			if !play {
				// 暂停时冻结假定位置
				r.applied.positionMs = r.assumedPositionLocked(now)
				r.applied.atMs = now
			}
			r.applied.playing = play
		})

	default:
		drift := r.driftLocked(now, expected)
		if drift > r.opts.ToleranceMs && now-r.applied.lastSyncAtMs > r.opts.CooldownMs && s.IsPlaying {
			r.issue(func() error {
				return r.sink.Seek(expected)
			}, func() {
				r.applied.positionMs = expected
				r.applied.atMs = now
				r.applied.lastSyncAtMs = now
			})
		}
		// 否则无动作：稳态，也是最常见的路径
	}

	r.mu.Unlock()
}

// issue 派发一条纠偏指令，调用方需持有锁
// 不等待执行：先乐观落账，失败由 complete 回滚；派发新指令后
// 旧指令的完成结果一律作废
func (r *Reconciler) issue(cmd func() error, intent func()) {
	prev := r.applied
	intent()
	r.cmdSeq++
	r.state = StateSyncing

	select {
	case r.cmds <- pendingCmd{seq: r.cmdSeq, run: cmd, prev: prev}:
	default:
		// 积压满说明设备长时间不响应，放弃本条并回滚账面
		r.applied = prev
		r.state = StateError
		r.lastErr = "command backlog full"
	}
}

// worker 指令执行协程，按派发顺序逐条执行
func (r *Reconciler) worker() {
	for {
		select {
		case c := <-r.cmds:
			r.complete(c, c.run())
		case <-r.done:
			return
		}
	}
}

// complete 指令执行完毕后的状态落账
func (r *Reconciler) complete(c pendingCmd, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.seq != r.cmdSeq {
		// 已有更新的指令派发，这条的结果作废
		return
	}
	if err != nil {
		// 指令失败只影响本会话，回滚账面让下一个快照重试
		r.applied = c.prev
		r.state = StateError
		r.lastErr = err.Error()
		return
	}
	r.state = StateSynced
	r.lastErr = ""
}

// driftLocked 计算本地位置与估算位置的偏差，调用方需持有锁
func (r *Reconciler) driftLocked(now, expected int64) int64 {
	local := r.assumedPositionLocked(now)
	if r.opts.Source != nil {
		if queried, ok := r.opts.Source.PositionMs(now); ok {
			local = queried
		}
	}
	d := local - expected
	if d < 0 {
		d = -d
	}
	return d
}

// assumedPositionLocked 上次指令之后设备应当处于的位置
func (r *Reconciler) assumedPositionLocked(now int64) int64 {
	if !r.applied.playing {
		return r.applied.positionMs
	}
	return r.applied.positionMs + (now - r.applied.atMs)
}
