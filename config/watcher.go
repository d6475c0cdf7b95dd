package config

import (
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"MirrorFM/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
)

// Tuning 同步调优参数，可以在运行期热更新
type Tuning struct {
	PollInterval      time.Duration
	DeviceToleranceMs int64
	DeviceCooldownMs  int64
	VideoToleranceMs  int64
	VideoCooldownMs   int64
	AutoplayRetryMs   int64
}

// TuningFromConfig 从加载好的配置提取调优参数
func TuningFromConfig(cfg *Config) Tuning {
	return Tuning{
		PollInterval:      cfg.PollInterval,
		DeviceToleranceMs: cfg.DeviceToleranceMs,
		DeviceCooldownMs:  cfg.DeviceCooldownMs,
		VideoToleranceMs:  cfg.VideoToleranceMs,
		VideoCooldownMs:   cfg.VideoCooldownMs,
		AutoplayRetryMs:   cfg.AutoplayRetryMs,
	}
}

// TuningStore 持有当前生效的调优参数
// 纠偏循环每次决策前读取，不缓存旧值
type TuningStore struct {
	mu       sync.RWMutex
	current  Tuning
	onChange func(Tuning)
	done     chan struct{}
}

// NewTuningStore 创建调优参数存储
func NewTuningStore(initial Tuning) *TuningStore {
	return &TuningStore{
		current: initial,
		done:    make(chan struct{}),
	}
}

// Current 获取当前调优参数
func (s *TuningStore) Current() Tuning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// set 更新调优参数并触发变更回调
func (s *TuningStore) set(t Tuning) {
	s.mu.Lock()
	s.current = t
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(t)
	}
}

// OnChange 注册变更回调，热更新生效时带着新参数调用
// 需要在 Watch 之前设置
func (s *TuningStore) OnChange(fn func(Tuning)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Stop 停止监听
func (s *TuningStore) Stop() {
	close(s.done)
}

// Watch 监听 .env 文件变化并热更新调优参数
// 只有调优相关的键会被应用，其他配置仍需重启生效
func (s *TuningStore) Watch(envPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// 监听所在目录，编辑器保存往往是 rename+create
	dir := filepath.Dir(envPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event := <-watcher.Events:
				if filepath.Clean(event.Name) != filepath.Clean(envPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reload(envPath)
			case err := <-watcher.Errors:
				logger.Warn("tuning watcher error", logger.ErrorField(err))
			case <-s.done:
				return
			}
		}
	}()

	logger.Info("tuning watcher started", logger.String("path", envPath))
	return nil
}

// reload 重新读取 .env 并应用调优键
func (s *TuningStore) reload(envPath string) {
	values, err := godotenv.Read(envPath)
	if err != nil {
		logger.Warn("tuning reload failed", logger.ErrorField(err))
		return
	}

	next := s.Current()
	if ms, ok := readInt64(values, "POLL_INTERVAL_MS"); ok {
		next.PollInterval = time.Duration(ms) * time.Millisecond
	}
	if v, ok := readInt64(values, "DEVICE_TOLERANCE_MS"); ok {
		next.DeviceToleranceMs = v
	}
	if v, ok := readInt64(values, "DEVICE_COOLDOWN_MS"); ok {
		next.DeviceCooldownMs = v
	}
	if v, ok := readInt64(values, "VIDEO_TOLERANCE_MS"); ok {
		next.VideoToleranceMs = v
	}
	if v, ok := readInt64(values, "VIDEO_COOLDOWN_MS"); ok {
		next.VideoCooldownMs = v
	}
	if v, ok := readInt64(values, "AUTOPLAY_RETRY_MS"); ok {
		next.AutoplayRetryMs = v
	}
	s.set(next)

	logger.Info("sync tuning reloaded",
		logger.Int64("deviceToleranceMs", next.DeviceToleranceMs),
		logger.Int64("deviceCooldownMs", next.DeviceCooldownMs),
		logger.Int64("videoToleranceMs", next.VideoToleranceMs),
		logger.Int64("videoCooldownMs", next.VideoCooldownMs),
		logger.Duration("pollInterval", next.PollInterval))
}

func readInt64(values map[string]string, key string) (int64, bool) {
	raw, ok := values[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
