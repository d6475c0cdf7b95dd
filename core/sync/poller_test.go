package sync

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"MirrorFM/config"
	"MirrorFM/core/playback"
	"MirrorFM/core/spotify"
)

type fakeSource struct {
	calls    atomic.Int32
	playing  *spotify.CurrentlyPlaying
	err      error
	blockFor time.Duration
}

func (f *fakeSource) CurrentPlayback(ctx context.Context) (*spotify.CurrentlyPlaying, error) {
	f.calls.Add(1)
	if f.blockFor > 0 {
		time.Sleep(f.blockFor)
	}
	return f.playing, f.err
}

func newTestPoller(t *testing.T, source *fakeSource, interval time.Duration) (*Poller, *Registry) {
	t.Helper()
	hub := NewHub()
	registry := NewRegistry(hub)
	go hub.Run()
	t.Cleanup(hub.Stop)

	tuning := config.NewTuningStore(config.Tuning{PollInterval: interval})
	return NewPoller(source, registry, tuning), registry
}

func playingTrack(id string) *spotify.CurrentlyPlaying {
	return &spotify.CurrentlyPlaying{
		IsPlaying:  true,
		ProgressMs: 1000,
		Item:       &spotify.TrackItem{ID: id, Name: "Track " + id, DurationMs: 300000},
	}
}

func TestPollerUpdatesRegistryEachTick(t *testing.T) {
	source := &fakeSource{playing: playingTrack("t1")}
	poller, registry := newTestPoller(t, source, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	poller.Run(ctx)

	if source.calls.Load() < 2 {
		t.Fatalf("expected repeated polls, got %d", source.calls.Load())
	}
	snap, ok := registry.Latest()
	if !ok || snap.TrackID != "t1" {
		t.Fatalf("expected registry snapshot for t1, got %q (present=%v)", snap.TrackID, ok)
	}
	if snap.CapturedAtMs == 0 {
		t.Fatal("snapshot must be stamped with the local capture time")
	}
}

func TestPollerSkipsTicksWhileInFlight(t *testing.T) {
	source := &fakeSource{playing: playingTrack("t1"), blockFor: 80 * time.Millisecond}
	poller, _ := newTestPoller(t, source, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	poller.Run(ctx)

	// 100ms 窗口里 10ms 的 tick 有十来次机会，但一次 poll 要 80ms：
	// 不可重入意味着最多跑完一两次，绝不会把错过的 tick 排队补跑
	if n := source.calls.Load(); n > 2 {
		t.Fatalf("ticks must be skipped while a poll is in flight, got %d calls", n)
	}
}

func TestPollerSuppressesRepeatedAuthErrors(t *testing.T) {
	source := &fakeSource{err: spotify.ErrNotAuthenticated}
	poller, _ := newTestPoller(t, source, time.Minute)

	now := int64(1000)
	poller.nowFn = func() int64 { return now }

	poller.tick(context.Background())
	if got := poller.lastAuthLogMs.Load(); got != 1000 {
		t.Fatalf("first auth error must be logged, lastAuthLogMs=%d", got)
	}

	// 30 秒内的重复认证错误不再记录
	now = 20000
	poller.tick(context.Background())
	if got := poller.lastAuthLogMs.Load(); got != 1000 {
		t.Fatalf("auth error inside the suppression window must not re-log, lastAuthLogMs=%d", got)
	}

	now = 32000
	poller.tick(context.Background())
	if got := poller.lastAuthLogMs.Load(); got != 32000 {
		t.Fatalf("auth error after the window must log again, lastAuthLogMs=%d", got)
	}
}

func TestPollerHandlesNothingPlaying(t *testing.T) {
	source := &fakeSource{playing: nil} // 204：什么都没在播
	poller, registry := newTestPoller(t, source, time.Minute)
	poller.nowFn = func() int64 { return 5000 }

	poller.tick(context.Background())

	snap, ok := registry.Latest()
	if !ok {
		t.Fatal("an empty playback state still produces a snapshot")
	}
	if snap.HasTrack() || snap.IsPlaying {
		t.Fatalf("expected an empty snapshot, got %+v", snap)
	}
	if snap.CapturedAtMs != 5000 {
		t.Fatalf("expected capturedAtMs 5000, got %d", snap.CapturedAtMs)
	}
}

func TestPollerBroadcastsOnlyWithConnectedSessions(t *testing.T) {
	source := &fakeSource{playing: playingTrack("t1")}
	poller, registry := newTestPoller(t, source, time.Minute)

	// 没有会话连接时只更新注册表，不广播
	poller.tick(context.Background())
	if _, ok := registry.Latest(); !ok {
		t.Fatal("registry must be updated even with no sessions")
	}

	client := newTestClient(registry.hub, "s1", RoleListener)
	registry.hub.Register(client)
	drainUntil(t, client, MsgTypeSyncResponse) // 接入补发

	source.playing = playingTrack("t2")
	poller.tick(context.Background())

	msg := drainUntil(t, client, MsgTypeHostUpdate)
	var snap playback.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.TrackID != "t2" {
		t.Fatalf("expected broadcast of t2, got %s", snap.TrackID)
	}
}
