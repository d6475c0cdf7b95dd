package playback

import (
	"errors"
	"sync"
	"testing"
)

type fakeSurface struct {
	mu       sync.Mutex
	cmds     []issuedCmd
	playing  bool
	failPlay bool
}

func (f *fakeSurface) record(c issuedCmd) {
	f.mu.Lock()
	f.cmds = append(f.cmds, c)
	f.mu.Unlock()
}

func (f *fakeSurface) Load(contentID string, positionMs int64, play bool) error {
	f.record(issuedCmd{name: "load", trackID: contentID, pos: positionMs, play: play})
	return nil
}

func (f *fakeSurface) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPlay {
		return errors.New("play rejected")
	}
	f.cmds = append(f.cmds, issuedCmd{name: "play"})
	return nil
}

func (f *fakeSurface) PlayMuted() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, issuedCmd{name: "playMuted"})
	f.playing = true
	return nil
}

func (f *fakeSurface) Pause() error {
	f.record(issuedCmd{name: "pause"})
	return nil
}

func (f *fakeSurface) Seek(positionMs int64) error {
	f.record(issuedCmd{name: "seek", pos: positionMs})
	return nil
}

func (f *fakeSurface) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeSurface) setPlaying(v bool) {
	f.mu.Lock()
	f.playing = v
	f.mu.Unlock()
}

func (f *fakeSurface) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cmds)
}

func (f *fakeSurface) at(i int) issuedCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cmds[i]
}

func (f *fakeSurface) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.cmds))
	for _, c := range f.cmds {
		out = append(out, c.name)
	}
	return out
}

type fakeResolver struct {
	mu    sync.Mutex
	byKey map[string]string
	calls int
}

func (f *fakeResolver) Resolve(title, artist string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if id, ok := f.byKey[title+"|"+artist]; ok {
		return id, nil
	}
	return "", errors.New("no content found")
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestVideoReconciler(t *testing.T, surface *fakeSurface, resolver *fakeResolver, c *clock) *VideoReconciler {
	t.Helper()
	v := NewVideoReconciler(surface, resolver, VideoOptions{
		ToleranceMs:     8000,
		CooldownMs:      12000,
		AutoplayRetryMs: 400,
		Now:             c.now,
	})
	t.Cleanup(v.Stop)
	return v
}

func TestVideoApply_ResolvesAndBuffersLoad(t *testing.T) {
	surface := &fakeSurface{}
	resolver := &fakeResolver{byKey: map[string]string{"title-a|artist": "vid-123"}}
	c := &clock{nowMs: 2000}
	v := newTestVideoReconciler(t, surface, resolver, c)

	v.Apply(playingSnap("a", 10000, 0))
	waitFor(t, func() bool { return v.State() == StateSynced })

	if resolver.callCount() != 1 {
		t.Fatalf("resolver calls got %d, want 1", resolver.callCount())
	}
	if surface.count() != 1 || surface.at(0).name != "load" || surface.at(0).trackID != "vid-123" {
		t.Fatalf("expected a single load of vid-123, got %v", surface.names())
	}

	// The surface signals readiness later; the buffered target is applied then.
	v.HandleReady()

	got := surface.names()
	if len(got) != 3 || got[1] != "seek" || got[2] != "play" {
		t.Errorf("ready must apply the pending seek+play, got %v", got)
	}
	if surface.at(1).pos != 12000 {
		t.Errorf("pending seek position got %d, want 12000", surface.at(1).pos)
	}
}

func TestVideoApply_ResolveFailureSurfacesError(t *testing.T) {
	surface := &fakeSurface{}
	resolver := &fakeResolver{byKey: map[string]string{}}
	c := &clock{nowMs: 0}
	v := newTestVideoReconciler(t, surface, resolver, c)

	v.Apply(playingSnap("a", 0, 0))
	waitFor(t, func() bool { return v.State() == StateError })

	if v.LastError() == "" {
		t.Errorf("resolve failure must surface an error message")
	}
	if surface.count() != 0 {
		t.Errorf("no surface command expected on resolve failure, got %v", surface.names())
	}
}

func TestVideoCheckAutoplay_RetriesMutedOnce(t *testing.T) {
	surface := &fakeSurface{}
	resolver := &fakeResolver{byKey: map[string]string{"title-a|artist": "vid-123"}}
	c := &clock{}
	v := newTestVideoReconciler(t, surface, resolver, c)

	v.Apply(playingSnap("a", 0, 0))
	waitFor(t, func() bool { return v.State() == StateSynced })
	v.HandleReady()

	// The play command did not take effect (autoplay blocked).
	surface.setPlaying(false)
	v.CheckAutoplay()

	got := surface.names()
	if got[len(got)-1] != "playMuted" {
		t.Fatalf("expected muted retry, got %v", got)
	}
	if !v.Muted() {
		t.Errorf("muted flag must be surfaced for the unmute affordance")
	}

	// A second check must not retry again.
	before := surface.count()
	v.CheckAutoplay()
	if surface.count() != before {
		t.Errorf("autoplay retry must fire at most once")
	}

	v.ClearMuted()
	if v.Muted() {
		t.Errorf("ClearMuted must reset the flag")
	}
}

func TestVideoVisibility_SuspendsAndResyncsOnResume(t *testing.T) {
	surface := &fakeSurface{}
	resolver := &fakeResolver{byKey: map[string]string{
		"title-a|artist": "vid-a",
		"title-b|artist": "vid-b",
	}}
	c := &clock{}
	v := newTestVideoReconciler(t, surface, resolver, c)

	c.nowMs = 0
	v.Apply(playingSnap("a", 0, 0))
	waitFor(t, func() bool { return v.State() == StateSynced })
	v.HandleReady()
	issued := surface.count()

	// Hidden: snapshots keep arriving but no commands are issued.
	v.HandleHidden()
	c.nowMs = 30000
	v.Apply(playingSnap("b", 30000, 30000))
	if surface.count() != issued {
		t.Fatalf("suspended reconciler must not touch the surface, got %v", surface.names())
	}
	display, _ := v.Display()
	if display.TrackID != "b" {
		t.Errorf("display must keep following snapshots while hidden")
	}

	// Visible again: a full corrective sync loads the new content.
	c.nowMs = 31000
	v.HandleVisible()
	waitFor(t, func() bool { return surface.count() == issued+1 })

	last := surface.at(surface.count() - 1)
	if last.name != "load" || last.trackID != "vid-b" {
		t.Errorf("resume must force a corrective load, got %v", surface.names())
	}
}
