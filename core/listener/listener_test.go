package listener

import (
	"encoding/json"
	"testing"

	"MirrorFM/config"
	"MirrorFM/core/playback"
	"MirrorFM/core/sync"
)

type recordingApplier struct {
	applied []playback.Snapshot
	tunings [][2]int64
}

func (a *recordingApplier) Apply(s playback.Snapshot) { a.applied = append(a.applied, s) }

func (a *recordingApplier) SetTuning(tol, cool int64) {
	a.tunings = append(a.tunings, [2]int64{tol, cool})
}

func (a *recordingApplier) State() playback.State { return playback.StateSynced }

func (a *recordingApplier) LastError() string { return "" }

func (a *recordingApplier) Stop() {}

func TestApplyTuningRoutesKnobsByRole(t *testing.T) {
	knobs := config.Tuning{
		DeviceToleranceMs: 2000,
		DeviceCooldownMs:  5000,
		VideoToleranceMs:  9000,
		VideoCooldownMs:   15000,
	}

	device := &recordingApplier{}
	r := &Runner{opts: Options{}, recon: device}
	r.applyTuning(knobs)
	if len(device.tunings) != 1 || device.tunings[0] != [2]int64{2000, 5000} {
		t.Fatalf("device tuning got %v, want [2000 5000]", device.tunings)
	}

	guest := &recordingApplier{}
	g := &Runner{opts: Options{Guest: true}, recon: guest}
	g.applyTuning(knobs)
	if len(guest.tunings) != 1 || guest.tunings[0] != [2]int64{9000, 15000} {
		t.Fatalf("guest tuning got %v, want [9000 15000]", guest.tunings)
	}
}

func TestWSURL(t *testing.T) {
	testCases := []struct {
		name   string
		server string
		token  string
		want   string
	}{
		{"http to ws", "http://localhost:8080", "", "ws://localhost:8080/ws/sync"},
		{"https to wss", "https://fm.example.com", "", "wss://fm.example.com/ws/sync"},
		{"token appended", "http://localhost:8080", "tok123", "ws://localhost:8080/ws/sync?token=tok123"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := &Runner{opts: Options{ServerURL: tc.server, Token: tc.token}}
			got, err := r.wsURL()
			if err != nil {
				t.Fatalf("wsURL: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestHandleMessageFeedsSnapshotsToReconciler(t *testing.T) {
	applier := &recordingApplier{}
	r := &Runner{cfg: &config.Config{}, recon: applier}

	snap := playback.Snapshot{TrackID: "t1", IsPlaying: true, PositionMs: 1000}
	data, _ := json.Marshal(snap)

	r.handleMessage(&sync.WSMessage{Type: sync.MsgTypeHostUpdate, Data: data})
	r.handleMessage(&sync.WSMessage{Type: sync.MsgTypeSyncResponse, Data: data})
	r.handleMessage(&sync.WSMessage{Type: sync.MsgTypeSyncResponse}) // 空回复不喂
	r.handleMessage(&sync.WSMessage{Type: sync.MsgTypePong})

	if len(applier.applied) != 2 {
		t.Fatalf("expected 2 applied snapshots, got %d", len(applier.applied))
	}
	if applier.applied[0].TrackID != "t1" {
		t.Fatalf("unexpected snapshot: %+v", applier.applied[0])
	}
}
