package playback

import "testing"

func TestEstimate_AdvancesWhilePlaying(t *testing.T) {
	testCases := []struct {
		name  string
		snap  Snapshot
		nowMs int64
		want  int64
	}{
		{
			"no elapsed time",
			Snapshot{TrackID: "a", IsPlaying: true, PositionMs: 10000, DurationMs: 200000, CapturedAtMs: 1000},
			1000, 10000,
		},
		{
			"two seconds elapsed",
			Snapshot{TrackID: "a", IsPlaying: true, PositionMs: 10000, DurationMs: 200000, CapturedAtMs: 1000},
			3000, 12000,
		},
		{
			"clamped to duration",
			Snapshot{TrackID: "a", IsPlaying: true, PositionMs: 199000, DurationMs: 200000, CapturedAtMs: 1000},
			10000, 200000,
		},
		{
			"unknown duration not clamped above",
			Snapshot{TrackID: "a", IsPlaying: true, PositionMs: 10000, DurationMs: 0, CapturedAtMs: 1000},
			5000, 14000,
		},
		{
			"never negative",
			Snapshot{TrackID: "a", IsPlaying: true, PositionMs: 1000, DurationMs: 200000, CapturedAtMs: 5000},
			1000, 0,
		},
	}

	for _, tc := range testCases {
		got := Estimate(tc.snap, tc.nowMs)
		if got != tc.want {
			t.Errorf("%s: Estimate got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestEstimate_PausedIsInvariant(t *testing.T) {
	snap := Snapshot{TrackID: "a", IsPlaying: false, PositionMs: 42000, DurationMs: 200000, CapturedAtMs: 1000}
	for _, nowMs := range []int64{0, 1000, 99999, 1 << 40} {
		if got := Estimate(snap, nowMs); got != 42000 {
			t.Errorf("Estimate paused at now=%d got %d, want 42000", nowMs, got)
		}
	}
}

func TestRefreshed_RewritesCaptureTime(t *testing.T) {
	snap := Snapshot{TrackID: "a", IsPlaying: true, PositionMs: 10000, DurationMs: 200000, CapturedAtMs: 1000}
	got := snap.Refreshed(4000)

	if got.CapturedAtMs != 4000 {
		t.Errorf("Refreshed capturedAtMs got %d, want 4000", got.CapturedAtMs)
	}
	if got.PositionMs != 13000 {
		t.Errorf("Refreshed positionMs got %d, want 13000", got.PositionMs)
	}
	if snap.PositionMs != 10000 {
		t.Errorf("Refreshed mutated the original snapshot")
	}
}

func TestSameProgram(t *testing.T) {
	a := Snapshot{TrackID: "a", IsPlaying: true}
	if !a.SameProgram(Snapshot{TrackID: "a", IsPlaying: true, PositionMs: 999}) {
		t.Errorf("SameProgram should ignore position")
	}
	if a.SameProgram(Snapshot{TrackID: "b", IsPlaying: true}) {
		t.Errorf("SameProgram should detect track change")
	}
	if a.SameProgram(Snapshot{TrackID: "a", IsPlaying: false}) {
		t.Errorf("SameProgram should detect play/pause flip")
	}
}
