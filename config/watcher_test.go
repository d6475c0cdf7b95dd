package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func defaultTuning() Tuning {
	return Tuning{
		PollInterval:      3 * time.Second,
		DeviceToleranceMs: 4000,
		DeviceCooldownMs:  8000,
		VideoToleranceMs:  8000,
		VideoCooldownMs:   12000,
		AutoplayRetryMs:   400,
	}
}

func TestTuningReload_AppliesKnobsAndNotifies(t *testing.T) {
	path := writeEnvFile(t, `POLL_INTERVAL_MS=1500
DEVICE_TOLERANCE_MS=2500
DEVICE_COOLDOWN_MS=6000
VIDEO_TOLERANCE_MS=9000
SOME_OTHER_KEY=unrelated
`)

	store := NewTuningStore(defaultTuning())
	var notified []Tuning
	store.OnChange(func(next Tuning) { notified = append(notified, next) })

	store.reload(path)

	cur := store.Current()
	if cur.PollInterval != 1500*time.Millisecond {
		t.Errorf("pollInterval got %v, want 1.5s", cur.PollInterval)
	}
	if cur.DeviceToleranceMs != 2500 || cur.DeviceCooldownMs != 6000 {
		t.Errorf("device knobs got %d/%d, want 2500/6000", cur.DeviceToleranceMs, cur.DeviceCooldownMs)
	}
	if cur.VideoToleranceMs != 9000 {
		t.Errorf("videoToleranceMs got %d, want 9000", cur.VideoToleranceMs)
	}
	// Keys absent from the file keep their previous values.
	if cur.VideoCooldownMs != 12000 || cur.AutoplayRetryMs != 400 {
		t.Errorf("unset knobs changed: %+v", cur)
	}

	if len(notified) != 1 || notified[0] != cur {
		t.Errorf("onChange got %v, want one call with %+v", notified, cur)
	}
}

func TestTuningReload_IgnoresMalformedValues(t *testing.T) {
	path := writeEnvFile(t, `DEVICE_TOLERANCE_MS=not-a-number
DEVICE_COOLDOWN_MS=7000
`)

	store := NewTuningStore(defaultTuning())
	store.reload(path)

	cur := store.Current()
	if cur.DeviceToleranceMs != 4000 {
		t.Errorf("malformed value must keep the old knob, got %d", cur.DeviceToleranceMs)
	}
	if cur.DeviceCooldownMs != 7000 {
		t.Errorf("valid key alongside a malformed one must apply, got %d", cur.DeviceCooldownMs)
	}
}
