package sync

import (
	"encoding/json"
	"testing"
	"time"

	"MirrorFM/core/playback"
)

func newTestHub(t *testing.T) (*Hub, *Registry) {
	t.Helper()
	hub := NewHub()
	registry := NewRegistry(hub)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub, registry
}

func newTestClient(hub *Hub, sessionID, role string) *Client {
	return &Client{
		Hub:       hub,
		Send:      make(chan []byte, 16),
		SessionID: sessionID,
		Role:      role,
	}
}

func recvMessage(t *testing.T, client *Client) WSMessage {
	t.Helper()
	select {
	case data := <-client.Send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal message: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a message")
		return WSMessage{}
	}
}

func recvSnapshot(t *testing.T, client *Client, wantType MessageType) playback.Snapshot {
	t.Helper()
	msg := recvMessage(t, client)
	if msg.Type != wantType {
		t.Fatalf("expected %s, got %s", wantType, msg.Type)
	}
	var snap playback.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	return snap
}

func drainUntil(t *testing.T, client *Client, wantType MessageType) WSMessage {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data := <-client.Send:
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal message: %v", err)
			}
			if msg.Type == wantType {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", wantType)
		}
	}
}

func TestLateJoinerReceivesCatchUpSnapshot(t *testing.T) {
	hub, registry := newTestHub(t)
	registry.nowFn = func() int64 { return 50000 }

	registry.UpdateSnapshot(playback.Snapshot{
		TrackID:      "track-1",
		TrackTitle:   "First",
		IsPlaying:    true,
		PositionMs:   10000,
		DurationMs:   300000,
		CapturedAtMs: 42000,
	})

	client := newTestClient(hub, "s1", RoleListener)
	hub.Register(client)

	snap := recvSnapshot(t, client, MsgTypeSyncResponse)
	if snap.TrackID != "track-1" {
		t.Fatalf("expected track-1, got %s", snap.TrackID)
	}
	// 补发快照要重新盖章：位置推进到估算值，capturedAtMs 改成当前时刻
	if snap.PositionMs != 18000 {
		t.Fatalf("expected refreshed position 18000, got %d", snap.PositionMs)
	}
	if snap.CapturedAtMs != 50000 {
		t.Fatalf("expected capturedAtMs rewritten to 50000, got %d", snap.CapturedAtMs)
	}
}

func TestConnectBeforeAnySnapshotSendsNoCatchUp(t *testing.T) {
	hub, registry := newTestHub(t)
	_ = registry

	client := newTestClient(hub, "s1", RoleListener)
	hub.Register(client)

	// 没有快照时接入只会收到人数广播
	msg := recvMessage(t, client)
	if msg.Type != MsgTypeListenerCount {
		t.Fatalf("expected listener_count, got %s", msg.Type)
	}
}

func TestListenerCountExcludesHost(t *testing.T) {
	hub, registry := newTestHub(t)

	host := newTestClient(hub, "host-1", RoleHost)
	hub.Register(host)
	drainUntil(t, host, MsgTypeListenerCount)

	listener := newTestClient(hub, "l1", RoleListener)
	hub.Register(listener)
	guest := newTestClient(hub, "g1", RoleGuest)
	hub.Register(guest)

	msg := drainUntil(t, guest, MsgTypeListenerCount)
	var data ListenerCountData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal count: %v", err)
	}
	if data.Count != 2 {
		t.Fatalf("expected 2 listeners (host excluded), got %d", data.Count)
	}
	if registry.SessionCount() != 3 {
		t.Fatalf("expected 3 sessions, got %d", registry.SessionCount())
	}

	hub.Unregister(listener)
	msg = drainUntil(t, guest, MsgTypeListenerCount)
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal count: %v", err)
	}
	if data.Count != 1 {
		t.Fatalf("expected 1 listener after disconnect, got %d", data.Count)
	}
}

func TestRequestSyncRefreshesCaptureTime(t *testing.T) {
	hub, registry := newTestHub(t)

	client := newTestClient(hub, "s1", RoleListener)
	hub.Register(client)
	drainUntil(t, client, MsgTypeListenerCount)

	registry.UpdateSnapshot(playback.Snapshot{
		TrackID:      "track-1",
		IsPlaying:    true,
		PositionMs:   5000,
		DurationMs:   200000,
		CapturedAtMs: 100000,
	})

	registry.nowFn = func() int64 { return 107000 }
	registry.HandleRequestSync(client)

	snap := recvSnapshot(t, client, MsgTypeSyncResponse)
	if snap.PositionMs != 12000 {
		t.Fatalf("expected estimated position 12000, got %d", snap.PositionMs)
	}
	if snap.CapturedAtMs != 107000 {
		t.Fatalf("expected capturedAtMs 107000, got %d", snap.CapturedAtMs)
	}

	// 暂停的快照不推进
	registry.UpdateSnapshot(playback.Snapshot{
		TrackID:      "track-1",
		IsPlaying:    false,
		PositionMs:   5000,
		DurationMs:   200000,
		CapturedAtMs: 100000,
	})
	registry.HandleRequestSync(client)
	snap = recvSnapshot(t, client, MsgTypeSyncResponse)
	if snap.PositionMs != 5000 {
		t.Fatalf("paused snapshot must not advance, got %d", snap.PositionMs)
	}
}

func TestLastWriteWinsBetweenPollerAndHostPush(t *testing.T) {
	hub, registry := newTestHub(t)
	manager := NewManager(hub, registry)

	host := newTestClient(hub, "host-1", RoleHost)
	hub.Register(host)
	drainUntil(t, host, MsgTypeListenerCount)

	registry.UpdateSnapshot(playback.Snapshot{TrackID: "from-poller", CapturedAtMs: 1000})

	pushed, _ := json.Marshal(playback.Snapshot{TrackID: "from-host", CapturedAtMs: 2000})
	manager.HandleMessage(nil, host, &WSMessage{Type: MsgTypeHostUpdate, Data: pushed})

	snap, ok := registry.Latest()
	if !ok || snap.TrackID != "from-host" {
		t.Fatalf("expected last write to win, got %q", snap.TrackID)
	}

	registry.UpdateSnapshot(playback.Snapshot{TrackID: "from-poller-again", CapturedAtMs: 3000})
	snap, _ = registry.Latest()
	if snap.TrackID != "from-poller-again" {
		t.Fatalf("expected poller overwrite, got %q", snap.TrackID)
	}
}

func TestNonHostCannotPushUpdates(t *testing.T) {
	hub, registry := newTestHub(t)
	manager := NewManager(hub, registry)

	listener := newTestClient(hub, "l1", RoleListener)
	hub.Register(listener)
	drainUntil(t, listener, MsgTypeListenerCount)

	pushed, _ := json.Marshal(playback.Snapshot{TrackID: "rogue"})
	manager.HandleMessage(nil, listener, &WSMessage{Type: MsgTypeHostUpdate, Data: pushed})

	msg := drainUntil(t, listener, MsgTypeError)
	if msg.Type != MsgTypeError {
		t.Fatalf("expected error reply, got %s", msg.Type)
	}
	if _, ok := registry.Latest(); ok {
		t.Fatal("a non-host push must not touch the latest snapshot")
	}
}
