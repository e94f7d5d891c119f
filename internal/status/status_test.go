package status

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/doorbell-agent/internal/logic"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{PollMs: 100, HoldMs: 1000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, "0.1", cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Version != "0.1" {
		t.Errorf("Version: got %q, want 0.1", snap.Version)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.Registered() {
		t.Error("expected Registered=false initially")
	}
	if snap.LastRing != nil || snap.LastHeartbeat != nil {
		t.Error("expected no ring or heartbeat initially")
	}
}

func TestRecordRing(t *testing.T) {
	tr := NewTracker(time.Now(), "0.1", Config{})
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tr.RecordRing(Ring{EventID: "a", Time: at, Status: "active", Source: "button", Notified: true}, true)
	tr.RecordRing(Ring{EventID: "b", Time: at, Status: "inactive"}, true)
	tr.RecordRing(Ring{EventID: "c", Time: at}, false)
	tr.RecordRing(Ring{EventID: "d", Time: at, Status: "error", Source: "console"}, true)

	snap := tr.Snapshot()
	want := RingCounts{Active: 1, Error: 1, Inactive: 1, Suppressed: 1}
	if snap.Rings != want {
		t.Errorf("Rings: got %+v, want %+v", snap.Rings, want)
	}
	if snap.LastRing == nil || snap.LastRing.EventID != "d" {
		t.Fatalf("LastRing: got %+v, want event d", snap.LastRing)
	}
}

func TestRecordHeartbeat(t *testing.T) {
	tr := NewTracker(time.Now(), "0.1", Config{})
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tr.RecordHeartbeat(at, errors.New("server said 502"), "")
	hb := tr.Snapshot().LastHeartbeat
	if hb == nil || hb.OK || hb.Error != "server said 502" {
		t.Fatalf("unexpected heartbeat: %+v", hb)
	}

	tr.RecordHeartbeat(at.Add(time.Minute), nil, "0.2")
	hb = tr.Snapshot().LastHeartbeat
	if !hb.OK || hb.Error != "" || hb.LatestVersion != "0.2" {
		t.Errorf("unexpected heartbeat: %+v", hb)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), "0.1", Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), "0.1", Config{})
	tr.RecordRing(Ring{EventID: "a", Status: "active"}, true)
	tr.SetIntegrations([]Integration{{Type: "homewizard_socket", IP: "10.0.0.5"}})

	snap1 := tr.Snapshot()
	snap1.LastRing.EventID = "mutated"
	snap1.Integrations[0].IP = "mutated"

	snap2 := tr.Snapshot()
	if snap2.LastRing.EventID != "a" {
		t.Error("snapshot should be a copy; LastRing was modified")
	}
	if snap2.Integrations[0].IP != "10.0.0.5" {
		t.Error("snapshot should be a copy; Integrations were modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Serial:        "ABC123",
		Version:       "0.1",
		StartTime:     start,
		Now:           start.Add(90 * time.Second),
		MQTTConnected: true,
		LastRing:      &Ring{EventID: "e1", Time: start.Add(time.Minute), Status: "active", Source: "button", Notified: true},
		Rings:         RingCounts{Active: 1, Suppressed: 2},
		Button:        logic.PressCounts{Samples: 900, Presses: 3, Ignored: 8},
		Integrations:  []Integration{{Type: "homewizard_socket", IP: "10.0.0.5"}},
		Config:        Config{ServerURL: "https://example.test", PollMs: 100, Broker: "tcp://b:1883", HTTPAddr: ":8080"},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if s.Serial != "ABC123" || !s.Registered {
		t.Errorf("serial/registered: got %q/%v", s.Serial, s.Registered)
	}
	if s.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds: got %d, want 90", s.UptimeSeconds)
	}
	if s.LastRing == nil || s.LastRing.Time != "2026-01-01T00:01:00Z" || s.LastRing.Status != "active" {
		t.Errorf("LastRing: got %+v", s.LastRing)
	}
	if s.Rings.Suppressed != 2 {
		t.Errorf("Rings.Suppressed: got %d, want 2", s.Rings.Suppressed)
	}
	if s.Button.Presses != 3 {
		t.Errorf("Button.Presses: got %d, want 3", s.Button.Presses)
	}
	if len(s.Integrations) != 1 || s.Integrations[0].IP != "10.0.0.5" {
		t.Errorf("Integrations: got %+v", s.Integrations)
	}
	if s.Config == nil || s.Config.ServerURL != "https://example.test" {
		t.Errorf("Config: got %+v", s.Config)
	}
	if s.Event != "" || s.Reason != "" {
		t.Error("web status should not carry event or reason")
	}
}

func TestFormatJSONUnregistered(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	data := FormatJSON(Snapshot{StartTime: start, Now: start})

	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if raw["status"]["registered"] != false {
		t.Errorf("registered: got %v", raw["status"]["registered"])
	}
	if _, ok := raw["status"]["last_ring"]; ok {
		t.Error("last_ring should be omitted before the first ring")
	}
	if integrations, ok := raw["status"]["integrations"].([]any); !ok || len(integrations) != 0 {
		t.Errorf("integrations should be an empty list, got %v", raw["status"]["integrations"])
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{Serial: "ABC123", StartTime: start, Now: start, Config: Config{HTTPAddr: ":8080"}}

	var startup StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "STARTUP", ""), &startup); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if startup.Status.Event != "STARTUP" || startup.Status.Config == nil {
		t.Errorf("startup should carry config: %+v", startup.Status)
	}

	var shutdown StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"), &shutdown); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if shutdown.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", shutdown.Status.Reason)
	}
	if shutdown.Status.Config != nil {
		t.Error("shutdown should omit config")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), "0.1", Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.RecordRing(Ring{EventID: "x", Status: "active"}, i%3 != 0)
			tr.RecordHeartbeat(time.Now(), nil, "0.1")
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetIntegrations([]Integration{{Type: "homewizard_socket"}})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
