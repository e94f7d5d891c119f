// Package status provides a thread-safe view of the doorbell agent's state.
// It is read by the HTTP handlers and by the MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/doorbell-agent/internal/logic"
)

// Integration is a configured third-party device. This is a local copy to
// avoid importing internal/settings from status.
type Integration struct {
	Type string
	IP   string
}

// Config contains agent configuration for display.
type Config struct {
	ServerURL   string
	PollMs      int64
	HoldMs      int64
	CooldownMs  int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// RingCounts tallies presses by outcome.
type RingCounts struct {
	Active     int
	Error      int
	Inactive   int
	Suppressed int // rejected by the cooldown
}

// Ring is the most recent accepted press.
type Ring struct {
	EventID  string
	Time     time.Time
	Status   string
	Source   string
	Notified bool
}

// Heartbeat is the most recent heartbeat attempt.
type Heartbeat struct {
	Time          time.Time
	OK            bool
	Error         string
	LatestVersion string
}

// Snapshot is a point-in-time view of agent state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Serial        string
	Version       string
	LastRing      *Ring
	Rings         RingCounts
	LastHeartbeat *Heartbeat
	Integrations  []Integration
	Button        logic.PressCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Registered reports whether the device has a serial number.
func (s Snapshot) Registered() bool {
	return s.Serial != ""
}

// Uptime returns the duration since the agent started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable agent state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, version string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Version:   version,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetSerial records the serial number once registration completes.
func (t *Tracker) SetSerial(serial string) {
	t.mu.Lock()
	t.snap.Serial = serial
	t.mu.Unlock()
}

// SetIntegrations replaces the integration summary.
func (t *Tracker) SetIntegrations(list []Integration) {
	cp := append([]Integration(nil), list...)
	t.mu.Lock()
	t.snap.Integrations = cp
	t.mu.Unlock()
}

// RecordRing records a press. Suppressed presses only bump the counter.
func (t *Tracker) RecordRing(r Ring, accepted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !accepted {
		t.snap.Rings.Suppressed++
		return
	}
	switch r.Status {
	case "active":
		t.snap.Rings.Active++
	case "error":
		t.snap.Rings.Error++
	default:
		t.snap.Rings.Inactive++
	}
	t.snap.LastRing = &r
}

// RecordHeartbeat records the outcome of a heartbeat.
func (t *Tracker) RecordHeartbeat(at time.Time, err error, latestVersion string) {
	hb := &Heartbeat{Time: at, OK: err == nil, LatestVersion: latestVersion}
	if err != nil {
		hb.Error = err.Error()
	}
	t.mu.Lock()
	t.snap.LastHeartbeat = hb
	t.mu.Unlock()
}

// SetButtonCounts sets the press detector counters.
func (t *Tracker) SetButtonCounts(c logic.PressCounts) {
	t.mu.Lock()
	t.snap.Button = c
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the agent state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.LastRing != nil {
		r := *s.LastRing
		s.LastRing = &r
	}
	if s.LastHeartbeat != nil {
		hb := *s.LastHeartbeat
		s.LastHeartbeat = &hb
	}
	s.Integrations = append([]Integration(nil), s.Integrations...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
