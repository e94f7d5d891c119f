package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string            `json:"event,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Serial        string            `json:"serial_number"`
	Registered    bool              `json:"registered"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     string            `json:"start_time"`
	Timestamp     string            `json:"timestamp"`
	MQTT          MQTTStatus        `json:"mqtt"`
	LastRing      *RingJSON         `json:"last_ring,omitempty"`
	Rings         RingCountsJSON    `json:"ring_counts"`
	Heartbeat     *HeartbeatJSON    `json:"heartbeat,omitempty"`
	Button        ButtonJSON        `json:"button"`
	Integrations  []IntegrationJSON `json:"integrations"`
	Config        *ConfigJSON       `json:"config,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// RingJSON is the JSON representation of the last ring.
type RingJSON struct {
	EventID  string `json:"event_id"`
	Time     string `json:"time"`
	Status   string `json:"status"`
	Source   string `json:"source"`
	Notified bool   `json:"notified"`
}

// RingCountsJSON is the JSON representation of ring counts.
type RingCountsJSON struct {
	Active     int `json:"active"`
	Error      int `json:"error"`
	Inactive   int `json:"inactive"`
	Suppressed int `json:"suppressed"`
}

// HeartbeatJSON is the JSON representation of the last heartbeat.
type HeartbeatJSON struct {
	Time          string `json:"time"`
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	LatestVersion string `json:"latest_version,omitempty"`
}

// ButtonJSON is the JSON representation of the press detector counters.
type ButtonJSON struct {
	Samples int `json:"samples"`
	Presses int `json:"presses"`
	Ignored int `json:"ignored"`
}

// IntegrationJSON is the JSON representation of one integration.
type IntegrationJSON struct {
	Type string `json:"type"`
	IP   string `json:"local_ip,omitempty"`
}

// ConfigJSON is the JSON representation of agent config.
type ConfigJSON struct {
	ServerURL   string `json:"server_url"`
	PollMs      int64  `json:"poll_ms"`
	HoldMs      int64  `json:"hold_ms"`
	CooldownMs  int64  `json:"cooldown_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker,omitempty"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Serial:        snap.Serial,
		Registered:    snap.Registered(),
		Version:       snap.Version,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Rings: RingCountsJSON{
			Active:     snap.Rings.Active,
			Error:      snap.Rings.Error,
			Inactive:   snap.Rings.Inactive,
			Suppressed: snap.Rings.Suppressed,
		},
		Button: ButtonJSON{
			Samples: snap.Button.Samples,
			Presses: snap.Button.Presses,
			Ignored: snap.Button.Ignored,
		},
		Integrations: []IntegrationJSON{},
	}

	if r := snap.LastRing; r != nil {
		inner.LastRing = &RingJSON{
			EventID:  r.EventID,
			Time:     r.Time.UTC().Format(time.RFC3339),
			Status:   r.Status,
			Source:   r.Source,
			Notified: r.Notified,
		}
	}
	if hb := snap.LastHeartbeat; hb != nil {
		inner.Heartbeat = &HeartbeatJSON{
			Time:          hb.Time.UTC().Format(time.RFC3339),
			OK:            hb.OK,
			Error:         hb.Error,
			LatestVersion: hb.LatestVersion,
		}
	}
	for _, in := range snap.Integrations {
		inner.Integrations = append(inner.Integrations, IntegrationJSON{Type: in.Type, IP: in.IP})
	}
	return inner
}

func configJSON(c Config) *ConfigJSON {
	return &ConfigJSON{
		ServerURL:   c.ServerURL,
		PollMs:      c.PollMs,
		HoldMs:      c.HoldMs,
		CooldownMs:  c.CooldownMs,
		HeartbeatMs: c.HeartbeatMs,
		Broker:      c.Broker,
		HTTPAddr:    c.HTTPAddr,
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	inner.Config = configJSON(snap.Config)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// Config is only included on STARTUP.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	if event == "STARTUP" {
		inner.Config = configJSON(snap.Config)
	}

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
