// Package mqtt publishes doorbell ring and lifecycle events to a broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// System event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
	EventOffline     = "OFFLINE"
)

// RingTopic is the topic ring events for serial are published on.
func RingTopic(serial string) string {
	return fmt.Sprintf("doorbell/%s/ring", topicSerial(serial))
}

// SystemTopic is the topic lifecycle events for serial are published on.
func SystemTopic(serial string) string {
	return fmt.Sprintf("doorbell/%s/system", topicSerial(serial))
}

// Brokers reject wildcards in publish topics.
func topicSerial(serial string) string {
	if serial == "" {
		return "unregistered"
	}
	return serial
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishRing sends a ring event. Errors must not stop the ring sequence.
	PublishRing(event RingEvent) error

	// PublishSystem sends a lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// RingEvent is one accepted doorbell press.
type RingEvent struct {
	EventID   string
	Serial    string
	Status    string // active, error or inactive
	Source    string // button, console or http
	SwitchIP  string
	Timestamp time.Time
}

// SystemEvent is a lifecycle event (startup, shutdown, heartbeat).
type SystemEvent struct {
	Serial     string
	Timestamp  time.Time
	Event      string
	Reason     string // shutdown only, e.g. "SIGTERM"
	RawPayload []byte // pre-formatted JSON; returned as is by FormatSystemPayload
	Retained   bool
}

// RingPayload is the JSON body of a ring message.
type RingPayload struct {
	Ring RingPayloadInner `json:"ring"`
}

// RingPayloadInner contains the ring details.
type RingPayloadInner struct {
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	Source    string `json:"source"`
	SwitchIP  string `json:"switch_ip,omitempty"`
}

// FormatRingPayload creates the JSON payload for a ring event.
func FormatRingPayload(event RingEvent) ([]byte, error) {
	return json.Marshal(RingPayload{
		Ring: RingPayloadInner{
			EventID:   event.EventID,
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Status:    event.Status,
			Source:    event.Source,
			SwitchIP:  event.SwitchIP,
		},
	})
}

// SystemPayload is the JSON body of a simple lifecycle message.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// NopPublisher discards everything. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishRing(RingEvent) error     { return nil }
func (NopPublisher) PublishSystem(SystemEvent) error { return nil }
func (NopPublisher) Close() error                    { return nil }
func (NopPublisher) IsConnected() bool               { return false }
