// Package metrics holds the agent's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "doorbell"

// Metrics groups every collector the agent updates.
type Metrics struct {
	registry *prometheus.Registry

	Rings                *prometheus.CounterVec
	RingsSuppressed      prometheus.Counter
	RingNotifyFailures   prometheus.Counter
	Heartbeats           *prometheus.CounterVec
	SwitchCommands       *prometheus.CounterVec
	RegistrationAttempts prometheus.Counter
	BlinksActive         prometheus.Gauge
	ButtonPresses        prometheus.Counter
}

// New creates the collectors and registers them on a private registry,
// together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Rings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rings_total",
			Help:      "Accepted ring events by integration status",
		}, []string{"status"}),
		RingsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rings_suppressed_total",
			Help:      "Ring events discarded by the cooldown",
		}),
		RingNotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ring_notify_failures_total",
			Help:      "Ring notifications the server did not accept",
		}),
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat attempts by result",
		}, []string{"result"}),
		SwitchCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "switch",
			Name:      "commands_total",
			Help:      "Smart switch state commands by result",
		}, []string{"result"}),
		RegistrationAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_attempts_total",
			Help:      "Failed setup attempts while obtaining a serial number",
		}),
		BlinksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "switch",
			Name:      "blinks_active",
			Help:      "Blink effects currently running",
		}),
		ButtonPresses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "button_presses_total",
			Help:      "Debounced presses reported by the button watcher",
		}),
	}

	m.registry.MustRegister(
		m.Rings,
		m.RingsSuppressed,
		m.RingNotifyFailures,
		m.Heartbeats,
		m.SwitchCommands,
		m.RegistrationAttempts,
		m.BlinksActive,
		m.ButtonPresses,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SwitchResult records the outcome of one switch command.
func (m *Metrics) SwitchResult(ok bool) {
	if ok {
		m.SwitchCommands.WithLabelValues("ok").Inc()
		return
	}
	m.SwitchCommands.WithLabelValues("failed").Inc()
}
