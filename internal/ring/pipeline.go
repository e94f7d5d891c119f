// Package ring handles doorbell presses: cooldown, smart switch activation,
// and the ring notification to the management server.
package ring

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/doorbell-agent/internal/api"
	"github.com/sweeney/doorbell-agent/internal/homewizard"
	"github.com/sweeney/doorbell-agent/internal/logging"
	"github.com/sweeney/doorbell-agent/internal/logic"
	"github.com/sweeney/doorbell-agent/internal/settings"
)

// Source identifies what triggered a press.
type Source string

const (
	SourceButton  Source = "button"
	SourceConsole Source = "console"
	SourceHTTP    Source = "http"
)

// Notifier is the part of the server client the pipeline needs.
type Notifier interface {
	Ring(ctx context.Context, serial string, req api.RingRequest) error
}

// SettingsReader is the part of the settings store the pipeline needs.
type SettingsReader interface {
	Current() settings.DeviceSettings
}

// BlinkStarter starts a background blink effect.
type BlinkStarter interface {
	Start(ip string)
}

// Outcome describes what a press did.
type Outcome struct {
	EventID    string
	Source     Source
	Time       time.Time
	Accepted   bool // passed the cooldown
	Registered bool
	Status     api.RingStatus
	SwitchIP   string
	Notified   bool
	NotifyErr  error
}

// Pipeline is the press handler. Safe for concurrent use.
type Pipeline struct {
	store    SettingsReader
	notifier Notifier
	setter   homewizard.Setter
	blinker  BlinkStarter
	cooldown *logic.Cooldown
	now      func() time.Time
	log      logrus.FieldLogger

	// OnOutcome is called after every press, accepted or not. Optional.
	OnOutcome func(Outcome)
}

// New returns a Pipeline.
func New(store SettingsReader, notifier Notifier, setter homewizard.Setter, blinker BlinkStarter, cooldown *logic.Cooldown, log logrus.FieldLogger) *Pipeline {
	if cooldown == nil {
		cooldown = logic.NewCooldown(logic.DefaultCooldown)
	}
	return &Pipeline{
		store:    store,
		notifier: notifier,
		setter:   setter,
		blinker:  blinker,
		cooldown: cooldown,
		now:      time.Now,
		log:      logging.Component(log, "ring"),
	}
}

// HandlePress runs the ring sequence for serial. It waits for the switch
// activation and the server notification but not for the blink effect.
func (p *Pipeline) HandlePress(ctx context.Context, serial string, src Source) Outcome {
	out := Outcome{
		EventID: uuid.NewString(),
		Source:  src,
		Time:    p.now(),
	}
	log := p.log.WithFields(logrus.Fields{"event_id": out.EventID, "source": src})
	defer func() {
		if p.OnOutcome != nil {
			p.OnOutcome(out)
		}
	}()

	if serial == "" {
		log.Error("cannot ring, device has no serial number")
		return out
	}
	out.Registered = true

	if !p.cooldown.Allow(out.Time) {
		log.WithField("cooldown", p.cooldown.Window()).Info("ring ignored due to cooldown")
		return out
	}
	out.Accepted = true

	out.Status = api.RingInactive
	if in, ok := p.store.Current().FirstIntegration(settings.IntegrationHomeWizardSocket); ok && in.Credentials.LocalIP != "" {
		out.SwitchIP = in.Credentials.LocalIP
		if p.setter.SetState(ctx, out.SwitchIP, homewizard.On(homewizard.BrightnessFull)) {
			out.Status = api.RingActive
			if p.blinker != nil {
				p.blinker.Start(out.SwitchIP)
			}
		} else {
			log.WithField("ip", out.SwitchIP).Warn("switch activation failed")
			out.Status = api.RingError
		}
	} else {
		log.Info("no homewizard socket configured")
	}

	log = log.WithField("status", out.Status)
	if err := p.notifier.Ring(ctx, serial, api.RingRequest{Status: out.Status}); err != nil {
		out.NotifyErr = err
		log.WithError(err).Warn("ring notification failed")
		return out
	}
	out.Notified = true
	log.Info("ring event sent")
	return out
}
