// Package heartbeat reports liveness to the management server and applies
// the configuration and version it sends back.
package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/doorbell-agent/internal/api"
	"github.com/sweeney/doorbell-agent/internal/logging"
	"github.com/sweeney/doorbell-agent/internal/retry"
	"github.com/sweeney/doorbell-agent/internal/settings"
	"github.com/sweeney/doorbell-agent/internal/updater"
)

// DefaultInterval is the time between heartbeats.
const DefaultInterval = 180 * time.Second

var (
	// ErrNotRegistered is returned when Run is started without a serial number.
	ErrNotRegistered = errors.New("heartbeat: device has no serial number")

	// ErrUpdateRequested is returned after the updater was invoked.
	ErrUpdateRequested = errors.New("heartbeat: update requested")
)

// Client is the part of the server client the loop needs.
type Client interface {
	Heartbeat(ctx context.Context, serial string) (api.HeartbeatResponse, error)
}

// Store is the part of the settings store the loop needs.
type Store interface {
	Current() settings.DeviceSettings
	ReplaceIntegrations(list []settings.IntegrationConfig) (settings.DeviceSettings, error)
}

// Result describes one heartbeat cycle.
type Result struct {
	Time                time.Time
	Err                 error
	LatestVersion       string
	IntegrationsUpdated bool
	UpdateTriggered     bool
}

// Loop is the periodic heartbeat.
type Loop struct {
	store    Store
	client   Client
	updater  updater.Updater
	interval time.Duration
	now      func() time.Time
	log      logrus.FieldLogger

	// OnBeat is called after every cycle. Optional.
	OnBeat func(Result)
}

// New returns a Loop beating every interval. A nil updater only logs the mismatch.
func New(store Store, client Client, u updater.Updater, interval time.Duration, log logrus.FieldLogger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	log = logging.Component(log, "heartbeat")
	if u == nil {
		u = updater.LogOnly{Log: log}
	}
	return &Loop{
		store:    store,
		client:   client,
		updater:  u,
		interval: interval,
		now:      time.Now,
		log:      log,
	}
}

// Run beats until ctx is cancelled or an update is triggered. A failed
// heartbeat is logged and retried on the next cycle; it never stops the loop.
func (l *Loop) Run(ctx context.Context, serial string) error {
	if serial == "" {
		return ErrNotRegistered
	}

	for {
		res := l.beat(ctx, serial)
		if l.OnBeat != nil {
			l.OnBeat(res)
		}
		if res.UpdateTriggered {
			return ErrUpdateRequested
		}

		l.log.WithField("next", l.interval).Debug("waiting for next heartbeat")
		if err := retry.Sleep(ctx, l.interval); err != nil {
			return err
		}
	}
}

// beat performs a single heartbeat cycle.
func (l *Loop) beat(ctx context.Context, serial string) Result {
	res := Result{Time: l.now()}

	resp, err := l.client.Heartbeat(ctx, serial)
	if err != nil {
		l.log.WithError(err).Warn("heartbeat failed")
		res.Err = err
		return res
	}
	l.log.Debug("heartbeat sent")

	res.LatestVersion = resp.DeviceType.LatestVersion
	local := l.store.Current().Version
	// An unknown local version never triggers an update.
	if res.LatestVersion != "" && local != "" && res.LatestVersion != local {
		l.log.WithFields(logrus.Fields{
			"local":  local,
			"latest": res.LatestVersion,
		}).Info("version mismatch, handing off to updater")
		res.UpdateTriggered = true
		l.updater.Update(ctx, local, res.LatestVersion)
		return res
	}

	if resp.Integrations != nil {
		if _, err := l.store.ReplaceIntegrations(*resp.Integrations); err != nil {
			l.log.WithError(err).Error("integrations applied in memory only")
		}
		res.IntegrationsUpdated = true
		l.log.WithField("count", len(*resp.Integrations)).Info("updated integrations from server")
	}
	return res
}
