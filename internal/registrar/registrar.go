// Package registrar obtains the device's serial number from the management server.
package registrar

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/doorbell-agent/internal/api"
	"github.com/sweeney/doorbell-agent/internal/logging"
	"github.com/sweeney/doorbell-agent/internal/retry"
	"github.com/sweeney/doorbell-agent/internal/settings"
)

// DefaultRetryInterval is the wait between failed setup attempts.
const DefaultRetryInterval = 60 * time.Second

var errNoSerial = errors.New("setup response has no serial_number")

// SetupClient is the part of the server client the registrar needs.
type SetupClient interface {
	Setup(ctx context.Context, req api.SetupRequest) (api.SetupResponse, error)
}

// Store is the part of the settings store the registrar needs.
type Store interface {
	Current() settings.DeviceSettings
	SetSerialNumber(serial string) (settings.DeviceSettings, error)
}

// Registrar is the startup gate: nothing else runs until it has an identity.
type Registrar struct {
	store    Store
	client   SetupClient
	interval time.Duration
	log      logrus.FieldLogger

	// OnFailure is called after every failed attempt. Optional.
	OnFailure func(err error)
}

// New returns a Registrar retrying every interval.
func New(store Store, client SetupClient, interval time.Duration, log logrus.FieldLogger) *Registrar {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	return &Registrar{
		store:    store,
		client:   client,
		interval: interval,
		log:      logging.Component(log, "registrar"),
	}
}

// EnsureRegistered returns settings with a serial number, blocking until the
// server issues one. It only returns an error when ctx is cancelled.
func (r *Registrar) EnsureRegistered(ctx context.Context) (settings.DeviceSettings, error) {
	current := r.store.Current()
	if current.Registered() {
		r.log.WithField("serial", current.SerialNumber).Info("device already registered")
		return current, nil
	}

	req := api.SetupRequest{DeviceType: current.DeviceTypeID, Version: current.Version}
	r.log.WithFields(logrus.Fields{
		"device_type": req.DeviceType,
		"version":     req.Version,
	}).Info("device not registered, requesting serial number")

	var result settings.DeviceSettings
	err := retry.Forever(ctx, r.interval, func(ctx context.Context) error {
		resp, err := r.client.Setup(ctx, req)
		if err != nil {
			return err
		}
		if resp.SerialNumber == "" {
			return errNoSerial
		}

		ds, err := r.store.SetSerialNumber(resp.SerialNumber)
		if err != nil && !errors.Is(err, settings.ErrAlreadyRegistered) {
			// Persist failures are non-fatal; the in-memory copy has the serial.
			r.log.WithError(err).Error("serial number not persisted")
		}
		result = ds
		return nil
	}, func(attempt int, err error) {
		r.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"retry":   r.interval,
		}).Warn("setup failed")
		if r.OnFailure != nil {
			r.OnFailure(err)
		}
	})
	if err != nil {
		return settings.DeviceSettings{}, err
	}

	r.log.WithField("serial", result.SerialNumber).Info("received serial number")
	return result, nil
}
