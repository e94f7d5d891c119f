// Package settings persists the device identity and integration config.
//
// The record is a single JSON document at a well-known path. A missing or
// unparsable file is treated as absent: defaults are written and returned.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/doorbell-agent/internal/logging"
)

// SoftwareVersion is the running agent version, injected at build time via -ldflags.
var SoftwareVersion = "0.1"

// DefaultDeviceTypeID is sent at registration when no settings exist.
const DefaultDeviceTypeID = 1

// DefaultPath is where the record lives on the appliance.
const DefaultPath = "/var/silentdoorbell/settings.txt"

// IntegrationHomeWizardSocket is the only integration type the agent acts on.
const IntegrationHomeWizardSocket = "homewizard_socket"

// ErrAlreadyRegistered is returned when a serial number would be overwritten.
var ErrAlreadyRegistered = errors.New("settings: serial number already set")

// Credentials holds integration access details.
type Credentials struct {
	LocalIP string `json:"local_ip,omitempty"`
}

// IntegrationConfig is a locally reachable third-party device supplied by the server.
type IntegrationConfig struct {
	Type        string      `json:"type"`
	Credentials Credentials `json:"credentials"`
}

// DeviceSettings is the persisted record.
type DeviceSettings struct {
	DeviceTypeID int                 `json:"device_type_id"`
	Version      string              `json:"version"`
	SerialNumber string              `json:"serial_number,omitempty"`
	Integrations []IntegrationConfig `json:"integrations,omitempty"`
}

// Defaults returns a fresh unregistered record.
func Defaults() DeviceSettings {
	return DeviceSettings{
		DeviceTypeID: DefaultDeviceTypeID,
		Version:      SoftwareVersion,
	}
}

// Registered reports whether the device has a server-issued identity.
func (s DeviceSettings) Registered() bool {
	return s.SerialNumber != ""
}

// FirstIntegration returns the first integration of the given type.
func (s DeviceSettings) FirstIntegration(kind string) (IntegrationConfig, bool) {
	for _, in := range s.Integrations {
		if in.Type == kind {
			return in, true
		}
	}
	return IntegrationConfig{}, false
}

func (s DeviceSettings) clone() DeviceSettings {
	c := s
	if s.Integrations != nil {
		c.Integrations = append([]IntegrationConfig(nil), s.Integrations...)
	}
	return c
}

// Store owns the in-memory copy of the record and serializes all access to it.
type Store struct {
	path string
	log  logrus.FieldLogger

	mu      sync.Mutex
	current DeviceSettings
}

// Open returns a Store for path. Nothing is read until Load is called.
func Open(path string, log logrus.FieldLogger) *Store {
	return &Store{
		path:    path,
		log:     logging.Component(log, "settings"),
		current: Defaults(),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the record from disk. A missing or corrupt file is replaced with
// defaults. Fields the file leaves empty take their defaults, and the version
// always tracks the running build; either change is written back.
func (s *Store) Load() DeviceSettings {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.WithField("path", s.path).Warn("settings file not found, creating defaults")
		} else {
			s.log.WithError(err).Error("read settings file, recreating defaults")
		}
		return s.resetLocked()
	}

	var loaded DeviceSettings
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.WithError(err).Error("parse settings file, recreating defaults")
		return s.resetLocked()
	}

	s.current = loaded
	if s.fillLocked() {
		if err := s.writeLocked(); err != nil {
			s.log.WithError(err).Warn("keeping reconciled settings in memory only")
		}
	}
	return s.current.clone()
}

// fillLocked reports whether the record had to change.
func (s *Store) fillLocked() bool {
	changed := false
	if s.current.DeviceTypeID == 0 {
		s.current.DeviceTypeID = DefaultDeviceTypeID
		changed = true
	}
	if s.current.Version != SoftwareVersion {
		s.log.WithFields(logrus.Fields{"stored": s.current.Version, "running": SoftwareVersion}).Info("recording running version")
		s.current.Version = SoftwareVersion
		changed = true
	}
	return changed
}

func (s *Store) resetLocked() DeviceSettings {
	s.current = Defaults()
	_ = s.writeLocked()
	return s.current.clone()
}

// Current returns a copy of the in-memory record without touching disk.
func (s *Store) Current() DeviceSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

// Save replaces the record and writes it. The in-memory copy is updated even
// when the write fails, so the agent keeps running on what it knows.
func (s *Store) Save(ds DeviceSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ds.clone()
	return s.writeLocked()
}

// SetSerialNumber records the server-issued identity. It never overwrites an existing one.
func (s *Store) SetSerialNumber(serial string) (DeviceSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.SerialNumber != "" {
		return s.current.clone(), ErrAlreadyRegistered
	}
	s.current.SerialNumber = serial
	return s.current.clone(), s.writeLocked()
}

// ReplaceIntegrations swaps the whole integration list.
func (s *Store) ReplaceIntegrations(list []IntegrationConfig) (DeviceSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Integrations = append([]IntegrationConfig{}, list...)
	return s.current.clone(), s.writeLocked()
}

func (s *Store) writeLocked() error {
	data, err := json.MarshalIndent(s.current, "", "    ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.WithError(err).Error("CRITICAL: could not create settings directory")
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		s.log.WithError(err).Error("CRITICAL: could not write settings file")
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
