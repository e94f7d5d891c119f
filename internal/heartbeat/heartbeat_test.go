package heartbeat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/doorbell-agent/internal/api"
	"github.com/sweeney/doorbell-agent/internal/logging"
	"github.com/sweeney/doorbell-agent/internal/settings"
)

type fakeUpdater struct {
	mu    sync.Mutex
	calls [][2]string
}

func (f *fakeUpdater) Update(_ context.Context, local, latest string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{local, latest})
}

func (f *fakeUpdater) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func registeredStore(t *testing.T, integrations ...settings.IntegrationConfig) *settings.Store {
	t.Helper()
	s := settings.Open(filepath.Join(t.TempDir(), "settings.txt"), logging.Discard())
	ds := s.Load()
	ds.SerialNumber = "ABC123"
	ds.Integrations = integrations
	require.NoError(t, s.Save(ds))
	return s
}

func heartbeatServer(t *testing.T, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/ABC123/heartbeat", r.URL.Path)
		io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts, &calls
}

func TestRunRequiresSerial(t *testing.T) {
	l := New(registeredStore(t), api.NewClient("http://127.0.0.1:1", time.Second), nil, time.Millisecond, logging.Discard())
	assert.ErrorIs(t, l.Run(context.Background(), ""), ErrNotRegistered)
}

func TestVersionMismatchTriggersSingleUpdate(t *testing.T) {
	store := registeredStore(t)
	ts, calls := heartbeatServer(t, `{"device_type":{"latest_version":"2.0"}}`)
	u := &fakeUpdater{}

	l := New(store, api.NewClient(ts.URL, time.Second), u, time.Millisecond, logging.Discard())
	err := l.Run(context.Background(), "ABC123")

	assert.ErrorIs(t, err, ErrUpdateRequested)
	assert.Equal(t, 1, u.count())
	assert.Equal(t, [2]string{settings.SoftwareVersion, "2.0"}, u.calls[0])
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestEqualVersionKeepsBeating(t *testing.T) {
	store := registeredStore(t)
	ts, calls := heartbeatServer(t, `{"device_type":{"latest_version":"`+settings.SoftwareVersion+`"}}`)
	u := &fakeUpdater{}

	ctx, cancel := context.WithCancel(context.Background())
	var beats int32
	l := New(store, api.NewClient(ts.URL, time.Second), u, time.Millisecond, logging.Discard())
	l.OnBeat = func(r Result) {
		assert.NoError(t, r.Err)
		if atomic.AddInt32(&beats, 1) == 3 {
			cancel()
		}
	}

	err := l.Run(ctx, "ABC123")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, u.count())
	assert.GreaterOrEqual(t, atomic.LoadInt32(calls), int32(3))
}

func TestEmptyLatestVersionIsIgnored(t *testing.T) {
	store := registeredStore(t)
	ts, _ := heartbeatServer(t, `{"device_type":{"latest_version":""}}`)
	u := &fakeUpdater{}

	l := New(store, api.NewClient(ts.URL, time.Second), u, time.Millisecond, logging.Discard())
	res := l.beat(context.Background(), "ABC123")
	assert.False(t, res.UpdateTriggered)
	assert.Zero(t, u.count())
}

// memStore is a Store that keeps whatever it is given, empty fields included.
type memStore struct {
	ds settings.DeviceSettings
}

func (m *memStore) Current() settings.DeviceSettings { return m.ds }

func (m *memStore) ReplaceIntegrations(list []settings.IntegrationConfig) (settings.DeviceSettings, error) {
	m.ds.Integrations = list
	return m.ds, nil
}

func TestEmptyLocalVersionIsIgnored(t *testing.T) {
	ts, _ := heartbeatServer(t, `{"device_type":{"latest_version":"2.0"}}`)
	u := &fakeUpdater{}

	l := New(&memStore{ds: settings.DeviceSettings{SerialNumber: "ABC123"}}, api.NewClient(ts.URL, time.Second), u, time.Millisecond, logging.Discard())
	res := l.beat(context.Background(), "ABC123")
	assert.False(t, res.UpdateTriggered)
	assert.Zero(t, u.count())
}

func TestUpgradedBuildDoesNotUpdateAgain(t *testing.T) {
	old := settings.SoftwareVersion
	settings.SoftwareVersion = "2.0"
	t.Cleanup(func() { settings.SoftwareVersion = old })

	path := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(path, []byte(`{"device_type_id":1,"version":"0.1","serial_number":"ABC123"}`), 0o644))
	store := settings.Open(path, logging.Discard())
	store.Load()

	ts, _ := heartbeatServer(t, `{"device_type":{"latest_version":"2.0"}}`)
	u := &fakeUpdater{}
	l := New(store, api.NewClient(ts.URL, time.Second), u, time.Millisecond, logging.Discard())
	res := l.beat(context.Background(), "ABC123")
	assert.False(t, res.UpdateTriggered)
	assert.Zero(t, u.count())
}

func TestSparseSettingsFileDoesNotUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(path, []byte(`{"serial_number":"ABC123"}`), 0o644))
	store := settings.Open(path, logging.Discard())
	ds := store.Load()
	assert.Equal(t, settings.DefaultDeviceTypeID, ds.DeviceTypeID)
	assert.Equal(t, settings.SoftwareVersion, ds.Version)

	ts, _ := heartbeatServer(t, `{"device_type":{"latest_version":"`+settings.SoftwareVersion+`"}}`)
	u := &fakeUpdater{}
	l := New(store, api.NewClient(ts.URL, time.Second), u, time.Millisecond, logging.Discard())
	res := l.beat(context.Background(), "ABC123")
	assert.False(t, res.UpdateTriggered)
	assert.Zero(t, u.count())
}

func TestNilUpdaterStillStopsLoop(t *testing.T) {
	store := registeredStore(t)
	ts, _ := heartbeatServer(t, `{"device_type":{"latest_version":"9.9"}}`)

	l := New(store, api.NewClient(ts.URL, time.Second), nil, time.Millisecond, logging.Discard())
	var err error
	assert.NotPanics(t, func() { err = l.Run(context.Background(), "ABC123") })
	assert.ErrorIs(t, err, ErrUpdateRequested)
}

func TestIntegrationsReplacedWholesale(t *testing.T) {
	a := settings.IntegrationConfig{Type: "homewizard_socket", Credentials: settings.Credentials{LocalIP: "10.0.0.1"}}
	b := settings.IntegrationConfig{Type: "other", Credentials: settings.Credentials{LocalIP: "10.0.0.2"}}
	store := registeredStore(t, a, b)

	ts, _ := heartbeatServer(t, `{"device_type":{"latest_version":"`+settings.SoftwareVersion+`"},
		"integrations":[{"type":"homewizard_socket","credentials":{"local_ip":"10.0.0.3"}}]}`)

	l := New(store, api.NewClient(ts.URL, time.Second), nil, time.Millisecond, logging.Discard())
	res := l.beat(context.Background(), "ABC123")
	require.NoError(t, res.Err)
	assert.True(t, res.IntegrationsUpdated)

	c := settings.IntegrationConfig{Type: "homewizard_socket", Credentials: settings.Credentials{LocalIP: "10.0.0.3"}}
	assert.Equal(t, []settings.IntegrationConfig{c}, store.Current().Integrations)

	reloaded := settings.Open(store.Path(), logging.Discard()).Load()
	assert.Equal(t, []settings.IntegrationConfig{c}, reloaded.Integrations)
}

func TestAbsentIntegrationsLeaveListAlone(t *testing.T) {
	a := settings.IntegrationConfig{Type: "homewizard_socket", Credentials: settings.Credentials{LocalIP: "10.0.0.1"}}
	store := registeredStore(t, a)
	ts, _ := heartbeatServer(t, `{"device_type":{"latest_version":"`+settings.SoftwareVersion+`"}}`)

	l := New(store, api.NewClient(ts.URL, time.Second), nil, time.Millisecond, logging.Discard())
	res := l.beat(context.Background(), "ABC123")
	assert.False(t, res.IntegrationsUpdated)
	assert.Equal(t, []settings.IntegrationConfig{a}, store.Current().Integrations)
}

func TestFailuresAreSwallowed(t *testing.T) {
	store := registeredStore(t)
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			io.WriteString(w, `garbage`)
		default:
			io.WriteString(w, `{"device_type":{"latest_version":"9.9"}}`)
		}
	}))
	t.Cleanup(ts.Close)

	u := &fakeUpdater{}
	var errs []error
	l := New(store, api.NewClient(ts.URL, time.Second), u, time.Millisecond, logging.Discard())
	l.OnBeat = func(r Result) { errs = append(errs, r.Err) }

	err := l.Run(context.Background(), "ABC123")
	assert.ErrorIs(t, err, ErrUpdateRequested)
	require.Len(t, errs, 3)
	assert.Error(t, errs[0])
	assert.Error(t, errs[1])
	assert.NoError(t, errs[2])
	assert.Equal(t, 1, u.count())
}
