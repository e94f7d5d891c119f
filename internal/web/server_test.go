package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/doorbell-agent/internal/api"
	"github.com/sweeney/doorbell-agent/internal/logging"
	"github.com/sweeney/doorbell-agent/internal/metrics"
	"github.com/sweeney/doorbell-agent/internal/ring"
	"github.com/sweeney/doorbell-agent/internal/status"
)

func newTestServer(t *testing.T, ringFn RingFunc) (*httptest.Server, *status.Tracker, *metrics.Metrics) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		ServerURL:   "https://doorbell.example.test",
		PollMs:      100,
		HoldMs:      1000,
		CooldownMs:  60000,
		HeartbeatMs: 180000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":8080",
	}
	tr := status.NewTracker(start, "0.1", cfg)
	m := metrics.New()
	srv := New(Options{Addr: ":0", Tracker: tr, Gatherer: m.Registry(), Ring: ringFn}, logging.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr, m
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t, nil)
	tr.SetSerial("ABC123")
	tr.RecordRing(status.Ring{EventID: "e1", Status: "active", Source: "button"}, true)
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if sj.Status.Serial != "ABC123" {
		t.Errorf("Serial: got %q, want ABC123", sj.Status.Serial)
	}
	if sj.Status.Rings.Active != 1 {
		t.Errorf("Rings.Active: got %d, want 1", sj.Status.Rings.Active)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT connected")
	}
	if sj.Status.Config == nil || sj.Status.Config.HTTPAddr != ":8080" {
		t.Errorf("Config: got %+v", sj.Status.Config)
	}
}

func TestHTMLEndpoints(t *testing.T) {
	ts, tr, _ := newTestServer(t, nil)
	tr.SetSerial("ABC123")
	tr.RecordRing(status.Ring{EventID: "e1", Time: time.Now(), Status: "error", Source: "console"}, true)
	tr.SetIntegrations([]status.Integration{{Type: "homewizard_socket", IP: "10.0.0.5"}})

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q, want text/html", path, ct)
		}
		for _, want := range []string{"ABC123", "10.0.0.5", `class="error"`} {
			if !strings.Contains(string(body), want) {
				t.Errorf("%s body missing %q", path, want)
			}
		}
	}
}

func TestHTMLUnregistered(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), "unregistered") {
		t.Error("expected unregistered marker")
	}
	if !strings.Contains(string(body), "no rings yet") {
		t.Error("expected empty ring section")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, m := newTestServer(t, nil)
	m.Rings.WithLabelValues("active").Inc()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), `doorbell_rings_total{status="active"} 1`) {
		t.Errorf("metrics output missing ring counter:\n%s", body)
	}
}

func TestRingEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		outcome  ring.Outcome
		wantCode int
	}{
		{"accepted", ring.Outcome{EventID: "e1", Registered: true, Accepted: true, Status: api.RingActive, Notified: true}, http.StatusAccepted},
		{"cooldown", ring.Outcome{EventID: "e2", Registered: true}, http.StatusTooManyRequests},
		{"unregistered", ring.Outcome{EventID: "e3"}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			ts, _, _ := newTestServer(t, func(ctx context.Context) ring.Outcome {
				calls++
				return tt.outcome
			})

			resp, err := http.Post(ts.URL+"/ring", "application/json", nil)
			if err != nil {
				t.Fatalf("POST /ring: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.wantCode)
			}
			var rr RingResponse
			if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if rr.EventID != tt.outcome.EventID {
				t.Errorf("EventID: got %q, want %q", rr.EventID, tt.outcome.EventID)
			}
			if calls != 1 {
				t.Errorf("ring func calls: got %d, want 1", calls)
			}
		})
	}
}

func TestRingEndpointRejectsGet(t *testing.T) {
	ts, _, _ := newTestServer(t, func(ctx context.Context) ring.Outcome {
		t.Error("ring func should not be called")
		return ring.Outcome{}
	})

	resp, err := http.Get(ts.URL + "/ring")
	if err != nil {
		t.Fatalf("GET /ring: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestRingRouteAbsentWithoutHandler(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/ring", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /ring: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr, _ := newTestServer(t, nil)

	sj1 := getJSON(t, ts.URL+"/index.json")
	if sj1.Status.Registered {
		t.Error("expected Registered=false initially")
	}

	tr.SetSerial("ABC123")
	tr.RecordHeartbeat(time.Now(), nil, "0.1")

	sj2 := getJSON(t, ts.URL+"/index.json")
	if !sj2.Status.Registered {
		t.Error("expected Registered=true after update")
	}
	if sj2.Status.Heartbeat == nil || !sj2.Status.Heartbeat.OK {
		t.Errorf("Heartbeat: got %+v", sj2.Status.Heartbeat)
	}
}
