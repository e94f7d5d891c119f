// Package api talks to the doorbell management server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sweeney/doorbell-agent/internal/settings"
)

// DefaultTimeout bounds every server call.
const DefaultTimeout = 10 * time.Second

// RingStatus is the integration outcome reported with a ring.
type RingStatus string

const (
	RingActive   RingStatus = "active"
	RingError    RingStatus = "error"
	RingInactive RingStatus = "inactive"
)

// SetupRequest is sent to obtain a serial number.
type SetupRequest struct {
	DeviceType int    `json:"device_type"`
	Version    string `json:"version"`
}

// SetupResponse carries the server-issued identity.
type SetupResponse struct {
	SerialNumber string `json:"serial_number"`
}

// DeviceType is the server's view of this device's type.
type DeviceType struct {
	LatestVersion string `json:"latest_version"`
}

// HeartbeatResponse is the config/version sync returned by a heartbeat.
// Integrations is nil when the server omitted the field.
type HeartbeatResponse struct {
	DeviceType   DeviceType                    `json:"device_type"`
	Integrations *[]settings.IntegrationConfig `json:"integrations,omitempty"`
}

// RingRequest reports a ring event.
type RingRequest struct {
	Status RingStatus `json:"status"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
}

// Client is a management-server client. Safe for concurrent use.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for baseURL (e.g. http://host/api/devices).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Setup requests a new serial number.
func (c *Client) Setup(ctx context.Context, req SetupRequest) (SetupResponse, error) {
	var resp SetupResponse
	err := c.do(ctx, "setup", c.base+"/setup", req, &resp)
	return resp, err
}

// Heartbeat reports liveness and returns the server's config view.
func (c *Client) Heartbeat(ctx context.Context, serial string) (HeartbeatResponse, error) {
	var resp HeartbeatResponse
	err := c.do(ctx, "heartbeat", c.deviceURL(serial, "heartbeat"), nil, &resp)
	return resp, err
}

// Ring notifies the server of an accepted button press.
func (c *Client) Ring(ctx context.Context, serial string, req RingRequest) error {
	return c.do(ctx, "ring", c.deviceURL(serial, "ring"), req, nil)
}

func (c *Client) deviceURL(serial, action string) string {
	return fmt.Sprintf("%s/%s/%s", c.base, url.PathEscape(serial), action)
}

func (c *Client) do(ctx context.Context, op, target string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, rd)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Op: op, Code: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
