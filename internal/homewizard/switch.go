// Package homewizard drives a HomeWizard Energy Socket over its local API.
package homewizard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/doorbell-agent/internal/logging"
)

// DefaultTimeout bounds each state command. The socket is on the local network.
const DefaultTimeout = 3 * time.Second

// Brightness levels used by the ring effect.
const (
	BrightnessLow  = 50
	BrightnessFull = 255
)

// State is a partial state command. Nil fields are left unchanged on the socket.
type State struct {
	PowerOn    *bool `json:"power_on,omitempty"`
	Brightness *int  `json:"brightness,omitempty"`
}

// On powers the socket on at the given brightness.
func On(brightness int) State {
	on := true
	return State{PowerOn: &on, Brightness: &brightness}
}

// Off powers the socket off.
func Off() State {
	off := false
	return State{PowerOn: &off}
}

// Dim changes brightness only.
func Dim(brightness int) State {
	return State{Brightness: &brightness}
}

// Setter sends one state command and reports whether the socket accepted it.
type Setter interface {
	SetState(ctx context.Context, ip string, st State) bool
}

// Client sends state commands. Failures are not retried.
type Client struct {
	http *http.Client
	log  logrus.FieldLogger

	// OnResult is called after every command. Optional.
	OnResult func(ok bool)
}

// NewClient returns a Client with the given per-request timeout.
func NewClient(timeout time.Duration, log logrus.FieldLogger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  logging.Component(log, "switch"),
	}
}

// SetState PUTs st to http://{ip}/api/v1/state. It returns true on a 2xx response.
func (c *Client) SetState(ctx context.Context, ip string, st State) bool {
	ok := c.put(ctx, ip, st) == nil
	if c.OnResult != nil {
		c.OnResult(ok)
	}
	return ok
}

func (c *Client) put(ctx context.Context, ip string, st State) error {
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/api/v1/state", ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.log.WithFields(logrus.Fields{"ip": ip, "state": string(body)}).Debug("sending switch state")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("switch state: unexpected status %d", resp.StatusCode)
	}
	return nil
}
