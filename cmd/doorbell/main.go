// Command doorbell runs the doorbell appliance agent: it registers with the
// management server, keeps a heartbeat, watches the button and drives the
// configured smart switch when the bell rings.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/sweeney/doorbell-agent/internal/api"
	"github.com/sweeney/doorbell-agent/internal/button"
	"github.com/sweeney/doorbell-agent/internal/config"
	"github.com/sweeney/doorbell-agent/internal/console"
	"github.com/sweeney/doorbell-agent/internal/gpio"
	"github.com/sweeney/doorbell-agent/internal/heartbeat"
	"github.com/sweeney/doorbell-agent/internal/homewizard"
	"github.com/sweeney/doorbell-agent/internal/logging"
	"github.com/sweeney/doorbell-agent/internal/logic"
	"github.com/sweeney/doorbell-agent/internal/metrics"
	"github.com/sweeney/doorbell-agent/internal/mqtt"
	"github.com/sweeney/doorbell-agent/internal/registrar"
	"github.com/sweeney/doorbell-agent/internal/ring"
	"github.com/sweeney/doorbell-agent/internal/settings"
	"github.com/sweeney/doorbell-agent/internal/status"
	"github.com/sweeney/doorbell-agent/internal/updater"
	"github.com/sweeney/doorbell-agent/internal/web"
)

// Shutdown reasons reported in the SHUTDOWN event.
const (
	reasonSIGINT  = "SIGINT"
	reasonSIGTERM = "SIGTERM"
	reasonConsole = "CONSOLE_EXIT"
	reasonUpdate  = "UPDATE"

	reasonCancelled = "CANCELLED"
)

// Hardware and broker constructors, replaced in tests.
var (
	openButton = func(chip string, pin int) (gpio.Reader, error) {
		return gpio.NewRealReader(chip, pin)
	}
	openPublisher = func(opts mqtt.Options, log logrus.FieldLogger) (mqtt.Publisher, error) {
		return mqtt.NewRealPublisher(opts, log)
	}
	newUpdater = func(command string, log logrus.FieldLogger) updater.Updater {
		u := updater.NewCommandUpdater(command, log)
		// run() exits after the SHUTDOWN event instead
		u.Exit = func(int) {}
		return u
	}
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := run(context.Background(), cfg, log, os.Stdin, sigCh); err != nil {
		log.WithError(err).Fatal("fatal")
	}
}

// agent holds the wired components.
type agent struct {
	cfg       config.Config
	log       logrus.FieldLogger
	store     *settings.Store
	client    *api.Client
	metrics   *metrics.Metrics
	tracker   *status.Tracker
	pipeline  *ring.Pipeline

	pubMu     sync.RWMutex
	publisher mqtt.Publisher
}

func (a *agent) pub() mqtt.Publisher {
	a.pubMu.RLock()
	defer a.pubMu.RUnlock()
	return a.publisher
}

func (a *agent) setPublisher(p mqtt.Publisher) {
	a.pubMu.Lock()
	a.publisher = p
	a.pubMu.Unlock()
}

func run(ctx context.Context, cfg config.Config, log logrus.FieldLogger, stdin io.Reader, sig <-chan os.Signal) error {
	// The broker connection waits for a serial: it fixes the will topic and client ID.
	a := &agent{cfg: cfg, log: log, publisher: mqtt.NopPublisher{}}

	a.store = settings.Open(cfg.SettingsPath, log)
	ds := a.store.Load()

	a.metrics = metrics.New()
	a.tracker = status.NewTracker(time.Now(), ds.Version, status.Config{
		ServerURL:   cfg.ServerURL,
		PollMs:      cfg.GPIOPoll.Milliseconds(),
		HoldMs:      cfg.GPIOHold.Milliseconds(),
		CooldownMs:  cfg.RingCooldown.Milliseconds(),
		HeartbeatMs: cfg.HeartbeatInterval.Milliseconds(),
		Broker:      cfg.MQTTBroker,
		HTTPAddr:    cfg.HTTPAddr,
	})
	a.tracker.SetSerial(ds.SerialNumber)
	a.tracker.SetIntegrations(integrationSummary(ds))

	a.client = api.NewClient(cfg.ServerURL, cfg.ServerTimeout)

	sw := homewizard.NewClient(cfg.SwitchTimeout, log)
	sw.OnResult = a.metrics.SwitchResult
	blinker := homewizard.NewBlinker(sw, cfg.BlinkDuration, cfg.BlinkInterval, log)
	blinker.OnStart = func(string) { a.metrics.BlinksActive.Inc() }
	blinker.OnDone = func(string, homewizard.BlinkResult) { a.metrics.BlinksActive.Dec() }

	a.pipeline = ring.New(a.store, a.client, sw, blinker, logic.NewCooldown(cfg.RingCooldown), log)
	a.pipeline.OnOutcome = a.recordOutcome

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopCh := make(chan string, 4)
	stop := func(reason string) {
		select {
		case stopCh <- reason:
		default:
		}
	}
	go func() {
		select {
		case s := <-sig:
			stop(signalName(s))
		case <-ctx.Done():
		}
	}()

	if cfg.HTTPAddr != "" {
		srv := web.New(web.Options{
			Addr:     cfg.HTTPAddr,
			Tracker:  a.tracker,
			Gatherer: a.metrics.Registry(),
			Ring: func(rctx context.Context) ring.Outcome {
				return a.press(rctx, ring.SourceHTTP)
			},
		}, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			srv.Shutdown(sctx)
		}()
		log.WithField("addr", cfg.HTTPAddr).Info("http status server listening")
	}

	// Registration blocks everything else; a signal during it still ends the process.
	regCtx, regCancel := context.WithCancel(ctx)
	regDone := make(chan struct{})
	go func() {
		select {
		case reason := <-stopCh:
			stop(reason)
			regCancel()
		case <-regDone:
		}
	}()
	reg := registrar.New(a.store, a.client, cfg.RegistrationInterval, log)
	reg.OnFailure = func(error) { a.metrics.RegistrationAttempts.Inc() }
	ds, err := reg.EnsureRegistered(regCtx)
	close(regDone)
	regCancel()
	if err != nil {
		reason := reasonCancelled
		select {
		case reason = <-stopCh:
		default:
		}
		log.WithField("reason", reason).Info("stopped before registration completed")
		return nil
	}
	a.tracker.SetSerial(ds.SerialNumber)
	log.WithFields(logrus.Fields{"serial": ds.SerialNumber, "version": ds.Version}).Info("device registered")

	a.setPublisher(a.connectMQTT(ds.SerialNumber))
	defer a.pub().Close()

	a.publishSystem(mqtt.EventStartup, "", true)

	u := newUpdater(cfg.UpdateCommand, log)
	loop := heartbeat.New(a.store, a.client, u, cfg.HeartbeatInterval, log)
	loop.OnBeat = a.recordBeat
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := loop.Run(ctx, ds.SerialNumber)
		switch {
		case errors.Is(err, heartbeat.ErrUpdateRequested):
			stop(reasonUpdate)
		case err != nil && ctx.Err() == nil:
			log.WithError(err).Error("heartbeat loop stopped")
		}
	}()

	if cfg.GPIOEnabled {
		a.startButton(ctx, &wg)
	}

	if cfg.ConsoleEnabled && stdin != nil {
		go console.Run(ctx, stdin, console.Handlers{
			Ring: func() { a.press(ctx, ring.SourceConsole) },
			Exit: func() { stop(reasonConsole) },
		}, log)
	}

	log.WithFields(logrus.Fields{
		"server":    cfg.ServerURL,
		"heartbeat": cfg.HeartbeatInterval,
		"cooldown":  cfg.RingCooldown,
		"gpio":      cfg.GPIOEnabled,
	}).Info("started")

	var reason string
	select {
	case reason = <-stopCh:
	case <-ctx.Done():
		reason = reasonCancelled
	}
	log.WithField("reason", reason).Info("shutting down")
	cancel()
	wg.Wait()
	a.publishSystem(mqtt.EventShutdown, reason, true)
	return nil
}

func (a *agent) connectMQTT(serial string) mqtt.Publisher {
	if a.cfg.MQTTBroker == "" {
		return mqtt.NopPublisher{}
	}
	p, err := openPublisher(mqtt.Options{
		Broker:   a.cfg.MQTTBroker,
		ClientID: a.cfg.MQTTClientID,
		Serial:   serial,
	}, a.log)
	if err != nil {
		a.log.WithError(err).Warn("mqtt unavailable, events will not be mirrored")
		return mqtt.NopPublisher{}
	}
	return p
}

func (a *agent) startButton(ctx context.Context, wg *sync.WaitGroup) {
	reader, err := openButton(a.cfg.GPIOChip, a.cfg.GPIOPin)
	if err != nil {
		a.log.WithError(err).Warn("button unavailable, use the console or POST /ring")
		return
	}
	w := button.NewWatcher(reader, a.cfg.GPIOHold, a.log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer reader.Close()
		w.WatchForever(ctx, a.cfg.GPIOPoll, func() {
			a.metrics.ButtonPresses.Inc()
			a.tracker.SetButtonCounts(w.Counts())
			a.press(ctx, ring.SourceButton)
		})
	}()
}

// press reads the serial at press time so that rings before registration
// are reported as unregistered rather than sent.
func (a *agent) press(ctx context.Context, src ring.Source) ring.Outcome {
	return a.pipeline.HandlePress(ctx, a.store.Current().SerialNumber, src)
}

func (a *agent) recordOutcome(o ring.Outcome) {
	if !o.Registered {
		return
	}
	a.tracker.RecordRing(status.Ring{
		EventID:  o.EventID,
		Time:     o.Time,
		Status:   string(o.Status),
		Source:   string(o.Source),
		Notified: o.Notified,
	}, o.Accepted)

	if !o.Accepted {
		a.metrics.RingsSuppressed.Inc()
		return
	}
	a.metrics.Rings.WithLabelValues(string(o.Status)).Inc()
	if !o.Notified {
		a.metrics.RingNotifyFailures.Inc()
	}

	err := a.pub().PublishRing(mqtt.RingEvent{
		EventID:   o.EventID,
		Serial:    a.store.Current().SerialNumber,
		Status:    string(o.Status),
		Source:    string(o.Source),
		SwitchIP:  o.SwitchIP,
		Timestamp: o.Time,
	})
	if err != nil {
		a.log.WithError(err).Warn("ring publish failed")
	}
}

func (a *agent) recordBeat(res heartbeat.Result) {
	result := "ok"
	if res.Err != nil {
		result = "failed"
	}
	a.metrics.Heartbeats.WithLabelValues(result).Inc()
	a.tracker.RecordHeartbeat(res.Time, res.Err, res.LatestVersion)
	a.tracker.SetIntegrations(integrationSummary(a.store.Current()))
	a.publishSystem(mqtt.EventHeartbeat, "", false)
}

func (a *agent) publishSystem(event, reason string, retained bool) {
	pub := a.pub()
	if cs, ok := pub.(mqtt.ConnectionStatus); ok {
		a.tracker.SetMQTTConnected(cs.IsConnected())
	}
	snap := a.tracker.Snapshot()
	err := pub.PublishSystem(mqtt.SystemEvent{
		Serial:     snap.Serial,
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		a.log.WithError(err).WithField("event", event).Warn("failed to publish system event")
	}
}

func integrationSummary(ds settings.DeviceSettings) []status.Integration {
	out := make([]status.Integration, 0, len(ds.Integrations))
	for _, in := range ds.Integrations {
		out = append(out, status.Integration{Type: in.Type, IP: in.Credentials.LocalIP})
	}
	return out
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return reasonSIGINT
	case syscall.SIGTERM:
		return reasonSIGTERM
	}
	return "UNKNOWN"
}
