// Package button samples the doorbell input and reports debounced presses.
package button

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/doorbell-agent/internal/gpio"
	"github.com/sweeney/doorbell-agent/internal/logging"
	"github.com/sweeney/doorbell-agent/internal/logic"
)

// Watcher feeds button samples through a press detector.
type Watcher struct {
	reader   gpio.Reader
	detector *logic.PressDetector
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewWatcher returns a Watcher with the given hold window.
func NewWatcher(reader gpio.Reader, hold time.Duration, log logrus.FieldLogger) *Watcher {
	return &Watcher{
		reader:   reader,
		detector: logic.NewPressDetector(hold),
		now:      time.Now,
		log:      logging.Component(log, "button"),
	}
}

// Watch samples the input on every tick and calls onPress once per detected
// press. onPress runs on the watcher's goroutine. Read errors skip the sample.
// Watch returns when ctx is done or tick is closed.
func (w *Watcher) Watch(ctx context.Context, tick <-chan time.Time, onPress func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case _, ok := <-tick:
			if !ok {
				return nil
			}
			t := w.now()
			pressed, err := w.reader.Read()
			if err != nil {
				w.log.WithError(err).Warn("gpio read error")
				continue
			}

			if w.detector.Process(logic.Sample{Pressed: pressed, Time: t}) {
				w.log.Info("button pressed")
				onPress()
			}
		}
	}
}

// WatchForever samples every poll interval until ctx is done.
func (w *Watcher) WatchForever(ctx context.Context, poll time.Duration, onPress func()) error {
	if poll <= 0 {
		poll = logic.DefaultPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	return w.Watch(ctx, ticker.C, onPress)
}

// Counts returns the detector counters. Not safe to call while Watch runs.
func (w *Watcher) Counts() logic.PressCounts {
	return w.detector.Counts()
}
