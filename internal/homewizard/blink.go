package homewizard

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/doorbell-agent/internal/logging"
)

// Default blink timing.
const (
	DefaultBlinkDuration = 60 * time.Second
	DefaultBlinkInterval = 2 * time.Second
)

// finalOffTimeout bounds the power-off sent at the end of an effect. It is
// detached from the effect's own context so a cancelled run can still send it.
const finalOffTimeout = 5 * time.Second

// BlinkResult tells how an effect ended.
type BlinkResult struct {
	Toggles    int
	Lost       bool // a toggle failed
	Superseded bool // a newer blink for the same socket took over
}

// Blinker runs blink effects in the background, at most one live effect per socket.
//
// A newer Start for the same IP cancels the running one, which then exits
// without its final power-off so the newer activation wins. A power-off that
// is already on the wire can still land after the new activation; that race
// is accepted for a single local device.
type Blinker struct {
	setter   Setter
	duration time.Duration
	interval time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	mu   sync.Mutex
	live map[string]*activity
	seq  uint64

	// OnStart and OnDone observe effect lifetimes. Optional.
	OnStart func(ip string)
	OnDone  func(ip string, res BlinkResult)
}

type activity struct {
	id     uint64
	cancel context.CancelFunc
	start  time.Time
}

// NewBlinker returns a Blinker using setter for every command.
func NewBlinker(setter Setter, duration, interval time.Duration, log logrus.FieldLogger) *Blinker {
	if duration <= 0 {
		duration = DefaultBlinkDuration
	}
	if interval <= 0 {
		interval = DefaultBlinkInterval
	}
	return &Blinker{
		setter:   setter,
		duration: duration,
		interval: interval,
		log:      logging.Component(log, "blink"),
		now:      time.Now,
		after:    time.After,
		live:     make(map[string]*activity),
	}
}

// Start launches an effect for ip and returns immediately. The goroutine is
// not joined; its duration bounds its lifetime.
func (b *Blinker) Start(ip string) {
	ctx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.seq++
	id := b.seq
	if prev, ok := b.live[ip]; ok {
		b.log.WithFields(logrus.Fields{"ip": ip, "age": b.now().Sub(prev.start)}).Info("superseding running blink")
		prev.cancel()
	}
	b.live[ip] = &activity{id: id, cancel: cancel, start: b.now()}
	b.mu.Unlock()

	if b.OnStart != nil {
		b.OnStart(ip)
	}

	go func() {
		defer cancel()
		res := b.Run(ctx, ip)
		b.finish(ip, id)
		if b.OnDone != nil {
			b.OnDone(ip, res)
		}
	}()
}

// Live reports whether an effect is running for ip.
func (b *Blinker) Live(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.live[ip]
	return ok
}

func (b *Blinker) finish(ip string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.live[ip]; ok && cur.id == id {
		delete(b.live, ip)
	}
}

// Run performs the effect synchronously: brightness alternates low/full every
// interval, starting low, until the duration has passed on the clock. Time
// spent waiting on the socket counts against the duration. The first failed
// toggle ends the effect. Unless cancelled, a final power-off is sent
// best-effort.
func (b *Blinker) Run(ctx context.Context, ip string) BlinkResult {
	log := b.log.WithField("ip", ip)
	log.WithField("duration", b.duration).Info("starting blink effect")

	var res BlinkResult
	dim := true
	deadline := b.now().Add(b.duration)
	for b.now().Before(deadline) {
		select {
		case <-ctx.Done():
			res.Superseded = true
			log.Info("blink effect cancelled")
			return res
		case <-b.after(b.interval):
		}

		level := BrightnessFull
		if dim {
			level = BrightnessLow
		}
		if !b.setter.SetState(ctx, ip, Dim(level)) {
			if ctx.Err() != nil {
				res.Superseded = true
				return res
			}
			log.Warn("lost connection to switch during blink, aborting effect")
			res.Lost = true
			break
		}
		res.Toggles++
		dim = !dim
	}

	offCtx, cancel := context.WithTimeout(context.Background(), finalOffTimeout)
	defer cancel()
	b.setter.SetState(offCtx, ip, Off())
	log.WithField("toggles", res.Toggles).Info("blink effect finished, switch off")
	return res
}
