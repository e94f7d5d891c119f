package logic

import "time"

// PressDetector collapses a physical press and its contact bounce into one
// logical event using time-based suppression.
//
// While idle, a sample at the pressed level fires once and moves to pressed.
// All samples are then ignored until the hold window has passed, after which
// the detector is idle again. It is not edge-triggered: a button still held
// when the window ends fires again, and presses inside the window are lost.
type PressDetector struct {
	hold      time.Duration
	state     PressState
	holdUntil time.Time
	counts    PressCounts
}

// NewPressDetector creates a detector with the given hold window.
func NewPressDetector(hold time.Duration) *PressDetector {
	if hold < 0 {
		hold = 0
	}
	return &PressDetector{
		hold:  hold,
		state: StateIdle,
	}
}

// Process takes a new sample and reports whether a press should be emitted.
func (d *PressDetector) Process(s Sample) bool {
	d.counts.Samples++

	if d.state == StatePressed {
		if s.Time.Before(d.holdUntil) {
			d.counts.Ignored++
			return false
		}
		d.state = StateIdle
	}

	if !s.Pressed {
		return false
	}

	d.state = StatePressed
	d.holdUntil = s.Time.Add(d.hold)
	d.counts.Presses++
	return true
}

// State returns the current state.
func (d *PressDetector) State() PressState {
	return d.state
}

// HoldUntil returns the end of the current hold window (zero if never pressed).
func (d *PressDetector) HoldUntil() time.Time {
	return d.holdUntil
}

// Counts returns a copy of the activity counters.
func (d *PressDetector) Counts() PressCounts {
	return d.counts
}
