// Package logic contains the doorbell's pure timing state machines.
// This package has NO external dependencies (no GPIO, HTTP, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// PressState is the watcher's view of the button.
type PressState string

const (
	StateIdle    PressState = "IDLE"
	StatePressed PressState = "PRESSED"
)

// Default timings.
const (
	DefaultPoll     = 100 * time.Millisecond
	DefaultHold     = 1 * time.Second
	DefaultCooldown = 60 * time.Second
)

// Sample is a single reading of the button input, already in logical form.
type Sample struct {
	Pressed bool
	Time    time.Time
}

// PressCounts tracks detector activity since startup.
type PressCounts struct {
	Samples int
	Presses int
	Ignored int // samples dropped during the hold window
}
