package homewizard

import (
	"context"
	"sync"
)

// Command is one recorded state command.
type Command struct {
	IP    string
	State State
}

// FakeSetter is a test double that records commands and answers from a script.
type FakeSetter struct {
	mu sync.Mutex

	// Commands holds every command received, in order.
	Commands []Command

	// FailAfter, if > 0, makes every command after the first FailAfter fail.
	FailAfter int

	// Fail makes every command fail.
	Fail bool
}

// NewFakeSetter returns a FakeSetter that accepts everything.
func NewFakeSetter() *FakeSetter {
	return &FakeSetter{}
}

// SetState records the command and reports the scripted result.
func (f *FakeSetter) SetState(_ context.Context, ip string, st State) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, Command{IP: ip, State: st})
	if f.Fail {
		return false
	}
	if f.FailAfter > 0 && len(f.Commands) > f.FailAfter {
		return false
	}
	return true
}

// Snapshot returns a copy of the recorded commands.
func (f *FakeSetter) Snapshot() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.Commands...)
}
