// Package updater replaces the running agent when the server advertises a newer version.
package updater

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/doorbell-agent/internal/logging"
)

// Updater is handed control on a version mismatch. Implementations are
// expected to end the process, directly or by replacing it.
type Updater interface {
	Update(ctx context.Context, local, latest string)
}

// CommandUpdater runs a deploy command through a shell and then exits,
// whether or not the command succeeded.
type CommandUpdater struct {
	Command string
	Shell   string        // defaults to /bin/sh
	Timeout time.Duration // zero means no limit
	Exit    func(code int)

	log logrus.FieldLogger
}

// NewCommandUpdater returns an updater running command and exiting via os.Exit.
func NewCommandUpdater(command string, log logrus.FieldLogger) *CommandUpdater {
	return &CommandUpdater{
		Command: command,
		Shell:   "/bin/sh",
		Timeout: 10 * time.Minute,
		Exit:    os.Exit,
		log:     logging.Component(log, "updater"),
	}
}

// Update runs the deploy command and exits the process.
func (u *CommandUpdater) Update(ctx context.Context, local, latest string) {
	log := u.log
	if log == nil {
		log = logging.Component(nil, "updater")
	}
	log = log.WithFields(logrus.Fields{"local": local, "latest": latest})

	defer func() {
		log.Warn("exiting to let the update complete")
		exit := u.Exit
		if exit == nil {
			exit = os.Exit
		}
		exit(0)
	}()

	if u.Command == "" {
		log.Warn("no update command configured")
		return
	}

	if u.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}

	shell := u.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	log.WithField("command", u.Command).Info("new version available, starting update")
	out, err := exec.CommandContext(ctx, shell, "-c", u.Command).CombinedOutput()
	if err != nil {
		log.WithError(err).WithField("output", string(out)).Error("update command failed")
		return
	}
	log.WithField("output", string(out)).Info("update command finished")
}

// LogOnly records the mismatch and leaves the process running. The heartbeat
// loop still stops, so the agent shuts down with reason UPDATE.
type LogOnly struct {
	Log logrus.FieldLogger
}

// Update logs the versions.
func (u LogOnly) Update(_ context.Context, local, latest string) {
	log := u.Log
	if log == nil {
		log = logging.Component(nil, "updater")
	}
	log.WithFields(logrus.Fields{"local": local, "latest": latest}).Warn("update available but no updater configured")
}
