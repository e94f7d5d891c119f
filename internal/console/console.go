// Package console reads operator commands from a line-oriented stream.
//
// Supported commands are "ring" and "exit", case-insensitive. End of input is
// treated as "exit".
package console

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/doorbell-agent/internal/logging"
)

// Handlers are invoked for recognised commands.
type Handlers struct {
	Ring func()
	Exit func()
}

// Run reads commands from r until end of input, an exit command, or ctx is done.
// The read itself cannot be interrupted; cancellation is observed between lines.
func Run(ctx context.Context, r io.Reader, h Handlers, log logrus.FieldLogger) {
	log = logging.Component(log, "console")
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		switch cmd := strings.ToLower(strings.TrimSpace(scanner.Text())); cmd {
		case "":
		case "ring":
			log.Info("manual ring command received")
			if h.Ring != nil {
				h.Ring()
			}
		case "exit":
			log.Info("exit command received")
			if h.Exit != nil {
				h.Exit()
			}
			return
		default:
			log.WithField("command", cmd).Warn("unknown command (try 'ring' or 'exit')")
		}
	}

	if err := scanner.Err(); err != nil {
		log.WithError(err).Warn("console read failed")
	}
	if ctx.Err() != nil {
		return
	}
	log.Info("console closed")
	if h.Exit != nil {
		h.Exit()
	}
}
