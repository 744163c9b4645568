// Package bridge carries start commands from an external control
// surface (a GUI, in the reference design) onto the goroutine that
// runs the proxy runtime (spec.md §5, §6; SPEC_FULL.md §4.10 / C10).
package bridge

import (
	"context"
	"log/slog"

	"github.com/pwn2clown/bridgeburner/proxy"
)

// CommandKind names the one command this bridge currently carries.
// Stop is deliberately absent: callers invoke Handle.Stop() directly,
// bypassing the channel, exactly as spec.md §6 describes.
type CommandKind int

const (
	// CommandStart asks Run to call Handle.Serve on the carried handle.
	CommandStart CommandKind = iota
)

// Command is one message sent from the control surface to Run.
type Command struct {
	Handle proxy.Handle
	Kind   CommandKind
}

// NewCommandChannel returns a channel of the bounded capacity spec.md
// §5 names ("bounded message channel (capacity 1)"): sends from the
// control surface block until Run has drained the previous command.
func NewCommandChannel() chan Command {
	return make(chan Command, 1)
}

// Run consumes commands until ctx is done or commands is closed,
// calling Handle.Serve for each CommandStart. Serve is synchronous and
// long-running, so commands queue behind it exactly as the single-
// threaded reference runtime would; Run logs any Serve error that
// isn't a plain shutdown.
func Run(ctx context.Context, commands <-chan Command, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			switch cmd.Kind {
			case CommandStart:
				if err := cmd.Handle.Serve(ctx); err != nil {
					logger.Error("bridge: handle.Serve failed", "addr", cmd.Handle.Addr(), "error", err)
				}
			}
		}
	}
}
