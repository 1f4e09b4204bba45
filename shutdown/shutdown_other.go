//go:build !windows

package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Context is cancelled on the first SIGINT or SIGTERM.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
