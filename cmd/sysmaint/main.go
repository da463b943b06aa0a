package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/sysmaint/internal/elevation"
	"github.com/loykin/sysmaint/internal/instance"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := newApp(os.Args[1:])
	root := buildRoot(a)

	err := root.ExecuteContext(ctx)
	a.teardown()
	stop()
	os.Exit(exitCode(err))
}

// exitCode maps the command error onto the process exit status. Losing the
// instance gate and handing over to an elevated copy are normal exits.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, instance.ErrNotAcquired), errors.Is(err, elevation.ErrRelaunchRequested):
		return 0
	default:
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}
}
