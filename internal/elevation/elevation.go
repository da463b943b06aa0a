// Package elevation decides whether the requested work needs administrator
// rights and, when it does and the process lacks them, relaunches the tool
// elevated and stops the current instance from doing any gated work.
package elevation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Marker is appended to the relaunched command line so the elevated child
// knows to wait for the parent to release the single-instance lock.
const Marker = "--elevated-wait"

var (
	ErrRelaunchRequested = errors.New("elevated relaunch requested; this instance performs no gated work")
	ErrUnsupported       = errors.New("elevated relaunch not supported on this platform")
)

// Operation is a unit of work the user can request.
type Operation int

const (
	MemoryClean Operation = iota + 1
	KernelPurge
	SystemHealth
	DiskCleanup
	RegistryMachine
	DesktopMove
	Report
)

var operationNames = map[Operation]string{
	MemoryClean:     "memory-clean",
	KernelPurge:     "kernel-purge",
	SystemHealth:    "system-health",
	DiskCleanup:     "disk-cleanup",
	RegistryMachine: "registry-machine",
	DesktopMove:     "desktop-move",
	Report:          "report",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// Gated reports whether the operation needs administrator rights.
func (o Operation) Gated() bool {
	switch o {
	case MemoryClean, KernelPurge, SystemHealth, DiskCleanup, RegistryMachine, DesktopMove:
		return true
	}
	return false
}

// OperationSet is a set of requested operations.
type OperationSet map[Operation]struct{}

func NewOperationSet(ops ...Operation) OperationSet {
	s := make(OperationSet, len(ops))
	for _, o := range ops {
		s[o] = struct{}{}
	}
	return s
}

func (s OperationSet) Has(o Operation) bool {
	_, ok := s[o]
	return ok
}

func (s OperationSet) String() string {
	names := make([]string, 0, len(s))
	for o := Operation(1); o <= Report; o++ {
		if s.Has(o) {
			names = append(names, o.String())
		}
	}
	return strings.Join(names, ",")
}

// RequiresElevation is true if any operation in ops is gated.
func RequiresElevation(ops OperationSet) bool {
	for o := range ops {
		if o.Gated() {
			return true
		}
	}
	return false
}

// State is recomputed on every launch and never persisted.
type State struct {
	IsAdministrator           bool
	WasRelaunchedForElevation bool
}

// Platform is the OS boundary: the admin check and the elevated relaunch.
type Platform interface {
	IsAdministrator() (bool, error)
	Relaunch(exe string, args []string) error
}

// Decision is the outcome of EnsureElevated.
type Decision int

const (
	// Proceed: the current instance may run the requested operations.
	Proceed Decision = iota
	// Degraded: elevation was already attempted for this invocation and the
	// instance still is not an administrator. Work continues best-effort.
	Degraded
	// Relaunched: an elevated copy was started; this instance must exit.
	Relaunched
	// RelaunchFailed: the elevated copy could not be started.
	RelaunchFailed
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Degraded:
		return "degraded"
	case Relaunched:
		return "relaunched"
	case RelaunchFailed:
		return "relaunch-failed"
	default:
		return "unknown"
	}
}

type phase int

const (
	running phase = iota
	relaunchRequested
)

// Coordinator owns the Running -> RelaunchRequested state machine. It makes
// at most one relaunch attempt.
type Coordinator struct {
	platform Platform
	log      *slog.Logger
	args     []string
	exe      string
	exit     func(int)

	mu      sync.Mutex
	phase   phase
	state   *State
	lastErr error
}

type Option func(*Coordinator)

// WithExit replaces os.Exit as the hook called after a successful relaunch.
func WithExit(fn func(int)) Option { return func(c *Coordinator) { c.exit = fn } }

// WithExecutable overrides the path relaunched; os.Executable by default.
func WithExecutable(path string) Option { return func(c *Coordinator) { c.exe = path } }

// NewCoordinator builds a coordinator for a process started with args
// (os.Args[1:]).
func NewCoordinator(p Platform, log *slog.Logger, args []string, opts ...Option) *Coordinator {
	if p == nil {
		p = DefaultPlatform()
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{platform: p, log: log, args: append([]string(nil), args...), exit: os.Exit}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State reports the elevation state, querying the platform once.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() State {
	if c.state != nil {
		return *c.state
	}
	admin, err := c.platform.IsAdministrator()
	if err != nil {
		c.log.Warn("administrator check failed; assuming standard user", "error", err)
		admin = false
	}
	c.state = &State{IsAdministrator: admin, WasRelaunchedForElevation: HasMarker(c.args)}
	return *c.state
}

// EnsureElevated relaunches the tool elevated when ops need it and the
// process is not an administrator.
func (c *Coordinator) EnsureElevated(ctx context.Context, ops OperationSet) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == relaunchRequested {
		if c.lastErr != nil {
			return RelaunchFailed, c.lastErr
		}
		return Relaunched, ErrRelaunchRequested
	}
	if !RequiresElevation(ops) {
		return Proceed, nil
	}
	st := c.stateLocked()
	if st.IsAdministrator {
		return Proceed, nil
	}
	if st.WasRelaunchedForElevation {
		c.log.WarnContext(ctx, "relaunched for elevation but still not an administrator; continuing degraded", "ops", ops.String())
		return Degraded, nil
	}

	exe := c.exe
	if exe == "" {
		p, err := os.Executable()
		if err != nil {
			c.phase = relaunchRequested
			c.lastErr = fmt.Errorf("resolve executable: %w", err)
			c.log.ErrorContext(ctx, "elevation relaunch failed", "error", c.lastErr)
			return RelaunchFailed, c.lastErr
		}
		exe = p
	}

	args := RelaunchArgs(c.args)
	c.phase = relaunchRequested
	c.log.InfoContext(ctx, "requesting administrator rights", "ops", ops.String(), "exe", exe)
	if err := c.platform.Relaunch(exe, args); err != nil {
		c.lastErr = fmt.Errorf("relaunch elevated: %w", err)
		c.log.ErrorContext(ctx, "elevation relaunch failed", "error", err)
		return RelaunchFailed, c.lastErr
	}
	c.exit(0)
	return Relaunched, ErrRelaunchRequested
}

// Allow guards a gated operation. Once a relaunch was requested every gated
// operation is refused.
func (c *Coordinator) Allow(op Operation) error {
	if !op.Gated() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == relaunchRequested {
		return fmt.Errorf("%s: %w", op, ErrRelaunchRequested)
	}
	return nil
}

// HasMarker reports whether args carry the relaunch marker.
func HasMarker(args []string) bool {
	for _, a := range args {
		if a == Marker {
			return true
		}
	}
	return false
}

// RelaunchArgs prefixes the original args with Marker, once.
func RelaunchArgs(args []string) []string {
	out := make([]string, 0, len(args)+1)
	out = append(out, Marker)
	for _, a := range args {
		if a != Marker {
			out = append(out, a)
		}
	}
	return out
}
