// Package instance keeps at most one copy of the tool doing maintenance at a
// time, across users and sessions.
package instance

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultName is the machine-wide lock name.
	DefaultName = `Global\sysmaint_SingleInstance`
	// DefaultWait bounds how long a relaunched child waits for its parent.
	DefaultWait = 4000 * time.Millisecond
)

// NotAcquiredMessage is shown to the user when the gate is held elsewhere.
const NotAcquiredMessage = "another instance is running; close it or use elevate-in-place\n" +
	"(if the other instance runs as administrator, close it from an elevated prompt)"

var ErrNotAcquired = errors.New("single-instance lock held by another process")

// Lock is the OS named lock.
type Lock interface {
	// TryLock attempts to take the lock, waiting at most wait. It returns
	// false without error when the lock stayed busy.
	TryLock(wait time.Duration) (bool, error)
	Unlock() error
}

// Gate wraps a Lock with the launch-time acquisition policy.
type Gate struct {
	lock Lock
	wait time.Duration
	log  *slog.Logger
	held bool
}

// Open returns a gate over the platform lock called name.
func Open(name string, wait time.Duration, log *slog.Logger) *Gate {
	if name == "" {
		name = DefaultName
	}
	return NewGate(newLock(name), wait, log)
}

func NewGate(lock Lock, wait time.Duration, log *slog.Logger) *Gate {
	if wait <= 0 {
		wait = DefaultWait
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{lock: lock, wait: wait, log: log}
}

// Acquire makes a zero-wait attempt and, only when waitMarker is set (the
// process is an elevated relaunch whose parent may still hold the lock), a
// second attempt bounded by the gate's wait.
func (g *Gate) Acquire(waitMarker bool) (bool, error) {
	if g.held {
		return true, nil
	}
	ok, err := g.lock.TryLock(0)
	if err != nil {
		return false, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok && waitMarker {
		g.log.Debug("instance lock busy; waiting for parent to exit", "wait", g.wait)
		ok, err = g.lock.TryLock(g.wait)
		if err != nil {
			return false, fmt.Errorf("acquire instance lock: %w", err)
		}
	}
	g.held = ok
	return ok, nil
}

// Held reports whether this gate owns the lock.
func (g *Gate) Held() bool { return g.held }

// Release gives the lock back. Failures are logged and returned but callers
// treat them as non-fatal.
func (g *Gate) Release() error {
	if !g.held {
		return nil
	}
	g.held = false
	if err := g.lock.Unlock(); err != nil {
		g.log.Warn("release instance lock", "error", err)
		return err
	}
	return nil
}
