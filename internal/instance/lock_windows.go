//go:build windows

package instance

import (
	"errors"
	"runtime"
	"time"

	"golang.org/x/sys/windows"
)

// mutexLock owns a named mutex from one dedicated, OS-thread-pinned
// goroutine: a Windows mutex must be released by the thread that took it.
type mutexLock struct {
	name    string
	release chan chan error
}

func newLock(name string) Lock { return &mutexLock{name: name} }

type lockResult struct {
	ok  bool
	err error
}

func (m *mutexLock) TryLock(wait time.Duration) (bool, error) {
	if m.release != nil {
		return true, nil
	}
	name, err := windows.UTF16PtrFromString(m.name)
	if err != nil {
		return false, err
	}
	res := make(chan lockResult, 1)
	release := make(chan chan error)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		h, err := windows.CreateMutex(nil, false, name)
		if err != nil && !errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
			res <- lockResult{err: err}
			return
		}
		ev, err := windows.WaitForSingleObject(h, uint32(wait.Milliseconds()))
		switch {
		case err != nil:
			_ = windows.CloseHandle(h)
			res <- lockResult{err: err}
			return
		case ev == windows.WAIT_OBJECT_0, ev == windows.WAIT_ABANDONED:
			res <- lockResult{ok: true}
		default:
			_ = windows.CloseHandle(h)
			res <- lockResult{}
			return
		}
		done := <-release
		err = windows.ReleaseMutex(h)
		if cerr := windows.CloseHandle(h); err == nil {
			err = cerr
		}
		done <- err
	}()
	r := <-res
	if r.ok {
		m.release = release
	}
	return r.ok, r.err
}

func (m *mutexLock) Unlock() error {
	if m.release == nil {
		return nil
	}
	done := make(chan error, 1)
	m.release <- done
	m.release = nil
	return <-done
}
