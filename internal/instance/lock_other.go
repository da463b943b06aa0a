//go:build !windows

package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const pollInterval = 50 * time.Millisecond

// flockLock is an advisory lock on a file in the temp dir. The owner's pid
// is written into the file for diagnostics.
type flockLock struct {
	path string
	f    *os.File
}

func newLock(name string) Lock {
	base := strings.NewReplacer(`\`, "_", "/", "_").Replace(name)
	return &flockLock{path: filepath.Join(os.TempDir(), base+".lock")}
}

func (l *flockLock) TryLock(wait time.Duration) (bool, error) {
	if l.f != nil {
		return true, nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}
	deadline := time.Now().Add(wait)
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			_ = f.Close()
			return false, fmt.Errorf("flock %s: %w", l.path, err)
		}
		if !time.Now().Before(deadline) {
			_ = f.Close()
			return false, nil
		}
		time.Sleep(pollInterval)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	l.f = f
	return true, nil
}

func (l *flockLock) Unlock() error {
	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
