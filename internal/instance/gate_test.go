package instance

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueName(t *testing.T) string {
	return fmt.Sprintf(`Local\sysmaint_test_%s_%d`, t.Name(), time.Now().UnixNano())
}

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)) }

func TestAcquire_ConcurrentExactlyOne(t *testing.T) {
	name := uniqueName(t)
	const n = 2
	gates := make([]*Gate, n)
	for i := range gates {
		gates[i] = Open(name, 0, quietLog())
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, g := range gates {
		wg.Add(1)
		go func(g *Gate) {
			defer wg.Done()
			<-start
			ok, err := g.Acquire(false)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(g)
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	for _, g := range gates {
		assert.NoError(t, g.Release())
	}
}

func TestAcquire_MarkerWaitsForHolder(t *testing.T) {
	name := uniqueName(t)
	parent := Open(name, 0, quietLog())
	ok, err := parent.Acquire(false)
	require.NoError(t, err)
	require.True(t, ok)

	child := Open(name, 2*time.Second, quietLog())
	ok, err = child.Acquire(false)
	require.NoError(t, err)
	assert.False(t, ok, "zero-wait attempt must fail while held")

	released := make(chan struct{})
	go func() {
		time.Sleep(150 * time.Millisecond)
		assert.NoError(t, parent.Release())
		close(released)
	}()
	ok, err = child.Acquire(true)
	<-released
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, child.Held())
	assert.NoError(t, child.Release())
	assert.False(t, child.Held())
}

func TestAcquire_ReleaseAllowsNext(t *testing.T) {
	name := uniqueName(t)
	a := Open(name, 0, quietLog())
	b := Open(name, 0, quietLog())

	ok, err := a.Acquire(false)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.Release())

	ok, err = b.Acquire(false)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release())
}

type fakeLock struct {
	attempts []time.Duration
	results  []bool
	err      error
	unlocks  int
	unlockE  error
}

func (f *fakeLock) TryLock(wait time.Duration) (bool, error) {
	f.attempts = append(f.attempts, wait)
	if f.err != nil {
		return false, f.err
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r, nil
}

func (f *fakeLock) Unlock() error {
	f.unlocks++
	return f.unlockE
}

func TestGate_NoMarkerNoWait(t *testing.T) {
	l := &fakeLock{results: []bool{false, true}}
	g := NewGate(l, 0, quietLog())
	ok, err := g.Acquire(false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []time.Duration{0}, l.attempts)
}

func TestGate_MarkerUsesBoundedWait(t *testing.T) {
	l := &fakeLock{results: []bool{false, true}}
	g := NewGate(l, 0, quietLog())
	ok, err := g.Acquire(true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []time.Duration{0, DefaultWait}, l.attempts)
}

func TestGate_LockErrorWrapped(t *testing.T) {
	l := &fakeLock{err: errors.New("access denied")}
	g := NewGate(l, 0, quietLog())
	ok, err := g.Acquire(true)
	assert.False(t, ok)
	assert.ErrorContains(t, err, "acquire instance lock")
}

func TestGate_ReleaseBestEffort(t *testing.T) {
	l := &fakeLock{results: []bool{true}, unlockE: errors.New("not owner")}
	var buf bytes.Buffer
	g := NewGate(l, 0, slog.New(slog.NewTextHandler(&buf, nil)))
	ok, _ := g.Acquire(false)
	require.True(t, ok)

	assert.Error(t, g.Release())
	assert.Contains(t, buf.String(), "release instance lock")
	assert.NoError(t, g.Release(), "second release is a no-op")
	assert.Equal(t, 1, l.unlocks)
}
