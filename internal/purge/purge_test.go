package purge

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSetter struct {
	statuses map[Command]uint32
	calls    []Command
	panicOn  Command
}

func (s *scriptedSetter) SetMemoryList(cmd Command) uint32 {
	s.calls = append(s.calls, cmd)
	if s.panicOn != 0 && cmd == s.panicOn {
		panic("ntdll unavailable")
	}
	return s.statuses[cmd]
}

func newTestController(s Setter, buf *bytes.Buffer) (*Controller, *[]time.Duration) {
	c := NewController(s, slog.New(slog.NewTextHandler(buf, nil)), 0)
	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	return c, &slept
}

func TestDecode(t *testing.T) {
	tests := []struct {
		status uint32
		want   Outcome
		reason string
	}{
		{StatusSuccess, Success, "STATUS_SUCCESS"},
		{StatusPrivilegeNotHeld, PrivilegeNotHeld, "STATUS_PRIVILEGE_NOT_HELD"},
		{StatusAccessDenied, AccessDenied, "STATUS_ACCESS_DENIED"},
		{StatusInvalidHandle, InvalidHandle, "STATUS_INVALID_HANDLE"},
		{StatusInvalidParameter, InvalidParameter, "STATUS_INVALID_PARAMETER"},
		{StatusUnsuccessful, Unsuccessful, "STATUS_UNSUCCESSFUL"},
		{0xC0000017, UnknownStatus, "0xC0000017"},
	}
	for _, tt := range tests {
		got, reason := Decode(tt.status)
		assert.Equal(t, tt.want, got, Hex(tt.status))
		assert.Equal(t, tt.reason, reason)
	}
}

func TestPurgeAll_FixedOrderAllSucceed(t *testing.T) {
	s := &scriptedSetter{}
	var buf bytes.Buffer
	c, slept := newTestController(s, &buf)

	rs := c.PurgeAll(context.Background())

	assert.Equal(t, []Command{CmdPurgeStandbyList, CmdPurgeLowPriorityStandbyList, CmdFlushModifiedList, CmdEmptyWorkingSets}, s.calls)
	require.Len(t, rs, 4)
	labels := make([]string, len(rs))
	for i, r := range rs {
		labels[i] = r.Label
		assert.True(t, r.Succeeded())
	}
	assert.Equal(t, []string{"Standby List", "Low-Priority Standby List", "Modified Page List", "Empty Process Working Sets"}, labels)
	assert.Equal(t, []time.Duration{DefaultDelay, DefaultDelay, DefaultDelay}, *slept, "pause only between requests")
	assert.Zero(t, Failures(rs))
}

func TestPurgeAll_SecondRequestPrivilegeNotHeld(t *testing.T) {
	s := &scriptedSetter{statuses: map[Command]uint32{CmdPurgeLowPriorityStandbyList: StatusPrivilegeNotHeld}}
	var buf bytes.Buffer
	c, _ := newTestController(s, &buf)

	rs := c.PurgeAll(context.Background())

	require.Len(t, rs, 4)
	assert.Len(t, s.calls, 4)
	assert.Equal(t, 1, Failures(rs))
	assert.Equal(t, PrivilegeNotHeld, rs[1].Outcome)
	assert.Equal(t, "STATUS_PRIVILEGE_NOT_HELD", rs[1].Reason)
	assert.Equal(t, 1, strings.Count(buf.String(), "memory list purge failed"), "exactly one failure line")
	assert.Equal(t, 3, strings.Count(buf.String(), "memory list purged"))
}

func TestPurgeAll_UnknownStatusFallsBackToHex(t *testing.T) {
	s := &scriptedSetter{statuses: map[Command]uint32{CmdEmptyWorkingSets: 0xC0000017}}
	var buf bytes.Buffer
	c, _ := newTestController(s, &buf)
	rs := c.PurgeAll(context.Background())
	assert.Equal(t, UnknownStatus, rs[3].Outcome)
	assert.Contains(t, buf.String(), "reason=0xC0000017")
}

func TestPurgeAll_PanicDoesNotStopSequence(t *testing.T) {
	s := &scriptedSetter{panicOn: CmdPurgeStandbyList}
	var buf bytes.Buffer
	c, _ := newTestController(s, &buf)
	rs := c.PurgeAll(context.Background())
	require.Len(t, rs, 4)
	assert.Equal(t, Unsuccessful, rs[0].Outcome)
	assert.True(t, rs[3].Succeeded())
}

func TestWithCauseAttributesFailures(t *testing.T) {
	s := &scriptedSetter{statuses: map[Command]uint32{CmdPurgeStandbyList: StatusPrivilegeNotHeld}}
	var buf bytes.Buffer
	c, _ := newTestController(s, &buf)
	c.WithCause("no privileges enabled").PurgeAll(context.Background())
	assert.Contains(t, buf.String(), `cause="no privileges enabled"`)
	assert.Empty(t, c.cause, "original controller is unchanged")
}
