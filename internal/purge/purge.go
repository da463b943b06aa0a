// Package purge asks the kernel memory manager to release its cached page
// lists. Each request is a single NtSetSystemInformation call.
package purge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/sysmaint/internal/metrics"
)

// SystemMemoryListInformation is the information class for memory-list commands.
const SystemMemoryListInformation = 0x50

// Command is a SYSTEM_MEMORY_LIST_COMMAND value.
type Command uint32

const (
	CmdEmptyWorkingSets            Command = 2
	CmdFlushModifiedList           Command = 3
	CmdPurgeStandbyList            Command = 4
	CmdPurgeLowPriorityStandbyList Command = 5
)

// Request is one purge operation.
type Request struct {
	Command Command
	Label   string
}

// Requests is the fixed purge sequence. Order only matters for reporting.
var Requests = []Request{
	{CmdPurgeStandbyList, "Standby List"},
	{CmdPurgeLowPriorityStandbyList, "Low-Priority Standby List"},
	{CmdFlushModifiedList, "Modified Page List"},
	{CmdEmptyWorkingSets, "Empty Process Working Sets"},
}

// Result is an executed Request.
type Result struct {
	Request
	Status  uint32
	Outcome Outcome
	Reason  string
}

// Succeeded reports whether the kernel accepted the request.
func (r Result) Succeeded() bool { return r.Outcome == Success }

// Setter issues one memory-list command and returns the raw NTSTATUS.
type Setter interface {
	SetMemoryList(cmd Command) uint32
}

// DefaultDelay separates consecutive requests.
const DefaultDelay = 100 * time.Millisecond

// Controller runs the purge sequence.
type Controller struct {
	setter Setter
	log    *slog.Logger
	delay  time.Duration
	sleep  func(time.Duration)
	cause  string
}

// NewController returns a controller; a nil setter selects ntdll.
func NewController(setter Setter, log *slog.Logger, delay time.Duration) *Controller {
	if setter == nil {
		setter = NewNtSetter()
	}
	if log == nil {
		log = slog.Default()
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Controller{setter: setter, log: log, delay: delay, sleep: time.Sleep}
}

// WithCause returns a controller that attributes every failure it reports
// to cause, e.g. missing token privileges.
func (c *Controller) WithCause(cause string) *Controller {
	cc := *c
	cc.cause = cause
	return &cc
}

// PurgeAll issues every request in Requests order. A failed request never
// stops the rest; the pause between requests is not cancellable.
func (c *Controller) PurgeAll(ctx context.Context) []Result {
	out := make([]Result, 0, len(Requests))
	for i, req := range Requests {
		res := c.purge(req)
		out = append(out, res)
		c.report(ctx, res)
		if i < len(Requests)-1 {
			c.sleep(c.delay)
		}
	}
	return out
}

func (c *Controller) purge(req Request) (res Result) {
	res.Request = req
	defer func() {
		if p := recover(); p != nil {
			res.Status = StatusUnsuccessful
			res.Outcome = Unsuccessful
			res.Reason = fmt.Sprintf("call panicked: %v", p)
		}
	}()
	res.Status = c.setter.SetMemoryList(req.Command)
	res.Outcome, res.Reason = Decode(res.Status)
	return res
}

func (c *Controller) report(ctx context.Context, res Result) {
	metrics.ObservePurge(res.Label, string(res.Outcome))
	if res.Succeeded() {
		c.log.InfoContext(ctx, "memory list purged", "list", res.Label)
		return
	}
	attrs := []any{"list", res.Label, "status", Hex(res.Status), "reason", res.Reason}
	if c.cause != "" {
		attrs = append(attrs, "cause", c.cause)
	}
	c.log.WarnContext(ctx, "memory list purge failed", attrs...)
}

// Failures counts results that did not succeed.
func Failures(rs []Result) int {
	n := 0
	for _, r := range rs {
		if !r.Succeeded() {
			n++
		}
	}
	return n
}
