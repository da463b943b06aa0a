// Package maintenance runs one maintenance pass: working-set reclamation,
// privilege escalation, kernel memory-list purge, self trim and the external
// diagnostic pipeline, strictly in that order.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/sysmaint/internal/diag"
	"github.com/loykin/sysmaint/internal/elevation"
	"github.com/loykin/sysmaint/internal/history"
	"github.com/loykin/sysmaint/internal/metrics"
	"github.com/loykin/sysmaint/internal/privilege"
	"github.com/loykin/sysmaint/internal/purge"
	"github.com/loykin/sysmaint/internal/reclaim"
)

// ErrNothingRequested is returned when a plan selects no stage.
var ErrNothingRequested = errors.New("no maintenance stage requested")

// DegradedCause is attached to purge failures when no privilege could be
// enabled and the process is not elevated.
const DegradedCause = "no purge privilege enabled and process is not elevated"

// Plan selects the stages of a pass. HealthStage, when set, runs only that
// diagnostic stage.
type Plan struct {
	Memory      bool
	Purge       bool
	Health      bool
	HealthStage string
}

// Operations maps the plan onto the elevation operation set.
func (p Plan) Operations() elevation.OperationSet {
	s := elevation.NewOperationSet()
	if p.Memory {
		s[elevation.MemoryClean] = struct{}{}
	}
	if p.Purge {
		s[elevation.KernelPurge] = struct{}{}
	}
	if p.Health {
		s[elevation.SystemHealth] = struct{}{}
	}
	return s
}

func (p Plan) empty() bool { return !p.Memory && !p.Purge && !p.Health }

// Guard refuses gated operations once an elevated relaunch was requested.
type Guard interface {
	Allow(op elevation.Operation) error
}

type allowAll struct{}

func (allowAll) Allow(elevation.Operation) error { return nil }

// Deps are the collaborators of an Orchestrator. Nil fields get the
// platform defaults.
type Deps struct {
	Enumerate  func(context.Context) ([]reclaim.ProcessSnapshot, error)
	MemStatus  func(context.Context) (reclaim.MemoryStatus, error)
	Reclaimer  *reclaim.Reclaimer
	Privileges *privilege.Manager
	Purger     *purge.Controller
	Diag       *diag.Pipeline
	Guard      Guard
	Admin      bool
	Sink       history.Sink
	Textfile   string
	Log        *slog.Logger
}

// Orchestrator sequences the stages of a pass.
type Orchestrator struct {
	d        Deps
	log      *slog.Logger
	newRunID func() string
	now      func() time.Time
}

func New(d Deps) *Orchestrator {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Enumerate == nil {
		d.Enumerate = reclaim.Enumerate
	}
	if d.MemStatus == nil {
		d.MemStatus = reclaim.ReadMemoryStatus
	}
	if d.Reclaimer == nil {
		d.Reclaimer = reclaim.NewReclaimer(reclaim.NewPolicy(), nil, nil, d.Log, reclaim.Options{})
	}
	if d.Privileges == nil {
		d.Privileges = privilege.NewManager(nil, d.Log)
	}
	if d.Purger == nil {
		d.Purger = purge.NewController(nil, d.Log, 0)
	}
	if d.Diag == nil {
		d.Diag = diag.NewPipeline(nil, d.Log, 0, nil)
	}
	if d.Guard == nil {
		d.Guard = allowAll{}
	}
	if d.Sink == nil {
		d.Sink = history.Nop{}
	}
	return &Orchestrator{d: d, log: d.Log, newRunID: uuid.NewString, now: time.Now}
}

// Report is everything observed during one pass.
type Report struct {
	RunID        string
	Plan         Plan
	MemoryBefore *reclaim.MemoryStatus
	MemoryAfter  *reclaim.MemoryStatus
	Trim         *reclaim.Summary
	Privileges   []privilege.Request
	Degraded     bool
	Purge        []purge.Result
	Self         *reclaim.TrimResult
	Stages       []diag.StageResult
	Refused      []elevation.Operation
	Interrupted  bool
	Duration     time.Duration
}

// Failures counts purge and diagnostic failures plus failed trims.
func (r Report) Failures() int {
	n := purge.Failures(r.Purge)
	for _, s := range r.Stages {
		if !s.Succeeded() {
			n++
		}
	}
	if r.Trim != nil {
		n += r.Trim.Failed
	}
	return n
}

type pass struct {
	o       *Orchestrator
	rec     *history.Recorder
	log     *slog.Logger
	rep     *Report
	sampled bool
}

// Run executes plan. Stage failures are reported, never returned; ctx is
// checked only between stages, so a running stage always completes.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) (Report, error) {
	if plan.empty() {
		return Report{}, ErrNothingRequested
	}
	runID := o.newRunID()
	log := o.log.With("run_id", runID)
	rep := Report{RunID: runID, Plan: plan}
	p := &pass{o: o, rec: history.NewRecorder(o.d.Sink, log, runID), log: log, rep: &rep}
	start := o.now()

	log.InfoContext(ctx, "maintenance pass started", "ops", plan.Operations().String(), "admin", o.d.Admin)
	p.rec.Record(ctx, history.Event{Type: history.EventPassStart, Detail: plan.Operations().String()})

	steps := []struct {
		enabled bool
		op      elevation.Operation
		run     func(context.Context)
	}{
		{plan.Memory, elevation.MemoryClean, p.reclaim},
		{plan.Purge, elevation.KernelPurge, p.purge},
		{plan.Memory || plan.Purge, 0, p.finishMemory},
		{plan.Health, elevation.SystemHealth, p.health},
	}
	for _, st := range steps {
		if !st.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			rep.Interrupted = true
			log.WarnContext(ctx, "maintenance pass interrupted", "error", err)
			break
		}
		if st.op != 0 {
			if err := o.d.Guard.Allow(st.op); err != nil {
				rep.Refused = append(rep.Refused, st.op)
				log.WarnContext(ctx, "operation refused", "op", st.op.String(), "error", err)
				continue
			}
		}
		st.run(ctx)
	}

	rep.Duration = o.now().Sub(start)
	metrics.ObservePass(rep.Duration.Seconds())
	if o.d.Textfile != "" {
		if err := metrics.WriteTextfile(o.d.Textfile); err != nil {
			log.WarnContext(ctx, "write metrics textfile", "path", o.d.Textfile, "error", err)
		}
	}
	summary := fmt.Sprintf("failures=%d refused=%d interrupted=%t", rep.Failures(), len(rep.Refused), rep.Interrupted)
	p.rec.Record(context.WithoutCancel(ctx), history.Event{Type: history.EventPassEnd, Outcome: passOutcome(rep), Detail: summary})
	log.InfoContext(ctx, "maintenance pass finished",
		"duration", rep.Duration.Round(time.Millisecond), "failures", rep.Failures(),
		"refused", len(rep.Refused), "interrupted", rep.Interrupted)
	return rep, nil
}

func passOutcome(r Report) string {
	switch {
	case r.Interrupted:
		return "interrupted"
	case len(r.Refused) > 0:
		return "refused"
	case r.Failures() > 0:
		return "partial"
	default:
		return "success"
	}
}

// sampleBefore records memory status once, ahead of the first memory stage.
func (p *pass) sampleBefore(ctx context.Context) {
	if p.sampled {
		return
	}
	p.sampled = true
	ms, err := p.o.d.MemStatus(ctx)
	if err != nil {
		p.log.WarnContext(ctx, "read memory status", "error", err)
		return
	}
	p.rep.MemoryBefore = &ms
	p.log.InfoContext(ctx, "memory before pass", "available_mb", int64(ms.AvailableMB()), "used_pct", round1(ms.UsedPercent))
}

func (p *pass) reclaim(ctx context.Context) {
	p.sampleBefore(ctx)
	snaps, err := p.o.d.Enumerate(ctx)
	if err != nil {
		p.log.WarnContext(ctx, "process enumeration incomplete", "error", err)
	}
	sum := p.o.d.Reclaimer.Run(ctx, snaps)
	p.rep.Trim = &sum
	p.rec.Record(context.WithoutCancel(ctx), history.Event{
		Type:    history.EventTrimSummary,
		Outcome: fmt.Sprintf("trimmed=%d skipped=%d failed=%d", sum.Trimmed, sum.Skipped, sum.Failed),
		Detail:  fmt.Sprintf("total=%d eligible=%d", sum.Total, sum.Eligible),
		Bytes:   sum.FreedBytes,
	})
}

func (p *pass) purge(ctx context.Context) {
	p.sampleBefore(ctx)
	reqs := p.o.d.Privileges.EnableAll(privilege.PurgeSet...)
	p.rep.Privileges = reqs
	enabled := make([]string, 0, len(reqs))
	for _, r := range reqs {
		outcome := "enabled"
		detail := ""
		if r.Enabled {
			enabled = append(enabled, r.Name)
		} else {
			outcome = "failed"
			if r.Err != nil {
				detail = r.Err.Error()
			}
		}
		p.rec.Record(context.WithoutCancel(ctx), history.Event{Type: history.EventPrivilege, Subject: r.Name, Outcome: outcome, Detail: detail})
	}
	p.log.InfoContext(ctx, "privileges adjusted", "enabled", strings.Join(enabled, ","), "requested", len(reqs))

	purger := p.o.d.Purger
	if !privilege.AnyEnabled(reqs) && !p.o.d.Admin {
		p.rep.Degraded = true
		p.log.WarnContext(ctx, "no privileges enabled and not running as administrator; purge will likely fail")
		purger = purger.WithCause(DegradedCause)
	}
	results := purger.PurgeAll(ctx)
	p.rep.Purge = results
	for _, r := range results {
		p.rec.Record(context.WithoutCancel(ctx), history.Event{
			Type:    history.EventPurge,
			Subject: r.Label,
			Outcome: string(r.Outcome),
			Detail:  purge.Hex(r.Status),
		})
	}
}

func (p *pass) finishMemory(ctx context.Context) {
	if !p.sampled {
		// both memory stages were refused
		return
	}
	self := p.o.d.Reclaimer.TrimSelf(ctx)
	p.rep.Self = &self
	p.log.DebugContext(ctx, "self trim", "outcome", string(self.Outcome), "freed_mb", self.Freed/reclaim.MiB)

	ms, err := p.o.d.MemStatus(ctx)
	if err != nil {
		p.log.WarnContext(ctx, "read memory status", "error", err)
		return
	}
	p.rep.MemoryAfter = &ms
	attrs := []any{"available_mb", int64(ms.AvailableMB()), "used_pct", round1(ms.UsedPercent)}
	if b := p.rep.MemoryBefore; b != nil {
		attrs = append(attrs, "improved_mb", int64(ms.AvailableMB()-b.AvailableMB()))
	}
	p.log.InfoContext(ctx, "memory after pass", attrs...)
}

func (p *pass) health(ctx context.Context) {
	if !p.o.d.Admin {
		p.log.WarnContext(ctx, "diagnostic tools usually need administrator rights; stages may fail")
	}
	var results []diag.StageResult
	if name := p.rep.Plan.HealthStage; name != "" {
		r, err := p.o.d.Diag.RunStage(ctx, name)
		if err != nil {
			p.log.WarnContext(ctx, "diagnostic stage not run", "error", err)
			return
		}
		results = []diag.StageResult{r}
	} else {
		results = p.o.d.Diag.RunAll(ctx)
	}
	p.rep.Stages = results
	for _, r := range results {
		e := history.Event{Type: history.EventStage, Stage: r.Name, Outcome: r.Outcome(), Detail: fmt.Sprintf("exit=%d duration=%s", r.ExitCode, r.Duration.Round(time.Millisecond))}
		if r.Err != nil {
			e.Detail += " error=" + r.Err.Error()
		}
		p.rec.Record(context.WithoutCancel(ctx), e)
	}
}

func round1(f float64) float64 { return float64(int64(f*10+0.5)) / 10 }
