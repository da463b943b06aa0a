// Package diag runs the external image-health and file-integrity tools as a
// fixed sequence of independent stages.
package diag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/sysmaint/internal/metrics"
)

// Stage names, in execution order.
const (
	CheckHealth   = "CheckHealth"
	ScanHealth    = "ScanHealth"
	RestoreHealth = "RestoreHealth"
	FileChecker   = "FileChecker"
)

// ErrUnknownStage is returned by RunStage for a name not in the pipeline.
var ErrUnknownStage = errors.New("unknown diagnostic stage")

// Stage is one external command of the pipeline.
type Stage struct {
	Name    string
	Command string
	Args    []string
}

// CommandLine renders the stage for logs.
func (s Stage) CommandLine() string {
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}

// DefaultStages builds the fixed stage list for the given tool paths.
func DefaultStages(dism, sfc string) []Stage {
	if dism == "" {
		dism = "dism"
	}
	if sfc == "" {
		sfc = "sfc"
	}
	return []Stage{
		{Name: CheckHealth, Command: dism, Args: []string{"/online", "/Cleanup-Image", "/CheckHealth"}},
		{Name: ScanHealth, Command: dism, Args: []string{"/online", "/Cleanup-Image", "/ScanHealth"}},
		{Name: RestoreHealth, Command: dism, Args: []string{"/online", "/Cleanup-Image", "/RestoreHealth"}},
		{Name: FileChecker, Command: sfc, Args: []string{"/scannow"}},
	}
}

// StageResult is an executed Stage. Output holds only the trailing window.
type StageResult struct {
	Stage
	Output   string
	ExitCode int // -1 when the process never started
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the command started and exited with status 0.
// The tool's own textual verdict is not interpreted.
func (r StageResult) Succeeded() bool { return r.Err == nil }

// Outcome labels the result for metrics and history.
func (r StageResult) Outcome() string {
	switch {
	case r.Err == nil:
		return "success"
	case r.ExitCode < 0:
		return "launch-failed"
	default:
		return "failed"
	}
}

// exitCoder is satisfied by *exec.ExitError.
type exitCoder interface {
	error
	ExitCode() int
}

// Pipeline executes its stages strictly in order.
type Pipeline struct {
	runner Runner
	log    *slog.Logger
	window int
	stages []Stage
	now    func() time.Time
}

// NewPipeline returns a pipeline over stages (DefaultStages when empty).
// A nil runner uses ExecRunner; window <= 0 uses DefaultOutputWindow.
func NewPipeline(runner Runner, log *slog.Logger, window int, stages []Stage) *Pipeline {
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = slog.Default()
	}
	if window <= 0 {
		window = DefaultOutputWindow
	}
	if len(stages) == 0 {
		stages = DefaultStages("", "")
	}
	return &Pipeline{runner: runner, log: log, window: window, stages: stages, now: time.Now}
}

// Stages returns the configured stage list.
func (p *Pipeline) Stages() []Stage { return append([]Stage(nil), p.stages...) }

// RunAll runs every stage in order. A failed stage is reported and the next
// one still runs; nothing is retried. Cancelling ctx does not interrupt a
// running stage.
func (p *Pipeline) RunAll(ctx context.Context) []StageResult {
	out := make([]StageResult, 0, len(p.stages))
	failed := 0
	for _, s := range p.stages {
		r := p.run(ctx, s)
		if !r.Succeeded() {
			failed++
		}
		out = append(out, r)
	}
	p.log.InfoContext(ctx, "diagnostic pipeline finished", "stages", len(out), "failed", failed)
	return out
}

// RunStage runs the single stage called name.
func (p *Pipeline) RunStage(ctx context.Context, name string) (StageResult, error) {
	for _, s := range p.stages {
		if strings.EqualFold(s.Name, name) {
			return p.run(ctx, s), nil
		}
	}
	return StageResult{}, fmt.Errorf("%w: %s", ErrUnknownStage, name)
}

func (p *Pipeline) run(ctx context.Context, s Stage) (res StageResult) {
	res = StageResult{Stage: s, ExitCode: -1}
	p.log.InfoContext(ctx, "running diagnostic stage", "stage", s.Name, "cmd", s.CommandLine())
	start := p.now()
	defer func() {
		if rec := recover(); rec != nil {
			res.Err = fmt.Errorf("stage panicked: %v", rec)
		}
		res.Duration = p.now().Sub(start)
		metrics.ObserveStage(s.Name, res.Outcome(), res.Duration.Seconds())
		p.report(ctx, res)
	}()

	raw, err := p.runner.Run(context.WithoutCancel(ctx), s.Command, s.Args...)
	res.Output = TrimTail(decodeOutput(raw), p.window)
	switch {
	case err == nil:
		res.ExitCode = 0
	default:
		var exitErr exitCoder
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		res.Err = err
	}
	return res
}

func (p *Pipeline) report(ctx context.Context, r StageResult) {
	if r.Output != "" {
		p.log.InfoContext(ctx, "stage output", "stage", r.Name, "output", r.Output)
	}
	if r.Succeeded() {
		p.log.InfoContext(ctx, "diagnostic stage finished", "stage", r.Name, "duration", r.Duration.Round(time.Millisecond))
		return
	}
	p.log.WarnContext(ctx, "diagnostic stage failed", "stage", r.Name, "exit_code", r.ExitCode, "error", r.Err)
}
