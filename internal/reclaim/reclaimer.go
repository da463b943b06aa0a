package reclaim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/sysmaint/internal/metrics"
)

// Outcome tags the result of one trim attempt.
type Outcome string

const (
	Trimmed Outcome = "trimmed"
	Skipped Outcome = "skipped"
	Failed  Outcome = "failed"
)

// ErrUnsupported is returned by the OS layer on platforms without
// working-set trimming.
var ErrUnsupported = errors.New("working-set trimming not supported on this platform")

// Handle is an OS process handle.
type Handle uintptr

// Access selects the rights requested when opening a process.
type Access int

const (
	// AccessTrim is the minimum needed to empty a working set.
	AccessTrim Access = iota
	// AccessFallback is a reduced-rights retry for processes that refuse AccessTrim.
	AccessFallback
)

// Trimmer is the OS boundary for working-set trimming.
type Trimmer interface {
	Open(pid int32, access Access) (Handle, error)
	EmptyWorkingSet(h Handle) error
	Close(h Handle) error
}

// TrimResult is the outcome of trimming one process.
type TrimResult struct {
	PID     int32
	Name    string
	Before  uint64
	After   uint64
	Freed   uint64
	Outcome Outcome
	Err     error
}

// Summary aggregates one reclamation pass.
type Summary struct {
	Total      int
	Eligible   int
	Trimmed    int
	Skipped    int
	Failed     int
	FreedBytes uint64
	Results    []TrimResult // eligible processes only
}

// FreedBytes is max(0, before-after).
func FreedBytes(before, after uint64) uint64 {
	if after >= before {
		return 0
	}
	return before - after
}

// Options tune a Reclaimer. Zero values fall back to defaults.
type Options struct {
	SettleDelay time.Duration // wait after each trim before re-reading (default 5ms)
	LargeTrim   uint64        // trims freeing more than this are logged (default 50 MiB)
}

const (
	DefaultSettleDelay = 5 * time.Millisecond
	DefaultLargeTrim   = 50 * MiB
)

// Reclaimer trims the working sets of eligible processes one at a time.
type Reclaimer struct {
	policy   *Policy
	trimmer  Trimmer
	resident ResidentReader
	log      *slog.Logger
	opts     Options
	sleep    func(time.Duration)
}

// NewReclaimer wires a reclaimer. A nil trimmer selects the platform
// implementation and a nil reader uses gopsutil.
func NewReclaimer(policy *Policy, trimmer Trimmer, resident ResidentReader, log *slog.Logger, opts Options) *Reclaimer {
	if trimmer == nil {
		trimmer = NewOSTrimmer()
	}
	if resident == nil {
		resident = GopsutilResident{}
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.LargeTrim == 0 {
		opts.LargeTrim = DefaultLargeTrim
	}
	return &Reclaimer{
		policy:   policy,
		trimmer:  trimmer,
		resident: resident,
		log:      log,
		opts:     opts,
		sleep:    time.Sleep,
	}
}

// Run evaluates every snapshot against the policy and trims the eligible
// ones sequentially. Excluded snapshots count as skipped with no side effect.
func (r *Reclaimer) Run(ctx context.Context, snaps []ProcessSnapshot) Summary {
	sum := Summary{Total: len(snaps)}
	for _, s := range snaps {
		if ex := r.policy.Exclusion(s); ex != Eligible {
			sum.Skipped++
			metrics.ObserveTrim(string(Skipped), 0)
			r.log.Debug("process excluded", "pid", s.PID, "name", s.Name, "reason", ex.String())
			continue
		}
		sum.Eligible++
		res := r.Trim(ctx, s)
		sum.Results = append(sum.Results, res)
		switch res.Outcome {
		case Trimmed:
			sum.Trimmed++
			sum.FreedBytes += res.Freed
			if res.Freed > r.opts.LargeTrim {
				r.log.Info("large trim", "name", s.Name, "pid", s.PID, "freed_mb", res.Freed/MiB)
			}
		case Skipped:
			sum.Skipped++
			r.log.Debug("trim skipped", "pid", s.PID, "name", s.Name, "error", res.Err)
		case Failed:
			sum.Failed++
			r.log.Warn("trim failed", "pid", s.PID, "name", s.Name, "error", res.Err)
		}
	}
	r.log.Info("working set trim complete",
		"trimmed", sum.Trimmed, "skipped", sum.Skipped, "failed", sum.Failed,
		"freed_mb", sum.FreedBytes/MiB)
	return sum
}

// Trim requests the OS empty one process's working set and measures the
// effect. The handle is released on every path.
func (r *Reclaimer) Trim(ctx context.Context, s ProcessSnapshot) (res TrimResult) {
	res = TrimResult{PID: s.PID, Name: s.Name, Before: s.WorkingSet}
	defer func() {
		if p := recover(); p != nil {
			res.Outcome = Failed
			res.Freed = 0
			res.Err = fmt.Errorf("trim panicked: %v", p)
		}
		metrics.ObserveTrim(string(res.Outcome), res.Freed)
	}()

	h, err := r.trimmer.Open(s.PID, AccessTrim)
	if err != nil {
		h, err = r.trimmer.Open(s.PID, AccessFallback)
		if err != nil {
			res.Outcome = Skipped
			res.Err = fmt.Errorf("open process: %w", err)
			return res
		}
	}
	defer func() {
		if cerr := r.trimmer.Close(h); cerr != nil {
			r.log.Debug("close process handle", "pid", s.PID, "error", cerr)
		}
	}()

	// protected processes refuse this; that is expected, not a failure
	if err := r.trimmer.EmptyWorkingSet(h); err != nil {
		res.Outcome = Skipped
		res.Err = fmt.Errorf("empty working set: %w", err)
		return res
	}

	r.sleep(r.opts.SettleDelay)

	after, err := r.resident.Resident(ctx, s.PID)
	if err != nil {
		res.Outcome = Failed
		res.Err = fmt.Errorf("re-read working set: %w", err)
		return res
	}
	res.After = after
	res.Freed = FreedBytes(res.Before, after)
	res.Outcome = Trimmed
	return res
}

// TrimSelf empties this process's own working set, bypassing the policy.
func (r *Reclaimer) TrimSelf(ctx context.Context) TrimResult {
	pid := int32(os.Getpid())
	before, err := r.resident.Resident(ctx, pid)
	if err != nil {
		res := TrimResult{PID: pid, Name: "self", Outcome: Failed, Err: fmt.Errorf("read own working set: %w", err)}
		metrics.ObserveTrim(string(res.Outcome), 0)
		r.log.Warn("self trim failed", "pid", pid, "error", res.Err)
		return res
	}
	return r.Trim(ctx, ProcessSnapshot{PID: pid, Name: "self", WorkingSet: before})
}
