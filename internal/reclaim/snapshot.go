package reclaim

import (
	"context"
	"fmt"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ProcessSnapshot is an immutable view of one running process, taken when a
// reclamation pass enumerates the process table.
type ProcessSnapshot struct {
	PID        int32
	Name       string
	WorkingSet uint64    // resident bytes at enumeration time
	ExePath    string    // empty when it could not be resolved
	StartTime  time.Time // zero when it could not be read
}

// Enumerate lists every running process. Fields that cannot be read for a
// given process (access denied, process exited mid-scan) are left at their
// zero value; only a failure to list the process table itself is an error.
func Enumerate(ctx context.Context) ([]ProcessSnapshot, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}
	out := make([]ProcessSnapshot, 0, len(procs))
	for _, p := range procs {
		out = append(out, snapshotOf(ctx, p))
	}
	return out, nil
}

func snapshotOf(ctx context.Context, p *gopsproc.Process) ProcessSnapshot {
	s := ProcessSnapshot{PID: p.Pid}
	if name, err := p.NameWithContext(ctx); err == nil {
		s.Name = name
	}
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		s.WorkingSet = mi.RSS
	}
	if exe, err := p.ExeWithContext(ctx); err == nil {
		s.ExePath = exe
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		s.StartTime = time.UnixMilli(ms)
	}
	return s
}

// ResidentReader re-reads the resident size of a process after a trim.
type ResidentReader interface {
	Resident(ctx context.Context, pid int32) (uint64, error)
}

// GopsutilResident reads resident sizes through gopsutil. On Windows RSS is
// the working-set size.
type GopsutilResident struct{}

func (GopsutilResident) Resident(ctx context.Context, pid int32) (uint64, error) {
	p, err := gopsproc.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, err
	}
	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return mi.RSS, nil
}
