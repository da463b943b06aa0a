package reclaim

import (
	"context"

	"github.com/shirou/gopsutil/v4/mem"
)

// MemoryStatus is a system-wide physical memory reading.
type MemoryStatus struct {
	Total       uint64
	Available   uint64
	UsedPercent float64
}

// AvailableMB returns available physical memory in MiB.
func (m MemoryStatus) AvailableMB() float64 { return float64(m.Available) / MiB }

// ReadMemoryStatus samples physical memory. Used before and after a memory
// pass to report the observable improvement.
func ReadMemoryStatus(ctx context.Context) (MemoryStatus, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryStatus{}, err
	}
	return MemoryStatus{Total: vm.Total, Available: vm.Available, UsedPercent: vm.UsedPercent}, nil
}
