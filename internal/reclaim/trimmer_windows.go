//go:build windows

package reclaim

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const (
	processSetQuota                = 0x0100
	processQueryInformation        = 0x0400
	processQueryLimitedInformation = 0x1000
)

var (
	modpsapi            = windows.NewLazySystemDLL("psapi.dll")
	procEmptyWorkingSet = modpsapi.NewProc("EmptyWorkingSet")
)

type osTrimmer struct{}

// NewOSTrimmer returns the psapi-backed trimmer.
func NewOSTrimmer() Trimmer { return osTrimmer{} }

func (osTrimmer) Open(pid int32, access Access) (Handle, error) {
	rights := uint32(processSetQuota | processQueryInformation)
	if access == AccessFallback {
		rights = processSetQuota | processQueryLimitedInformation
	}
	h, err := windows.OpenProcess(rights, false, uint32(pid))
	if err != nil {
		return 0, err
	}
	return Handle(h), nil
}

func (osTrimmer) EmptyWorkingSet(h Handle) error {
	if err := procEmptyWorkingSet.Find(); err != nil {
		return fmt.Errorf("psapi EmptyWorkingSet: %w", err)
	}
	r1, _, e1 := procEmptyWorkingSet.Call(uintptr(h))
	if r1 == 0 {
		return e1
	}
	return nil
}

func (osTrimmer) Close(h Handle) error {
	return windows.CloseHandle(windows.Handle(h))
}
