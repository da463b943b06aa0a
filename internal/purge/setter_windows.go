//go:build windows

package purge

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modntdll                   = windows.NewLazySystemDLL("ntdll.dll")
	procNtSetSystemInformation = modntdll.NewProc("NtSetSystemInformation")
)

type ntSetter struct{}

// NewNtSetter returns the ntdll-backed setter.
func NewNtSetter() Setter { return ntSetter{} }

func (ntSetter) SetMemoryList(cmd Command) uint32 {
	if err := procNtSetSystemInformation.Find(); err != nil {
		return StatusProcedureNotFound
	}
	v := uint32(cmd)
	r1, _, _ := procNtSetSystemInformation.Call(
		uintptr(SystemMemoryListInformation),
		uintptr(unsafe.Pointer(&v)),
		unsafe.Sizeof(v),
	)
	return uint32(r1)
}
