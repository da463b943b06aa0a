//go:build windows

package privilege

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modadvapi32               = windows.NewLazySystemDLL("advapi32.dll")
	procAdjustTokenPrivileges = modadvapi32.NewProc("AdjustTokenPrivileges")
)

type tokenAdjuster struct{}

// NewTokenAdjuster returns the advapi32-backed adjuster.
func NewTokenAdjuster() Adjuster { return tokenAdjuster{} }

func (tokenAdjuster) Enable(name string) error {
	var token windows.Token
	if err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token); err != nil {
		return fmt.Errorf("open process token: %w", err)
	}
	defer func() { _ = token.Close() }()

	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return err
	}
	var luid windows.LUID
	if err := windows.LookupPrivilegeValue(nil, namePtr, &luid); err != nil {
		return fmt.Errorf("lookup %s: %w", name, err)
	}

	tp := windows.Tokenprivileges{
		PrivilegeCount: 1,
		Privileges: [1]windows.LUIDAndAttributes{{
			Luid:       luid,
			Attributes: windows.SE_PRIVILEGE_ENABLED,
		}},
	}
	// called directly so the last error is read before anything else can
	// overwrite it; success with ERROR_NOT_ALL_ASSIGNED means not granted
	r1, _, e1 := procAdjustTokenPrivileges.Call(
		uintptr(token),
		0,
		uintptr(unsafe.Pointer(&tp)),
		0, 0, 0,
	)
	if r1 == 0 {
		return fmt.Errorf("adjust token: %w", e1)
	}
	if errors.Is(e1, windows.ERROR_NOT_ALL_ASSIGNED) {
		return fmt.Errorf("adjust token: %s not held by account: %w", name, e1)
	}
	return nil
}
