//go:build windows

package elevation

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/windows"
)

const swShowNormal = 1

type windowsPlatform struct{}

// DefaultPlatform checks the process token and relaunches through the
// shell's "runas" verb.
func DefaultPlatform() Platform { return windowsPlatform{} }

func (windowsPlatform) IsAdministrator() (bool, error) {
	token := windows.GetCurrentProcessToken()
	if token.IsElevated() {
		return true, nil
	}
	sid, err := windows.CreateWellKnownSid(windows.WinBuiltinAdministratorsSid)
	if err != nil {
		return false, fmt.Errorf("administrators sid: %w", err)
	}
	member, err := token.IsMember(sid)
	if err != nil {
		return false, fmt.Errorf("token membership: %w", err)
	}
	return member, nil
}

func (windowsPlatform) Relaunch(exe string, args []string) error {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = windows.EscapeArg(a)
	}
	verb, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return err
	}
	file, err := windows.UTF16PtrFromString(exe)
	if err != nil {
		return err
	}
	params, err := windows.UTF16PtrFromString(strings.Join(quoted, " "))
	if err != nil {
		return err
	}
	var cwd *uint16
	if wd, err := os.Getwd(); err == nil {
		cwd, _ = windows.UTF16PtrFromString(wd)
	}
	// ERROR_CANCELLED when the user declines the consent prompt.
	return windows.ShellExecute(0, verb, file, params, cwd, swShowNormal)
}
