//go:build windows

package diag

import (
	"os/exec"
	"syscall"
)

// CREATE_NO_WINDOW keeps console tools from flashing a window.
const createNoWindow = 0x08000000

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
}
