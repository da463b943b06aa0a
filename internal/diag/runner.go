package diag

import (
	"context"
	"os/exec"
)

// Runner starts an external command, waits for it and returns its combined
// stdout and stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec, without a console window on Windows.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- command names come from the fixed stage table or config
	cmd := exec.CommandContext(ctx, name, args...)
	configureSysProcAttr(cmd)
	return cmd.CombinedOutput()
}
