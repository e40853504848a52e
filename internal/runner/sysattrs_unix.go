//go:build !windows

package runner

import (
	"context"
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the step in its own process group so that a
// cancelled build takes its children down with it.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
}

func shellCommand(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, "/bin/sh", "-c", script)
}
