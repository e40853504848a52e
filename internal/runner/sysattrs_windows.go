//go:build windows

package runner

import (
	"context"
	"os/exec"
)

func configureSysProcAttr(cmd *exec.Cmd) {}

func shellCommand(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, "cmd", "/c", script)
}
