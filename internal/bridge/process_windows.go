//go:build windows

package bridge

import (
	"os/exec"

	"go.uber.org/zap"
)

// setSysProcAttr is a no-op on Windows (no process groups via Setpgid).
func setSysProcAttr(cmd *exec.Cmd) {
}

// terminateProcess kills the process on Windows.
// Windows has no SIGTERM; Kill() is the only reliable option.
func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		zap.L().Debug("Failed to kill process", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	}
}

// forceKillProcess force-kills the process on Windows.
func forceKillProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		zap.L().Debug("Failed to force-kill process", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	}
}

// exitSignal never reports a signal on Windows.
func exitSignal(exitErr *exec.ExitError) (string, bool) {
	return "", false
}

// isTerminationSignal always reports false on Windows.
func isTerminationSignal(sig string) bool {
	return false
}
