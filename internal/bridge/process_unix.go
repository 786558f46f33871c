//go:build !windows

package bridge

import (
	"os/exec"
	"syscall"

	"go.uber.org/zap"
)

// setSysProcAttr configures the command to run in its own process group (Unix),
// so termination signals reach the analyzer and any children it forked.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// terminateProcess sends SIGTERM to the process group (Unix).
func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil {
		if killErr := syscall.Kill(-pgid, syscall.SIGTERM); killErr != nil {
			zap.L().Debug("Failed to signal process group", zap.Int("pgid", pgid), zap.Error(killErr))
		}
		return
	}
	if sigErr := cmd.Process.Signal(syscall.SIGTERM); sigErr != nil {
		zap.L().Debug("Failed to signal process", zap.Int("pid", cmd.Process.Pid), zap.Error(sigErr))
	}
}

// forceKillProcess sends SIGKILL to the process group (Unix).
func forceKillProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil {
		if killErr := syscall.Kill(-pgid, syscall.SIGKILL); killErr != nil {
			zap.L().Debug("Failed to kill process group", zap.Int("pgid", pgid), zap.Error(killErr))
		}
		return
	}
	if killErr := cmd.Process.Kill(); killErr != nil {
		zap.L().Debug("Failed to kill process", zap.Int("pid", cmd.Process.Pid), zap.Error(killErr))
	}
}

// exitSignal extracts the terminating signal name from a Wait error (Unix).
func exitSignal(exitErr *exec.ExitError) (string, bool) {
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return "", false
	}
	return status.Signal().String(), true
}

// isTerminationSignal reports whether the signal is one we (or an operator)
// send to stop the analyzer on purpose.
func isTerminationSignal(sig string) bool {
	switch sig {
	case syscall.SIGTERM.String(), syscall.SIGINT.String(), syscall.SIGKILL.String():
		return true
	}
	return false
}
