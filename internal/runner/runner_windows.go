//go:build windows

package runner

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/loykin/cid/internal/run"
)

const (
	termSignal = syscall.SIGTERM
	killSignal = syscall.SIGKILL
)

// configureSysProcAttr is a no-op on Windows: process groups and POSIX
// signals don't apply, so Terminate/Kill below fall back to Process.Kill.
func configureSysProcAttr(cmd *exec.Cmd) {}

func signalGroup(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func exitCodeFromWaitErr(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return run.ExitSpawnFailed
}
