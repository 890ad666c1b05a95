//go:build !windows

package runner

import (
	"errors"
	"os/exec"
	"syscall"

	"github.com/loykin/cid/internal/run"
)

const (
	termSignal = syscall.SIGTERM
	killSignal = syscall.SIGKILL
)

// configureSysProcAttr places the child in its own process group so a
// single signal can be delivered to it and everything it forked, per spec
// §4.3. Kept verbatim in idiom from the teacher's process.ConfigureCmd.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the process group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// exitCodeFromWaitErr normalizes a reaped child's exit status: the real
// exit code on normal termination, or 128+signum on signal termination
// (spec §3/§4.3).
func exitCodeFromWaitErr(cmd *exec.Cmd, waitErr error) int {
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return run.ExitCodeForSignal(int(ws.Signal()))
		}
		return ws.ExitStatus()
	}
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return run.ExitSpawnFailed
}
