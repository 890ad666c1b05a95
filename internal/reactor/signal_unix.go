//go:build !windows

package reactor

import "syscall"

// sigExtra is the set of signals beyond SIGINT/SIGTERM/SIGHUP that only
// unix platforms define: SIGQUIT (status dump) and SIGUSR1 (immediate
// trigger scan), spec §5/§6. Windows' syscall package has no SIGUSR1
// constant at all, so this set is carved out behind a build tag rather
// than listed inline in reactor.go.
var sigExtra = []syscall.Signal{syscall.SIGQUIT, syscall.SIGUSR1}

func isStatusDumpSignal(sig syscall.Signal) bool { return sig == syscall.SIGQUIT }
func isTriggerScanSignal(sig syscall.Signal) bool { return sig == syscall.SIGUSR1 }
