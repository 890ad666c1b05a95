//go:build windows

package reactor

import "syscall"

// sigExtra is empty on Windows: there is no SIGQUIT/SIGUSR1 equivalent, so
// the status-dump and immediate-trigger-scan signal handlers (spec §5/§6)
// are simply unreachable on this platform. Shutdown (SIGINT/SIGTERM) and
// reload (SIGHUP) still work, since Go's windows syscall package defines
// those three for source compatibility.
var sigExtra []syscall.Signal

func isStatusDumpSignal(sig syscall.Signal) bool  { return false }
func isTriggerScanSignal(sig syscall.Signal) bool { return false }
