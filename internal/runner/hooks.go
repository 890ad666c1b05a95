package runner

import (
	"context"
	"log/slog"
	"os/exec"
	"time"
)

// hookFailureMode mirrors the teacher's LifecycleHooks failure_mode values
// (pre_start/post_start/pre_stop/post_stop on process.Spec), generalized
// from a long-lived process's start/stop transitions to a Run's pre_run/
// post_run commands (see SPEC_FULL.md's supplemented-features section).
const (
	hookModeIgnore = "ignore"
	hookModeFail   = "fail"
	hookModeRetry  = "retry"
)

// runHookWithMode runs argv honoring failureMode's retry semantics and
// returns the final success/failure.
func runHookWithMode(ctx context.Context, logger *slog.Logger, kind, failureMode string, argv []string, cwd string, env []string) bool {
	if len(argv) == 0 {
		return true
	}
	if runOnce(ctx, argv, cwd, env) {
		return true
	}
	if failureMode == hookModeRetry {
		logger.Warn("retrying failed hook", "kind", kind, "command", argv)
		if runOnce(ctx, argv, cwd, env) {
			return true
		}
	}
	logger.Warn("hook failed", "kind", kind, "command", argv, "failure_mode", failureMode)
	return false
}

func runOnce(ctx context.Context, argv []string, cwd string, env []string) bool {
	// #nosec G204 -- argv comes from the validated job catalog, not raw user input.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = env
	return cmd.Run() == nil
}

// hookTimeout bounds a single hook invocation so a hung pre_run/post_run
// command cannot wedge the reactor's single goroutine forever; the main
// command itself is governed by max_execution/max_execution_grace instead.
const hookTimeout = 5 * time.Minute
