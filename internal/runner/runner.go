// Package runner implements the Process Supervisor (spec §4.3): spawning an
// admitted Run's child process with a constructed environment, capturing
// its combined output, and enforcing timeout/grace signal escalation.
//
// Adapted from the teacher's internal/process.Process: argv construction,
// process-group signaling (Setpgid / kill(-pid, ...)), and the mutex-guarded
// start/exit state machine are kept in idiom, generalized from a long-lived
// supervised daemon process to a single Run's start/stop transition.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/cid/internal/catalog"
	"github.com/loykin/cid/internal/run"
)

// Runner spawns and supervises Run child processes. It holds no per-run
// state, only the shared exit channel and a logger; each spawn produces an
// independent Handle.
type Runner struct {
	exits  chan *run.Run
	logger *slog.Logger
}

// New creates a Runner. exits is the channel completed Runs are posted to;
// per spec §9 a child-exit callback must enqueue an event into the reactor
// rather than mutate shared state directly, so the wait goroutine below only
// ever sends on this channel.
func New() *Runner {
	return &Runner{exits: make(chan *run.Run, 64), logger: slog.Default()}
}

// SetLogger overrides the default logger used for hook diagnostics.
func (r *Runner) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// Exits returns the channel of Runs whose child process has been reaped.
func (r *Runner) Exits() <-chan *run.Run { return r.exits }

// Handle represents one spawned (or spawn-attempted) child.
type Handle struct {
	Run *run.Run

	mu          sync.Mutex
	cmd         *exec.Cmd
	spawnFailed bool
	terminated  bool // SIGTERM already sent

	job       *catalog.Job
	runDir    string
	mergedEnv []string
}

// SpawnFailed reports whether the child never actually started; in that
// case Run has already been finalized (start_time == stop_time) and the
// caller should not wait for an exit event.
func (h *Handle) SpawnFailed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spawnFailed
}

// Spawn implements the spec §4.3 spawn contract: create the run directory,
// write the execution manifest, open the combined output file, and fork the
// child into its own process group with cwd set to the run directory.
func (r *Runner) Spawn(cat *catalog.Catalog, job *catalog.Job, rn *run.Run, mergedEnv []string) *Handle {
	h := &Handle{Run: rn, job: job, mergedEnv: mergedEnv}

	runDir := cat.RunDir(job.Name, rn.RunID)
	h.runDir = runDir
	if err := os.MkdirAll(runDir, 0o750); err != nil {
		r.failSpawn(h, err)
		return h
	}

	if len(job.PreRun) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		ok := runHookWithMode(ctx, r.logger, "pre_run", job.PreRunFailureMode, job.PreRun, runDir, mergedEnv)
		cancel()
		if !ok && job.PreRunFailureMode == hookModeFail {
			r.failWith(h, run.ExitPreRunFailed)
			return h
		}
	}

	argv := buildArgv(job, rn)

	if err := writeManifest(filepath.Join(runDir, "run_execution.json"), manifest{
		JobName:      job.Name,
		RunID:        rn.RunID,
		Command:      argv,
		Environment:  mergedEnv,
		WorkDir:      runDir,
		ScheduleTime: rn.ScheduleTime,
	}); err != nil {
		r.failSpawn(h, err)
		return h
	}

	outFile, err := os.OpenFile(filepath.Join(runDir, "output.txt"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		r.failSpawn(h, err)
		return h
	}

	// #nosec G204 -- argv comes from the validated job catalog, not raw user input.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = runDir
	cmd.Env = mergedEnv
	cmd.Stdout = outFile
	cmd.Stderr = outFile
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = outFile.Close()
		r.failSpawn(h, err)
		return h
	}

	rn.StartTime = time.Now()
	rn.Phase = run.PhaseRunning
	h.cmd = cmd

	go r.wait(h, outFile)
	return h
}

func buildArgv(job *catalog.Job, rn *run.Run) []string {
	argv := make([]string, len(job.Command))
	copy(argv, job.Command)
	if job.CommandAppendRun {
		argv = append(argv, job.Name, rn.RunID)
	}
	return argv
}

func (r *Runner) failSpawn(h *Handle, err error) {
	r.failWith(h, classifySpawnError(err))
}

// failWith finalizes h.Run with a synthetic exit code for a condition that
// never produced a real child (spawn error, or a pre_run hook whose
// failure_mode is "fail").
func (r *Runner) failWith(h *Handle, exitCode int) {
	now := time.Now()
	h.Run.StartTime = now
	h.Run.StopTime = now
	h.Run.HasExited = true
	h.Run.ExitCode = exitCode
	h.Run.Phase = run.PhaseFinished
	h.mu.Lock()
	h.spawnFailed = true
	h.mu.Unlock()
}

// classifySpawnError picks between the two documented spawn-failure
// sentinels (spec §7/§9's open question): 127 when the command could not be
// found/executed at all, 126 when it exists but isn't executable.
func classifySpawnError(err error) int {
	if errors.Is(err, os.ErrPermission) {
		return run.ExitNotExecutable
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return run.ExitSpawnFailed
	}
	return run.ExitSpawnFailed
}

func (r *Runner) wait(h *Handle, outFile *os.File) {
	err := h.cmd.Wait()
	now := time.Now()
	h.Run.StopTime = now
	h.Run.HasExited = true
	h.Run.ExitCode = exitCodeFromWaitErr(h.cmd, err)
	h.Run.Phase = run.PhaseFinished
	_ = outFile.Close()
	if len(h.job.PostRun) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		runHookWithMode(ctx, r.logger, "post_run", h.job.PostRunFailureMode, h.job.PostRun, h.runDir, h.mergedEnv)
		cancel()
	}
	r.exits <- h.Run
}

// Terminate sends SIGTERM to the child's process group (spec §4.3
// termination: max_execution exceeded, or shutdown_kill_runs). A no-op once
// already terminated or if the child never started.
func (h *Handle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil || h.terminated {
		return nil
	}
	h.terminated = true
	return signalGroup(h.cmd.Process.Pid, termSignal)
}

// Kill sends SIGKILL to the child's process group, used once the grace
// period after Terminate has elapsed without the child exiting.
func (h *Handle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	return signalGroup(h.cmd.Process.Pid, killSignal)
}

// ReadManifest is a convenience for tests and diagnostics to round-trip what
// Spawn wrote.
func ReadManifest(path string) (command []string, environment []string, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m.Command, m.Environment, nil
}
