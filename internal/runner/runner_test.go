package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/cid/internal/catalog"
	"github.com/loykin/cid/internal/run"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	return &catalog.Catalog{DataDir: t.TempDir()}
}

func waitExit(t *testing.T, r *Runner, timeout time.Duration) *run.Run {
	t.Helper()
	select {
	case rn := <-r.Exits():
		return rn
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for exit event")
		return nil
	}
}

func TestSpawnSuccessfulRunCapturesOutput(t *testing.T) {
	cat := testCatalog(t)
	job := &catalog.Job{Name: "echo-job", Command: []string{"/bin/echo", "hello"}}
	rn := run.New(job.Name, time.Now(), run.TriggerSchedule, nil)

	r := New()
	h := r.Spawn(cat, job, rn, BuildEnv(cat, job, rn, cat.RunDir(job.Name, rn.RunID), PreviousRuns{}))
	if h.SpawnFailed() {
		t.Fatalf("expected spawn to succeed")
	}

	finished := waitExit(t, r, 5*time.Second)
	if finished.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", finished.ExitCode)
	}
	if finished.Phase != run.PhaseFinished {
		t.Fatalf("expected phase finished, got %v", finished.Phase)
	}

	out, err := os.ReadFile(filepath.Join(cat.RunDir(job.Name, rn.RunID), "output.txt"))
	if err != nil {
		t.Fatalf("read output.txt: %v", err)
	}
	if string(out) != "hello\n" {
		t.Fatalf("expected captured output %q, got %q", "hello\n", string(out))
	}
}

func TestSpawnMissingCommandYieldsSentinelExitCode(t *testing.T) {
	cat := testCatalog(t)
	job := &catalog.Job{Name: "missing-job", Command: []string{"/no/such/binary-xyz"}}
	rn := run.New(job.Name, time.Now(), run.TriggerSchedule, nil)

	r := New()
	h := r.Spawn(cat, job, rn, nil)
	if !h.SpawnFailed() {
		t.Fatalf("expected spawn to fail for a nonexistent binary")
	}
	if rn.ExitCode != run.ExitSpawnFailed {
		t.Fatalf("expected sentinel exit code %d, got %d", run.ExitSpawnFailed, rn.ExitCode)
	}
	if !rn.StartTime.Equal(rn.StopTime) {
		t.Fatalf("expected start_time == stop_time on spawn failure")
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	cat := testCatalog(t)
	job := &catalog.Job{Name: "sleep-job", Command: []string{"/bin/sleep", "30"}}
	rn := run.New(job.Name, time.Now(), run.TriggerSchedule, nil)

	r := New()
	h := r.Spawn(cat, job, rn, BuildEnv(cat, job, rn, cat.RunDir(job.Name, rn.RunID), PreviousRuns{}))
	if h.SpawnFailed() {
		t.Fatalf("expected spawn to succeed")
	}

	if err := h.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	select {
	case finished := <-r.Exits():
		if finished.ExitCode < 128 {
			t.Fatalf("expected a signal-normalized exit code >= 128, got %d", finished.ExitCode)
		}
	case <-time.After(3 * time.Second):
		// grace period expired without reaping; escalate and retry.
		_ = h.Kill()
		select {
		case finished := <-r.Exits():
			if finished.ExitCode < 128 {
				t.Fatalf("expected a signal-normalized exit code >= 128, got %d", finished.ExitCode)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for killed child to be reaped")
		}
	}
}

func TestBuildArgvAppendsRunMetadata(t *testing.T) {
	job := &catalog.Job{Name: "j", Command: []string{"/bin/true"}, CommandAppendRun: true}
	rn := run.New(job.Name, time.Now(), run.TriggerSchedule, nil)
	argv := buildArgv(job, rn)
	if len(argv) != 3 || argv[1] != job.Name || argv[2] != rn.RunID {
		t.Fatalf("expected argv to append job name and run id, got %v", argv)
	}
}
