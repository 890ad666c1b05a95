package trigger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/cid/internal/run"
)

func newTestWatcher() *Watcher {
	return &Watcher{
		logger: slog.Default(),
		events: make(chan *run.Run, 4),
	}
}

// TestScanJob_JSONWinsOverYAML exercises spec §4.4's documented precedence:
// when both trigger.json and trigger.yaml exist, JSON wins and only it is
// consumed.
func TestScanJob_JSONWinsOverYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "trigger.json"), []byte(`{"source":"json"}`), 0o600); err != nil {
		t.Fatalf("write trigger.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "trigger.yaml"), []byte("source: yaml\n"), 0o600); err != nil {
		t.Fatalf("write trigger.yaml: %v", err)
	}

	w := newTestWatcher()
	w.scanJob("job-a", dir)

	select {
	case rn := <-w.events:
		if rn.TriggerData["source"] != "json" {
			t.Fatalf("expected json payload to win, got %v", rn.TriggerData)
		}
		if rn.TriggerType != run.TriggerFile {
			t.Fatalf("expected trigger_type=file, got %q", rn.TriggerType)
		}
	default:
		t.Fatal("expected a trigger event")
	}

	if _, err := os.Stat(filepath.Join(dir, "trigger.json")); !os.IsNotExist(err) {
		t.Fatalf("expected trigger.json to be consumed/removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "trigger.yaml")); err != nil {
		t.Fatalf("expected trigger.yaml to remain untouched, stat err=%v", err)
	}
}

// TestScanJob_MalformedFileIsQuarantined exercises spec §4.4/§7: a trigger
// file that cannot be parsed is quarantined (renamed), not silently
// dropped, and no Run is emitted for it.
func TestScanJob_MalformedFileIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trigger.json")
	if err := os.WriteFile(path, []byte(`{not valid json`), 0o600); err != nil {
		t.Fatalf("write malformed trigger.json: %v", err)
	}

	w := newTestWatcher()
	w.scanJob("job-b", dir)

	select {
	case rn := <-w.events:
		t.Fatalf("expected no event for a malformed trigger file, got %+v", rn)
	default:
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected original trigger.json to be gone, stat err=%v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one quarantined file, got %d entries", len(entries))
	}
}

// TestScanJob_NoFilePresent is a no-op: no trigger file means no event and
// no error.
func TestScanJob_NoFilePresent(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher()
	w.scanJob("job-c", dir)

	select {
	case rn := <-w.events:
		t.Fatalf("expected no event, got %+v", rn)
	default:
	}
}

func TestExtractScheduleTime(t *testing.T) {
	mtime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("absent falls back to mtime", func(t *testing.T) {
		got := extractScheduleTime(map[string]any{}, mtime)
		if !got.Equal(mtime) {
			t.Fatalf("expected mtime fallback, got %v", got)
		}
	})

	t.Run("epoch seconds as float64", func(t *testing.T) {
		want := time.Unix(1700000000, 0)
		got := extractScheduleTime(map[string]any{"schedule_time": float64(1700000000)}, mtime)
		if !got.Equal(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	})

	t.Run("ISO-8601 string", func(t *testing.T) {
		want := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
		got := extractScheduleTime(map[string]any{"schedule_time": "2026-03-04T05:06:07Z"}, mtime)
		if !got.Equal(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	})

	t.Run("unparseable string falls back to mtime", func(t *testing.T) {
		got := extractScheduleTime(map[string]any{"schedule_time": "not-a-time"}, mtime)
		if !got.Equal(mtime) {
			t.Fatalf("expected mtime fallback for unparseable string, got %v", got)
		}
	})
}

// TestReconfigure_AddsAndRemovesWatchedJobs confirms SIGHUP-driven catalog
// reloads (spec §5) update which job directories are watched without
// requiring a restart.
func TestReconfigure_AddsAndRemovesWatchedJobs(t *testing.T) {
	dataDir := t.TempDir()
	w, err := New(dataDir, []string{"job-x", "job-y"}, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = w.fsw.Close() }()

	if _, ok := w.jobDirs["job-x"]; !ok {
		t.Fatal("expected job-x to be watched initially")
	}
	if _, ok := w.jobDirs["job-y"]; !ok {
		t.Fatal("expected job-y to be watched initially")
	}

	w.Reconfigure([]string{"job-y", "job-z"})

	if _, ok := w.jobDirs["job-x"]; ok {
		t.Fatal("expected job-x to be unwatched after reconfigure")
	}
	if _, ok := w.jobDirs["job-y"]; !ok {
		t.Fatal("expected job-y to remain watched after reconfigure")
	}
	if _, ok := w.jobDirs["job-z"]; !ok {
		t.Fatal("expected job-z to be watched after reconfigure")
	}
}
