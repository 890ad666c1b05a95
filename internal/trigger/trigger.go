// Package trigger implements the Trigger Watcher (spec §4.4): polling
// <data_dir>/trigger/<job_name>/ for drop-files and turning them into Run
// records.
//
// fsnotify setup and the select-driven watch loop are grounded on
// gophpeek-phpeek-pm's internal/watcher.Watcher (the teacher itself has no
// file watcher); the ≤60s polling ticker is added alongside fsnotify per
// spec §4.4, since fsnotify alone cannot guarantee the bound on all
// filesystems (e.g. NFS).
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/loykin/cid/internal/run"
)

// MaxPollInterval is the upper bound on how long a trigger file can go
// unnoticed when fsnotify doesn't fire (spec §4.4: "every ≤60 seconds").
const MaxPollInterval = 60 * time.Second

// Watcher polls trigger directories and emits Run records on Events().
type Watcher struct {
	dataDir string
	logger  *slog.Logger

	mu      sync.Mutex
	jobDirs map[string]string // job name -> trigger directory

	fsw      *fsnotify.Watcher
	events   chan *run.Run
	scanNow  chan struct{}
	pollEach time.Duration
}

// New creates a Watcher for the given job names rooted at dataDir. Each
// job's trigger directory is created (if missing) and added to the
// fsnotify watch set.
func New(dataDir string, jobNames []string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w := &Watcher{
		dataDir:  dataDir,
		logger:   logger,
		jobDirs:  make(map[string]string),
		fsw:      fsw,
		events:   make(chan *run.Run, 64),
		scanNow:  make(chan struct{}, 1),
		pollEach: MaxPollInterval,
	}
	for _, name := range jobNames {
		if err := w.watchJob(name); err != nil {
			w.logger.Warn("failed to watch trigger directory", "job", name, "error", err)
		}
	}
	return w, nil
}

func (w *Watcher) watchJob(jobName string) error {
	dir := filepath.Join(w.dataDir, "trigger", jobName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.jobDirs[jobName] = dir
	w.mu.Unlock()
	return nil
}

// Reconfigure updates the watched job set after a catalog reload (SIGHUP).
// Jobs no longer present stop being watched; newly added jobs start being
// watched. Existing watches for unchanged jobs are left alone.
func (w *Watcher) Reconfigure(jobNames []string) {
	want := make(map[string]bool, len(jobNames))
	for _, n := range jobNames {
		want[n] = true
	}

	w.mu.Lock()
	var toRemove []string
	for name, dir := range w.jobDirs {
		if !want[name] {
			toRemove = append(toRemove, name)
			_ = w.fsw.Remove(dir)
		}
	}
	for _, name := range toRemove {
		delete(w.jobDirs, name)
	}
	w.mu.Unlock()

	for name := range want {
		w.mu.Lock()
		_, already := w.jobDirs[name]
		w.mu.Unlock()
		if !already {
			if err := w.watchJob(name); err != nil {
				w.logger.Warn("failed to watch trigger directory", "job", name, "error", err)
			}
		}
	}
}

// Events returns the channel of Runs created from ingested trigger files.
func (w *Watcher) Events() <-chan *run.Run { return w.events }

// ScanNow requests an immediate scan of all trigger directories, used by
// the SIGUSR1 handler (spec §5/§6).
func (w *Watcher) ScanNow() {
	select {
	case w.scanNow <- struct{}{}:
	default:
	}
}

// Run drives the watch loop until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollEach)
	defer ticker.Stop()

	w.scanAll()
	for {
		select {
		case <-ctx.Done():
			_ = w.fsw.Close()
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.scanAll()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("trigger watcher error", "error", err)
		case <-ticker.C:
			w.scanAll()
		case <-w.scanNow:
			w.scanAll()
		}
	}
}

func (w *Watcher) scanAll() {
	w.mu.Lock()
	dirs := make(map[string]string, len(w.jobDirs))
	for k, v := range w.jobDirs {
		dirs[k] = v
	}
	w.mu.Unlock()

	for jobName, dir := range dirs {
		w.scanJob(jobName, dir)
	}
}

func (w *Watcher) scanJob(jobName, dir string) {
	jsonPath := filepath.Join(dir, "trigger.json")
	yamlPath := filepath.Join(dir, "trigger.yaml")

	path := ""
	if _, err := os.Stat(jsonPath); err == nil {
		path = jsonPath
	} else if _, err := os.Stat(yamlPath); err == nil {
		path = yamlPath
	} else {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return // file vanished between Stat and Read; next scan will retry or miss it
	}
	info, statErr := os.Stat(path)
	var mtime time.Time
	if statErr == nil {
		mtime = info.ModTime()
	} else {
		mtime = time.Now()
	}

	payload, err := decodePayload(path, data)
	if err != nil {
		w.logger.Warn("quarantining malformed trigger file", "job", jobName, "path", path, "error", err)
		w.quarantine(path)
		return
	}
	_ = os.Remove(path)

	scheduleTime := extractScheduleTime(payload, mtime)
	rn := run.New(jobName, scheduleTime, run.TriggerFile, payload)
	w.events <- rn
}

// quarantine renames a malformed trigger file so it is not re-ingested on
// the next scan, grounded on the teacher's best-effort
// WritePIDFile/RemovePIDFile rename-or-remove idiom.
func (w *Watcher) quarantine(path string) {
	dest := path + ".malformed-" + strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.Rename(path, dest); err != nil {
		_ = os.Remove(path)
	}
}

func decodePayload(path string, data []byte) (map[string]any, error) {
	payload := make(map[string]any)
	if filepath.Ext(path) == ".yaml" {
		if err := yaml.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parse trigger.yaml: %w", err)
		}
		return payload, nil
	}
	if len(data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse trigger.json: %w", err)
	}
	return payload, nil
}

// extractScheduleTime reads payload["schedule_time"] as either epoch
// seconds (JSON/YAML number) or an ISO-8601 string, falling back to the
// trigger file's mtime when absent (spec §4.4).
func extractScheduleTime(payload map[string]any, mtime time.Time) time.Time {
	raw, ok := payload["schedule_time"]
	if !ok {
		return mtime
	}
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts
		}
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(secs, 0)
		}
	}
	return mtime
}
