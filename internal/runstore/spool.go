package runstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/cid/internal/run"
)

// spoolRetries and spoolBackoff bound how hard FinalizeWithRetry tries the
// store before giving up and falling back to an on-disk spool entry (spec
// §7: "Store failures... must not lose the run; the Loop retries with
// bounded backoff and, as a last resort, writes an on-disk spool entry that
// is replayed on next startup").
const (
	spoolRetries = 5
	spoolBackoff = 200 * time.Millisecond
)

func spoolDir(dataDir string) string { return filepath.Join(dataDir, "spool") }

// FinalizeWithRetry calls s.Finalize with bounded retries; if every attempt
// fails it spools rn to disk instead of losing it.
func FinalizeWithRetry(ctx context.Context, s Store, dataDir string, rn *run.Run, logger *slog.Logger) error {
	var lastErr error
	for i := 0; i < spoolRetries; i++ {
		if err := s.Finalize(ctx, rn); err == nil {
			return nil
		} else {
			lastErr = err
			logger.Warn("run store finalize failed, retrying", "run_id", rn.RunID, "attempt", i+1, "error", err)
			time.Sleep(spoolBackoff * time.Duration(i+1))
		}
	}
	if err := writeSpoolEntry(dataDir, rn); err != nil {
		logger.Error("failed to spool finalize after exhausting retries; run result lost", "run_id", rn.RunID, "error", err)
		return lastErr
	}
	logger.Error("run store unavailable, spooled finalize for replay on next startup", "run_id", rn.RunID, "store_error", lastErr)
	return nil
}

func writeSpoolEntry(dataDir string, rn *run.Run) error {
	dir := spoolDir(dataDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	b, err := json.MarshalIndent(rn, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, rn.RunID+".json"), b, 0o600)
}

// ReplaySpool replays any spooled finalize entries left over from a
// previous daemon instance that could not reach the store, then clears
// them. Called once at startup, before the reactor begins scheduling.
func ReplaySpool(ctx context.Context, s Store, dataDir string, logger *slog.Logger) (int, error) {
	dir := spoolDir(dataDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	replayed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("failed to read spool entry", "path", path, "error", err)
			continue
		}
		var rn run.Run
		if err := json.Unmarshal(b, &rn); err != nil {
			logger.Warn("failed to parse spool entry, removing", "path", path, "error", err)
			_ = os.Remove(path)
			continue
		}
		if err := s.Finalize(ctx, &rn); err != nil {
			logger.Warn("failed to replay spool entry, leaving for next startup", "path", path, "error", err)
			continue
		}
		_ = os.Remove(path)
		replayed++
	}
	return replayed, nil
}
