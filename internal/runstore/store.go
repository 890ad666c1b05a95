// Package runstore defines the narrow persistence interface for Run
// records (spec §4.6) and the data shape each backend serializes.
//
// Grounded on the teacher's internal/store package: the Store interface
// shape (EnsureSchema/Close plus domain methods) and the
// running-partition/completed-partition split come from
// internal/store/store.go and internal/store/sqlite.go, generalized from
// per-process PID state to per-job Run history.
package runstore

import (
	"context"
	"encoding/json"

	"github.com/loykin/cid/internal/run"
)

// Store is a pluggable persistence interface for Run history.
// Implementations must be safe for concurrent use, though in practice the
// reactor serializes all calls onto its single goroutine (spec §5).
type Store interface {
	EnsureSchema(ctx context.Context) error

	// InsertRunning records a Run as it starts executing.
	InsertRunning(ctx context.Context, rn *run.Run) error

	// Finalize atomically moves a Run from the running partition to the
	// completed partition (spec §4.6's "atomic pair").
	Finalize(ctx context.Context, rn *run.Run) error

	// LatestCompleted returns the job's most recently completed run,
	// regardless of exit code. Returns nil, nil if none exists.
	LatestCompleted(ctx context.Context, jobName string) (*run.Run, error)

	// LatestCompletedWithExit returns the most recently completed run
	// whose exit code is zero (zero=true) or nonzero (zero=false).
	LatestCompletedWithExit(ctx context.Context, jobName string, zero bool) (*run.Run, error)

	// ListRunning returns every Run the store still considers in the
	// running partition, used for startup orphan reconciliation.
	ListRunning(ctx context.Context) ([]*run.Run, error)

	Close() error
}

// EncodeTriggerData/DecodeTriggerData marshal the free-form trigger
// payload (map[string]any) to and from the TEXT column every backend
// stores it in. Exported for use by the sqlite/postgres implementations.
func EncodeTriggerData(data map[string]any) (string, error) {
	if data == nil {
		return "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeTriggerData(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
