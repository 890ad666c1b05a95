package runstore

import (
	"context"
	"time"

	"github.com/loykin/cid/internal/run"
)

// ReconcileOrphans finalizes every Run the store still considers running,
// on the assumption that a previous daemon process crashed mid-run. Unlike
// the teacher's periodic ReconcileOnce (which reconciles live process state
// against the store on an interval), this runs exactly once at startup,
// before the reactor begins scheduling (spec §4.6/§5 "graceful restart").
func ReconcileOrphans(ctx context.Context, s Store) (int, error) {
	orphans, err := s.ListRunning(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for _, rn := range orphans {
		rn.Phase = run.PhaseFinished
		rn.StopTime = now
		rn.ExitCode = run.ExitOrphaned
		rn.HasExited = true
		if err := s.Finalize(ctx, rn); err != nil {
			return len(orphans), err
		}
	}
	return len(orphans), nil
}
