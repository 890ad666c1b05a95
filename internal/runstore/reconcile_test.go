package runstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/cid/internal/run"
	"github.com/loykin/cid/internal/runstore"
	"github.com/loykin/cid/internal/runstore/sqlite"
)

func TestReconcileOrphansFinalizesRunningRows(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	rn := run.New("build", time.Now(), run.TriggerSchedule, nil)
	rn.Phase = run.PhaseRunning
	rn.StartTime = time.Now()
	if err := db.InsertRunning(ctx, rn); err != nil {
		t.Fatalf("insert running: %v", err)
	}

	n, err := runstore.ReconcileOrphans(ctx, db)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 orphan reconciled, got %d", n)
	}

	running, err := db.ListRunning(ctx)
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(running) != 0 {
		t.Fatalf("expected no running rows after reconciliation, got %d", len(running))
	}

	latest, err := db.LatestCompleted(ctx, "build")
	if err != nil || latest == nil {
		t.Fatalf("latest completed: %v, %+v", err, latest)
	}
	if latest.ExitCode != run.ExitOrphaned {
		t.Fatalf("expected sentinel orphan exit code, got %d", latest.ExitCode)
	}
}
