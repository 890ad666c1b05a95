package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register should be a no-op, got: %v", err)
	}
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	IncRunStart("job-a")
	IncRunFinish("job-a", "success")
	ObserveRunDuration("job-a", 1.5)
	IncRunSkipped("job-a", "group_full")
	SetGroupActive("default", 1)
	SetGroupCapacity("default", 4)
	ObserveWakeupLag(0.01)
}

func TestHelpersRecordAfterRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	IncRunStart("job-b")
	IncRunFinish("job-b", "failed")
	SetGroupActive("ci", 2)
	SetGroupCapacity("ci", 3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected gathered metric families, got none")
	}
}
