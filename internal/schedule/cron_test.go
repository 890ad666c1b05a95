package schedule

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, job, expr string) *Schedule {
	t.Helper()
	s, err := Parse(job, expr, "UTC")
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	return s
}

func TestCronLiteralEveryMinute(t *testing.T) {
	s := mustParse(t, "job-a", "* * * * *")
	after := time.Date(2026, 1, 1, 10, 30, 15, 0, time.UTC)
	next, ok := s.NextFire(after)
	if !ok {
		t.Fatalf("expected a next fire")
	}
	// With no seconds field the second is H, which hashes to 43 for job-a,
	// so the current minute still has a matching instant after 10:30:15.
	want := time.Date(2026, 1, 1, 10, 30, 43, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v, want %v", next, want)
	}
}

func TestCronFixedTime(t *testing.T) {
	s := mustParse(t, "job-b", "30 4 * * *")
	after := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	next, ok := s.NextFire(after)
	if !ok {
		t.Fatalf("expected a next fire")
	}
	// The omitted seconds field is H, which hashes to 6 for job-b.
	want := time.Date(2026, 3, 1, 4, 30, 6, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v, want %v", next, want)
	}
}

func TestCronHashIsDeterministicAcrossCalls(t *testing.T) {
	s1, err := Parse("nightly-build", "H H * * *", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s2, err := Parse("nightly-build", "H H * * *", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	after := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	n1, ok1 := s1.NextFire(after)
	n2, ok2 := s2.NextFire(after)
	if !ok1 || !ok2 {
		t.Fatalf("expected both schedules to fire")
	}
	if !n1.Equal(n2) {
		t.Fatalf("expected H tokens to be stable across separate parses for the same job name: %v != %v", n1, n2)
	}
}

func TestCronHashDiffersByJobName(t *testing.T) {
	a, err := Parse("job-alpha", "H H * * *", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := Parse("job-beta", "H H * * *", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	after := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	na, _ := a.NextFire(after)
	nb, _ := b.NextFire(after)
	if na.Equal(nb) {
		t.Fatalf("expected distinct job names to hash to distinct times (this can rarely collide, but not for these two fixtures)")
	}
}

func TestCronRandFieldIsVolatile(t *testing.T) {
	s, err := Parse("job-c", "R * * * *", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, ok := s.NextFire(after); !ok {
		t.Fatalf("expected a next fire for R field")
	}
}

func TestNamedAliasDaily(t *testing.T) {
	s := mustParse(t, "job-d", "@daily")
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, ok := s.NextFire(after)
	if !ok {
		t.Fatalf("expected a next fire")
	}
	if next.Before(after) || next.After(after.Add(24*time.Hour)) {
		t.Fatalf("expected next fire within 24h of %v, got %v", after, next)
	}
}

func TestCronSixFieldSeconds(t *testing.T) {
	s := mustParse(t, "job-e", "* * * * * 30")
	after := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	next, ok := s.NextFire(after)
	if !ok {
		t.Fatalf("expected a next fire")
	}
	want := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v, want %v", next, want)
	}
}

func TestCronUnschedulableTerminates(t *testing.T) {
	s := mustParse(t, "job-f", "0 0 30 2 *") // Feb 30 never exists
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, ok := s.NextFire(after); ok {
		t.Fatalf("expected schedule to never fire")
	}
}

func TestCronDomDowOrSemantics(t *testing.T) {
	// day 15 of the month OR Friday: both restricted, so it's an OR.
	s := mustParse(t, "job-g", "0 0 15 * FRI")
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) // Thursday
	next, ok := s.NextFire(after)
	if !ok {
		t.Fatalf("expected a next fire")
	}
	if next.Day() != 2 {
		t.Fatalf("expected next fire on Jan 2 2026 (Friday), got %v", next)
	}
}

func TestInvalidFieldCount(t *testing.T) {
	if _, err := Parse("job-h", "* * * *", "UTC"); err == nil {
		t.Fatalf("expected error for a 4-field expression")
	}
}
