package schedule

import (
	"testing"
	"time"
)

func TestRRuleDailyWithTimeOfDay(t *testing.T) {
	s := mustParse(t, "job-r1", "FREQ=DAILY;BYHOUR=6;BYMINUTE=15")
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, ok := s.NextFire(after)
	if !ok {
		t.Fatalf("expected a next fire")
	}
	want := time.Date(2026, 1, 1, 6, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v, want %v", next, want)
	}
}

func TestRRuleWeeklyByDay(t *testing.T) {
	s := mustParse(t, "job-r2", "FREQ=WEEKLY;BYDAY=MO,WE,FR;BYHOUR=9;BYMINUTE=0")
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) // Thursday
	next, ok := s.NextFire(after)
	if !ok {
		t.Fatalf("expected a next fire")
	}
	if next.Weekday() != time.Friday {
		t.Fatalf("expected next fire on a Friday, got %v (%v)", next, next.Weekday())
	}
}

func TestRRuleMonthlyByMonthDay(t *testing.T) {
	s := mustParse(t, "job-r3", "FREQ=MONTHLY;BYMONTHDAY=15;BYHOUR=3;BYMINUTE=0")
	after := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	next, ok := s.NextFire(after)
	if !ok {
		t.Fatalf("expected a next fire")
	}
	want := time.Date(2026, 2, 15, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v, want %v", next, want)
	}
}

func TestRRuleMonthlyByDaySetPos(t *testing.T) {
	// first Monday of the month
	s := mustParse(t, "job-r4", "FREQ=MONTHLY;BYDAY=MO;BYSETPOS=1;BYHOUR=8;BYMINUTE=0")
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, ok := s.NextFire(after)
	if !ok {
		t.Fatalf("expected a next fire")
	}
	if next.Weekday() != time.Monday {
		t.Fatalf("expected a Monday, got %v", next.Weekday())
	}
	if next.Day() > 7 {
		t.Fatalf("expected the first Monday of the month (day <= 7), got day %d", next.Day())
	}
}

func TestRRuleYearlyByMonth(t *testing.T) {
	s := mustParse(t, "job-r5", "FREQ=YEARLY;BYMONTH=6;BYMONTHDAY=1;BYHOUR=0;BYMINUTE=0")
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, ok := s.NextFire(after)
	if !ok {
		t.Fatalf("expected a next fire")
	}
	want := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v, want %v", next, want)
	}
}

func TestRRuleUntilInPastNeverFires(t *testing.T) {
	s := mustParse(t, "job-r6", "FREQ=DAILY;BYHOUR=0;BYMINUTE=0;UNTIL=20200101T000000Z")
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, ok := s.NextFire(after); ok {
		t.Fatalf("expected schedule past UNTIL to never fire")
	}
}

func TestRRuleRejectsCount(t *testing.T) {
	if _, err := Parse("job-r7", "FREQ=DAILY;COUNT=5", "UTC"); err == nil {
		t.Fatalf("expected COUNT to be rejected")
	}
}

func TestRRuleHashFillsUnspecifiedTimeOfDay(t *testing.T) {
	a, err := Parse("job-hash", "FREQ=DAILY", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := Parse("job-hash", "FREQ=DAILY", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	na, _ := a.NextFire(after)
	nb, _ := b.NextFire(after)
	if !na.Equal(nb) {
		t.Fatalf("expected hash-filled BYHOUR/BYMINUTE to be stable across parses: %v != %v", na, nb)
	}
}

func TestRRuleHourlyInterval(t *testing.T) {
	s := mustParse(t, "job-r8", "FREQ=HOURLY;INTERVAL=3")
	after := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	next, ok := s.NextFire(after)
	if !ok {
		t.Fatalf("expected a next fire")
	}
	if next.Minute() != 0 || next.Second() != 0 {
		t.Fatalf("expected next fire on an hour boundary, got %v", next)
	}
}

func TestRRuleAcceptsRRulePrefix(t *testing.T) {
	if _, err := Parse("job-r9", "RRULE:FREQ=WEEKLY;BYDAY=MO", "UTC"); err != nil {
		t.Fatalf("expected RRULE: prefix to parse, got %v", err)
	}
}
