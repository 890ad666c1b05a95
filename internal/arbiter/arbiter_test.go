package arbiter

import (
	"testing"
	"time"
)

func TestTryAdmitZeroGroups(t *testing.T) {
	a := New(nil)
	admitted, group := a.TryAdmit(Job{Name: "j"})
	if !admitted || group != "" {
		t.Fatalf("expected unconditional admission with no groups, got admitted=%v group=%q", admitted, group)
	}
}

func TestTryAdmitSingleGroupCap(t *testing.T) {
	a := New(map[string]int{"g": 2})
	j := Job{Name: "j", ConcurrencyGroups: []string{"g"}}

	for i := 0; i < 2; i++ {
		admitted, group := a.TryAdmit(j)
		if !admitted || group != "g" {
			t.Fatalf("run %d: expected admission into g, got admitted=%v group=%q", i, admitted, group)
		}
	}
	if admitted, _ := a.TryAdmit(j); admitted {
		t.Fatalf("expected third admission to be denied at cap=2")
	}
	a.Release("g")
	if admitted, _ := a.TryAdmit(j); !admitted {
		t.Fatalf("expected admission after release")
	}
}

func TestUndeclaredGroupDefaultsToMaxOne(t *testing.T) {
	a := New(nil)
	j := Job{Name: "j", ConcurrencyGroups: []string{"undeclared"}}
	if admitted, group := a.TryAdmit(j); !admitted || group != "undeclared" {
		t.Fatalf("expected first admission to succeed, got admitted=%v group=%q", admitted, group)
	}
	if admitted, _ := a.TryAdmit(j); admitted {
		t.Fatalf("expected an undeclared group to default to max=1")
	}
}

func TestMultiGroupRequiresAllHeadroom(t *testing.T) {
	a := New(map[string]int{"ga": 2, "gb": 1})
	j := Job{Name: "j", ConcurrencyGroups: []string{"ga", "gb"}}

	admitted, group := a.TryAdmit(j)
	if !admitted || group != "ga" {
		t.Fatalf("expected first admission to credit ga (declared first), got admitted=%v group=%q", admitted, group)
	}

	// Only ga was credited above, so fill gb (max=1) with a job that lists
	// gb alone; a second job needing both groups must then be denied even
	// though ga still has headroom.
	if admitted, _ := a.TryAdmit(Job{Name: "gb-hog", ConcurrencyGroups: []string{"gb"}}); !admitted {
		t.Fatalf("expected gb-hog to take gb's only slot")
	}
	k := Job{Name: "k", ConcurrencyGroups: []string{"ga", "gb"}}
	if admitted, _ := a.TryAdmit(k); admitted {
		t.Fatalf("expected denial when any listed group lacks headroom")
	}
}

func TestMultiGroupTieBreakByDeclaredOrder(t *testing.T) {
	a := New(map[string]int{"ga": 5, "gb": 5})
	j := Job{Name: "j", ConcurrencyGroups: []string{"gb", "ga"}}
	admitted, group := a.TryAdmit(j)
	if !admitted || group != "gb" {
		t.Fatalf("expected the first-declared group (gb) to be credited, got admitted=%v group=%q", admitted, group)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	a := New(nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	until1 := a.Denied("j", now)
	if got := until1.Sub(now); got != initialBackoff {
		t.Fatalf("expected first denial to use initial backoff %v, got %v", initialBackoff, got)
	}

	until2 := a.Denied("j", now)
	if got := until2.Sub(now); got != 2*initialBackoff {
		t.Fatalf("expected second denial to double, got %v", got)
	}

	// Drive enough denials to exceed the cap.
	var last time.Duration
	for i := 0; i < 20; i++ {
		u := a.Denied("j", now)
		last = u.Sub(now)
	}
	if last != maxBackoff {
		t.Fatalf("expected backoff to cap at %v, got %v", maxBackoff, last)
	}
}

func TestBackoffResetsOnAdmission(t *testing.T) {
	a := New(nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.Denied("j", now)
	a.Denied("j", now)
	a.Admitted("j")
	if rt := a.RetryAfter("j"); !rt.IsZero() {
		t.Fatalf("expected backoff to be cleared after admission, got %v", rt)
	}
	until := a.Denied("j", now)
	if got := until.Sub(now); got != initialBackoff {
		t.Fatalf("expected backoff to restart at the initial interval, got %v", got)
	}
}
