// Package schedule implements the schedule expression engine (spec §4.1):
// a cron-family grammar extended with deterministic-hash (H) and
// fresh-random (R) tokens, plus an iCalendar RRULE subset, behind one
// NextFire contract so the scheduler loop never needs to know which family
// a job's schedule string belongs to.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which grammar a Schedule was parsed from.
type Kind int

const (
	KindCron Kind = iota
	KindRRule
)

// Schedule is the parsed, immutable form of a job's schedule expression.
// It is safe for concurrent use: NextFire never mutates the receiver.
type Schedule struct {
	Kind Kind
	Expr string

	cron  *cronSchedule
	rrule *rruleSchedule
}

// Parse parses expr (a cron-family or RRULE expression) for jobName,
// resolving any H/R tokens or RRULE hash-filled defaults against that name,
// and interpreting wall-clock fields in the named IANA timezone (empty tz
// means the local system timezone).
func Parse(jobName, expr, tz string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule expression is empty")
	}

	loc := time.Local
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
		loc = l
	}

	if isRRule(expr) {
		r, err := parseRRule(jobName, strings.TrimPrefix(strings.ToUpper(expr), "RRULE:"), loc)
		if err != nil {
			return nil, fmt.Errorf("RRULE schedule %q: %w", expr, err)
		}
		return &Schedule{Kind: KindRRule, Expr: expr, rrule: r}, nil
	}

	c, err := parseCron(jobName, expr, loc)
	if err != nil {
		return nil, fmt.Errorf("cron schedule %q: %w", expr, err)
	}
	return &Schedule{Kind: KindCron, Expr: expr, cron: c}, nil
}

func isRRule(expr string) bool {
	upper := strings.ToUpper(expr)
	return strings.HasPrefix(upper, "RRULE:") || strings.HasPrefix(upper, "FREQ=")
}

// NextFire returns the smallest instant strictly after `after` at which the
// schedule fires, and false if the schedule can never fire again within the
// engine's search horizon (spec §4.1's "never" case, e.g. a UNTIL in the
// past or a day-of-month no month has).
func (s *Schedule) NextFire(after time.Time) (time.Time, bool) {
	switch s.Kind {
	case KindRRule:
		return s.rrule.nextFire(after)
	default:
		return s.cron.nextFire(after)
	}
}
