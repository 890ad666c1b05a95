package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Field indices used for H/R hashing; the order matches the cron field
// positions (minute first) rather than their on-disk left-to-right order in
// the textual form with an appended seconds field, so that a job's hash is
// stable regardless of whether seconds is given explicitly or defaulted.
const (
	fieldMinute = 0
	fieldHour   = 1
	fieldDom    = 2
	fieldMonth  = 3
	fieldDow    = 4
	fieldSecond = 5
)

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dowNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

// namedAliases expand to hash-style cron expressions per spec §4.1. The
// spec gives @daily = "H H * * *" as its one worked example; the rest
// follow the same "hash what would otherwise be ambiguous" principle,
// pinning day-of-month to 1-28 for monthly/annual aliases to sidestep
// short-month edge cases.
var namedAliases = map[string]string{
	"@hourly":   "H * * * *",
	"@daily":    "H H * * *",
	"@midnight": "H H * * *",
	"@weekly":   "H H * * H",
	"@monthly":  "H H H(1-28) * *",
	"@annually": "H H H(1-28) H *",
	"@yearly":   "H H H(1-28) H *",
}

type cronSchedule struct {
	minute, hour, dom, month, dow, second fieldSet
	loc                                   *time.Location
}

func parseCron(jobName, expr string, loc *time.Location) (*cronSchedule, error) {
	expr = strings.TrimSpace(expr)
	if alias, ok := namedAliases[strings.ToLower(expr)]; ok {
		expr = alias
	}
	fields := strings.Fields(expr)

	var secondTok string
	switch len(fields) {
	case 5:
		secondTok = "H"
	case 6:
		secondTok = fields[5]
	default:
		return nil, fmt.Errorf("cron expression %q must have 5 or 6 fields, got %d", expr, len(fields))
	}

	minuteFS, err := parseField(fields[0], 0, 59, jobName, fieldMinute, nil)
	if err != nil {
		return nil, fmt.Errorf("minute field: %w", err)
	}
	hourFS, err := parseField(fields[1], 0, 23, jobName, fieldHour, nil)
	if err != nil {
		return nil, fmt.Errorf("hour field: %w", err)
	}
	domFS, err := parseField(fields[2], 1, 31, jobName, fieldDom, nil)
	if err != nil {
		return nil, fmt.Errorf("day-of-month field: %w", err)
	}
	monthFS, err := parseField(fields[3], 1, 12, jobName, fieldMonth, monthNames)
	if err != nil {
		return nil, fmt.Errorf("month field: %w", err)
	}
	dowFS, err := parseField(fields[4], 0, 7, jobName, fieldDow, dowNames)
	if err != nil {
		return nil, fmt.Errorf("day-of-week field: %w", err)
	}
	if dowFS.has(7) {
		dowFS.set(0) // 7 is a POSIX alias for Sunday
	}
	secondFS, err := parseField(secondTok, 0, 59, jobName, fieldSecond, nil)
	if err != nil {
		return nil, fmt.Errorf("second field: %w", err)
	}

	return &cronSchedule{
		minute: minuteFS, hour: hourFS, dom: domFS, month: monthFS, dow: dowFS, second: secondFS,
		loc: loc,
	}, nil
}

func dayMatches(dom, dow fieldSet, t time.Time) bool {
	domRestricted := !dom.wildcard
	dowRestricted := !dow.wildcard
	switch {
	case !domRestricted && !dowRestricted:
		return true
	case domRestricted && !dowRestricted:
		return dom.has(t.Day())
	case !domRestricted && dowRestricted:
		return dow.has(int(t.Weekday()))
	default:
		return dom.has(t.Day()) || dow.has(int(t.Weekday()))
	}
}

// nextFire returns the smallest instant strictly after `after` satisfying
// the schedule, searching forward field-by-field (classic cron rollover),
// bounded by a multi-year horizon so an unschedulable expression (e.g. a
// day-of-month that no month has) terminates instead of looping forever.
func (c *cronSchedule) nextFire(after time.Time) (time.Time, bool) {
	loc := c.loc
	if loc == nil {
		loc = time.Local
	}
	t := after.In(loc).Add(time.Second).Truncate(time.Second)
	horizon := t.AddDate(5, 0, 0)

	for {
		if t.After(horizon) {
			return time.Time{}, false
		}
		if !c.month.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
			continue
		}
		if !dayMatches(c.dom, c.dow, t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
			continue
		}
		if !c.hour.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc).Add(time.Hour)
			continue
		}
		if !c.minute.has(t.Minute()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc).Add(time.Minute)
			continue
		}
		if !c.second.has(t.Second()) {
			t = t.Add(time.Second)
			continue
		}
		return t, true
	}
}
