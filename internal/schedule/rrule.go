package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// rruleSchedule implements the iCalendar RRULE subset spec.md §4.1 names:
// FREQ, INTERVAL, BYMINUTE, BYHOUR, BYDAY, BYMONTH, BYMONTHDAY, BYSETPOS,
// UNTIL. COUNT is rejected at parse time. Components the expression leaves
// unspecified are filled by hashing the job name into the allowed domain so
// e.g. a bare "FREQ=DAILY" still pins a stable time-of-day per job.
// MINUTELY and HOURLY rules fire on every INTERVAL-th minute or hour
// boundary (counted from the Unix epoch) up to UNTIL; no BY* component,
// given or hash-filled, is applied to them.
type rruleSchedule struct {
	freq       string
	interval   int
	byMinute   []int
	byHour     []int
	byMonth    []int
	byMonthDay []int
	byDay      []time.Weekday
	bySetPos   int // 0 means unset
	until      *time.Time
	loc        *time.Location
}

var weekdayNames = map[string]time.Weekday{
	"SU": time.Sunday, "MO": time.Monday, "TU": time.Tuesday, "WE": time.Wednesday,
	"TH": time.Thursday, "FR": time.Friday, "SA": time.Saturday,
}

const (
	rruleFieldMinute  = 20
	rruleFieldHour    = 21
	rruleFieldDay     = 22
	rruleFieldMonth   = 23
	rruleFieldWeekday = 24
)

func parseRRule(jobName, expr string, loc *time.Location) (*rruleSchedule, error) {
	r := &rruleSchedule{interval: 1, loc: loc}
	for _, part := range strings.Split(expr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed RRULE component %q", part)
		}
		key, val := strings.ToUpper(strings.TrimSpace(kv[0])), strings.TrimSpace(kv[1])
		switch key {
		case "FREQ":
			r.freq = strings.ToUpper(val)
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid INTERVAL %q", val)
			}
			r.interval = n
		case "COUNT":
			return nil, fmt.Errorf("COUNT is not supported")
		case "UNTIL":
			ts, err := parseUntil(val)
			if err != nil {
				return nil, fmt.Errorf("invalid UNTIL %q: %w", val, err)
			}
			r.until = &ts
		case "BYMINUTE":
			vs, err := parseIntList(val, 0, 59)
			if err != nil {
				return nil, fmt.Errorf("BYMINUTE: %w", err)
			}
			r.byMinute = vs
		case "BYHOUR":
			vs, err := parseIntList(val, 0, 23)
			if err != nil {
				return nil, fmt.Errorf("BYHOUR: %w", err)
			}
			r.byHour = vs
		case "BYMONTH":
			vs, err := parseIntList(val, 1, 12)
			if err != nil {
				return nil, fmt.Errorf("BYMONTH: %w", err)
			}
			r.byMonth = vs
		case "BYMONTHDAY":
			vs, err := parseIntList(val, 1, 31)
			if err != nil {
				return nil, fmt.Errorf("BYMONTHDAY: %w", err)
			}
			r.byMonthDay = vs
		case "BYSETPOS":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("invalid BYSETPOS %q", val)
			}
			r.bySetPos = n
		case "BYDAY":
			days := make([]time.Weekday, 0)
			for _, tok := range strings.Split(val, ",") {
				tok = strings.TrimSpace(strings.ToUpper(tok))
				// Strip a leading ordinal (e.g. "1MO", "-1FR"); this subset
				// parser only honors the weekday code, combined with
				// BYSETPOS for "Nth weekday of the month" selection.
				for len(tok) > 2 && (tok[0] == '-' || (tok[0] >= '0' && tok[0] <= '9')) {
					tok = tok[1:]
				}
				wd, ok := weekdayNames[tok]
				if !ok {
					return nil, fmt.Errorf("unknown BYDAY weekday %q", tok)
				}
				days = append(days, wd)
			}
			r.byDay = days
		default:
			return nil, fmt.Errorf("unsupported RRULE component %q", key)
		}
	}
	if r.freq == "" {
		return nil, fmt.Errorf("RRULE requires FREQ")
	}
	switch r.freq {
	case "MINUTELY", "HOURLY", "DAILY", "WEEKLY", "MONTHLY", "YEARLY":
	default:
		return nil, fmt.Errorf("unsupported FREQ %q", r.freq)
	}

	r.fillDefaults(jobName)
	return r, nil
}

func parseUntil(s string) (time.Time, error) {
	if ts, err := time.Parse("20060102T150405Z", s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized UNTIL format")
}

func parseIntList(s string, lo, hi int) ([]int, error) {
	var out []int
	for _, tok := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil || n < lo || n > hi {
			return nil, fmt.Errorf("value %q out of range [%d,%d]", tok, lo, hi)
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// fillDefaults hashes the job name into any component the expression left
// unspecified, per spec §4.1.
func (r *rruleSchedule) fillDefaults(jobName string) {
	if len(r.byMinute) == 0 {
		r.byMinute = []int{hashField(jobName, rruleFieldMinute, 0, 59)}
	}
	if len(r.byHour) == 0 {
		r.byHour = []int{hashField(jobName, rruleFieldHour, 0, 23)}
	}
	switch r.freq {
	case "WEEKLY":
		if len(r.byDay) == 0 {
			r.byDay = []time.Weekday{time.Weekday(hashField(jobName, rruleFieldWeekday, 0, 6))}
		}
	case "MONTHLY", "YEARLY":
		if len(r.byMonthDay) == 0 && len(r.byDay) == 0 {
			r.byMonthDay = []int{hashField(jobName, rruleFieldDay, 1, 28)}
		}
		if r.freq == "YEARLY" && len(r.byMonth) == 0 {
			r.byMonth = []int{hashField(jobName, rruleFieldMonth, 1, 12)}
		}
	}
}

func contains(vs []int, v int) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

// timesOfDayMinutes returns the sorted (hour,minute) combinations for the
// day, as minutes-since-midnight, used to pick the first valid instant on a
// matching date.
func (r *rruleSchedule) timesOfDayMinutes() []int {
	out := make([]int, 0, len(r.byHour)*len(r.byMinute))
	for _, h := range r.byHour {
		for _, m := range r.byMinute {
			out = append(out, h*60+m)
		}
	}
	sort.Ints(out)
	return out
}

func (r *rruleSchedule) dateMatches(date time.Time) bool {
	if len(r.byMonth) > 0 && !contains(r.byMonth, int(date.Month())) {
		return false
	}
	switch r.freq {
	case "WEEKLY":
		if len(r.byDay) > 0 && !weekdayIn(date.Weekday(), r.byDay) {
			return false
		}
	case "MONTHLY", "YEARLY":
		if len(r.byMonthDay) > 0 {
			return contains(r.byMonthDay, date.Day())
		}
		if len(r.byDay) > 0 {
			return r.matchesBySetPos(date)
		}
	}
	return true
}

func weekdayIn(wd time.Weekday, set []time.Weekday) bool {
	for _, w := range set {
		if w == wd {
			return true
		}
	}
	return false
}

// matchesBySetPos implements "Nth matching weekday of the month" (e.g.
// BYDAY=MO;BYSETPOS=1 for "first Monday"). With no BYSETPOS given, any
// matching weekday in the month qualifies.
func (r *rruleSchedule) matchesBySetPos(date time.Time) bool {
	if !weekdayIn(date.Weekday(), r.byDay) {
		return false
	}
	if r.bySetPos == 0 {
		return true
	}
	occurrences := monthWeekdayOccurrences(date.Year(), date.Month(), r.byDay, r.loc)
	idx := r.bySetPos
	if idx < 0 {
		idx = len(occurrences) + idx + 1
	}
	if idx < 1 || idx > len(occurrences) {
		return false
	}
	return occurrences[idx-1].Equal(time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location()))
}

func monthWeekdayOccurrences(year int, month time.Month, days []time.Weekday, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.Local
	}
	var out []time.Time
	d := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	for d.Month() == month {
		if weekdayIn(d.Weekday(), days) {
			out = append(out, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}

func epochDays(t time.Time) int64 {
	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int64(date.Sub(epoch).Hours() / 24)
}

func (r *rruleSchedule) intervalMatchesDay(date time.Time) bool {
	switch r.freq {
	case "DAILY":
		return epochDays(date)%int64(r.interval) == 0
	case "WEEKLY":
		return (epochDays(date)/7)%int64(r.interval) == 0
	case "MONTHLY":
		months := int64((date.Year()-1970)*12 + int(date.Month()) - 1)
		return months%int64(r.interval) == 0
	case "YEARLY":
		return int64(date.Year()-1970)%int64(r.interval) == 0
	}
	return true
}

func (r *rruleSchedule) nextFire(after time.Time) (time.Time, bool) {
	loc := r.loc
	if loc == nil {
		loc = time.Local
	}
	t := after.In(loc).Add(time.Second)
	horizon := t.AddDate(5, 0, 0)

	if r.freq == "MINUTELY" || r.freq == "HOURLY" {
		return r.nextFireSubDaily(t, horizon)
	}

	times := r.timesOfDayMinutes()
	date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	for {
		if date.After(horizon) {
			return time.Time{}, false
		}
		if r.intervalMatchesDay(date) && r.dateMatches(date) {
			for _, mins := range times {
				cand := date.Add(time.Duration(mins) * time.Minute)
				if cand.After(t) || cand.Equal(t) {
					if r.until != nil && cand.After(*r.until) {
						return time.Time{}, false
					}
					if cand.After(after) {
						return cand, true
					}
				}
			}
		}
		date = date.AddDate(0, 0, 1)
	}
}

func (r *rruleSchedule) nextFireSubDaily(t, horizon time.Time) (time.Time, bool) {
	unit := time.Minute
	if r.freq == "HOURLY" {
		unit = time.Hour
	}
	cur := t.Truncate(unit)
	if cur.Before(t) {
		cur = cur.Add(unit)
	}
	for !cur.After(horizon) {
		var idx int64
		if r.freq == "HOURLY" {
			idx = int64(cur.Sub(time.Unix(0, 0)).Hours())
		} else {
			idx = int64(cur.Sub(time.Unix(0, 0)).Minutes())
		}
		if idx%int64(r.interval) == 0 {
			if r.until != nil && cur.After(*r.until) {
				return time.Time{}, false
			}
			return cur, true
		}
		cur = cur.Add(unit)
	}
	return time.Time{}, false
}
