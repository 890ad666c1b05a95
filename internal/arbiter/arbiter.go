// Package arbiter implements the Concurrency Arbiter (spec §4.2): admission
// control over named concurrency groups, plus the per-job backoff tracker
// applied to runs denied admission.
package arbiter

import (
	"sync"
	"time"
)

// initialBackoff and maxBackoff bound the exponential backoff applied to a
// job after a denied admission; doubling from initialBackoff, capped at
// maxBackoff, reset on the next successful admission. Grounded on the
// teacher's RetryInterval/RestartInterval fields in process.Spec, which are
// static per-spec durations; the arbiter needs them to double and cap, so
// this is a dedicated tracker rather than a reused teacher type.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 5 * time.Minute
)

// Job is the subset of a job's catalog definition the Arbiter needs: its
// name (for backoff bookkeeping) and its configured concurrency groups in
// declared order (the tie-break order for chosen_group selection).
type Job struct {
	Name              string
	ConcurrencyGroups []string
}

// group is a named counter with a capacity.
type group struct {
	max    int
	active int
}

type backoffState struct {
	current time.Duration
	until   time.Time
}

// Arbiter admits or denies candidate runs against per-group caps, and tracks
// exponential backoff for jobs that were denied. It is guarded by a single
// mutex: in steady state only the reactor's single goroutine calls it, but
// the type itself stays safe for direct concurrent use in tests.
type Arbiter struct {
	mu       sync.Mutex
	groups   map[string]*group
	backoffs map[string]*backoffState
}

// New creates an Arbiter. capacities maps a concurrency group name to its
// max; a group referenced by a job but absent from capacities behaves as if
// declared with max=1, per spec §3.
func New(capacities map[string]int) *Arbiter {
	a := &Arbiter{
		groups:   make(map[string]*group),
		backoffs: make(map[string]*backoffState),
	}
	for name, max := range capacities {
		a.groups[name] = &group{max: effectiveMax(max)}
	}
	return a
}

func effectiveMax(max int) int {
	if max <= 0 {
		return 1
	}
	return max
}

func (a *Arbiter) groupFor(name string) *group {
	g, ok := a.groups[name]
	if !ok {
		g = &group{max: 1}
		a.groups[name] = g
	}
	return g
}

// TryAdmit attempts to admit job. With zero groups it always admits and
// returns chosenGroup = "". With one or more groups, admission requires
// every listed group to have headroom; on admit, only the first admissible
// group in the job's declared order is credited (spec §4.2's deterministic
// tie-break by configured order).
func (a *Arbiter) TryAdmit(job Job) (admitted bool, chosenGroup string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(job.ConcurrencyGroups) == 0 {
		return true, ""
	}

	for _, name := range job.ConcurrencyGroups {
		g := a.groupFor(name)
		if g.active >= g.max {
			return false, ""
		}
	}

	chosen := job.ConcurrencyGroups[0]
	a.groupFor(chosen).active++
	return true, chosen
}

// Release decrements the named group's active counter. A no-op for an
// empty group name (the zero-group case never needs releasing).
func (a *Arbiter) Release(groupName string) {
	if groupName == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if g, ok := a.groups[groupName]; ok && g.active > 0 {
		g.active--
	}
}

// SetCapacity updates (or creates) a group's max, used when SIGHUP reloads
// a catalog whose concurrency_groups changed. Existing active counts are
// preserved; a lowered cap simply stops admitting until enough runs finish.
func (a *Arbiter) SetCapacity(name string, max int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.groupFor(name).max = effectiveMax(max)
}

// ActiveCount reports the current active count for a group, for status
// dumps and tests.
func (a *Arbiter) ActiveCount(groupName string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if g, ok := a.groups[groupName]; ok {
		return g.active
	}
	return 0
}

// Denied records a denied admission for jobName and returns the instant
// before which the next retry should not be attempted, advancing the
// backoff exponentially (doubling, capped at maxBackoff).
func (a *Arbiter) Denied(jobName string, now time.Time) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.backoffs[jobName]
	if !ok {
		b = &backoffState{current: initialBackoff}
		a.backoffs[jobName] = b
	} else {
		b.current *= 2
		if b.current > maxBackoff {
			b.current = maxBackoff
		}
	}
	b.until = now.Add(b.current)
	return b.until
}

// Admitted resets jobName's backoff to the initial interval, per spec §4.2
// ("Backoff resets on successful admission").
func (a *Arbiter) Admitted(jobName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.backoffs, jobName)
}

// RetryAfter reports the instant before which jobName should not be
// retried, or the zero Time if it has no active backoff.
func (a *Arbiter) RetryAfter(jobName string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.backoffs[jobName]
	if !ok {
		return time.Time{}
	}
	return b.until
}
