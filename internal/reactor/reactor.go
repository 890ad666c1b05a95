// Package reactor implements the Scheduler Loop (spec §4.5): the single
// cooperative event loop that ties the Schedule Expression Engine, the
// Concurrency Arbiter, the Process Supervisor, the Trigger Watcher and the
// Run Store together.
//
// Grounded on the teacher's internal/cron.Scheduler / internal/cronjob
// goroutine-and-ticker pattern (one ticker per job), generalized per
// SPEC_FULL.md into one reactor goroutine driven by a single
// container/heap-based priority queue (internal/reactor/heap.go) plus
// event channels for child exits, trigger ingestion and signals — the spec
// requires one global wakeup computation, not N independent tickers.
package reactor

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/cid/internal/arbiter"
	"github.com/loykin/cid/internal/catalog"
	"github.com/loykin/cid/internal/metrics"
	"github.com/loykin/cid/internal/run"
	"github.com/loykin/cid/internal/runner"
	"github.com/loykin/cid/internal/runstore"
	"github.com/loykin/cid/internal/schedule"
	"github.com/loykin/cid/internal/trigger"
)

// slotPhase is the per-Run-slot state within a jobRuntime. This is finer
// grained than run.Phase: "backoff" and "pending" are both run.PhasePending
// from the Run's own point of view (spec §3 only names three Run phases),
// but the reactor needs to distinguish "awaiting its first admission
// attempt" from "denied once, waiting out a backoff" to decide whether a
// slot is due for a retry at the current tick.
type slotPhase int

const (
	slotPending slotPhase = iota
	slotBackoff
	slotRunning
)

type slotState struct {
	run    *run.Run
	job    *catalog.Job // catalog.Job captured once the slot starts running
	phase  slotPhase

	backoffUntil time.Time

	handle       *runner.Handle
	deadline     time.Time // max_execution deadline; zero = no bound
	termSent     bool
	termSentAt   time.Time
	killDeadline time.Time
	killSent     bool
}

type jobRuntime struct {
	name  string
	sched *schedule.Schedule // nil if the job has no schedule at all
	armed bool
	seq   int
	slots []*slotState
}

func (jr *jobRuntime) idle() bool { return len(jr.slots) == 0 }

func (jr *jobRuntime) firstPendingIndex() int {
	for i, s := range jr.slots {
		if s.phase != slotRunning {
			return i
		}
	}
	return -1
}

func (jr *jobRuntime) hasRunning() bool {
	for _, s := range jr.slots {
		if s.phase == slotRunning {
			return true
		}
	}
	return false
}

func (jr *jobRuntime) removeSlot(target *slotState) {
	for i, s := range jr.slots {
		if s == target {
			jr.slots = append(jr.slots[:i], jr.slots[i+1:]...)
			return
		}
	}
}

// Reactor is the scheduler loop's entire runtime state. All fields below
// are touched only from the goroutine running Run, except where noted;
// spec §5 calls this out explicitly ("all state mutation occurs between
// suspensions").
type Reactor struct {
	configPath string
	logger     *slog.Logger

	cat    *catalog.Catalog
	store  runstore.Store
	arb    *arbiter.Arbiter
	runnr  *runner.Runner
	trig   *trigger.Watcher

	jobs  map[string]*jobRuntime
	fires fireHeap

	draining          bool
	shutdownKillRuns  bool
	shutdownKillGrace time.Duration

	mu sync.Mutex // taken by RunningMatch for concurrent inspection in tests
}

// New builds a Reactor from a loaded catalog. It does not start the loop;
// call Run to drive it.
func New(cat *catalog.Catalog, configPath string, store runstore.Store, logger *slog.Logger) (*Reactor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	capacities := make(map[string]int, len(cat.ConcurrencyGroups))
	for name, g := range cat.ConcurrencyGroups {
		capacities[name] = g.EffectiveMax()
	}

	jobNames := make([]string, 0, len(cat.Jobs))
	for name := range cat.Jobs {
		jobNames = append(jobNames, name)
	}
	trig, err := trigger.New(cat.DataDir, jobNames, logger)
	if err != nil {
		return nil, fmt.Errorf("start trigger watcher: %w", err)
	}

	rnnr := runner.New()
	rnnr.SetLogger(logger)

	r := &Reactor{
		configPath:        configPath,
		logger:            logger,
		cat:               cat,
		store:             store,
		arb:               arbiter.New(capacities),
		runnr:             rnnr,
		trig:              trig,
		jobs:              make(map[string]*jobRuntime),
		shutdownKillRuns:  cat.ShutdownKillRuns,
		shutdownKillGrace: cat.ShutdownKillGrace,
	}

	for name, job := range cat.Jobs {
		jr := &jobRuntime{name: name}
		r.jobs[name] = jr
		if job.Schedule != "" {
			sched, err := schedule.Parse(name, job.Schedule, job.ScheduleTimezone)
			if err != nil {
				return nil, fmt.Errorf("job %q: %w", name, err)
			}
			jr.sched = sched
			r.arm(jr, time.Now())
		}
	}
	for name := range capacities {
		metrics.SetGroupCapacity(name, capacities[name])
	}
	return r, nil
}

// arm computes the job's next fire time strictly after 'after' and pushes
// it onto the heap, bumping the jobRuntime's generation so any older heap
// entry for this job is discarded when popped.
func (r *Reactor) arm(jr *jobRuntime, after time.Time) {
	if jr.sched == nil {
		return
	}
	next, ok := jr.sched.NextFire(after)
	if !ok {
		jr.armed = false
		return
	}
	jr.seq++
	jr.armed = true
	heap.Push(&r.fires, &fireEntry{at: next, jobName: jr.name, seq: jr.seq})
}

// Run drives the reactor until ctx is cancelled or a shutdown signal is
// handled to completion. It owns signal.Notify for the daemon's whole
// signal contract (spec §5/§6).
func (r *Reactor) Run(ctx context.Context) error {
	replayed, err := runstore.ReplaySpool(ctx, r.store, r.cat.DataDir, r.logger)
	if err != nil {
		r.logger.Warn("spool replay failed", "error", err)
	} else if replayed > 0 {
		r.logger.Info("replayed spooled run results", "count", replayed)
	}

	orphans, err := runstore.ReconcileOrphans(ctx, r.store)
	if err != nil {
		r.logger.Warn("orphan reconciliation failed", "error", err)
	} else if orphans > 0 {
		r.logger.Info("finalized orphaned runs from a previous instance", "count", orphans)
	}

	sigCh := make(chan os.Signal, 8)
	sigSet := []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
	for _, s := range sigExtra {
		sigSet = append(sigSet, s)
	}
	signal.Notify(sigCh, sigSet...)
	defer signal.Stop(sigCh)

	trigCtx, cancelTrig := context.WithCancel(ctx)
	defer cancelTrig()
	go r.trig.Run(trigCtx)

	timer := time.NewTimer(r.wakeupDelay())
	defer timer.Stop()

	for {
		if r.draining && !r.anyRunning() {
			return nil
		}

		select {
		case <-ctx.Done():
			r.beginShutdown()
		case sig := <-sigCh:
			r.handleSignal(ctx, sig)
		case rn := <-r.runnr.Exits():
			r.onExit(ctx, rn)
		case rn, ok := <-r.trig.Events():
			if ok {
				r.onTrigger(rn)
			}
		case <-timer.C:
			r.tick(ctx)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.wakeupDelay())
	}
}

func (r *Reactor) anyRunning() bool {
	for _, jr := range r.jobs {
		if jr.hasRunning() {
			return true
		}
	}
	return false
}

// wakeupDelay computes the duration until the earliest known event: the
// next armed schedule fire, the next backoff retry, or the next
// timeout/kill deadline among running slots (spec §4.5 step 1).
func (r *Reactor) wakeupDelay() time.Duration {
	now := time.Now()
	earliest := now.Add(5 * time.Second) // fallback poll cadence; never wait forever

	for len(r.fires) > 0 {
		top := r.fires[0]
		jr, ok := r.jobs[top.jobName]
		if !ok || jr.seq != top.seq {
			heap.Pop(&r.fires)
			continue
		}
		if top.at.Before(earliest) {
			earliest = top.at
		}
		break
	}

	for _, jr := range r.jobs {
		for _, s := range jr.slots {
			switch s.phase {
			case slotPending:
				if s.run.ScheduleTime.After(now) && s.run.ScheduleTime.Before(earliest) {
					earliest = s.run.ScheduleTime
				}
			case slotBackoff:
				if s.backoffUntil.Before(earliest) {
					earliest = s.backoffUntil
				}
			case slotRunning:
				if !s.deadline.IsZero() && !s.termSent && s.deadline.Before(earliest) {
					earliest = s.deadline
				}
				if s.termSent && !s.killSent && s.killDeadline.Before(earliest) {
					earliest = s.killDeadline
				}
			}
		}
	}

	d := earliest.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// tick performs the reactor's main cycle (spec §4.5 steps 3-6): drain due
// fires into pending slots, retry backoffs, admit pending slots, and
// escalate timed-out running slots. It is idempotent and safe to call on
// every wakeup regardless of what woke the reactor.
func (r *Reactor) tick(ctx context.Context) {
	now := time.Now()
	r.drainDueFires(now)
	r.reconcileSlots(ctx, now)
}

func (r *Reactor) drainDueFires(now time.Time) {
	for len(r.fires) > 0 {
		top := r.fires[0]
		if top.at.After(now) {
			return
		}
		heap.Pop(&r.fires)

		jr, ok := r.jobs[top.jobName]
		if !ok || jr.seq != top.seq {
			continue // stale entry from a removed job or a reload re-arm
		}
		r.fireJob(jr, top.at)
	}
}

func (r *Reactor) fireJob(jr *jobRuntime, at time.Time) {
	job := r.cat.Jobs[jr.name]
	if job == nil {
		return
	}
	if job.ConcurrentRuns || jr.idle() {
		rn := run.New(jr.name, at, run.TriggerSchedule, map[string]any{})
		rn.Respawn = !job.ConcurrentRuns
		jr.slots = append(jr.slots, &slotState{run: rn, phase: slotPending})
	}
	if job.ConcurrentRuns {
		r.arm(jr, at)
	} else {
		// only one slot possible when idle; it was just created above, so
		// the job is no longer idle and stays unarmed until it empties out.
		jr.armed = false
	}
}

// reconcileSlots advances every job's slots one step: backoff expiry ->
// pending, pending -> admitted/denied, and running -> terminate/kill on
// timeout (spec §4.2/§4.3/§4.5).
func (r *Reactor) reconcileSlots(ctx context.Context, now time.Time) {
	for name, jr := range r.jobs {
		job := r.cat.Jobs[name]
		wasEmpty := false
		for _, s := range jr.slots {
			switch s.phase {
			case slotBackoff:
				if !now.Before(s.backoffUntil) {
					s.phase = slotPending
				}
			case slotRunning:
				r.checkTimeout(s, now)
			}
		}
		if job == nil {
			continue
		}
		if r.draining {
			r.drainSlots(jr, now)
			continue
		}
		for _, s := range jr.slots {
			if s.phase != slotPending {
				continue
			}
			// A file trigger's schedule_time may be in the future (spec
			// §4.4): it is held pending in-memory and must not be admitted
			// before then, so start_time stays strictly after schedule_time
			// (spec §5's ordering guarantee).
			if now.Before(s.run.ScheduleTime) {
				continue
			}
			// Unless concurrent_runs, a pending slot stays held while the
			// job already has a running slot (spec §4.4: "the triggered
			// run is held pending until the running one finishes") — admit
			// at most the one pending slot that follows, never alongside
			// a still-running run of the same job (spec §3/§8).
			if !job.ConcurrentRuns && jr.hasRunning() {
				continue
			}
			r.admit(ctx, jr, job, s, now)
			if !job.ConcurrentRuns {
				break
			}
		}
		_ = wasEmpty
	}
}

func (r *Reactor) checkTimeout(s *slotState, now time.Time) {
	if s.handle == nil {
		return
	}
	if !s.deadline.IsZero() && !s.termSent && !now.Before(s.deadline) {
		_ = s.handle.Terminate()
		s.termSent = true
		s.termSentAt = now
		s.killDeadline = now.Add(s.job.EffectiveMaxExecutionGrace())
	}
	if s.termSent && !s.killSent && !now.Before(s.killDeadline) {
		_ = s.handle.Kill()
		s.killSent = true
	}
}

// drainSlots implements shutdown: pending/backoff slots are discarded
// outright (spec §5 "pending runs are discarded"); running slots are left
// alone unless shutdown_kill_runs is set, in which case they are
// terminated once and escalated to SIGKILL after the bounded grace.
func (r *Reactor) drainSlots(jr *jobRuntime, now time.Time) {
	kept := jr.slots[:0]
	for _, s := range jr.slots {
		if s.phase != slotRunning {
			continue // discard pending/backoff slots
		}
		if r.shutdownKillRuns && !s.termSent {
			_ = s.handle.Terminate()
			s.termSent = true
			s.termSentAt = now
			grace := s.job.EffectiveMaxExecutionGrace()
			if r.shutdownKillGrace > 0 && r.shutdownKillGrace < grace {
				grace = r.shutdownKillGrace
			}
			s.killDeadline = now.Add(grace)
		}
		if s.termSent && !s.killSent && !now.Before(s.killDeadline) {
			_ = s.handle.Kill()
			s.killSent = true
		}
		kept = append(kept, s)
	}
	jr.slots = kept
}

func (r *Reactor) admit(ctx context.Context, jr *jobRuntime, job *catalog.Job, s *slotState, now time.Time) {
	admitted, group := r.arb.TryAdmit(arbiter.Job{Name: jr.name, ConcurrencyGroups: job.ConcurrencyGroups})
	if !admitted {
		until := r.arb.Denied(jr.name, now)
		s.phase = slotBackoff
		s.backoffUntil = until
		metrics.IncRunSkipped(jr.name, "concurrency")
		return
	}
	r.arb.Admitted(jr.name)
	s.run.ConcurrencyGroup = group
	r.spawn(ctx, jr, job, s)
}

func (r *Reactor) spawn(ctx context.Context, jr *jobRuntime, job *catalog.Job, s *slotState) {
	prev := r.lookupPrevious(ctx, jr.name)
	runDir := r.cat.RunDir(jr.name, s.run.RunID)
	mergedEnv := runner.BuildEnv(r.cat, job, s.run, runDir, prev)

	handle := r.runnr.Spawn(r.cat, job, s.run, mergedEnv)
	s.handle = handle
	s.job = job
	s.phase = slotRunning
	if job.MaxExecution > 0 {
		s.deadline = s.run.StartTime.Add(job.MaxExecution)
	}

	if handle.SpawnFailed() {
		r.finishSlot(ctx, jr, s)
		return
	}

	metrics.IncRunStart(jr.name)
	if err := r.store.InsertRunning(ctx, s.run); err != nil {
		r.logger.Error("failed to record running run", "job", jr.name, "run_id", s.run.RunID, "error", err)
	}
}

func (r *Reactor) lookupPrevious(ctx context.Context, jobName string) runner.PreviousRuns {
	var prev runner.PreviousRuns
	if latest, err := r.store.LatestCompleted(ctx, jobName); err == nil {
		prev.Latest = latest
	}
	if good, err := r.store.LatestCompletedWithExit(ctx, jobName, true); err == nil {
		prev.LatestGood = good
	}
	if bad, err := r.store.LatestCompletedWithExit(ctx, jobName, false); err == nil {
		prev.LatestBad = bad
	}
	return prev
}

// onExit handles a reaped child (spec §4.3 "Reaping") for runs that
// actually started and were waited on by internal/runner.
func (r *Reactor) onExit(ctx context.Context, rn *run.Run) {
	jr, s := r.findSlot(rn)
	if jr == nil {
		r.logger.Warn("exit event for unknown run", "run_id", rn.RunID, "job", rn.JobName)
		return
	}
	r.finishSlot(ctx, jr, s)
}

// finishSlot commits a finished Run (normal exit or synchronous spawn
// failure) to the store, releases its arbiter slot, and re-arms the job's
// schedule once it returns to idle.
func (r *Reactor) finishSlot(ctx context.Context, jr *jobRuntime, s *slotState) {
	outcome := "success"
	if s.run.ExitCode != 0 {
		outcome = "failure"
	}
	if err := runstore.FinalizeWithRetry(ctx, r.store, r.cat.DataDir, s.run, r.logger); err != nil {
		r.logger.Error("run finalize failed permanently", "run_id", s.run.RunID, "error", err)
	}
	r.arb.Release(s.run.ConcurrencyGroup)
	metrics.IncRunFinish(jr.name, outcome)
	if !s.run.StartTime.IsZero() {
		metrics.ObserveRunDuration(jr.name, s.run.StopTime.Sub(s.run.StartTime).Seconds())
	}

	jr.removeSlot(s)

	if jr.idle() && !r.draining {
		job := r.cat.Jobs[jr.name]
		if job != nil && jr.sched != nil {
			r.arm(jr, time.Now())
		} else if job == nil {
			delete(r.jobs, jr.name)
		}
	}
}

func (r *Reactor) findSlot(rn *run.Run) (*jobRuntime, *slotState) {
	jr, ok := r.jobs[rn.JobName]
	if !ok {
		return nil, nil
	}
	for _, s := range jr.slots {
		if s.run.RunID == rn.RunID {
			return jr, s
		}
	}
	return nil, nil
}

// onTrigger implements the Trigger Watcher's ingestion contract (spec
// §4.4): a non-concurrent job's pending (not-yet-started) slot is replaced
// by the new trigger; if it's already running, the trigger queues behind
// it; concurrent_runs jobs always queue alongside whatever else is active.
func (r *Reactor) onTrigger(rn *run.Run) {
	job := r.cat.Jobs[rn.JobName]
	if job == nil {
		r.logger.Warn("trigger for unknown job, dropping", "job", rn.JobName)
		return
	}
	jr, ok := r.jobs[rn.JobName]
	if !ok {
		jr = &jobRuntime{name: rn.JobName}
		r.jobs[rn.JobName] = jr
	}

	if !job.ConcurrentRuns {
		if i := jr.firstPendingIndex(); i >= 0 {
			jr.slots = append(jr.slots[:i], jr.slots[i+1:]...)
		}
	}
	jr.slots = append(jr.slots, &slotState{run: rn, phase: slotPending})
}

// handleSignal implements spec §5/§6's signal contract.
func (r *Reactor) handleSignal(ctx context.Context, sig os.Signal) {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		r.logger.Info("received shutdown signal", "signal", sig.String())
		r.beginShutdown()
	case syscall.SIGHUP:
		r.logger.Info("received SIGHUP, reloading catalog")
		r.reload()
	default:
		if s, ok := sig.(syscall.Signal); ok {
			switch {
			case isStatusDumpSignal(s):
				r.dumpStatus()
			case isTriggerScanSignal(s):
				r.trig.ScanNow()
			}
		}
	}
	_ = ctx
}

func (r *Reactor) beginShutdown() {
	r.draining = true
}

// reload implements SIGHUP (spec §5): catalog reload is atomic from the
// Loop's perspective because it happens entirely within one call between
// reactor ticks; in-flight runs keep the *catalog.Job pointer captured at
// spawn time (slotState.job, set in spawn), so they continue under their original
// configuration even after r.cat is swapped.
func (r *Reactor) reload() {
	newCat, err := catalog.Load(r.configPath)
	if err != nil {
		r.logger.Error("catalog reload failed, keeping previous configuration", "error", err)
		return
	}

	for name, g := range newCat.ConcurrencyGroups {
		r.arb.SetCapacity(name, g.EffectiveMax())
		metrics.SetGroupCapacity(name, g.EffectiveMax())
	}

	oldCat := r.cat
	r.cat = newCat

	for name, job := range newCat.Jobs {
		jr, existed := r.jobs[name]
		if !existed {
			jr = &jobRuntime{name: name}
			r.jobs[name] = jr
		}
		oldJob := oldCat.Jobs[name]
		scheduleChanged := oldJob == nil || oldJob.Schedule != job.Schedule || oldJob.ScheduleTimezone != job.ScheduleTimezone
		if job.Schedule == "" {
			jr.sched = nil
			jr.armed = false
			continue
		}
		if !scheduleChanged && jr.sched != nil {
			continue // unchanged config is a no-op w.r.t. pending schedules
		}
		sched, err := schedule.Parse(name, job.Schedule, job.ScheduleTimezone)
		if err != nil {
			r.logger.Error("job schedule invalid after reload, leaving unscheduled", "job", name, "error", err)
			jr.sched = nil
			continue
		}
		jr.sched = sched
		if job.ConcurrentRuns || jr.idle() {
			r.arm(jr, time.Now())
		} else {
			jr.armed = false // re-armed once this job returns to idle
		}
	}

	for name, jr := range r.jobs {
		if _, stillDefined := newCat.Jobs[name]; !stillDefined {
			jr.sched = nil
			jr.armed = false
			if jr.idle() {
				delete(r.jobs, name)
			}
		}
	}

	jobNames := make([]string, 0, len(newCat.Jobs))
	for name := range newCat.Jobs {
		jobNames = append(jobNames, name)
	}
	r.trig.Reconfigure(jobNames)
}

// dumpStatus implements SIGQUIT (spec §5): a human-readable snapshot of
// running runs and next fire times, logged rather than acted upon.
func (r *Reactor) dumpStatus() {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	now := time.Now()
	for _, name := range names {
		jr := r.jobs[name]
		running := 0
		pending := 0
		for _, s := range jr.slots {
			if s.phase == slotRunning {
				running++
			} else {
				pending++
			}
		}
		fmt.Fprintf(&b, "job=%s running=%d pending=%d", name, running, pending)
		if jr.armed && len(r.fires) > 0 {
			for _, e := range r.fires {
				if e.jobName == name && e.seq == jr.seq {
					fmt.Fprintf(&b, " next_fire_in=%s", e.at.Sub(now).Round(time.Second))
					break
				}
			}
		}
		b.WriteByte('\n')
	}
	r.logger.Info("status snapshot", "jobs", len(names), "detail", b.String())
}

// RunningMatch reports the job names (a supplemented feature, see
// SPEC_FULL.md) with at least one running slot whose name matches the
// '*'-wildcard pattern, reusing the teacher's wildcardMatch idiom from
// internal/manager.StatusMatch.
func (r *Reactor) RunningMatch(pattern string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, jr := range r.jobs {
		if jr.hasRunning() && wildcardMatch(name, pattern) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// wildcardMatch matches name against a pattern with '*' wildcards (glob-
// like, case-sensitive), ported from the teacher's internal/manager
// wildcardMatch helper.
func wildcardMatch(name, pattern string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return name == pattern
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	if parts[0] != "" {
		if !strings.HasPrefix(name, parts[0]) {
			return false
		}
		idx = len(parts[0])
	}
	for i := 1; i < len(parts)-1; i++ {
		p := parts[i]
		if p == "" {
			continue
		}
		rel := strings.Index(name[idx:], p)
		if rel < 0 {
			return false
		}
		idx += rel + len(p)
	}
	last := parts[len(parts)-1]
	if last == "" {
		return true
	}
	return strings.HasSuffix(name[idx:], last)
}
