// Package run defines the Run record: the dynamic unit of work the scheduler,
// arbiter, supervisor and store all operate on. The type itself carries no
// behavior beyond the invariants spec'd for its fields; see internal/reactor
// for the state machine that drives a Run through pending/running/finished.
package run

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType identifies what caused a Run to be created.
type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerFile     TriggerType = "file"
)

// Phase is one of the three exclusive states a Run occupies.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseRunning  Phase = "running"
	PhaseFinished Phase = "finished"
)

// Sentinel exit codes for conditions that never produced a real child exit
// status. Chosen once and documented rather than left to the caller, per
// spec's open question on spawn-failure exit-code encoding.
const (
	ExitSpawnFailed   = 127 // command not found / exec failed
	ExitNotExecutable = 126 // found but not executable
	ExitPreRunFailed  = 125 // pre_run hook failed with failure_mode=fail
	ExitOrphaned      = 131 // sentinel: finalized by startup reconciliation
)

// Run is one execution attempt of a job.
type Run struct {
	RunID        string
	JobName      string
	Phase        Phase
	ScheduleTime time.Time
	StartTime    time.Time
	StopTime     time.Time
	ExitCode     int
	HasExited    bool

	TriggerType TriggerType
	TriggerData map[string]any

	ConcurrencyGroup string
	Respawn          bool
}

// New allocates a fresh pending Run with a new identifier. Identifiers are
// never reused (spec §3), so generation always goes through this
// constructor rather than being assembled ad hoc by callers.
func New(jobName string, scheduleTime time.Time, trigger TriggerType, data map[string]any) *Run {
	return &Run{
		RunID:        uuid.NewString(),
		JobName:      jobName,
		Phase:        PhasePending,
		ScheduleTime: scheduleTime,
		TriggerType:  trigger,
		TriggerData:  data,
	}
}

// ExitCodeForSignal normalizes a signal-terminated exit per spec §4.3/§7:
// 128 + signal number.
func ExitCodeForSignal(sig int) int { return 128 + sig }
