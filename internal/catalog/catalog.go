// Package catalog is the boundary adapter spec.md §6 calls the configuration
// file loader: an external collaborator that delivers a validated in-memory
// job catalog. It stays intentionally narrow (load + validate + expand
// job_groups), grounded on the teacher's internal/config package, reusing its
// viper + go-viper/mapstructure stack and its GroupConfig expansion idiom.
package catalog

import "time"

// Job is the static definition of something to execute on a schedule or on
// an ad hoc trigger.
type Job struct {
	Name               string            `mapstructure:"name"`
	Command            []string          `mapstructure:"command"`
	CommandAppendRun   bool              `mapstructure:"command_append_run"`
	Schedule           string            `mapstructure:"schedule"`
	ScheduleTimezone   string            `mapstructure:"schedule_timezone"`
	Environment        map[string]string `mapstructure:"environment"`
	MaxExecution       time.Duration     `mapstructure:"max_execution"`
	MaxExecutionGrace  time.Duration     `mapstructure:"max_execution_grace"`
	ConcurrencyGroups  []string          `mapstructure:"concurrency_groups"`
	ConcurrentRuns     bool              `mapstructure:"concurrent_runs"`
	RenderReports      bool              `mapstructure:"render_reports"`
	JenkinsEnvironment bool              `mapstructure:"jenkins_environment"`
	JobGroup           string            `mapstructure:"job_group"`

	// PreRun/PostRun: supplemented feature (see SPEC_FULL.md), adapted from
	// the teacher's process.LifecycleHooks concept. FailureMode is one of
	// "ignore" (default), "fail" (abort the run if the hook fails) or
	// "retry" (re-run the hook once before giving up).
	PreRun             []string `mapstructure:"pre_run"`
	PreRunFailureMode  string   `mapstructure:"pre_run_failure_mode"`
	PostRun            []string `mapstructure:"post_run"`
	PostRunFailureMode string   `mapstructure:"post_run_failure_mode"`
}

// EffectiveMaxExecutionGrace returns the configured grace, defaulting to 60s
// per spec §3.
func (j *Job) EffectiveMaxExecutionGrace() time.Duration {
	if j.MaxExecutionGrace <= 0 {
		return 60 * time.Second
	}
	return j.MaxExecutionGrace
}

// ConcurrencyGroup is a named counter restricting the number of
// simultaneously-running runs that claim it.
type ConcurrencyGroup struct {
	Name string `mapstructure:"name"`
	Max  int    `mapstructure:"max"`
}

// EffectiveMax returns Max, defaulting to 1 per spec §3.
func (g *ConcurrencyGroup) EffectiveMax() int {
	if g == nil || g.Max <= 0 {
		return 1
	}
	return g.Max
}

// JobGroupConfig is a Job template plus a set of member names; at load time
// it is expanded into one Job per member (spec §6: "expanded into jobs[] at
// load time").
type JobGroupConfig struct {
	Job       `mapstructure:",squash"`
	JobNames []string `mapstructure:"job_names"`
}

// DatabaseConfig selects and configures the Run Store backend (spec §6).
type DatabaseConfig struct {
	Type string `mapstructure:"type"`
	// Backend-specific fields, kept flat rather than as map[string]any so
	// mapstructure can decode directly into typed fields most callers need.
	Path     string `mapstructure:"path"`     // sqlite
	DSN      string `mapstructure:"dsn"`      // postgres
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Catalog is the validated in-memory object the daemon's main consumes
// (spec §6's configuration file layout).
type Catalog struct {
	DataDir           string                       `mapstructure:"data_dir"`
	Environment       map[string]string            `mapstructure:"environment"`
	ShutdownKillRuns  bool                         `mapstructure:"shutdown_kill_runs"`
	ShutdownKillGrace time.Duration                `mapstructure:"shutdown_kill_grace"`
	TemplateDir       string                       `mapstructure:"template_dir"`
	Database          DatabaseConfig               `mapstructure:"database"`
	Jobs              map[string]*Job              `mapstructure:"jobs"`
	JobGroups         map[string]*JobGroupConfig   `mapstructure:"job_groups"`
	ConcurrencyGroups map[string]*ConcurrencyGroup `mapstructure:"concurrency_groups"`
}

// TriggerDir returns the directory the Trigger Watcher polls for job.
func (c *Catalog) TriggerDir(jobName string) string {
	return c.DataDir + "/trigger/" + jobName
}

// RunDir returns the working directory for a given run.
func (c *Catalog) RunDir(jobName, runID string) string {
	return c.DataDir + "/runs/" + jobName + "/" + runID
}
