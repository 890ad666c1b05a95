package runner

import (
	"os"
	"strconv"
	"time"

	"github.com/loykin/cid/internal/catalog"
	"github.com/loykin/cid/internal/env"
	"github.com/loykin/cid/internal/run"
)

// PreviousRuns carries the store lookups the reactor performs before
// launching a Run (spec §4.5 "Previous-run lookup"), threaded into the
// child's environment by BuildEnv.
type PreviousRuns struct {
	Latest     *run.Run
	LatestGood *run.Run
	LatestBad  *run.Run
}

// BuildEnv constructs the child's environment from scratch per spec §6's
// eight-layer overlay (baseline -> auto-set -> previous-run -> conditional
// -> Jenkins-compat -> global -> job -> trigger), each layer overriding the
// keys of the ones before it.
func BuildEnv(cat *catalog.Catalog, job *catalog.Job, rn *run.Run, runDir string, prev PreviousRuns) []string {
	layers := []env.Layer{
		baselineLayer(cat, runDir),
		autoSetLayer(rn, runDir),
		previousRunLayer(prev),
		conditionalLayer(job, rn),
	}
	if job.JenkinsEnvironment {
		layers = append(layers, jenkinsLayer(job, rn, runDir))
	}
	layers = append(layers,
		env.Layer{Name: "global", Vars: cat.Environment},
		env.Layer{Name: "job", Vars: job.Environment},
		triggerLayer(rn),
	)
	return env.Build(layers...)
}

func baselineLayer(cat *catalog.Catalog, runDir string) env.Layer {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/bin:/bin"
	}
	return env.Layer{Name: "baseline", Vars: map[string]string{
		"LOGNAME":  os.Getenv("LOGNAME"),
		"HOME":     os.Getenv("HOME"),
		"PATH":     path,
		"PWD":      runDir,
		"DATA_DIR": cat.DataDir,
	}}
}

func autoSetLayer(rn *run.Run, runDir string) env.Layer {
	return env.Layer{Name: "auto-set", Vars: map[string]string{
		"JOB_NAME":      rn.JobName,
		"RUN_ID":        rn.RunID,
		"SCHEDULE_TIME": formatTime(rn.ScheduleTime),
		"START_TIME":    formatTime(rn.StartTime),
		"TRIGGER_TYPE":  string(rn.TriggerType),
		"RUN_DIR":       runDir,
		"CI":            "true",
		"CID":           "true", // system identifier flag
	}}
}

func previousRunLayer(prev PreviousRuns) env.Layer {
	vars := make(map[string]string)
	addRunFields(vars, "PREVIOUS", prev.Latest)
	addRunFields(vars, "PREVIOUS_GOOD", prev.LatestGood)
	addRunFields(vars, "PREVIOUS_BAD", prev.LatestBad)
	return env.Layer{Name: "previous-run", Vars: vars}
}

func addRunFields(vars map[string]string, prefix string, r *run.Run) {
	if r == nil {
		return
	}
	vars[prefix+"_RUN_ID"] = r.RunID
	vars[prefix+"_SCHEDULE_TIME"] = formatTime(r.ScheduleTime)
	vars[prefix+"_START_TIME"] = formatTime(r.StartTime)
	vars[prefix+"_STOP_TIME"] = formatTime(r.StopTime)
	vars[prefix+"_EXIT_CODE"] = strconv.Itoa(r.ExitCode)
}

func conditionalLayer(job *catalog.Job, rn *run.Run) env.Layer {
	vars := make(map[string]string)
	if rn.ConcurrencyGroup != "" {
		vars["CONCURRENCY_GROUP"] = rn.ConcurrencyGroup
	}
	if job.JobGroup != "" {
		vars["JOB_GROUP"] = job.JobGroup
	}
	return env.Layer{Name: "conditional", Vars: vars}
}

// jenkinsLayer emulates the handful of environment variables Jenkins sets
// for a build, for tooling written against that convention. There is no
// incrementing build-number counter in this model, so BUILD_NUMBER reuses
// the run id like BUILD_ID.
func jenkinsLayer(job *catalog.Job, rn *run.Run, runDir string) env.Layer {
	return env.Layer{Name: "jenkins", Vars: map[string]string{
		"BUILD_ID":        rn.RunID,
		"BUILD_NUMBER":    rn.RunID,
		"BUILD_TAG":       "cid-" + job.Name + "-" + rn.RunID,
		"BUILD_URL":       "",
		"EXECUTOR_NUMBER": "0",
		"JENKINS_URL":     "",
		"NODE_NAME":       "master",
		"WORKSPACE":       runDir,
	}}
}

func triggerLayer(rn *run.Run) env.Layer {
	vars := make(map[string]string)
	if rn.TriggerType != run.TriggerFile || rn.TriggerData == nil {
		return env.Layer{Name: "trigger", Vars: vars}
	}
	raw, ok := rn.TriggerData["environment"]
	if !ok {
		return env.Layer{Name: "trigger", Vars: vars}
	}
	switch m := raw.(type) {
	case map[string]string:
		for k, v := range m {
			vars[k] = v
		}
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				vars[k] = s
			}
		}
	}
	return env.Layer{Name: "trigger", Vars: vars}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

