package runner

import (
	"testing"
	"time"

	"github.com/loykin/cid/internal/catalog"
	"github.com/loykin/cid/internal/run"
)

func toMap(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}

func TestBuildEnvOverlayOrder(t *testing.T) {
	cat := &catalog.Catalog{
		DataDir:     "/var/cid",
		Environment: map[string]string{"STAGE": "global", "ONLY_GLOBAL": "g"},
	}
	job := &catalog.Job{
		Name:              "build",
		ConcurrencyGroups: []string{"ci"},
		JobGroup:          "nightly",
		Environment:       map[string]string{"STAGE": "job"},
	}
	rn := run.New(job.Name, time.Now(), run.TriggerFile, map[string]any{
		"environment": map[string]any{"STAGE": "trigger"},
	})
	rn.ConcurrencyGroup = "ci"

	out := BuildEnv(cat, job, rn, "/var/cid/runs/build/"+rn.RunID, PreviousRuns{})
	m := toMap(out)

	if m["STAGE"] != "trigger" {
		t.Fatalf("expected trigger layer (highest precedence) to win, got %q", m["STAGE"])
	}
	if m["ONLY_GLOBAL"] != "g" {
		t.Fatalf("expected global-only var to survive, got %q", m["ONLY_GLOBAL"])
	}
	if m["JOB_NAME"] != "build" {
		t.Fatalf("expected JOB_NAME auto-set, got %q", m["JOB_NAME"])
	}
	if m["CONCURRENCY_GROUP"] != "ci" {
		t.Fatalf("expected CONCURRENCY_GROUP conditional layer, got %q", m["CONCURRENCY_GROUP"])
	}
	if m["JOB_GROUP"] != "nightly" {
		t.Fatalf("expected JOB_GROUP conditional layer, got %q", m["JOB_GROUP"])
	}
	if _, ok := m["BUILD_ID"]; ok {
		t.Fatalf("expected no Jenkins block when jenkins_environment is false")
	}
}

func TestBuildEnvJenkinsBlock(t *testing.T) {
	cat := &catalog.Catalog{DataDir: "/var/cid"}
	job := &catalog.Job{Name: "build", JenkinsEnvironment: true}
	rn := run.New(job.Name, time.Now(), run.TriggerSchedule, nil)

	out := BuildEnv(cat, job, rn, "/run/dir", PreviousRuns{})
	m := toMap(out)
	if m["BUILD_ID"] != rn.RunID {
		t.Fatalf("expected BUILD_ID to be set, got %q", m["BUILD_ID"])
	}
	if m["NODE_NAME"] != "master" {
		t.Fatalf("expected NODE_NAME=master, got %q", m["NODE_NAME"])
	}
}

func TestBuildEnvPreviousRunFields(t *testing.T) {
	cat := &catalog.Catalog{DataDir: "/var/cid"}
	job := &catalog.Job{Name: "build"}
	rn := run.New(job.Name, time.Now(), run.TriggerSchedule, nil)

	prevGood := run.New(job.Name, time.Now().Add(-time.Hour), run.TriggerSchedule, nil)
	prevGood.ExitCode = 0
	prev := PreviousRuns{Latest: prevGood, LatestGood: prevGood}

	out := BuildEnv(cat, job, rn, "/run/dir", prev)
	m := toMap(out)
	if m["PREVIOUS_RUN_ID"] != prevGood.RunID {
		t.Fatalf("expected PREVIOUS_RUN_ID to be threaded in, got %q", m["PREVIOUS_RUN_ID"])
	}
	if m["PREVIOUS_GOOD_RUN_ID"] != prevGood.RunID {
		t.Fatalf("expected PREVIOUS_GOOD_RUN_ID to be threaded in, got %q", m["PREVIOUS_GOOD_RUN_ID"])
	}
}
