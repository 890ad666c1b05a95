package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return p
}

func TestLoadBasicCatalog(t *testing.T) {
	p := writeTemp(t, "catalog.yaml", `
data_dir: /tmp/cid-data
concurrency_groups:
  build:
    max: 2
jobs:
  unit-tests:
    command: ["/bin/true"]
    schedule: "* * * * *"
    concurrency_groups: ["build"]
`)
	cat, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	j, ok := cat.Jobs["unit-tests"]
	if !ok {
		t.Fatalf("expected job unit-tests to be present")
	}
	if j.Name != "unit-tests" {
		t.Fatalf("expected Name to default to the map key, got %q", j.Name)
	}
	if cat.ConcurrencyGroups["build"].EffectiveMax() != 2 {
		t.Fatalf("expected build group max=2")
	}
}

func TestLoadRejectsBadJobName(t *testing.T) {
	p := writeTemp(t, "catalog.yaml", `
data_dir: /tmp/cid-data
jobs:
  "bad/name":
    command: ["/bin/true"]
`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for invalid job name")
	}
}

func TestLoadRejectsEmptyCommand(t *testing.T) {
	p := writeTemp(t, "catalog.yaml", `
data_dir: /tmp/cid-data
jobs:
  empty:
    command: []
`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestJobGroupExpansion(t *testing.T) {
	p := writeTemp(t, "catalog.yaml", `
data_dir: /tmp/cid-data
job_groups:
  nightly:
    command: ["/bin/true"]
    schedule: "@daily"
    job_names: ["a", "b"]
jobs:
  b:
    command: ["/bin/echo", "override"]
`)
	cat, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cat.Jobs["a"]; !ok {
		t.Fatalf("expected job a expanded from job_group")
	}
	b := cat.Jobs["b"]
	if b == nil || b.Command[0] != "/bin/echo" {
		t.Fatalf("expected explicit jobs[] entry to override job_group template, got %+v", b)
	}
	if b.JobGroup != "nightly" {
		t.Fatalf("expected job_group metadata carried to member, got %q", b.JobGroup)
	}
}

func TestEffectiveMaxExecutionGraceDefault(t *testing.T) {
	var j Job
	if got := j.EffectiveMaxExecutionGrace(); got.Seconds() != 60 {
		t.Fatalf("expected default grace of 60s, got %v", got)
	}
}
