package runner

import (
	"encoding/json"
	"os"
	"time"
)

// manifest is the run_execution.json document written alongside output.txt
// (spec §4.3 step 2): the recorded command line and environment for a run.
type manifest struct {
	JobName      string    `json:"job_name"`
	RunID        string    `json:"run_id"`
	Command      []string  `json:"command"`
	Environment  []string  `json:"environment"`
	WorkDir      string    `json:"work_dir"`
	ScheduleTime time.Time `json:"schedule_time"`
}

func writeManifest(path string, m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
