package catalog

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// jobNamePattern mirrors spec.md §3's Job.name constraint.
var jobNamePattern = regexp.MustCompile(`^[- A-Za-z0-9_+.:@]+$`)

// secondsToDurationHookFunc decodes max_execution/max_execution_grace/
// shutdown_kill_grace into time.Duration. Spec §3/§6 defines these fields in
// seconds, so a bare number (e.g. `max_execution: 60`) means 60s, not 60ns;
// a duration string (e.g. "60s") is also accepted. Plain `viper.Unmarshal`
// gets this for free by composing mapstructure's StringToTimeDurationHookFunc
// with its own numeric-seconds convention; this decoder calls
// v.AllSettings() through a manual mapstructure.Decoder instead (to keep
// Catalog's own nested job_groups expansion simple), so the hook has to be
// supplied explicitly here or it silently reverts to raw-nanosecond decoding.
func secondsToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			s := data.(string)
			if s == "" {
				return time.Duration(0), nil
			}
			if d, err := time.ParseDuration(s); err == nil {
				return d, nil
			}
			secs, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return data, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			return time.Duration(secs * float64(time.Second)), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// Load reads a TOML/YAML/JSON catalog file via viper (the teacher's exact
// loader stack, internal/config/config.go), expands job_groups into Jobs,
// and validates the result.
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var cat Catalog
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       secondsToDurationHookFunc(),
		Result:           &cat,
	})
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}

	if cat.Jobs == nil {
		cat.Jobs = make(map[string]*Job)
	}
	if cat.ConcurrencyGroups == nil {
		cat.ConcurrencyGroups = make(map[string]*ConcurrencyGroup)
	}

	if err := expandJobGroups(&cat); err != nil {
		return nil, err
	}

	// Propagate each Job's own Name field from its map key: catalogs written
	// by hand commonly omit it since the key is already the name.
	for name, j := range cat.Jobs {
		if strings.TrimSpace(j.Name) == "" {
			j.Name = name
		}
	}

	if err := Validate(&cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// expandJobGroups turns each job_groups entry into one Job per listed
// job_name, overlaying the group's template fields under the member's own
// name, mirroring the teacher's buildGroups member-resolution idiom but
// producing Jobs instead of process groups.
func expandJobGroups(cat *Catalog) error {
	for groupName, jg := range cat.JobGroups {
		if len(jg.JobNames) == 0 {
			return fmt.Errorf("job_group %s requires job_names", groupName)
		}
		for _, memberName := range jg.JobNames {
			j := jg.Job // copy the template
			j.Name = memberName
			if j.JobGroup == "" {
				j.JobGroup = groupName
			}
			if existing, ok := cat.Jobs[memberName]; ok {
				// An explicit jobs[] entry overrides the group template field by field.
				merged := mergeJob(j, *existing)
				cat.Jobs[memberName] = &merged
			} else {
				cat.Jobs[memberName] = &j
			}
		}
	}
	return nil
}

// mergeJob overlays override onto base, keeping base's value for any field
// override left at its zero value.
func mergeJob(base, override Job) Job {
	out := base
	if override.Name != "" {
		out.Name = override.Name
	}
	if len(override.Command) > 0 {
		out.Command = override.Command
	}
	if override.Schedule != "" {
		out.Schedule = override.Schedule
	}
	if override.ScheduleTimezone != "" {
		out.ScheduleTimezone = override.ScheduleTimezone
	}
	if len(override.Environment) > 0 {
		out.Environment = override.Environment
	}
	if override.MaxExecution > 0 {
		out.MaxExecution = override.MaxExecution
	}
	if override.MaxExecutionGrace > 0 {
		out.MaxExecutionGrace = override.MaxExecutionGrace
	}
	if len(override.ConcurrencyGroups) > 0 {
		out.ConcurrencyGroups = override.ConcurrencyGroups
	}
	out.ConcurrentRuns = override.ConcurrentRuns || base.ConcurrentRuns
	out.CommandAppendRun = override.CommandAppendRun || base.CommandAppendRun
	out.RenderReports = override.RenderReports || base.RenderReports
	out.JenkinsEnvironment = override.JenkinsEnvironment || base.JenkinsEnvironment
	if override.JobGroup != "" {
		out.JobGroup = override.JobGroup
	}
	if len(override.PreRun) > 0 {
		out.PreRun, out.PreRunFailureMode = override.PreRun, override.PreRunFailureMode
	}
	if len(override.PostRun) > 0 {
		out.PostRun, out.PostRunFailureMode = override.PostRun, override.PostRunFailureMode
	}
	return out
}

// Validate enforces spec.md's Job-level and catalog-level invariants at load
// time (configuration errors, per spec §7): malformed names, empty
// commands, and structurally invalid cron-field schedules are rejected here.
// RRULE and named-alias schedules are not checked here; internal/schedule's
// Parse rejects them when the reactor builds the job's schedule.
func Validate(cat *Catalog) error {
	if cat.DataDir == "" {
		return fmt.Errorf("catalog: data_dir is required")
	}
	for name, j := range cat.Jobs {
		if !jobNamePattern.MatchString(name) {
			return fmt.Errorf("job %q: name must match %s", name, jobNamePattern.String())
		}
		if len(j.Command) == 0 {
			return fmt.Errorf("job %q: command must be non-empty", name)
		}
		if j.Schedule != "" {
			if err := validateScheduleSyntax(j.Schedule); err != nil {
				return fmt.Errorf("job %q: schedule %q: %w", name, j.Schedule, err)
			}
		}
	}
	return nil
}

// validateScheduleSyntax pre-validates cron-family expressions with
// robfig/cron's field grammar before the H/R-aware engine in
// internal/schedule ever sees them. robfig/cron has no notion of H/R/named
// aliases, so those tokens are substituted with a wildcard placeholder ("*"),
// valid in every field, purely for the purpose of this structural check; actual
// NextFire computation always goes through internal/schedule, never through
// this parser.
func validateScheduleSyntax(expr string) error {
	trimmed := strings.TrimSpace(expr)
	if upper := strings.ToUpper(trimmed); strings.HasPrefix(upper, "FREQ=") || strings.HasPrefix(upper, "RRULE:") {
		// RRULE-style; internal/schedule's own parser validates this family.
		return nil
	}
	if strings.HasPrefix(trimmed, "@") {
		// Named alias (@hourly, @daily, ...); internal/schedule owns expansion.
		return nil
	}
	placeholder := placeholderizeHR(trimmed)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(placeholder)
	if err != nil {
		// The optional seconds field trails the five standard fields;
		// robfig/cron's seconds-enabled parser expects it first.
		fields := strings.Fields(placeholder)
		if len(fields) != 6 {
			return err
		}
		reordered := strings.Join(append([]string{fields[5]}, fields[:5]...), " ")
		parserSec := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err2 := parserSec.Parse(reordered); err2 != nil {
			return err
		}
	}
	return nil
}

func placeholderizeHR(expr string) string {
	fields := strings.Fields(expr)
	for i, f := range fields {
		if strings.HasPrefix(f, "H") || strings.HasPrefix(f, "R") {
			fields[i] = "*"
		}
	}
	return strings.Join(fields, " ")
}
