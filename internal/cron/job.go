// Package cron schedules recurring agent tasks. Jobs live in
// cron_jobs.json, fire on 5-field cron expressions in their own timezone,
// run one-shot CLI sessions inside their task folder, and serialize
// through named dependency keys.
package cron

import (
	"fmt"
	"time"

	cronv3 "github.com/robfig/cron/v3"
)

// scheduleParser accepts standard 5-field cron expressions.
var scheduleParser = cronv3.NewParser(
	cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow)

// Job is one scheduled task.
type Job struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Schedule is a 5-field cron expression evaluated in the job's
	// timezone (falling back to the configured, then host, timezone).
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`

	// Prompt is the agent instruction; the runner appends task-folder
	// memory directions before execution.
	Prompt string `json:"prompt"`

	// TaskFolder names the working directory under <home>/tasks.
	TaskFolder string `json:"task_folder"`

	Enabled bool `json:"enabled"`

	// Per-job execution overrides; empty values fall back to config.
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
	CLIParameters   []string `json:"cli_parameters,omitempty"`
	TimeoutSecs     int      `json:"timeout_secs,omitempty"`

	// Dependency serializes jobs sharing the same key.
	Dependency string `json:"dependency,omitempty"`

	// Quiet-hour overrides; nil falls back to the global heartbeat window.
	QuietStartHour *int `json:"quiet_start_hour,omitempty"`
	QuietEndHour   *int `json:"quiet_end_hour,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus     string     `json:"last_run_status,omitempty"`
	LastRunDurationMS int64      `json:"last_run_duration_ms,omitempty"`
}

// Validate checks the fields a job cannot run without.
func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("cron job needs a name")
	}
	if j.TaskFolder == "" {
		return fmt.Errorf("cron job %q needs a task folder", j.Name)
	}
	if _, err := scheduleParser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("cron job %q schedule %q: %w", j.Name, j.Schedule, err)
	}
	return nil
}

// Next returns the first fire time strictly after now in the given
// location. Returns the zero time for unparsable schedules.
func (j Job) Next(now time.Time, loc *time.Location) time.Time {
	sched, err := scheduleParser.Parse(j.Schedule)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(now.In(loc))
}

// Clone returns a deep copy.
func (j Job) Clone() Job {
	c := j
	if j.CLIParameters != nil {
		c.CLIParameters = append([]string(nil), j.CLIParameters...)
	}
	if j.QuietStartHour != nil {
		v := *j.QuietStartHour
		c.QuietStartHour = &v
	}
	if j.QuietEndHour != nil {
		v := *j.QuietEndHour
		c.QuietEndHour = &v
	}
	if j.LastRunAt != nil {
		v := *j.LastRunAt
		c.LastRunAt = &v
	}
	return c
}
