// Package schedule implements the per-job scheduling actor.
//
// Each job is owned by one Actor. The Actor computes the next run with the
// trigger package, keeps a durable wake-up registered for that time, runs the
// job's target when the wake-up arrives, and records a bounded execution
// history. Every mutation is persisted before the call returns.
package schedule

import (
	"time"

	"github.com/teranos/mise/pulse/invoke"
	"github.com/teranos/mise/pulse/trigger"
)

// Status is the lifecycle state of a job.
type Status string

// Status constants for scheduled jobs
const (
	StatusScheduled Status = "Scheduled" // Waiting for its next run
	StatusRunning   Status = "Running"   // Target invocation in progress
	StatusPaused    Status = "Paused"    // Temporarily stopped by a caller
	StatusCancelled Status = "Cancelled" // Stopped for good
	StatusCompleted Status = "Completed" // One-time job that has fired
	StatusFailed    Status = "Failed"    // Last execution failed
)

// Statuses lists every status in declaration order.
var Statuses = []Status{
	StatusScheduled,
	StatusRunning,
	StatusPaused,
	StatusCancelled,
	StatusCompleted,
	StatusFailed,
}

// ParseStatus returns the Status named s.
func ParseStatus(s string) (Status, bool) {
	for _, status := range Statuses {
		if string(status) == s {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further runs can happen.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// HistoryLimit caps the execution history kept per job.
const HistoryLimit = 50

// DefaultExecutionLimit is used by GetExecutions when no positive limit is given.
const DefaultExecutionLimit = 20

// Job is the persisted state of one scheduled job.
type Job struct {
	JobID       string
	OrgID       string
	Name        string
	Description string

	TriggerType    trigger.Type
	RunAt          *time.Time    // OneTime
	Interval       time.Duration // Recurring
	CronExpression string        // Cron

	Target invoke.Target

	Status         Status
	NextRunAt      *time.Time
	LastRunAt      *time.Time
	ExecutionCount int64
	FailureCount   int64
	MaxRetries     int // stored, not enforced
	IsEnabled      bool

	// History is newest first and never longer than HistoryLimit.
	History []Execution

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Exists reports whether the job has been created by a Schedule call.
func (j *Job) Exists() bool {
	return j != nil && j.JobID != ""
}

// Trigger returns the trigger spec for the job.
func (j *Job) Trigger() trigger.Spec {
	spec := trigger.Spec{
		Type:           j.TriggerType,
		Interval:       j.Interval,
		CronExpression: j.CronExpression,
	}
	if j.RunAt != nil {
		spec.RunAt = *j.RunAt
	}
	return spec
}

// Clone returns a deep copy that shares nothing mutable with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.RunAt = cloneTime(j.RunAt)
	c.NextRunAt = cloneTime(j.NextRunAt)
	c.LastRunAt = cloneTime(j.LastRunAt)
	if j.Target.Parameters != nil {
		c.Target.Parameters = make(map[string]string, len(j.Target.Parameters))
		for k, v := range j.Target.Parameters {
			c.Target.Parameters[k] = v
		}
	}
	c.History = make([]Execution, len(j.History))
	copy(c.History, j.History)
	return &c
}

// Executions returns up to limit of the most recent executions, newest first.
// A non-positive limit means DefaultExecutionLimit.
func (j *Job) Executions(limit int) []Execution {
	if limit <= 0 {
		limit = DefaultExecutionLimit
	}
	if limit > len(j.History) {
		limit = len(j.History)
	}
	out := make([]Execution, limit)
	copy(out, j.History[:limit])
	return out
}

func (j *Job) recordExecution(exec Execution) {
	history := make([]Execution, 0, HistoryLimit)
	history = append(history, exec)
	history = append(history, j.History...)
	if len(history) > HistoryLimit {
		history = history[:HistoryLimit]
	}
	j.History = history
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
