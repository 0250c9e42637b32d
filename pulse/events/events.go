// Package events publishes job lifecycle events.
//
// Publishing is fire-and-forget from the scheduler's point of view: a failed
// publish is logged by the caller and never changes job state.
package events

import (
	"context"
	"time"
)

// Topics for job lifecycle events.
const (
	TopicJobScheduled = "jobs.scheduled"
	TopicJobStarted   = "jobs.started"
	TopicJobCompleted = "jobs.completed"
	TopicJobCancelled = "jobs.cancelled"
)

// Topics lists every topic the scheduler publishes to.
var Topics = []string{TopicJobScheduled, TopicJobStarted, TopicJobCompleted, TopicJobCancelled}

// Event is a single lifecycle notification. Fields that do not apply to the
// topic are left zero.
type Event struct {
	Topic        string     `json:"topic"`
	JobID        string     `json:"job_id"`
	OrgID        string     `json:"org_id"`
	Name         string     `json:"name,omitempty"`
	TriggerType  string     `json:"trigger_type,omitempty"`
	ExecutionID  string     `json:"execution_id,omitempty"`
	Success      *bool      `json:"success,omitempty"`
	DurationMs   int64      `json:"duration_ms,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// Publisher delivers events to a transport.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every publisher in order and returns the first error.
// A failing publisher does not stop the others.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, evt Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}
