package schedule

import "time"

// Execution is one run of a job's target. It is immutable once recorded.
type Execution struct {
	ExecutionID  string    `json:"execution_id"`
	JobID        string    `json:"job_id"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	Success      bool      `json:"success"`
	ErrorMessage *string   `json:"error_message,omitempty"` // nil on success
	DurationMs   int64     `json:"duration_ms"`
}

// Duration returns how long the target ran.
func (e Execution) Duration() time.Duration {
	return time.Duration(e.DurationMs) * time.Millisecond
}
