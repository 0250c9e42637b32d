package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/mise/db"
	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/pulse/trigger"
)

// ErrStaleVersion is returned by Save when the stored job is no longer the
// version the caller read, usually because another process wrote it first.
var ErrStaleVersion = errors.Mark(errors.New("stale job version"), errors.ErrConflict)

// StateStore loads and saves job state. Save must be durable when it returns.
type StateStore interface {
	// Load returns the job, or an error matching errors.ErrNotFound.
	Load(ctx context.Context, jobID string) (*Job, error)
	// Save writes job when no row exists yet or the stored version is
	// job.Version-1. Otherwise it returns an error matching ErrStaleVersion.
	Save(ctx context.Context, job *Job) error
}

// Store handles persistence of scheduled jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `
	job_id, org_id, name, description,
	trigger_type, run_at, interval_ms, cron_expression,
	target, status, next_run_at, last_run_at,
	execution_count, failure_count, max_retries, is_enabled,
	history, version, created_at, updated_at`

// Save inserts the job row, or updates it if the stored version is the one
// job was derived from.
func (s *Store) Save(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO job_schedules (` + jobColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			org_id = excluded.org_id,
			name = excluded.name,
			description = excluded.description,
			trigger_type = excluded.trigger_type,
			run_at = excluded.run_at,
			interval_ms = excluded.interval_ms,
			cron_expression = excluded.cron_expression,
			target = excluded.target,
			status = excluded.status,
			next_run_at = excluded.next_run_at,
			last_run_at = excluded.last_run_at,
			execution_count = excluded.execution_count,
			failure_count = excluded.failure_count,
			max_retries = excluded.max_retries,
			is_enabled = excluded.is_enabled,
			history = excluded.history,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE job_schedules.version = excluded.version - 1
	`

	target, err := json.Marshal(job.Target)
	if err != nil {
		return errors.Wrapf(err, "failed to encode target for job %s", job.JobID)
	}

	history := job.History
	if history == nil {
		history = []Execution{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return errors.Wrapf(err, "failed to encode history for job %s", job.JobID)
	}

	res, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.OrgID,
		job.Name,
		job.Description,
		string(job.TriggerType),
		db.NullTime(job.RunAt),
		job.Interval.Milliseconds(),
		job.CronExpression,
		string(target),
		string(job.Status),
		db.NullTime(job.NextRunAt),
		db.NullTime(job.LastRunAt),
		job.ExecutionCount,
		job.FailureCount,
		job.MaxRetries,
		job.IsEnabled,
		string(historyJSON),
		job.Version,
		db.FormatTime(job.CreatedAt),
		db.FormatTime(job.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save job %s", job.JobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to save job %s", job.JobID)
	}
	if n == 0 {
		return errors.Wrapf(ErrStaleVersion, "job %s changed before version %d was saved", job.JobID, job.Version)
	}
	return nil
}

// Load retrieves a job by ID
func (s *Store) Load(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM job_schedules WHERE job_id = ?`, jobID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("job %s does not exist", jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load job %s", jobID)
	}
	return job, nil
}

// ListByOrg returns every job in the organization, newest first.
func (s *Store) ListByOrg(ctx context.Context, orgID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM job_schedules WHERE org_id = ? ORDER BY created_at DESC`,
		orgID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list jobs for org %s", orgID)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var triggerType, status, target, history, createdAt, updatedAt string
	var runAt, nextRunAt, lastRunAt sql.NullString
	var intervalMs int64

	err := row.Scan(
		&job.JobID,
		&job.OrgID,
		&job.Name,
		&job.Description,
		&triggerType,
		&runAt,
		&intervalMs,
		&job.CronExpression,
		&target,
		&status,
		&nextRunAt,
		&lastRunAt,
		&job.ExecutionCount,
		&job.FailureCount,
		&job.MaxRetries,
		&job.IsEnabled,
		&history,
		&job.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.TriggerType = trigger.Type(triggerType)
	job.Status = Status(status)
	job.Interval = time.Duration(intervalMs) * time.Millisecond

	// Parse failures indicate data corruption or schema mismatch
	if job.RunAt, err = db.ParseNullTime(runAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse run_at for job %s", job.JobID)
	}
	if job.NextRunAt, err = db.ParseNullTime(nextRunAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse next_run_at for job %s", job.JobID)
	}
	if job.LastRunAt, err = db.ParseNullTime(lastRunAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse last_run_at for job %s", job.JobID)
	}
	if job.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", job.JobID)
	}
	if job.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", job.JobID)
	}

	if err := json.Unmarshal([]byte(target), &job.Target); err != nil {
		return nil, errors.Wrapf(err, "failed to decode target for job %s", job.JobID)
	}
	if err := json.Unmarshal([]byte(history), &job.History); err != nil {
		return nil, errors.Wrapf(err, "failed to decode history for job %s", job.JobID)
	}

	return &job, nil
}
