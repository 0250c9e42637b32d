package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/mise/errors"
	misetest "github.com/teranos/mise/internal/testing"
	"github.com/teranos/mise/internal/util"
	"github.com/teranos/mise/pulse/invoke"
	"github.com/teranos/mise/pulse/trigger"
)

func sampleJob() *Job {
	return &Job{
		JobID:          "job-1",
		OrgID:          "org-1",
		Name:           "nightly stock count",
		Description:    "count inventory after close",
		TriggerType:    trigger.TypeCron,
		CronExpression: "30 23 * * *",
		Target: invoke.Target{
			Type:       "inventory",
			Key:        "store-7",
			Method:     "count",
			Parameters: map[string]string{"mode": "full"},
		},
		Status:         StatusFailed,
		NextRunAt:      util.Ptr(epoch.Add(15*time.Hour + 30*time.Minute)),
		LastRunAt:      util.Ptr(epoch.Add(-time.Hour)),
		ExecutionCount: 4,
		FailureCount:   1,
		MaxRetries:     2,
		IsEnabled:      true,
		History: []Execution{
			{
				ExecutionID:  "exec-2",
				JobID:        "job-1",
				StartedAt:    epoch.Add(-time.Hour),
				CompletedAt:  epoch.Add(-time.Hour + 1500*time.Millisecond),
				Success:      false,
				ErrorMessage: util.Ptr("scanner offline"),
				DurationMs:   1500,
			},
			{
				ExecutionID: "exec-1",
				JobID:       "job-1",
				StartedAt:   epoch.Add(-25 * time.Hour),
				CompletedAt: epoch.Add(-25*time.Hour + 200*time.Millisecond),
				Success:     true,
				DurationMs:  200,
			},
		},
		Version:   7,
		CreatedAt: epoch.Add(-72 * time.Hour),
		UpdatedAt: epoch.Add(-time.Hour),
	}
}

func TestStoreSaveAndLoad(t *testing.T) {
	store := NewStore(misetest.CreateTestDB(t))
	ctx := context.Background()

	job := sampleJob()
	require.NoError(t, store.Save(ctx, job))

	loaded, err := store.Load(ctx, "job-1")
	require.NoError(t, err)

	assert.Equal(t, job.OrgID, loaded.OrgID)
	assert.Equal(t, job.Name, loaded.Name)
	assert.Equal(t, job.Description, loaded.Description)
	assert.Equal(t, job.TriggerType, loaded.TriggerType)
	assert.Equal(t, job.CronExpression, loaded.CronExpression)
	assert.Equal(t, job.Target, loaded.Target)
	assert.Equal(t, job.Status, loaded.Status)
	assert.True(t, job.NextRunAt.Equal(*loaded.NextRunAt))
	assert.True(t, job.LastRunAt.Equal(*loaded.LastRunAt))
	assert.Nil(t, loaded.RunAt)
	assert.Equal(t, job.ExecutionCount, loaded.ExecutionCount)
	assert.Equal(t, job.FailureCount, loaded.FailureCount)
	assert.Equal(t, job.MaxRetries, loaded.MaxRetries)
	assert.True(t, loaded.IsEnabled)
	assert.Equal(t, job.Version, loaded.Version)
	assert.True(t, job.CreatedAt.Equal(loaded.CreatedAt))

	require.Len(t, loaded.History, 2)
	assert.Equal(t, "exec-2", loaded.History[0].ExecutionID)
	require.NotNil(t, loaded.History[0].ErrorMessage)
	assert.Equal(t, "scanner offline", *loaded.History[0].ErrorMessage)
	assert.Nil(t, loaded.History[1].ErrorMessage)
	assert.Equal(t, 1500*time.Millisecond, loaded.History[0].Duration())
}

func TestStoreSaveOverwrites(t *testing.T) {
	store := NewStore(misetest.CreateTestDB(t))
	ctx := context.Background()

	job := sampleJob()
	require.NoError(t, store.Save(ctx, job))

	job.Status = StatusCancelled
	job.IsEnabled = false
	job.NextRunAt = nil
	job.Version++
	require.NoError(t, store.Save(ctx, job))

	loaded, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, loaded.Status)
	assert.False(t, loaded.IsEnabled)
	assert.Nil(t, loaded.NextRunAt)
	assert.Equal(t, int64(8), loaded.Version)
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(misetest.CreateTestDB(t))

	_, err := store.Load(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreListByOrg(t *testing.T) {
	store := NewStore(misetest.CreateTestDB(t))
	ctx := context.Background()

	older := sampleJob()
	newer := sampleJob()
	newer.JobID = "job-2"
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)
	other := sampleJob()
	other.JobID = "job-3"
	other.OrgID = "org-2"

	for _, job := range []*Job{older, newer, other} {
		require.NoError(t, store.Save(ctx, job))
	}

	jobs, err := store.ListByOrg(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-2", jobs[0].JobID)
	assert.Equal(t, "job-1", jobs[1].JobID)
}

func TestStoreSaveError(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectExec("INSERT INTO job_schedules").WillReturnError(errors.New("disk full"))

	err = NewStore(database).Save(context.Background(), sampleJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save job job-1")
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLoadCorruptTimestamp(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	rows := sqlmock.NewRows([]string{
		"job_id", "org_id", "name", "description",
		"trigger_type", "run_at", "interval_ms", "cron_expression",
		"target", "status", "next_run_at", "last_run_at",
		"execution_count", "failure_count", "max_retries", "is_enabled",
		"history", "version", "created_at", "updated_at",
	}).AddRow(
		"job-1", "org-1", "n", "",
		"Recurring", nil, int64(60000), "",
		"{}", "Scheduled", "not-a-time", nil,
		int64(0), int64(0), 0, true,
		"[]", int64(1), "2026-03-14T08:00:00.000000000Z", "2026-03-14T08:00:00.000000000Z",
	)
	mock.ExpectQuery("SELECT").WithArgs("job-1").WillReturnRows(rows)

	_, err = NewStore(database).Load(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next_run_at")
	assert.False(t, errors.IsNotFoundError(err))
}

func TestJobCloneIsDeep(t *testing.T) {
	job := sampleJob()
	c := job.Clone()

	c.Target.Parameters["mode"] = "partial"
	*c.NextRunAt = c.NextRunAt.Add(time.Hour)
	c.History[0].ExecutionID = "changed"

	assert.Equal(t, "full", job.Target.Parameters["mode"])
	assert.Equal(t, epoch.Add(15*time.Hour+30*time.Minute), *job.NextRunAt)
	assert.Equal(t, "exec-2", job.History[0].ExecutionID)

	var nilJob *Job
	assert.Nil(t, nilJob.Clone())
	assert.False(t, nilJob.Exists())
}

func TestParseStatus(t *testing.T) {
	status, ok := ParseStatus("Paused")
	assert.True(t, ok)
	assert.Equal(t, StatusPaused, status)

	_, ok = ParseStatus("paused")
	assert.False(t, ok)

	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.False(t, StatusFailed.IsTerminal())
}

func TestStoreSaveRejectsStaleVersion(t *testing.T) {
	store := NewStore(misetest.CreateTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleJob()))

	// Another writer moves the row to version 8
	winner := sampleJob()
	winner.Version = 8
	winner.Status = StatusPaused
	require.NoError(t, store.Save(ctx, winner))

	// A writer still holding version 7 also produces 8
	loser := sampleJob()
	loser.Version = 8
	loser.Status = StatusCancelled
	err := store.Save(ctx, loser)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleVersion))
	assert.True(t, errors.Is(err, errors.ErrConflict))

	loaded, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, loaded.Status)
	assert.Equal(t, int64(8), loaded.Version)

	// Inserting a job that already exists is stale too
	dup := sampleJob()
	dup.Version = 1
	assert.True(t, errors.Is(store.Save(ctx, dup), ErrStaleVersion))
}
