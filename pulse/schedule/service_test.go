package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/mise/errors"
	misetest "github.com/teranos/mise/internal/testing"
	"github.com/teranos/mise/pulse/actor"
	"github.com/teranos/mise/pulse/wakeup"
)

type serviceHarness struct {
	*harness
	service     *Service
	ticker      *wakeup.Ticker
	wakeupStore *wakeup.Store
}

// newServiceHarness wires the job service to the real durable wake-up
// service and ticker over one SQLite database.
func newServiceHarness(t *testing.T, cfg actor.Config) *serviceHarness {
	t.Helper()
	database := misetest.CreateTestDB(t)
	log := zaptest.NewLogger(t).Sugar()

	h := newHarness(t)
	h.store = NewStore(database)
	h.deps.Store = h.store

	wakeStore := wakeup.NewStore(database)
	h.deps.Wakeups = wakeup.NewService(wakeStore, log, wakeup.WithClock(h.clock.Now))

	svc := NewService(h.deps, cfg)
	t.Cleanup(svc.Close)

	ticker := wakeup.NewTicker(wakeStore, svc, wakeup.DefaultTickerConfig(), nil, log)
	ticker.SetClock(h.clock.Now)

	return &serviceHarness{harness: h, service: svc, ticker: ticker, wakeupStore: wakeStore}
}

func (s *serviceHarness) tick(t *testing.T) int {
	t.Helper()
	n, err := s.ticker.Poll(context.Background())
	require.NoError(t, err)
	s.ticker.WaitIdle()
	return n
}

func TestServiceRecurringThroughWakeups(t *testing.T) {
	s := newServiceHarness(t, actor.Config{})
	ctx := context.Background()

	_, err := s.service.ScheduleRecurring(ctx, "job-1", menuRequest(), 2*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 0, s.tick(t), "not due yet")

	for i := 0; i < 3; i++ {
		s.clock.Advance(2 * time.Minute)
		assert.Equal(t, 1, s.tick(t))
	}

	job, err := s.service.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), job.ExecutionCount)
	assert.Equal(t, StatusScheduled, job.Status)

	execs, err := s.service.GetExecutions(ctx, "job-1", 10)
	require.NoError(t, err)
	assert.Len(t, execs, 3)
}

func TestServiceOneTimeFiresOnce(t *testing.T) {
	s := newServiceHarness(t, actor.Config{})
	ctx := context.Background()

	_, err := s.service.ScheduleOneTime(ctx, "job-1", menuRequest(), s.clock.Now().Add(5*time.Second))
	require.NoError(t, err)

	s.clock.Advance(5 * time.Second)
	assert.Equal(t, 1, s.tick(t))

	s.clock.Advance(time.Hour)
	assert.Equal(t, 0, s.tick(t), "no wake-up left after completion")

	job, err := s.service.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 1, s.invoker.calls)
}

func TestServiceCronReschedulesWakeup(t *testing.T) {
	s := newServiceHarness(t, actor.Config{})
	ctx := context.Background()

	_, err := s.service.ScheduleCron(ctx, "job-1", menuRequest(), "30 9 * * *")
	require.NoError(t, err)

	s.clock.Set(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, 1, s.tick(t))

	// The next firing is tomorrow; the next minute's poll finds nothing
	s.clock.Advance(time.Minute)
	assert.Equal(t, 0, s.tick(t))

	job, err := s.service.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC), *job.NextRunAt)
	assert.Equal(t, 1, s.invoker.calls)
}

func TestServicePausedJobIsNotDelivered(t *testing.T) {
	s := newServiceHarness(t, actor.Config{})
	ctx := context.Background()

	_, err := s.service.ScheduleRecurring(ctx, "job-1", menuRequest(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.service.Pause(ctx, "job-1"))

	s.clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, s.tick(t))

	require.NoError(t, s.service.Resume(ctx, "job-1"))
	s.clock.Advance(time.Second)
	assert.Equal(t, 1, s.tick(t))
	assert.Equal(t, 1, s.invoker.calls)
}

func TestServiceSurvivesActorEviction(t *testing.T) {
	s := newServiceHarness(t, actor.Config{
		IdleTimeout:     20 * time.Millisecond,
		CleanupInterval: 5 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := s.service.ScheduleRecurring(ctx, "job-1", menuRequest(), time.Minute)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.service.ActiveActors() == 0 }, 2*time.Second, 5*time.Millisecond)

	s.clock.Advance(time.Minute)
	assert.Equal(t, 1, s.tick(t))

	job, err := s.service.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), job.ExecutionCount)
}

func TestServiceSerializesCallsPerJob(t *testing.T) {
	s := newServiceHarness(t, actor.Config{})
	ctx := context.Background()

	_, err := s.service.ScheduleRecurring(ctx, "job-1", menuRequest(), time.Hour)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Trigger(ctx, "job-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	job, err := s.service.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), job.ExecutionCount)
	assert.Len(t, job.History, n)
	// One commit to schedule, two per run
	assert.Equal(t, int64(1+2*n), job.Version)
}

func TestServiceOperations(t *testing.T) {
	s := newServiceHarness(t, actor.Config{})
	ctx := context.Background()

	exists, err := s.service.Exists(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.service.ScheduleRecurring(ctx, "job-1", menuRequest(), time.Hour)
	require.NoError(t, err)

	exists, err = s.service.Exists(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, exists)

	interval := 30 * time.Minute
	job, err := s.service.UpdateSchedule(ctx, "job-1", ScheduleUpdate{Interval: &interval})
	require.NoError(t, err)
	assert.Equal(t, interval, job.Interval)

	exec, err := s.service.Trigger(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, exec.Success)

	require.NoError(t, s.service.Cancel(ctx, "job-1", "menu retired"))
	job, err = s.service.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)

	_, err = s.service.GetJob(ctx, "")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestServiceDeliverRejectsForeignEntity(t *testing.T) {
	s := newServiceHarness(t, actor.Config{})

	err := s.service.Deliver(context.Background(), "registry:org-1", WakeupName)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestServicesSharingDatabaseKeepEachOthersWrites(t *testing.T) {
	s := newServiceHarness(t, actor.Config{})
	ctx := context.Background()

	// A second process over the same database
	other := NewService(s.deps, actor.Config{})
	t.Cleanup(other.Close)

	_, err := s.service.ScheduleRecurring(ctx, "job-1", menuRequest(), 2*time.Minute)
	require.NoError(t, err)

	interval := 10 * time.Minute
	_, err = other.UpdateSchedule(ctx, "job-1", ScheduleUpdate{Interval: &interval})
	require.NoError(t, err)

	// The first process still caches the 2m version when its tick arrives
	s.clock.Advance(2 * time.Minute)
	require.NoError(t, s.service.Deliver(ctx, WakeupEntityID("job-1"), WakeupName))

	job, err := s.store.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, job.Interval)
	assert.Equal(t, StatusScheduled, job.Status)
	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, epoch.Add(12*time.Minute), *job.NextRunAt)
	assert.Equal(t, int64(1), job.ExecutionCount)
	assert.Len(t, job.History, 1)
	assert.Equal(t, 1, s.invoker.calls)
}

func TestOutcomeSurvivesConcurrentPauseFromAnotherProcess(t *testing.T) {
	s := newServiceHarness(t, actor.Config{})
	ctx := context.Background()

	other := NewService(s.deps, actor.Config{})
	t.Cleanup(other.Close)

	_, err := s.service.ScheduleRecurring(ctx, "job-1", menuRequest(), 2*time.Minute)
	require.NoError(t, err)

	// Paused elsewhere while the target is running here
	s.invoker.hook = func() {
		assert.NoError(t, other.Pause(ctx, "job-1"))
	}
	s.clock.Advance(2 * time.Minute)
	s.tick(t)

	job, err := s.store.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, job.Status)
	assert.Equal(t, int64(1), job.ExecutionCount)
	require.Len(t, job.History, 1)
	assert.True(t, job.History[0].Success)
	assert.Equal(t, 1, s.invoker.calls)

	_, err = s.wakeupStore.Get(ctx, WakeupEntityID("job-1"), WakeupName)
	assert.True(t, errors.IsNotFoundError(err), "paused job has no wake-up")
}
