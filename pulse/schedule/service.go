package schedule

import (
	"context"
	"time"

	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/logger"
	"github.com/teranos/mise/pulse/actor"
)

// ActorKind names job actors in logs and metrics.
const ActorKind = "job"

// staleRetries is how many times a call is replayed after another process
// saved the same job first.
const staleRetries = 3

// Service is the public entry point for jobs. It routes every call to the
// job's actor so calls for one job never overlap.
type Service struct {
	dir  *actor.Directory[*Actor]
	deps *Deps
}

// NewService creates the job service. cfg controls how long idle job actors
// stay in memory.
func NewService(deps Deps, cfg actor.Config) *Service {
	d := deps.withDefaults()
	var observer actor.Observer
	if d.Metrics != nil {
		observer = d.Metrics
	}
	return &Service{
		dir: actor.NewDirectory(ActorKind, func(jobID string) *Actor {
			return NewActor(jobID, d)
		}, cfg, observer, d.Logger),
		deps: d,
	}
}

// Close stops every job actor after its in-flight call.
func (s *Service) Close() {
	s.dir.Close()
}

// ActiveActors returns how many job actors are in memory.
func (s *Service) ActiveActors() int {
	return s.dir.Active()
}

// do runs fn on the job's actor. A call that lost a version race has left the
// actor without cached state, so replaying it works from the latest row.
func (s *Service) do(ctx context.Context, jobID string, fn actor.Handler[*Actor]) error {
	var err error
	for attempt := 1; attempt <= staleRetries; attempt++ {
		err = s.dir.Do(ctx, jobID, fn)
		if !errors.Is(err, ErrStaleVersion) {
			return err
		}
		s.deps.Logger.Debugw("Job saved elsewhere, retrying",
			logger.FieldJobID, jobID,
			logger.FieldAttempt, attempt)
	}
	return err
}

// ScheduleOneTime creates a job that runs once at runAt.
func (s *Service) ScheduleOneTime(ctx context.Context, jobID string, req ScheduleRequest, runAt time.Time) (*Job, error) {
	var job *Job
	err := s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		var err error
		job, err = a.ScheduleOneTime(ctx, req, runAt)
		return err
	})
	return job, err
}

// ScheduleRecurring creates a job that runs every interval.
func (s *Service) ScheduleRecurring(ctx context.Context, jobID string, req ScheduleRequest, interval time.Duration) (*Job, error) {
	var job *Job
	err := s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		var err error
		job, err = a.ScheduleRecurring(ctx, req, interval)
		return err
	})
	return job, err
}

// ScheduleCron creates a job driven by a cron expression.
func (s *Service) ScheduleCron(ctx context.Context, jobID string, req ScheduleRequest, expr string) (*Job, error) {
	var job *Job
	err := s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		var err error
		job, err = a.ScheduleCron(ctx, req, expr)
		return err
	})
	return job, err
}

// GetJob returns a snapshot of the job.
func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job *Job
	err := s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		var err error
		job, err = a.GetJob(ctx)
		return err
	})
	return job, err
}

// GetExecutions returns up to limit recent executions, newest first.
func (s *Service) GetExecutions(ctx context.Context, jobID string, limit int) ([]Execution, error) {
	var execs []Execution
	err := s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		var err error
		execs, err = a.GetExecutions(ctx, limit)
		return err
	})
	return execs, err
}

// Exists reports whether the job has been scheduled.
func (s *Service) Exists(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		var err error
		exists, err = a.Exists(ctx)
		return err
	})
	return exists, err
}

// Trigger runs the job now without changing its schedule.
func (s *Service) Trigger(ctx context.Context, jobID string) (*Execution, error) {
	var exec *Execution
	err := s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		var err error
		exec, err = a.Trigger(ctx)
		return err
	})
	return exec, err
}

// Cancel stops the job for good.
func (s *Service) Cancel(ctx context.Context, jobID, reason string) error {
	return s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		return a.Cancel(ctx, reason)
	})
}

// Pause stops future runs until Resume.
func (s *Service) Pause(ctx context.Context, jobID string) error {
	return s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		return a.Pause(ctx)
	})
}

// Resume restarts a paused job.
func (s *Service) Resume(ctx context.Context, jobID string) error {
	return s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		return a.Resume(ctx)
	})
}

// UpdateSchedule changes the job's interval or cron expression.
func (s *Service) UpdateSchedule(ctx context.Context, jobID string, update ScheduleUpdate) (*Job, error) {
	var job *Job
	err := s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		var err error
		job, err = a.UpdateSchedule(ctx, update)
		return err
	})
	return job, err
}

// Deliver implements wakeup.Deliverer for job wake-ups.
func (s *Service) Deliver(ctx context.Context, entityID, name string) error {
	jobID, ok := JobIDFromWakeup(entityID)
	if !ok {
		return errors.NewInvalidRequestError("wake-up entity %q is not a job", entityID)
	}
	return s.do(ctx, jobID, func(ctx context.Context, a *Actor) error {
		return a.HandleWakeup(ctx, name)
	})
}
