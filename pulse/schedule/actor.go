package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/logger"
	"github.com/teranos/mise/pulse/events"
	"github.com/teranos/mise/pulse/invoke"
	"github.com/teranos/mise/pulse/trigger"
	"github.com/teranos/mise/pulse/wakeup"
)

// WakeupName is the name of the single wake-up each job registers.
const WakeupName = "job-tick"

// CronRecheck is the repeat period registered for cron jobs. The exact next
// tick is only known after recomputation, so the wake-up re-checks every minute.
const CronRecheck = time.Minute

// minDueTime clamps wake-ups for run times already in the past.
const minDueTime = time.Second

// maxSaveAttempts bounds how often an execution outcome is re-applied after
// losing a version race.
const maxSaveAttempts = 3

const wakeupEntityPrefix = "job:"

// WakeupEntityID returns the wake-up entity id for a job.
func WakeupEntityID(jobID string) string {
	return wakeupEntityPrefix + jobID
}

// JobIDFromWakeup extracts the job id from a wake-up entity id.
func JobIDFromWakeup(entityID string) (string, bool) {
	if !strings.HasPrefix(entityID, wakeupEntityPrefix) {
		return "", false
	}
	return strings.TrimPrefix(entityID, wakeupEntityPrefix), true
}

// ScheduleRequest holds the fields shared by every Schedule call.
type ScheduleRequest struct {
	OrgID       string
	Name        string
	Description string
	Target      invoke.Target
	MaxRetries  int
}

// ScheduleUpdate changes a job's trigger. Exactly the field matching the
// job's trigger type may be set.
type ScheduleUpdate struct {
	Interval       *time.Duration
	CronExpression *string
}

// Actor owns one job. It is not safe for concurrent use; the Service runs
// every call on the job's mailbox.
type Actor struct {
	jobID  string
	deps   *Deps
	state  *Job // nil until the job is scheduled
	loaded bool
	logger *zap.SugaredLogger
}

// NewActor creates the actor for jobID. State is loaded on first use.
func NewActor(jobID string, deps *Deps) *Actor {
	d := deps.withDefaults()
	return &Actor{
		jobID:  jobID,
		deps:   d,
		logger: d.Logger.With(logger.FieldJobID, jobID),
	}
}

// load restores state from the store once per activation.
func (a *Actor) load(ctx context.Context) error {
	if a.loaded {
		return nil
	}
	job, err := a.deps.Store.Load(ctx, a.jobID)
	switch {
	case errors.IsNotFoundError(err):
		a.state = nil
	case err != nil:
		return err
	default:
		a.state = job
	}
	a.loaded = true
	return nil
}

// current loads state and returns it, or a not-found error.
func (a *Actor) current(ctx context.Context) (*Job, error) {
	if err := a.load(ctx); err != nil {
		return nil, err
	}
	if !a.state.Exists() {
		return nil, errors.NewNotFoundError("job %s does not exist", a.jobID)
	}
	return a.state, nil
}

// commit persists next as the version after the one it was cloned from and
// makes it the current state. On failure, including ErrStaleVersion, the
// in-memory state is dropped so the next call reloads from the store.
func (a *Actor) commit(ctx context.Context, next *Job) error {
	next.Version++
	next.UpdatedAt = a.deps.now()
	if err := a.deps.Store.Save(ctx, next); err != nil {
		a.loaded = false
		a.state = nil
		return err
	}
	a.state = next
	return nil
}

// Exists reports whether the job has been scheduled.
func (a *Actor) Exists(ctx context.Context) (bool, error) {
	if err := a.load(ctx); err != nil {
		return false, err
	}
	return a.state.Exists(), nil
}

// GetJob returns a copy of the job state.
func (a *Actor) GetJob(ctx context.Context) (*Job, error) {
	job, err := a.current(ctx)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// GetExecutions returns up to limit recent executions, newest first.
func (a *Actor) GetExecutions(ctx context.Context, limit int) ([]Execution, error) {
	job, err := a.current(ctx)
	if err != nil {
		return nil, err
	}
	return job.Executions(limit), nil
}

// ScheduleOneTime creates a job that runs once at runAt.
func (a *Actor) ScheduleOneTime(ctx context.Context, req ScheduleRequest, runAt time.Time) (*Job, error) {
	if runAt.IsZero() {
		return nil, errors.NewInvalidRequestError("run time is required")
	}
	spec := trigger.OneTime(runAt)
	return a.schedule(ctx, req, spec)
}

// ScheduleRecurring creates a job that runs every interval.
func (a *Actor) ScheduleRecurring(ctx context.Context, req ScheduleRequest, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		return nil, errors.NewInvalidRequestError("interval must be positive, got %s", interval)
	}
	return a.schedule(ctx, req, trigger.Recurring(interval))
}

// ScheduleCron creates a job driven by a cron expression. Only the minute and
// hour fields are honored; an unparseable expression runs hourly.
func (a *Actor) ScheduleCron(ctx context.Context, req ScheduleRequest, expr string) (*Job, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, errors.NewInvalidRequestError("cron expression is required")
	}
	return a.schedule(ctx, req, trigger.Cron(expr))
}

func (a *Actor) schedule(ctx context.Context, req ScheduleRequest, spec trigger.Spec) (*Job, error) {
	if req.OrgID == "" {
		return nil, errors.NewInvalidRequestError("org id is required")
	}
	if req.Name == "" {
		return nil, errors.NewInvalidRequestError("job name is required")
	}
	if err := a.load(ctx); err != nil {
		return nil, err
	}
	if a.state.Exists() {
		return nil, errors.WithHint(
			errors.NewConflictError("job %s already scheduled", a.jobID),
			"use update to change its trigger, or cancel it and schedule a new job")
	}

	now := a.deps.now()
	job := &Job{
		JobID:          a.jobID,
		OrgID:          req.OrgID,
		Name:           req.Name,
		Description:    req.Description,
		TriggerType:    spec.Type,
		Interval:       spec.Interval,
		CronExpression: spec.CronExpression,
		Target:         req.Target,
		Status:         StatusScheduled,
		MaxRetries:     req.MaxRetries,
		IsEnabled:      true,
		History:        []Execution{},
		CreatedAt:      now,
	}
	if spec.Type == trigger.TypeOneTime {
		runAt := spec.RunAt
		job.RunAt = &runAt
	}
	job.NextRunAt = trigger.NextRun(spec, now)

	if err := a.commit(ctx, job); err != nil {
		return nil, err
	}
	if err := a.registerWakeup(ctx, job, now); err != nil {
		return nil, err
	}

	a.logger.Infow("Job scheduled",
		logger.FieldOrgID, job.OrgID,
		logger.FieldTriggerType, job.TriggerType,
		logger.FieldNextRunAt, job.NextRunAt)

	a.publish(ctx, events.Event{Topic: events.TopicJobScheduled, NextRunAt: job.NextRunAt})
	a.syncRegistry(ctx, func(reg RegistryClient) error {
		if err := reg.Initialize(ctx); err != nil {
			return err
		}
		if err := reg.RegisterJob(ctx, job.JobID, job.Name, job.TriggerType); err != nil {
			return err
		}
		return reg.UpdateJobStatus(ctx, job.JobID, job.Status, job.NextRunAt)
	})

	return job.Clone(), nil
}

// HandleWakeup processes a wake-up delivered by the wake-up service. Target
// failures are recorded in the history and never returned; only storage
// errors are, so that the wake-up is redelivered.
func (a *Actor) HandleWakeup(ctx context.Context, name string) error {
	if err := a.load(ctx); err != nil {
		return err
	}
	job := a.state
	if !job.Exists() {
		a.logger.Debugw("Wake-up for unknown job ignored", logger.FieldWakeup, name)
		return nil
	}
	if !job.IsEnabled || job.Status == StatusPaused || job.Status == StatusCancelled {
		a.logger.Debugw("Wake-up ignored", logger.FieldStatus, job.Status)
		return nil
	}
	if job.TriggerType == trigger.TypeCron && job.NextRunAt != nil && a.deps.now().Before(*job.NextRunAt) {
		// Minute re-check that arrived before the computed run time
		return nil
	}

	_, err := a.execute(ctx, func(next *Job) {
		now := a.deps.now()
		switch next.TriggerType {
		case trigger.TypeRecurring, trigger.TypeCron:
			next.NextRunAt = trigger.NextRun(next.Trigger(), now)
		default:
			next.Status = StatusCompleted
			next.IsEnabled = false
			next.NextRunAt = nil
		}
	})
	if err != nil {
		return err
	}

	job = a.state
	switch {
	case job.Status == StatusPaused || job.Status == StatusCancelled:
		// Another writer changed the job while the target ran and already
		// took care of the wake-up.
	case job.TriggerType == trigger.TypeCron:
		if err := a.registerWakeup(ctx, job, a.deps.now()); err != nil {
			return err
		}
	case job.TriggerType == trigger.TypeOneTime:
		if err := a.deps.Wakeups.Unregister(ctx, WakeupEntityID(a.jobID), WakeupName); err != nil {
			return err
		}
		a.logger.Infow("One-time job completed")
	}

	a.pushStatus(ctx, job)
	return nil
}

// Trigger runs the job immediately, outside its normal cadence. NextRunAt is
// not changed. A paused job stays paused.
func (a *Actor) Trigger(ctx context.Context) (*Execution, error) {
	job, err := a.current(ctx)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, errors.NewInvalidStateError("job %s is %s", a.jobID, strings.ToLower(string(job.Status)))
	}
	previous := job.Status

	exec, err := a.execute(ctx, func(next *Job) {
		if previous == StatusPaused {
			next.Status = StatusPaused
		}
	})
	if err != nil {
		return nil, err
	}

	a.pushStatus(ctx, a.state)
	return exec, nil
}

// Cancel stops the job for good. Cancelling a cancelled job is a no-op.
func (a *Actor) Cancel(ctx context.Context, reason string) error {
	job, err := a.current(ctx)
	if err != nil {
		return err
	}
	if job.Status == StatusCancelled {
		return nil
	}

	next := job.Clone()
	next.Status = StatusCancelled
	next.IsEnabled = false
	next.NextRunAt = nil
	if err := a.commit(ctx, next); err != nil {
		return err
	}

	// A leftover wake-up is ignored once the job is cancelled
	if err := a.deps.Wakeups.Unregister(ctx, WakeupEntityID(a.jobID), WakeupName); err != nil {
		return err
	}

	a.logger.Infow("Job cancelled", "reason", reason)
	a.publish(ctx, events.Event{Topic: events.TopicJobCancelled, Reason: reason})
	a.pushStatus(ctx, next)
	return nil
}

// Pause stops future runs until Resume. NextRunAt is kept.
func (a *Actor) Pause(ctx context.Context) error {
	job, err := a.current(ctx)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return errors.NewInvalidStateError("job %s is %s", a.jobID, strings.ToLower(string(job.Status)))
	}
	if job.Status == StatusPaused {
		return nil
	}

	next := job.Clone()
	next.Status = StatusPaused
	if err := a.commit(ctx, next); err != nil {
		return err
	}
	if err := a.deps.Wakeups.Unregister(ctx, WakeupEntityID(a.jobID), WakeupName); err != nil {
		return err
	}

	a.logger.Infow("Job paused", logger.FieldNextRunAt, next.NextRunAt)
	a.pushStatus(ctx, next)
	return nil
}

// Resume restarts a paused job at its retained NextRunAt.
func (a *Actor) Resume(ctx context.Context) error {
	job, err := a.current(ctx)
	if err != nil {
		return err
	}
	if job.Status != StatusPaused {
		return errors.WithHint(
			errors.NewInvalidStateError("job %s is not paused", a.jobID),
			fmt.Sprintf("current status is %s", job.Status))
	}

	now := a.deps.now()
	next := job.Clone()
	next.Status = StatusScheduled
	if next.NextRunAt == nil {
		next.NextRunAt = trigger.NextRun(next.Trigger(), now)
	}

	if err := a.registerWakeup(ctx, next, now); err != nil {
		return err
	}
	if err := a.commit(ctx, next); err != nil {
		return err
	}

	a.logger.Infow("Job resumed", logger.FieldNextRunAt, next.NextRunAt)
	a.pushStatus(ctx, next)
	return nil
}

// UpdateSchedule changes the interval of a recurring job or the expression of
// a cron job, recomputes NextRunAt and re-registers the wake-up. The trigger
// type itself cannot change.
func (a *Actor) UpdateSchedule(ctx context.Context, update ScheduleUpdate) (*Job, error) {
	job, err := a.current(ctx)
	if err != nil {
		return nil, err
	}
	if update.Interval == nil && update.CronExpression == nil {
		return nil, errors.NewInvalidRequestError("nothing to update")
	}
	if update.Interval != nil && job.TriggerType != trigger.TypeRecurring {
		return nil, errors.NewInvalidStateError("job %s is %s, interval applies to Recurring jobs", a.jobID, job.TriggerType)
	}
	if update.CronExpression != nil && job.TriggerType != trigger.TypeCron {
		return nil, errors.NewInvalidStateError("job %s is %s, cron expression applies to Cron jobs", a.jobID, job.TriggerType)
	}
	if job.Status.IsTerminal() {
		return nil, errors.NewInvalidStateError("job %s is %s", a.jobID, strings.ToLower(string(job.Status)))
	}

	next := job.Clone()
	if update.Interval != nil {
		if *update.Interval <= 0 {
			return nil, errors.NewInvalidRequestError("interval must be positive, got %s", *update.Interval)
		}
		next.Interval = *update.Interval
	}
	if update.CronExpression != nil {
		if strings.TrimSpace(*update.CronExpression) == "" {
			return nil, errors.NewInvalidRequestError("cron expression is required")
		}
		next.CronExpression = *update.CronExpression
	}

	now := a.deps.now()
	next.NextRunAt = trigger.NextRun(next.Trigger(), now)

	if err := a.commit(ctx, next); err != nil {
		return nil, err
	}
	if next.Status != StatusPaused {
		// Registering replaces the old wake-up in place
		if err := a.registerWakeup(ctx, next, now); err != nil {
			return nil, err
		}
	}

	a.logger.Infow("Job schedule updated",
		logger.FieldTriggerType, next.TriggerType,
		logger.FieldNextRunAt, next.NextRunAt)
	a.pushStatus(ctx, next)
	return next.Clone(), nil
}

// execute runs the target once and records the outcome. finish adjusts the
// job's schedule as part of the same save. Target failures and panics become
// execution data; the returned error is only for storage.
func (a *Actor) execute(ctx context.Context, finish func(next *Job)) (*Execution, error) {
	started := a.deps.now()
	exec := Execution{
		ExecutionID: a.deps.NewID(),
		JobID:       a.jobID,
		StartedAt:   started,
	}
	log := a.logger.With(logger.FieldExecutionID, exec.ExecutionID)

	running := a.state.Clone()
	running.Status = StatusRunning
	running.LastRunAt = &started
	// Durable before the side effect
	if err := a.commit(ctx, running); err != nil {
		return nil, err
	}

	log.Infow("Job execution started", logger.FieldTarget, running.Target.String())
	a.publish(ctx, events.Event{Topic: events.TopicJobStarted, ExecutionID: exec.ExecutionID})
	a.pushStatus(ctx, running)

	invokeErr := a.invoke(ctx, running.Target)

	exec.CompletedAt = a.deps.now()
	exec.DurationMs = exec.CompletedAt.Sub(started).Milliseconds()
	exec.Success = invokeErr == nil
	if invokeErr != nil {
		msg := invokeErr.Error()
		exec.ErrorMessage = &msg
	}

	err := a.settle(ctx, running, func(next *Job) {
		// Only the run that set Running decides the next status
		ours := next.Status == StatusRunning
		if exec.Success {
			next.ExecutionCount++
			if ours {
				next.Status = StatusScheduled
			}
		} else {
			next.FailureCount++
			if ours {
				next.Status = StatusFailed
			}
		}
		next.LastRunAt = &started
		next.recordExecution(exec)
		if ours && finish != nil {
			finish(next)
		}
	})
	if err != nil {
		return nil, err
	}

	a.deps.Metrics.ObserveExecution(string(a.state.TriggerType), exec.Success, exec.Duration())
	if exec.Success {
		log.Infow("Job execution succeeded", logger.FieldDurationMS, exec.DurationMs)
	} else {
		log.Warnw("Job execution failed",
			logger.FieldDurationMS, exec.DurationMs,
			logger.FieldError, invokeErr)
	}

	success := exec.Success
	evt := events.Event{
		Topic:       events.TopicJobCompleted,
		ExecutionID: exec.ExecutionID,
		Success:     &success,
		DurationMs:  exec.DurationMs,
	}
	if exec.ErrorMessage != nil {
		evt.ErrorMessage = *exec.ErrorMessage
	}
	a.publish(ctx, evt)

	return &exec, nil
}

// settle saves the outcome of a run that has already happened. When another
// writer saved the job while the target ran, apply is replayed on the latest
// row. The error never matches ErrStaleVersion, so callers do not retry a
// target that already ran.
func (a *Actor) settle(ctx context.Context, running *Job, apply func(next *Job)) error {
	next := running.Clone()
	var err error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		apply(next)
		if err = a.commit(ctx, next); err == nil {
			return nil
		}
		if !errors.Is(err, ErrStaleVersion) {
			break
		}
		if lerr := a.load(ctx); lerr != nil {
			err = lerr
			break
		}
		if !a.state.Exists() {
			break
		}
		a.logger.Debugw("Job changed during execution, re-applying outcome", logger.FieldVersion, a.state.Version)
		next = a.state.Clone()
	}
	return errors.Newf("failed to record execution of job %s: %v", a.jobID, err)
}

func (a *Actor) invoke(ctx context.Context, target invoke.Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("target %s panicked: %v", target.String(), r)
		}
	}()
	if a.deps.Invoker == nil {
		return errors.Wrap(errors.ErrServiceUnavailable, "no target invoker configured")
	}
	return a.deps.Invoker.Invoke(ctx, target)
}

// registerWakeup registers the job's wake-up for its NextRunAt.
func (a *Actor) registerWakeup(ctx context.Context, job *Job, now time.Time) error {
	if job.NextRunAt == nil {
		return nil
	}
	due := job.NextRunAt.Sub(now)
	if due < minDueTime {
		due = minDueTime
	}

	var period time.Duration
	switch job.TriggerType {
	case trigger.TypeRecurring:
		period = job.Interval
	case trigger.TypeCron:
		period = CronRecheck
	default:
		period = wakeup.NoRepeat
	}

	if err := a.deps.Wakeups.RegisterOrUpdate(ctx, WakeupEntityID(job.JobID), WakeupName, due, period); err != nil {
		return errors.Wrapf(err, "failed to register wake-up for job %s", job.JobID)
	}
	return nil
}

// publish sends a lifecycle event. Failures are logged and counted only.
func (a *Actor) publish(ctx context.Context, evt events.Event) {
	job := a.state
	evt.JobID = a.jobID
	if job != nil {
		evt.OrgID = job.OrgID
		evt.Name = job.Name
		evt.TriggerType = string(job.TriggerType)
	}
	evt.OccurredAt = a.deps.now()

	if err := a.deps.Publisher.Publish(ctx, evt); err != nil {
		a.deps.Metrics.PublishFailed(evt.Topic)
		a.logger.Warnw("Failed to publish job event",
			logger.FieldTopic, evt.Topic,
			logger.FieldError, err)
	}
}

// pushStatus reports the job's status to its organization's registry.
func (a *Actor) pushStatus(ctx context.Context, job *Job) {
	a.syncRegistry(ctx, func(reg RegistryClient) error {
		return reg.UpdateJobStatus(ctx, job.JobID, job.Status, job.NextRunAt)
	})
}

// syncRegistry runs fn against the registry. The registry is a best-effort
// index: failures are logged and counted, never returned.
func (a *Actor) syncRegistry(ctx context.Context, fn func(RegistryClient) error) {
	if a.deps.Registries == nil || a.state == nil {
		return
	}
	reg := a.deps.Registries.ForOrg(a.state.OrgID)
	if reg == nil {
		return
	}
	if err := fn(reg); err != nil {
		a.deps.Metrics.RegistrySyncFailed()
		a.logger.Warnw("Registry sync failed",
			logger.FieldOrgID, a.state.OrgID,
			logger.FieldError, err)
	}
}
