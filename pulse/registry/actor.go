package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/logger"
	"github.com/teranos/mise/pulse/schedule"
	"github.com/teranos/mise/pulse/trigger"
)

// Deps are the collaborators shared by every registry actor.
type Deps struct {
	Store  StateStore
	Logger *zap.SugaredLogger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) withDefaults() *Deps {
	c := *d
	if c.Now == nil {
		c.Now = time.Now
	}
	c.Logger = logger.Or(c.Logger)
	return &c
}

// Actor owns the registry of one organization. It is not safe for
// concurrent use; the Service runs every call on the org's mailbox.
type Actor struct {
	orgID  string
	deps   *Deps
	state  *State
	logger *zap.SugaredLogger
}

// NewActor creates the actor for orgID. State is loaded on first use.
func NewActor(orgID string, deps *Deps) *Actor {
	d := deps.withDefaults()
	return &Actor{
		orgID:  orgID,
		deps:   d,
		logger: d.Logger.With(logger.FieldOrgID, orgID),
	}
}

func (a *Actor) load(ctx context.Context) (*State, error) {
	if a.state != nil {
		return a.state, nil
	}
	state, err := a.deps.Store.Load(ctx, a.orgID)
	if errors.IsNotFoundError(err) {
		state = &State{OrgID: a.orgID}
	} else if err != nil {
		return nil, err
	}
	a.state = state
	return state, nil
}

// initialized returns the state, or ErrNotInitialized.
func (a *Actor) initialized(ctx context.Context) (*State, error) {
	state, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	if !state.Initialized {
		return nil, errors.WithHint(
			errors.NewNotInitializedError("registry for org %s", a.orgID),
			"call Initialize before changing the registry")
	}
	return state, nil
}

// commit saves next over the loaded state. Any failure, including a version
// conflict, drops the cached state so the next call reloads.
func (a *Actor) commit(ctx context.Context, next *State) error {
	var read int64
	if a.state != nil {
		read = a.state.Version
	}
	next.UpdatedAt = a.deps.Now().UTC()
	if err := a.deps.Store.Save(ctx, next, read); err != nil {
		a.state = nil
		return err
	}
	a.state = next
	return nil
}

// Initialize marks the registry as ready. Calling it again is a no-op.
func (a *Actor) Initialize(ctx context.Context) error {
	state, err := a.load(ctx)
	if err != nil {
		return err
	}
	if state.Initialized {
		return nil
	}
	next := state.clone()
	next.Initialized = true
	if err := a.commit(ctx, next); err != nil {
		return err
	}
	a.logger.Infow("Registry initialized")
	return nil
}

// Exists reports whether Initialize has run.
func (a *Actor) Exists(ctx context.Context) (bool, error) {
	state, err := a.load(ctx)
	if err != nil {
		return false, err
	}
	return state.Initialized, nil
}

// RegisterJob adds the job, or renames it in place keeping its status.
func (a *Actor) RegisterJob(ctx context.Context, jobID, name string, triggerType trigger.Type) error {
	if jobID == "" {
		return errors.NewInvalidRequestError("job id is required")
	}
	state, err := a.initialized(ctx)
	if err != nil {
		return err
	}

	next := state.clone()
	if i := next.find(jobID); i >= 0 {
		next.Entries[i].Name = name
		next.Entries[i].TriggerType = triggerType
	} else {
		next.Entries = append(next.Entries, Entry{
			JobID:       jobID,
			Name:        name,
			TriggerType: triggerType,
			Status:      schedule.StatusScheduled,
		})
	}
	next.Version++
	if err := a.commit(ctx, next); err != nil {
		return err
	}
	a.logger.Debugw("Job registered", logger.FieldJobID, jobID, logger.FieldVersion, next.Version)
	return nil
}

// UnregisterJob removes the job if present.
func (a *Actor) UnregisterJob(ctx context.Context, jobID string) error {
	state, err := a.initialized(ctx)
	if err != nil {
		return err
	}
	i := state.find(jobID)
	if i < 0 {
		return nil
	}

	next := state.clone()
	next.Entries = append(next.Entries[:i], next.Entries[i+1:]...)
	next.Version++
	if err := a.commit(ctx, next); err != nil {
		return err
	}
	a.logger.Infow("Job unregistered", logger.FieldJobID, jobID)
	return nil
}

// GetJobs returns the entries, optionally filtered by status, latest next
// run first.
func (a *Actor) GetJobs(ctx context.Context, status *schedule.Status) ([]Entry, error) {
	state, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(state.Entries))
	for _, e := range state.Entries {
		if status != nil && e.Status != *status {
			continue
		}
		entries = append(entries, e.clone())
	}
	sortByNextRun(entries)
	return entries, nil
}

// UpdateJobStatus records a job's status and next run. LastRunAt is set
// when the job starts running. Unknown jobs are ignored.
func (a *Actor) UpdateJobStatus(ctx context.Context, jobID string, status schedule.Status, nextRunAt *time.Time) error {
	state, err := a.initialized(ctx)
	if err != nil {
		return err
	}
	i := state.find(jobID)
	if i < 0 {
		a.logger.Debugw("Status update for unregistered job ignored", logger.FieldJobID, jobID)
		return nil
	}

	next := state.clone()
	entry := &next.Entries[i]
	entry.Status = status
	entry.NextRunAt = cloneTime(nextRunAt)
	if status == schedule.StatusRunning {
		now := a.deps.Now().UTC()
		entry.LastRunAt = &now
	}
	next.Version++
	return a.commit(ctx, next)
}
