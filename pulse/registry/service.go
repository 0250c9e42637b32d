package registry

import (
	"context"
	"time"

	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/pulse/actor"
	"github.com/teranos/mise/pulse/metrics"
	"github.com/teranos/mise/pulse/schedule"
	"github.com/teranos/mise/pulse/trigger"
)

// ActorKind names registry actors in logs and metrics.
const ActorKind = "registry"

const staleRetries = 3

// Service routes registry calls to the organization's actor.
type Service struct {
	dir *actor.Directory[*Actor]
}

// NewService creates the registry service. m may be nil.
func NewService(deps Deps, cfg actor.Config, m *metrics.Metrics) *Service {
	d := deps.withDefaults()
	var observer actor.Observer
	if m != nil {
		observer = m
	}
	return &Service{
		dir: actor.NewDirectory(ActorKind, func(orgID string) *Actor {
			return NewActor(orgID, d)
		}, cfg, observer, d.Logger),
	}
}

// do runs fn on the org's actor, replaying it when another process saved the
// registry first.
func (s *Service) do(ctx context.Context, orgID string, fn actor.Handler[*Actor]) error {
	var err error
	for attempt := 0; attempt < staleRetries; attempt++ {
		if err = s.dir.Do(ctx, orgID, fn); !errors.Is(err, ErrStaleVersion) {
			return err
		}
	}
	return err
}

// Close stops every registry actor.
func (s *Service) Close() {
	s.dir.Close()
}

// ForOrg returns the registry of orgID.
func (s *Service) ForOrg(orgID string) schedule.RegistryClient {
	return Ref{svc: s, orgID: orgID}
}

func (s *Service) Initialize(ctx context.Context, orgID string) error {
	return s.do(ctx, orgID, func(ctx context.Context, a *Actor) error {
		return a.Initialize(ctx)
	})
}

func (s *Service) Exists(ctx context.Context, orgID string) (bool, error) {
	var exists bool
	err := s.do(ctx, orgID, func(ctx context.Context, a *Actor) error {
		var err error
		exists, err = a.Exists(ctx)
		return err
	})
	return exists, err
}

func (s *Service) RegisterJob(ctx context.Context, orgID, jobID, name string, triggerType trigger.Type) error {
	return s.do(ctx, orgID, func(ctx context.Context, a *Actor) error {
		return a.RegisterJob(ctx, jobID, name, triggerType)
	})
}

func (s *Service) UnregisterJob(ctx context.Context, orgID, jobID string) error {
	return s.do(ctx, orgID, func(ctx context.Context, a *Actor) error {
		return a.UnregisterJob(ctx, jobID)
	})
}

// GetJobs lists the organization's jobs. A nil status returns all of them.
func (s *Service) GetJobs(ctx context.Context, orgID string, status *schedule.Status) ([]Entry, error) {
	var entries []Entry
	err := s.do(ctx, orgID, func(ctx context.Context, a *Actor) error {
		var err error
		entries, err = a.GetJobs(ctx, status)
		return err
	})
	return entries, err
}

func (s *Service) UpdateJobStatus(ctx context.Context, orgID, jobID string, status schedule.Status, nextRunAt *time.Time) error {
	return s.do(ctx, orgID, func(ctx context.Context, a *Actor) error {
		return a.UpdateJobStatus(ctx, jobID, status, nextRunAt)
	})
}

// Ref binds the service to one organization.
type Ref struct {
	svc   *Service
	orgID string
}

func (r Ref) Initialize(ctx context.Context) error {
	return r.svc.Initialize(ctx, r.orgID)
}

func (r Ref) RegisterJob(ctx context.Context, jobID, name string, triggerType trigger.Type) error {
	return r.svc.RegisterJob(ctx, r.orgID, jobID, name, triggerType)
}

func (r Ref) UpdateJobStatus(ctx context.Context, jobID string, status schedule.Status, nextRunAt *time.Time) error {
	return r.svc.UpdateJobStatus(ctx, r.orgID, jobID, status, nextRunAt)
}
