package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/mise/logger"
	"github.com/teranos/mise/pulse/events"
	"github.com/teranos/mise/pulse/invoke"
	"github.com/teranos/mise/pulse/metrics"
	"github.com/teranos/mise/pulse/trigger"
)

// Wakeups is the durable alarm service a job registers its next run with.
type Wakeups interface {
	RegisterOrUpdate(ctx context.Context, entityID, name string, dueTime, period time.Duration) error
	Unregister(ctx context.Context, entityID, name string) error
}

// RegistryClient is one organization's job registry, as seen by a job.
type RegistryClient interface {
	Initialize(ctx context.Context) error
	RegisterJob(ctx context.Context, jobID, name string, triggerType trigger.Type) error
	UpdateJobStatus(ctx context.Context, jobID string, status Status, nextRunAt *time.Time) error
}

// RegistryDirectory finds the registry of an organization.
type RegistryDirectory interface {
	ForOrg(orgID string) RegistryClient
}

// Deps are the collaborators shared by every job actor.
type Deps struct {
	Store      StateStore
	Wakeups    Wakeups
	Registries RegistryDirectory // optional
	Invoker    invoke.Invoker
	Publisher  events.Publisher // optional
	Metrics    *metrics.Metrics // optional
	Logger     *zap.SugaredLogger

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

func (d *Deps) withDefaults() *Deps {
	c := *d
	if c.Publisher == nil {
		c.Publisher = events.Nop{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	c.Logger = logger.Or(c.Logger)
	return &c
}

func (d *Deps) now() time.Time {
	return d.Now().UTC()
}
