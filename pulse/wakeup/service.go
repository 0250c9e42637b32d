// Package wakeup provides durable alarms for actors.
//
// A wake-up is a persisted (entity, name, due time, period) row. The Ticker
// polls for due rows and delivers them to the owning entity at least once:
// a row is only advanced or removed after a successful delivery, so a crash
// or failed delivery means the row is picked up again on the next poll,
// including the first poll after a restart.
package wakeup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/logger"
)

// NoRepeat registers a wake-up that fires once.
const NoRepeat time.Duration = -1

// MinPeriod is the finest repeat granularity. Shorter periods are rounded up.
const MinPeriod = time.Minute

// Service registers and unregisters wake-ups.
type Service struct {
	store  *Store
	now    func() time.Time
	logger *zap.SugaredLogger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a wake-up service backed by store.
func NewService(store *Store, log *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: logger.Or(log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterOrUpdate schedules name for entityID to fire after dueTime and then
// every period. A period of zero or NoRepeat fires once. Re-registering
// replaces the previous due time and period.
func (s *Service) RegisterOrUpdate(ctx context.Context, entityID, name string, dueTime, period time.Duration) error {
	if entityID == "" || name == "" {
		return errors.NewInvalidRequestError("wake-up requires entity id and name")
	}
	if dueTime < 0 {
		dueTime = 0
	}
	period = NormalizePeriod(period)

	now := s.now().UTC()
	w := Wakeup{
		EntityID:  entityID,
		Name:      name,
		DueAt:     now.Add(dueTime),
		Period:    period,
		UpdatedAt: now,
	}

	generation, err := s.store.Upsert(ctx, w)
	if err != nil {
		return err
	}

	s.logger.Debugw("Wake-up registered",
		logger.FieldEntityID, entityID,
		logger.FieldWakeup, name,
		logger.FieldDueAt, w.DueAt,
		logger.FieldPeriod, period,
		"generation", generation)
	return nil
}

// Unregister removes the wake-up. Unregistering a missing wake-up is a no-op.
func (s *Service) Unregister(ctx context.Context, entityID, name string) error {
	if err := s.store.Delete(ctx, entityID, name); err != nil {
		return err
	}
	s.logger.Debugw("Wake-up unregistered",
		logger.FieldEntityID, entityID,
		logger.FieldWakeup, name)
	return nil
}

// Get returns the registered wake-up, or an error matching errors.ErrNotFound.
func (s *Service) Get(ctx context.Context, entityID, name string) (*Wakeup, error) {
	return s.store.Get(ctx, entityID, name)
}

// NormalizePeriod maps non-positive periods to zero (fire once) and rounds
// positive periods up to MinPeriod.
func NormalizePeriod(period time.Duration) time.Duration {
	switch {
	case period <= 0:
		return 0
	case period < MinPeriod:
		return MinPeriod
	default:
		return period
	}
}
