package wakeup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/logger"
	"github.com/teranos/mise/pulse/metrics"
)

// Deliverer hands a due wake-up to its owning entity. Returning an error
// leaves the wake-up in place so it is redelivered on a later poll.
type Deliverer interface {
	Deliver(ctx context.Context, entityID, name string) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, entityID, name string) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, entityID, name string) error {
	return f(ctx, entityID, name)
}

// TickerConfig contains configuration for the wake-up ticker
type TickerConfig struct {
	Interval  time.Duration // How often to poll for due wake-ups (default: 1 second)
	BatchSize int           // Maximum wake-ups picked up per poll (default: 100)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:  1 * time.Second,
		BatchSize: 100,
	}
}

type key struct {
	entityID string
	name     string
}

// Ticker polls the store and delivers due wake-ups.
//
// Each delivery runs in its own goroutine so one slow entity does not hold
// up the others. A wake-up is never delivered twice concurrently; it is
// skipped by later polls until its current delivery finishes.
type Ticker struct {
	store     *Store
	deliverer Deliverer
	metrics   *metrics.Metrics
	batchSize int
	now       func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight sync.WaitGroup
	reset    chan time.Duration
	logger   *zap.SugaredLogger

	mu              sync.Mutex
	interval        time.Duration
	delivering      map[key]struct{}
	lastTickAt      time.Time
	ticksSinceStart int64
	lastDue         int
}

// NewTicker creates a new wake-up ticker
func NewTicker(store *Store, deliverer Deliverer, cfg TickerConfig, m *metrics.Metrics, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, deliverer, cfg, m, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, store *Store, deliverer Deliverer, cfg TickerConfig, m *metrics.Metrics, log *zap.SugaredLogger) *Ticker {
	defaults := DefaultTickerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		store:      store,
		deliverer:  deliverer,
		metrics:    m,
		batchSize:  cfg.BatchSize,
		now:        time.Now,
		ctx:        tickerCtx,
		cancel:     cancel,
		reset:      make(chan time.Duration, 1),
		logger:     logger.Or(log),
		interval:   cfg.Interval,
		delivering: make(map[key]struct{}),
	}
}

// SetClock replaces the time source. Call before Start.
func (t *Ticker) SetClock(now func() time.Time) {
	t.now = now
}

// Start begins the ticker loop. The first poll runs immediately so wake-ups
// that came due while the process was down are delivered right away.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Wake-up ticker started", "interval", t.Interval(), "batch_size", t.batchSize)
}

// Stop stops polling and waits for in-flight deliveries to finish. Deliveries
// already dispatched are not cancelled.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.inflight.Wait()
	t.logger.Infow("Wake-up ticker stopped")
}

// SetInterval changes the poll interval of a running ticker.
func (t *Ticker) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.interval = d
	t.mu.Unlock()

	// Keep only the latest request
	select {
	case <-t.reset:
	default:
	}
	t.reset <- d
}

// Interval returns the current poll interval.
func (t *Ticker) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

func (t *Ticker) run() {
	defer t.wg.Done()

	if _, err := t.Poll(t.ctx); err != nil {
		t.logger.Warnw("Wake-up startup poll failed", logger.FieldError, err)
	}

	ticker := time.NewTicker(t.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case d := <-t.reset:
			ticker.Reset(d)
			t.logger.Infow("Wake-up ticker interval changed", "interval", d)
		case <-ticker.C:
			if _, err := t.Poll(t.ctx); err != nil {
				// Don't spam logs - log errors at warn level
				t.logger.Warnw("Wake-up poll error", logger.FieldError, err, "tick", t.ticks())
			}
		}
	}
}

func (t *Ticker) ticks() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticksSinceStart
}

// Poll dispatches every due wake-up that is not already being delivered and
// returns how many were dispatched. Deliveries run asynchronously; use
// WaitIdle to wait for them.
func (t *Ticker) Poll(ctx context.Context) (int, error) {
	now := t.now().UTC()

	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	t.mu.Unlock()

	due, err := t.store.ListDue(ctx, now, t.batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to poll wake-ups")
	}
	t.metrics.WakeupsDue(len(due))
	t.logDueChange(len(due))

	dispatched := 0
	for _, w := range due {
		select {
		case <-ctx.Done():
			return dispatched, ctx.Err()
		default:
		}

		if !t.claim(w) {
			continue
		}
		dispatched++
		t.inflight.Add(1)
		go t.deliver(w)
	}
	return dispatched, nil
}

// WaitIdle blocks until every dispatched delivery has finished.
func (t *Ticker) WaitIdle() {
	t.inflight.Wait()
}

func (t *Ticker) claim(w Wakeup) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{entityID: w.EntityID, name: w.Name}
	if _, busy := t.delivering[k]; busy {
		return false
	}
	t.delivering[k] = struct{}{}
	return true
}

func (t *Ticker) release(w Wakeup) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.delivering, key{entityID: w.EntityID, name: w.Name})
}

func (t *Ticker) deliver(w Wakeup) {
	defer t.inflight.Done()
	defer t.release(w)

	log := t.logger.With(logger.FieldEntityID, w.EntityID, logger.FieldWakeup, w.Name)

	// Stop halts polling but never interrupts a delivery already under way.
	ctx := context.WithoutCancel(t.ctx)
	if err := t.deliverer.Deliver(ctx, w.EntityID, w.Name); err != nil {
		t.metrics.WakeupFailed()
		log.Errorw("Wake-up delivery failed, will retry",
			logger.FieldDueAt, w.DueAt,
			logger.FieldError, err)
		return
	}
	t.metrics.WakeupDelivered()

	now := t.now().UTC()

	var (
		current bool
		err     error
	)
	if w.Repeats() {
		current, err = t.store.Advance(ctx, w.EntityID, w.Name, w.Generation, now.Add(w.Period), now)
	} else {
		current, err = t.store.Complete(ctx, w.EntityID, w.Name, w.Generation)
	}
	if err != nil {
		log.Errorw("Failed to record wake-up delivery", logger.FieldError, err)
		return
	}
	if !current {
		log.Debugw("Wake-up re-registered during delivery, keeping new registration")
	}
}

// logDueChange logs when the number of due wake-ups changes between polls.
func (t *Ticker) logDueChange(n int) {
	t.mu.Lock()
	changed := n != t.lastDue
	t.lastDue = n
	t.mu.Unlock()

	if changed && n > 0 {
		t.logger.Debugw("Wake-ups due", logger.FieldCount, n)
	}
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
		"delivering":        len(t.delivering),
	}
}
