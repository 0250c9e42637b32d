package actor

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/logger"
)

// Factory builds the in-memory entity for id. It must not touch storage;
// entities load their state lazily on the first message.
type Factory[T any] func(id string) T

// Observer is notified when mailboxes are activated and deactivated.
type Observer interface {
	Activated(kind string)
	Deactivated(kind string)
}

// Config controls mailbox lifetime.
type Config struct {
	// IdleTimeout deactivates a mailbox that has received no message for this
	// long. Zero or negative keeps mailboxes alive until Close.
	IdleTimeout time.Duration
	// CleanupInterval is how often idle mailboxes are swept.
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		IdleTimeout:     5 * time.Minute,
		CleanupInterval: 30 * time.Second,
	}
}

type slot[T any] struct {
	mailbox *Mailbox[T]
	pending int
}

// Directory addresses entities of one kind by id, activating a mailbox on
// first use.
//
// live is authoritative for which mailbox serves an id. The go-cache instance
// only tracks idleness: every message touches the entry, and expiry triggers
// deactivation unless a message is still pending.
type Directory[T any] struct {
	kind     string
	factory  Factory[T]
	observer Observer
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	live   map[string]*slot[T]
	idle   *cache.Cache
	closed bool
}

// NewDirectory creates a directory for entities of the given kind.
// observer may be nil.
func NewDirectory[T any](kind string, factory Factory[T], cfg Config, observer Observer, log *zap.SugaredLogger) *Directory[T] {
	ttl := cfg.IdleTimeout
	cleanup := cfg.CleanupInterval
	if ttl <= 0 {
		ttl = cache.NoExpiration
		cleanup = 0
	} else if cleanup <= 0 {
		cleanup = ttl
	}

	d := &Directory[T]{
		kind:     kind,
		factory:  factory,
		observer: observer,
		logger:   logger.Or(log).Named("actor." + kind),
		live:     make(map[string]*slot[T]),
		idle:     cache.New(ttl, cleanup),
	}
	d.idle.OnEvicted(d.evicted)
	return d
}

// Kind returns the entity kind served by this directory.
func (d *Directory[T]) Kind() string {
	return d.kind
}

// Do delivers fn to the entity with the given id and waits for the result.
// Calls for the same id are serialized; calls for different ids are not.
func (d *Directory[T]) Do(ctx context.Context, id string, fn Handler[T]) error {
	if id == "" {
		return errors.NewInvalidRequestError("%s id is required", d.kind)
	}

	s, err := d.acquire(id)
	if err != nil {
		return err
	}

	// The slot stays pending until fn returns, not until the caller stops
	// waiting, so an abandoned handler still blocks eviction.
	var once sync.Once
	done := func() { once.Do(func() { d.release(id, s) }) }

	accepted, err := s.mailbox.send(ctx, func(ctx context.Context, entity T) error {
		defer done()
		return fn(ctx, entity)
	})
	if !accepted {
		done()
	}
	return err
}

func (d *Directory[T]) acquire(id string) (*slot[T], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.Wrapf(ErrStopped, "%s directory closed", d.kind)
	}

	s, ok := d.live[id]
	if !ok {
		s = &slot[T]{mailbox: newMailbox(d.kind, id, d.factory(id), d.logger)}
		d.live[id] = s
		d.logger.Debugw("Actor activated", logger.FieldEntityID, id)
		if d.observer != nil {
			d.observer.Activated(d.kind)
		}
	}
	s.pending++
	d.idle.SetDefault(id, s)
	return s, nil
}

func (d *Directory[T]) release(id string, s *slot[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s.pending--
	if d.live[id] == s {
		d.idle.SetDefault(id, s)
	}
}

// evicted runs on the go-cache janitor when an entry has been idle too long.
func (d *Directory[T]) evicted(id string, v interface{}) {
	s, ok := v.(*slot[T])
	if !ok {
		return
	}

	d.mu.Lock()
	if d.live[id] != s {
		d.mu.Unlock()
		return
	}
	if s.pending > 0 {
		d.idle.SetDefault(id, s)
		d.mu.Unlock()
		return
	}
	delete(d.live, id)
	d.mu.Unlock()

	s.mailbox.stop()
	d.logger.Debugw("Actor deactivated", logger.FieldEntityID, id)
	if d.observer != nil {
		d.observer.Deactivated(d.kind)
	}
}

// Active returns the number of activated mailboxes.
func (d *Directory[T]) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// IsActive reports whether id currently has an activated mailbox.
func (d *Directory[T]) IsActive(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.live[id]
	return ok
}

// Deactivate stops the mailbox for id once its in-flight messages finish.
// It is a no-op when id is not active.
func (d *Directory[T]) Deactivate(id string) {
	d.mu.Lock()
	_, ok := d.live[id]
	d.mu.Unlock()
	if !ok {
		return
	}
	// Route through the same path as idle expiry so pending work is honored.
	d.idle.Delete(id)
}

// Close stops every mailbox. In-flight messages run to completion; callers
// still waiting to send get ErrStopped.
func (d *Directory[T]) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	slots := make([]*slot[T], 0, len(d.live))
	for _, s := range d.live {
		slots = append(slots, s)
	}
	d.live = make(map[string]*slot[T])
	d.idle.Flush()
	d.mu.Unlock()

	for _, s := range slots {
		s.mailbox.stop()
		if d.observer != nil {
			d.observer.Deactivated(d.kind)
		}
	}
	d.logger.Infow("Actor directory closed", logger.FieldKind, d.kind, logger.FieldCount, len(slots))
}
