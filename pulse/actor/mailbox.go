// Package actor runs per-entity state behind a single goroutine.
//
// Every activated entity owns a Mailbox. Messages to the same entity are
// processed strictly one at a time, in arrival order; different entities run
// concurrently. A Directory activates mailboxes on first use and deactivates
// them after an idle period, so entity state must be reloadable from its
// store on the next message.
package actor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/logger"
)

// ErrStopped is returned when a message is sent to a mailbox that has shut down.
var ErrStopped = errors.New("actor stopped")

// Handler is a unit of work run on the entity's goroutine.
type Handler[T any] func(ctx context.Context, entity T) error

type envelope[T any] struct {
	ctx   context.Context
	fn    Handler[T]
	reply chan error
}

// Mailbox serializes access to one entity.
type Mailbox[T any] struct {
	kind   string
	id     string
	entity T
	inbox  chan envelope[T]
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

func newMailbox[T any](kind, id string, entity T, log *zap.SugaredLogger) *Mailbox[T] {
	m := &Mailbox[T]{
		kind:   kind,
		id:     id,
		entity: entity,
		// Unbuffered: a successful send means the loop has accepted the
		// message and will reply to it.
		inbox:  make(chan envelope[T]),
		done:   make(chan struct{}),
		logger: log,
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// ID returns the entity id this mailbox serves.
func (m *Mailbox[T]) ID() string {
	return m.id
}

// Do runs fn on the entity goroutine and waits for it to finish.
//
// If ctx is cancelled while fn is already running, Do returns ctx.Err() but
// fn still runs to completion.
func (m *Mailbox[T]) Do(ctx context.Context, fn Handler[T]) error {
	_, err := m.send(ctx, fn)
	return err
}

// send is Do that also reports whether the loop accepted the message. An
// accepted message always runs, even when the caller stops waiting.
func (m *Mailbox[T]) send(ctx context.Context, fn Handler[T]) (bool, error) {
	env := envelope[T]{ctx: ctx, fn: fn, reply: make(chan error, 1)}

	select {
	case m.inbox <- env:
	case <-m.done:
		return false, errors.Wrapf(ErrStopped, "%s %s", m.kind, m.id)
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case err := <-env.reply:
		return true, err
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

func (m *Mailbox[T]) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case env := <-m.inbox:
			env.reply <- m.handle(env)
		}
	}
}

func (m *Mailbox[T]) handle(env envelope[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("%s %s: handler panicked: %s", m.kind, m.id, fmt.Sprint(r))
			m.logger.Errorw("Actor handler panicked",
				logger.FieldKind, m.kind,
				logger.FieldEntityID, m.id,
				"panic", r)
		}
	}()
	return env.fn(env.ctx, m.entity)
}

// stop shuts the loop down after the in-flight message, if any, completes.
func (m *Mailbox[T]) stop() {
	m.once.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}
