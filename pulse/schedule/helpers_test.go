package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/teranos/mise/errors"
	misetest "github.com/teranos/mise/internal/testing"
	"github.com/teranos/mise/pulse/events"
	"github.com/teranos/mise/pulse/invoke"
	"github.com/teranos/mise/pulse/trigger"
)

var epoch = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type registration struct {
	due    time.Duration
	period time.Duration
}

type fakeWakeups struct {
	mu         sync.Mutex
	registered map[string]registration
	registers  int
	err        error
}

func newFakeWakeups() *fakeWakeups {
	return &fakeWakeups{registered: make(map[string]registration)}
}

func (w *fakeWakeups) RegisterOrUpdate(_ context.Context, entityID, name string, due, period time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.registers++
	w.registered[entityID+"/"+name] = registration{due: due, period: period}
	return nil
}

func (w *fakeWakeups) Unregister(_ context.Context, entityID, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.registered, entityID+"/"+name)
	return nil
}

func (w *fakeWakeups) get(jobID string) (registration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.registered[WakeupEntityID(jobID)+"/"+WakeupName]
	return r, ok
}

type statusPush struct {
	jobID     string
	status    Status
	nextRunAt *time.Time
}

type fakeRegistry struct {
	mu          sync.Mutex
	initialized int
	registered  map[string]trigger.Type
	pushes      []statusPush
	err         error
}

func (r *fakeRegistry) ForOrg(string) RegistryClient { return r }

func (r *fakeRegistry) Initialize(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.initialized++
	return nil
}

func (r *fakeRegistry) RegisterJob(_ context.Context, jobID, _ string, triggerType trigger.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.registered == nil {
		r.registered = make(map[string]trigger.Type)
	}
	r.registered[jobID] = triggerType
	return nil
}

func (r *fakeRegistry) UpdateJobStatus(_ context.Context, jobID string, status Status, nextRunAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.pushes = append(r.pushes, statusPush{jobID: jobID, status: status, nextRunAt: cloneTime(nextRunAt)})
	return nil
}

func (r *fakeRegistry) last() statusPush {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pushes) == 0 {
		return statusPush{}
	}
	return r.pushes[len(r.pushes)-1]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	topics := make([]string, len(p.events))
	for i, evt := range p.events {
		topics[i] = evt.Topic
	}
	return topics
}

func (p *fakePublisher) lastOf(topic string) (events.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Topic == topic {
			return p.events[i], true
		}
	}
	return events.Event{}, false
}

// switchInvoker fails while err is set.
type switchInvoker struct {
	mu    sync.Mutex
	err   error
	calls int
	hook  func()
}

func (i *switchInvoker) Invoke(context.Context, invoke.Target) error {
	i.mu.Lock()
	hook := i.hook
	i.calls++
	err := i.err
	i.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (i *switchInvoker) setErr(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.err = err
}

type harness struct {
	store     *Store
	clock     *fakeClock
	wakeups   *fakeWakeups
	registry  *fakeRegistry
	publisher *fakePublisher
	invoker   *switchInvoker
	deps      Deps
	ids       int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     NewStore(misetest.CreateTestDB(t)),
		clock:     &fakeClock{now: epoch},
		wakeups:   newFakeWakeups(),
		registry:  &fakeRegistry{},
		publisher: &fakePublisher{},
		invoker:   &switchInvoker{},
	}
	h.deps = Deps{
		Store:      h.store,
		Wakeups:    h.wakeups,
		Registries: h.registry,
		Invoker:    h.invoker,
		Publisher:  h.publisher,
		Logger:     zaptest.NewLogger(t).Sugar(),
		Now:        h.clock.Now,
		NewID:      h.nextID,
	}
	return h
}

func (h *harness) nextID() string {
	return fmt.Sprintf("exec-%03d", atomic.AddInt64(&h.ids, 1))
}

func (h *harness) actor(jobID string) *Actor {
	return NewActor(jobID, &h.deps)
}

func menuRequest() ScheduleRequest {
	return ScheduleRequest{
		OrgID:       "org-1",
		Name:        "publish menu",
		Description: "push the lunch menu to web",
		Target: invoke.Target{
			Type:       "menu",
			Key:        "store-7",
			Method:     "publish",
			Parameters: map[string]string{"channel": "web"},
		},
		MaxRetries: 3,
	}
}

// failingStore fails every Save after the first n.
type failingStore struct {
	StateStore
	allow int
	saves int
}

func (s *failingStore) Save(ctx context.Context, job *Job) error {
	s.saves++
	if s.saves > s.allow {
		return errors.New("database is locked")
	}
	return s.StateStore.Save(ctx, job)
}
