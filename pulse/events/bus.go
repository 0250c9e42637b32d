package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Bus is an in-memory fan-out publisher.
//
// Publish never blocks: each subscriber has a buffered channel and a slow
// subscriber drops events once its buffer is full.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]subscription
	seq     atomic.Uint64
	dropped atomic.Uint64
}

type subscription struct {
	ch     chan Event
	topics map[string]bool
}

// NewBus returns an empty bus. It owns no goroutines.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]subscription)}
}

// Publish implements Publisher. It never returns an error.
func (b *Bus) Publish(_ context.Context, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	// Snapshot so sends happen without holding the lock
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[evt.Topic] {
			continue
		}
		targets = append(targets, sub.ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		b.send(ch, evt)
	}
	return nil
}

func (b *Bus) send(ch chan Event, evt Event) {
	// The channel may close under us if the subscriber leaves concurrently
	defer func() { _ = recover() }()
	select {
	case ch <- evt:
	default:
		b.dropped.Add(1)
	}
}

// Subscribe registers a subscriber for the given topics, or all topics when
// none are given. The returned function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := subscription{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		sub.topics = make(map[string]bool, len(topics))
		for _, topic := range topics {
			sub.topics[topic] = true
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
