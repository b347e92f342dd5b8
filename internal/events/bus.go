package events

import (
	"context"
	"sync"

	"github.com/frankawp/data-agent/internal/telemetry"
)

// DefaultQueueSize is the per-subscriber channel capacity used when a
// caller does not override it via WithQueueSize.
const DefaultQueueSize = 64

// Bus fans out events published for a turn to every subscriber registered
// at publish time. Each subscriber gets its own bounded channel: a slow
// subscriber is dropped rather than blocking the producer or other
// subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscription]struct{}
	queueSize   int
	log         telemetry.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize overrides the per-subscriber channel capacity.
func WithQueueSize(n int) Option {
	return func(b *Bus) { b.queueSize = n }
}

// WithLogger installs a structured logger used to warn when a slow
// subscriber is dropped.
func WithLogger(log telemetry.Logger) Option {
	return func(b *Bus) { b.log = log }
}

// NewBus constructs an empty Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[*subscription]struct{}),
		queueSize:   DefaultQueueSize,
		log:         telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is a live registration on a Bus. Events is the channel to
// read from; Close unregisters the subscription and closes the channel.
// Close is idempotent.
type Subscription struct {
	Events <-chan Event
	sub    *subscription
}

// Close unregisters the subscription. After Close returns, no further
// events are delivered; in-flight sends already queued may still be read
// from Events until it is closed.
func (s *Subscription) Close() {
	s.sub.closeOnce.Do(func() {
		s.sub.bus.mu.Lock()
		delete(s.sub.bus.subscribers, s.sub)
		s.sub.bus.mu.Unlock()
		close(s.sub.ch)
	})
}

type subscription struct {
	bus       *Bus
	ch        chan Event
	closeOnce sync.Once
}

// Subscribe registers a new subscriber and returns its Subscription. The
// returned channel is closed when the Subscription is closed.
func (b *Bus) Subscribe() *Subscription {
	s := &subscription{bus: b, ch: make(chan Event, b.queueSize)}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return &Subscription{Events: s.ch, sub: s}
}

// Publish delivers event to every subscriber registered at call time; the
// order in which subscribers receive it is not defined. For a single turn, events are published in program
// order by a single producer, so subscribers see them in that order. A
// subscriber whose queue is full is dropped — its subscription is closed
// and a warning logged — rather than blocking the producer or other
// subscribers indefinitely.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			b.log.Warn(ctx, "events: dropping slow subscriber", "event_type", string(event.Type()), "turn_id", event.TurnID())
			(&Subscription{sub: s}).Close()
		}
	}
}

// SubscriberCount reports the number of currently registered subscribers.
// Intended for tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
