// Package bus is an in-process event bus with glob subscriptions and
// one-shot milestones. It implements core.Bus.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/introspection"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/docsync/pkg/core"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

type subscription struct {
	pattern string
	ch      chan core.Event
}

// Bus routes events to subscribers whose pattern matches the event name.
// Patterns use doublestar syntax, so "todos_*" matches every todos event.
// Emit never blocks: events for a subscriber whose buffer is full are
// dropped and counted.
type Bus struct {
	mu         sync.RWMutex
	subs       map[uint64]*subscription
	waiters    map[uint64]*subscription
	milestones map[string]core.Event
	next       uint64

	buffer  int
	logger  *slog.Logger
	now     func() time.Time
	dropped atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger used to report dropped events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[uint64]*subscription),
		waiters:    make(map[uint64]*subscription),
		milestones: make(map[string]core.Event),
		buffer:     DefaultBuffer,
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit publishes an event to every matching subscriber.
func (b *Bus) Emit(name string, payload any) {
	b.publish(b.event(name, payload))
}

func (b *Bus) event(name string, payload any) core.Event {
	return core.Event{Name: name, Payload: payload, Timestamp: b.now().UnixMilli()}
}

func (b *Bus) publish(ev core.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if !match(s.pattern, ev.Name) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber buffer full", "event", ev.Name, "pattern", s.pattern)
		}
	}
}

// On subscribes to events matching pattern. The channel is closed once ctx
// is done.
func (b *Bus) On(ctx context.Context, pattern string) <-chan core.Event {
	s := &subscription{pattern: pattern, ch: make(chan core.Event, b.buffer)}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = s
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch
}

// Complete fires the milestone name. Only the first completion counts;
// later calls are ignored. The milestone is also emitted as a regular event.
func (b *Bus) Complete(name string, payload any) {
	ev := b.event(name, payload)

	b.mu.Lock()
	if _, done := b.milestones[name]; done {
		b.mu.Unlock()
		return
	}
	b.milestones[name] = ev
	for id, w := range b.waiters {
		if w.pattern != name {
			continue
		}
		w.ch <- ev
		close(w.ch)
		delete(b.waiters, id)
	}
	b.mu.Unlock()

	b.publish(ev)
}

// OnComplete delivers the milestone name once, then closes the channel.
// A milestone completed before the call is delivered immediately. If ctx
// ends first the channel is closed without a value.
func (b *Bus) OnComplete(ctx context.Context, name string) <-chan core.Event {
	ch := make(chan core.Event, 1)

	b.mu.Lock()
	if ev, done := b.milestones[name]; done {
		b.mu.Unlock()
		ch <- ev
		close(ch)
		return ch
	}
	b.next++
	id := b.next
	b.waiters[id] = &subscription{pattern: name, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, pending := b.waiters[id]; pending {
			delete(b.waiters, id)
			close(ch)
		}
		b.mu.Unlock()
	}()
	return ch
}

// Completed reports whether the milestone name has fired.
func (b *Bus) Completed(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.milestones[name]
	return ok
}

// Reset forgets every completed milestone, e.g. after a logout.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.milestones = make(map[string]core.Event)
	b.mu.Unlock()
}

func match(pattern, name string) bool {
	if pattern == name {
		return true
	}
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// BusState exposes internal state for observability.
type BusState struct {
	Subscribers int      `json:"subscribers"`
	Waiters     int      `json:"waiters"`
	Milestones  []string `json:"milestones"`
	Dropped     int64    `json:"dropped"`
	Buffer      int      `json:"buffer"`
}

// State implements introspection.Introspectable.
func (b *Bus) State() any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	milestones := make([]string, 0, len(b.milestones))
	for name := range b.milestones {
		milestones = append(milestones, name)
	}
	return BusState{
		Subscribers: len(b.subs),
		Waiters:     len(b.waiters),
		Milestones:  milestones,
		Dropped:     b.dropped.Load(),
		Buffer:      b.buffer,
	}
}

// ComponentType implements introspection.Component.
func (b *Bus) ComponentType() string {
	return "bus"
}

var _ core.Bus = (*Bus)(nil)
var _ introspection.Introspectable = (*Bus)(nil)
var _ introspection.Component = (*Bus)(nil)
