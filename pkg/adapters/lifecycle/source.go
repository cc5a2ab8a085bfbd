// Package lifecycle exposes collection events to the lifecycle runtime.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/docsync/pkg/core"
)

type busSource struct {
	events  <-chan core.Event
	pattern string
	bus     core.Bus
	out     chan lifecycle.Event
}

// NewSource creates a lifecycle.Source that forwards events read from a
// channel, such as the one returned by fs.Store.Watch.
func NewSource(events <-chan core.Event) lifecycle.Source {
	return &busSource{
		events: events,
		out:    make(chan lifecycle.Event),
	}
}

// NewBusSource creates a lifecycle.Source that subscribes to the bus with
// pattern when started. The subscription ends with the start context.
func NewBusSource(bus core.Bus, pattern string) lifecycle.Source {
	return &busSource{
		bus:     bus,
		pattern: pattern,
		out:     make(chan lifecycle.Event),
	}
}

func (s *busSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *busSource) Start(ctx context.Context) error {
	events := s.events
	if s.bus != nil {
		events = s.bus.On(ctx, s.pattern)
	}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// core.Event satisfies lifecycle.Event through String().
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
