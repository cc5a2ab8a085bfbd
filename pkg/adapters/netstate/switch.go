// Package netstate implements core.Connectivity.
//
// Switch is a manually driven oracle, useful in tests and for callers that
// learn about connectivity elsewhere. Poller drives a Switch from a probe,
// retrying with exponential backoff while offline.
package netstate

import (
	"context"
	"sync"

	"github.com/aretw0/docsync/pkg/core"
)

// Switch holds the current connectivity and notifies subscribers on every
// offline to online transition.
type Switch struct {
	mu     sync.Mutex
	online bool
	subs   map[chan struct{}]struct{}
	edges  int
}

// NewSwitch creates a switch in the given initial state.
func NewSwitch(online bool) *Switch {
	return &Switch{
		online: online,
		subs:   make(map[chan struct{}]struct{}),
	}
}

// Online implements core.Connectivity.
func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set changes the state. Only a rising edge notifies subscribers, and a
// subscriber that has not consumed the previous notification gets no
// second one.
func (s *Switch) Set(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rising := online && !s.online
	s.online = online
	if !rising {
		return
	}
	s.edges++
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Reconnected implements core.Connectivity. The channel closes when ctx is
// done.
func (s *Switch) Reconnected(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch
}

// Reconnects reports how many offline to online transitions happened.
func (s *Switch) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edges
}

// ComponentType implements introspection.Component.
func (s *Switch) ComponentType() string {
	return "netstate"
}

var _ core.Connectivity = (*Switch)(nil)
