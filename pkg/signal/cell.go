// Package signal provides a minimal observable cell.
//
// A Cell holds a value and notifies subscribers whenever the value is
// replaced. Cells are the unit of fine-grained reactivity in docsync: the
// collection hands out one cell per record and derived cells for lists and
// groups, and consumers compare cells by reference.
package signal

import (
	"sort"
	"sync"
)

// Cell is a goroutine-safe observable value.
type Cell[T any] struct {
	mu    sync.RWMutex
	value T
	subs  map[uint64]func(T)
	next  uint64
}

// New creates a cell holding v.
func New[T any](v T) *Cell[T] {
	return &Cell[T]{
		value: v,
		subs:  make(map[uint64]func(T)),
	}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set replaces the value and notifies subscribers.
// Listeners run on the caller's goroutine after the cell is unlocked, so a
// listener may read or write the cell again.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	listeners := c.listeners()
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(v)
	}
}

// Update applies fn to the current value and stores the result.
func (c *Cell[T]) Update(fn func(T) T) {
	c.mu.Lock()
	v := fn(c.value)
	c.value = v
	listeners := c.listeners()
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(v)
	}
}

// Subscribe registers fn to be called on every change.
// The returned function removes the subscription; it is safe to call twice.
func (c *Cell[T]) Subscribe(fn func(T)) (cancel func()) {
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Subscribers reports the number of active subscriptions.
func (c *Cell[T]) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// listeners returns subscribers in registration order. Caller holds mu.
func (c *Cell[T]) listeners() []func(T) {
	if len(c.subs) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, c.subs[id])
	}
	return out
}
