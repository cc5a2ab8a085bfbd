package core

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Descriptor is a deferred pipeline operation waiting for connectivity.
// Everything but the callbacks and the caller's record pointer is
// serializable. Queued descriptors never hold the caller's pointer.
type Descriptor struct {
	ID       string    `json:"id"`
	Kind     Op        `json:"kind"`
	Record   *Record   `json:"record,omitempty"`
	Query    Metadata  `json:"query,omitempty"`
	Get      *GetQuery `json:"get,omitempty"`
	Options  Options   `json:"options"`
	QueuedAt time.Time `json:"queuedAt"`

	// caller receives the reconciled record of a synchronous dispatch.
	caller *Record
}

func newDescriptor(kind Op, rec *Record, caller *Record, o Options, now time.Time) *Descriptor {
	d := &Descriptor{
		ID:       uuid.NewString(),
		Kind:     kind,
		Options:  o,
		QueuedAt: now,
		caller:   caller,
	}
	if rec != nil {
		c := rec.Clone()
		d.Record = &c
	}
	return d
}

func (d *Descriptor) clone() Descriptor {
	out := *d
	out.caller = nil
	if d.Record != nil {
		c := d.Record.Clone()
		out.Record = &c
	}
	out.Query = d.Query.Clone()
	if d.Get != nil {
		g := *d.Get
		out.Get = &g
	}
	return out
}

// Queue is a goroutine-safe FIFO of descriptors.
type Queue struct {
	mu    sync.Mutex
	items []*Descriptor
}

// Push appends d to the back of the queue.
func (q *Queue) Push(d *Descriptor) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
}

// Len reports the number of queued descriptors.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns copies of the queued descriptors in FIFO order.
func (q *Queue) Pending() []Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Descriptor, len(q.items))
	for i, d := range q.items {
		out[i] = d.clone()
	}
	return out
}

// Drain runs every descriptor queued at call time exactly once, in order.
// The queue is swapped for an empty one first, so a descriptor that run
// re-enqueues lands in the new queue instead of being visited again.
// If ctx is cancelled mid-pass the unvisited descriptors are put back in
// front of anything queued meanwhile. It returns the number of
// descriptors run.
func (q *Queue) Drain(ctx context.Context, run func(context.Context, *Descriptor)) int {
	q.mu.Lock()
	batch := q.items
	q.items = nil
	q.mu.Unlock()

	for i, d := range batch {
		if ctx.Err() != nil {
			q.prepend(batch[i:])
			return i
		}
		batch[i] = nil
		run(ctx, d)
	}
	return len(batch)
}

// keys returns the lookup keys of every record referenced by a queued
// descriptor, temporary ids included.
func (q *Queue) keys() map[string]bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]bool, len(q.items))
	for _, d := range q.items {
		if d.Record == nil {
			continue
		}
		if k := keyOf(d.Record); k != "" {
			out[k] = true
		}
		if d.Record.TempID != 0 {
			out[strconv.FormatInt(d.Record.TempID, 10)] = true
		}
	}
	return out
}

func (q *Queue) prepend(items []*Descriptor) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rest := make([]*Descriptor, 0, len(items)+len(q.items))
	rest = append(rest, items...)
	q.items = append(rest, q.items...)
}
