package core

import (
	"sync"

	"github.com/aretw0/docsync/pkg/signal"
)

// RecordCell observes a single record.
type RecordCell = signal.Cell[Record]

// ListCell observes the records whose field matches a value.
type ListCell = signal.Cell[[]*RecordCell]

// GroupCell observes the records bucketed by a field value.
type GroupCell = signal.Cell[map[string][]*RecordCell]

type listKey struct {
	field string
	value string
}

// signals caches reactive cells. A cell, once created for an id, is the
// only cell ever handed out for that id; promotion of a temporary id to a
// canonical id aliases the same cell under both keys.
type signals struct {
	mu     sync.Mutex
	cells  map[string]*RecordCell
	lists  map[listKey]*ListCell
	groups map[string]*GroupCell
}

func newSignals() *signals {
	return &signals{
		cells:  make(map[string]*RecordCell),
		lists:  make(map[listKey]*ListCell),
		groups: make(map[string]*GroupCell),
	}
}

func (s *signals) lookup(id string) *RecordCell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cells[id]
}

// ensure returns the cell for id, creating it seeded with rec when absent.
func (s *signals) ensure(id string, rec Record) *RecordCell {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cells[id]; ok {
		return c
	}
	c := s.cellForLocked(&rec)
	if c == nil {
		c = signal.New(rec)
	}
	s.cells[id] = c
	return c
}

// cellForLocked finds the cell registered under any key of rec and aliases
// it under the remaining keys. Caller holds mu.
func (s *signals) cellForLocked(rec *Record) *RecordCell {
	keys := keysOfRecord(rec)
	var found *RecordCell
	for _, k := range keys {
		if c, ok := s.cells[k]; ok {
			found = c
			break
		}
	}
	if found == nil {
		return nil
	}
	for _, k := range keys {
		s.cells[k] = found
	}
	return found
}

// getOrCreateLocked is cellForLocked plus creation. Caller holds mu.
func (s *signals) getOrCreateLocked(rec *Record) *RecordCell {
	if c := s.cellForLocked(rec); c != nil {
		return c
	}
	c := signal.New(*rec)
	for _, k := range keysOfRecord(rec) {
		s.cells[k] = c
	}
	return c
}

// sync pushes rec into its cell, if one exists.
func (s *signals) sync(rec Record) {
	s.mu.Lock()
	c := s.cellForLocked(&rec)
	s.mu.Unlock()

	if c != nil {
		c.Set(rec)
	}
}

func (s *signals) list(field, value string) (*ListCell, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := listKey{field: field, value: value}
	if c, ok := s.lists[k]; ok {
		return c, false
	}
	c := signal.New[[]*RecordCell](nil)
	s.lists[k] = c
	return c, true
}

func (s *signals) group(field string) (*GroupCell, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.groups[field]; ok {
		return c, false
	}
	c := signal.New(map[string][]*RecordCell{})
	s.groups[field] = c
	return c, true
}

// refresh recomputes every list and group from records. With all set, every
// cached record cell is resynced too and cells of records no longer stored
// are marked deleted.
func (s *signals) refresh(records []Record, fieldOf func(Record, string) any, all bool) {
	var sets []func()

	s.mu.Lock()
	for k, lc := range s.lists {
		var cells []*RecordCell
		for i := range records {
			r := &records[i]
			if r.Deleted {
				continue
			}
			for _, v := range keysOf(fieldOf(*r, k.field)) {
				if v == k.value {
					cells = append(cells, s.getOrCreateLocked(r))
					break
				}
			}
		}
		sets = append(sets, func() { lc.Set(cells) })
	}

	for field, gc := range s.groups {
		buckets := make(map[string][]*RecordCell)
		for i := range records {
			r := &records[i]
			if r.Deleted {
				continue
			}
			for _, v := range keysOf(fieldOf(*r, field)) {
				buckets[v] = append(buckets[v], s.getOrCreateLocked(r))
			}
		}
		sets = append(sets, func() { gc.Set(buckets) })
	}

	if all {
		seen := make(map[*RecordCell]bool)
		for i := range records {
			r := records[i]
			if c := s.cellForLocked(&r); c != nil && !seen[c] {
				seen[c] = true
				sets = append(sets, func() { c.Set(r) })
			}
		}
		for _, c := range s.cells {
			if seen[c] {
				continue
			}
			seen[c] = true
			sets = append(sets, func() {
				c.Update(func(r Record) Record {
					r.Deleted = true
					return r
				})
			})
		}
	}
	s.mu.Unlock()

	for _, set := range sets {
		set()
	}
}

// evict drops cached record cells unless one of their keys is kept.
func (s *signals) evict(except []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[*RecordCell]bool)
	for _, id := range except {
		if c, ok := s.cells[id]; ok {
			keep[c] = true
		}
	}
	dropped := make(map[*RecordCell]bool)
	for k, c := range s.cells {
		if keep[c] {
			continue
		}
		dropped[c] = true
		delete(s.cells, k)
	}
	return len(dropped)
}

func (s *signals) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[*RecordCell]bool, len(s.cells))
	for _, c := range s.cells {
		seen[c] = true
	}
	return len(seen)
}
