package core

import (
	"slices"
	"sync"
)

// View configures a filtered projection of the collection.
type View struct {
	// Field buckets records of a map target by a field value.
	Field string
	// FieldFunc computes the bucket value and takes precedence over Field.
	FieldFunc func(Record) any
	// Valid filters records. Nil accepts every record.
	Valid func(Record) bool
	// Compare orders records, as in slices.SortStableFunc.
	Compare func(a, b Record) int
}

// Registration is a live binding between a view and its target.
type Registration struct {
	r  *registry
	id uint64
}

// Unregister stops recomputing the target. It is safe to call twice.
func (reg *Registration) Unregister() {
	reg.r.mu.Lock()
	delete(reg.r.entries, reg.id)
	reg.r.mu.Unlock()
}

type viewEntry struct {
	view  View
	slice *[]Record
	m     map[string][]Record
}

type registry struct {
	mu      sync.RWMutex
	entries map[uint64]*viewEntry
	order   []uint64
	next    uint64
}

func newRegistry() *registry {
	return &registry{entries: make(map[uint64]*viewEntry)}
}

func (r *registry) add(e *viewEntry) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.entries[r.next] = e
	r.order = append(r.order, r.next)
	return &Registration{r: r, id: r.next}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// recompute refreshes every registered target from records.
func (r *registry) recompute(records []Record, fieldOf func(Record, string) any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := r.order[:0]
	for _, id := range r.order {
		e, ok := r.entries[id]
		if !ok {
			continue
		}
		live = append(live, id)
		if e.slice != nil {
			*e.slice = e.view.filter(records)
		} else {
			e.view.fill(e.m, records, fieldOf)
		}
	}
	r.order = live
}

func (v View) accepts(rec Record) bool {
	return !rec.Deleted && (v.Valid == nil || v.Valid(rec))
}

func (v View) keys(rec Record, fieldOf func(Record, string) any) []string {
	if v.FieldFunc != nil {
		return keysOf(v.FieldFunc(rec))
	}
	if v.Field == "" {
		return nil
	}
	return keysOf(fieldOf(rec, v.Field))
}

func (v View) filter(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if v.accepts(rec) {
			out = append(out, rec.Clone())
		}
	}
	if v.Compare != nil {
		slices.SortStableFunc(out, v.Compare)
	}
	return out
}

// fill prunes stale bucket entries of m, then inserts each accepted record
// into every bucket its field value implies.
func (v View) fill(m map[string][]Record, records []Record, fieldOf func(Record, string) any) {
	// Index both ids so entries added before a temp id was promoted still
	// find their record.
	byKey := make(map[string]*Record, len(records)*2)
	for i := range records {
		for _, k := range keysOfRecord(&records[i]) {
			byKey[k] = &records[i]
		}
	}

	// Pruning pass: drop entries whose record is gone, now rejected or moved
	// to another bucket, and refresh the survivors in place so their order
	// is preserved.
	for bucket, entries := range m {
		kept := entries[:0]
		seen := make(map[*Record]bool, len(entries))
		for _, e := range entries {
			cur, ok := byKey[keyOf(&e)]
			if !ok || seen[cur] || !v.accepts(*cur) || !slices.Contains(v.keys(*cur, fieldOf), bucket) {
				continue
			}
			seen[cur] = true
			kept = append(kept, cur.Clone())
		}
		if len(kept) == 0 {
			// Empty buckets are removed, not kept as empty slices.
			delete(m, bucket)
			continue
		}
		m[bucket] = kept
	}

	// Insert pass: new records and new bucket memberships go to the back.
	for i := range records {
		rec := &records[i]
		if !v.accepts(*rec) {
			continue
		}
		for _, bucket := range v.keys(*rec, fieldOf) {
			if slices.ContainsFunc(m[bucket], func(e Record) bool { return sameRecord(&e, rec) }) {
				continue
			}
			m[bucket] = append(m[bucket], rec.Clone())
		}
	}

	if v.Compare != nil {
		for _, entries := range m {
			slices.SortStableFunc(entries, v.Compare)
		}
	}
}

func sameRecord(a, b *Record) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return a.TempID != 0 && a.TempID == b.TempID
}
