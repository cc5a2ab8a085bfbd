package core

import (
	"strconv"
	"sync"
)

// store is the in-memory record array of one collection.
// Records are held by pointer and never handed out; readers get clones.
type store struct {
	mu      sync.RWMutex
	records []*Record
	ids     Resolver
}

func newStore(ids Resolver) *store {
	return &store{ids: ids}
}

// keyOf returns the lookup key of r: the canonical id when known, the
// temporary id otherwise.
func keyOf(r *Record) string {
	if r.ID != "" {
		return r.ID
	}
	if r.TempID != 0 {
		return strconv.FormatInt(r.TempID, 10)
	}
	return ""
}

// keysOfRecord returns every key r can be looked up by.
func keysOfRecord(r *Record) []string {
	keys := make([]string, 0, 2)
	if r.ID != "" {
		keys = append(keys, r.ID)
	}
	if r.TempID != 0 {
		keys = append(keys, strconv.FormatInt(r.TempID, 10))
	}
	return keys
}

// normalize lifts the canonical id from the entity into rec.ID.
func (s *store) normalize(rec *Record) {
	if rec.ID == "" {
		if id, ok := s.ids.Canonical(rec.Data); ok {
			rec.ID = id
		}
	}
}

// indexOf finds rec by canonical id first, then by temporary id.
// Caller holds mu.
func (s *store) indexOf(rec *Record) int {
	if rec.ID != "" {
		for i, r := range s.records {
			if r.ID == rec.ID {
				return i
			}
		}
	}
	if rec.TempID != 0 {
		for i, r := range s.records {
			if r.TempID == rec.TempID {
				return i
			}
		}
	}
	return -1
}

// indexOfKey matches key against canonical and temporary ids.
// Caller holds mu.
func (s *store) indexOfKey(key string) int {
	if key == "" {
		return -1
	}
	for i, r := range s.records {
		if r.ID == key {
			return i
		}
	}
	for i, r := range s.records {
		if r.TempID != 0 && strconv.FormatInt(r.TempID, 10) == key {
			return i
		}
	}
	return -1
}

// upsert merges rec into the stored record sharing its identity, or appends
// it. The merged state is written back into rec so the caller observes it.
func (s *store) upsert(rec *Record) Record {
	s.normalize(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(rec); i >= 0 {
		existing := s.records[i]
		mergeInto(existing, rec)
		*rec = existing.Clone()
		return existing.Clone()
	}

	stored := rec.Clone()
	s.records = append(s.records, &stored)
	return stored.Clone()
}

// beginCreate upserts rec and flags it as creating in one step.
func (s *store) beginCreate(rec *Record) (Record, error) {
	s.normalize(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(rec); i >= 0 {
		existing := s.records[i]
		if existing.Creating {
			return Record{}, ErrAlreadyCreating
		}
		mergeInto(existing, rec)
		existing.Creating = true
		*rec = existing.Clone()
		return existing.Clone(), nil
	}

	stored := rec.Clone()
	stored.Creating = true
	s.records = append(s.records, &stored)
	*rec = stored.Clone()
	return stored.Clone(), nil
}

func (s *store) get(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOfKey(key); i >= 0 {
		return s.records[i].Clone(), true
	}
	return Record{}, false
}

// update applies fn to the record stored under key.
func (s *store) update(key string, fn func(*Record)) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfKey(key)
	if i < 0 {
		return Record{}, false
	}
	fn(s.records[i])
	return s.records[i].Clone(), true
}

func (s *store) remove(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfKey(key)
	if i < 0 {
		return Record{}, false
	}
	removed := s.records[i]
	copy(s.records[i:], s.records[i+1:])
	s.records[len(s.records)-1] = nil
	s.records = s.records[:len(s.records)-1]
	return removed.Clone(), true
}

// replace swaps the whole array. Transient flags are dropped.
func (s *store) replace(records []Record) {
	next := make([]*Record, 0, len(records))
	for _, r := range records {
		c := r.Clone()
		c.Creating = false
		s.normalize(&c)
		if keyOf(&c) == "" {
			continue
		}
		next = append(next, &c)
	}

	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
}

func (s *store) clear() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}

// resetKeeping drops every record except those whose canonical or
// temporary id is in keep.
func (s *store) resetKeeping(keep map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		if keep[keyOf(r)] || (r.TempID != 0 && keep[strconv.FormatInt(r.TempID, 10)]) {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = nil
	}
	s.records = kept
}

func (s *store) snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

func (s *store) query(pred func(Record) bool) []Record {
	var out []Record
	for _, r := range s.snapshot() {
		if pred == nil || pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *store) find(pred func(Record) bool) (Record, bool) {
	for _, r := range s.snapshot() {
		if pred(r) {
			return r, true
		}
	}
	return Record{}, false
}

func (s *store) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
