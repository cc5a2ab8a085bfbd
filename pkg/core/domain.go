// Package core holds the document synchronization engine.
//
// A Collection owns an in-memory set of records, reconciles optimistic local
// mutations against a remote Transport, defers operations while the
// Connectivity port reports offline, persists a whole-collection Snapshot
// through the Persistence port after every change and exposes reactive
// cells and filtered views over the records.
package core

import (
	"slices"
	"time"
)

// Metadata is the free-form entity carried by a record.
type Metadata map[string]any

// Op names a pipeline operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpUnique Op = "unique"
	OpDelete Op = "delete"
	OpFetch  Op = "fetch"
	OpGet    Op = "get"
)

// Marker prefixes stamped into Record.Modified.
const (
	MarkerUpdate = "up"
	MarkerUnique = "un"
)

// PendingOp is the serializable part of the options an in-flight operation
// was issued with. It is enough to re-issue the operation after a restart.
type PendingOp struct {
	Variant string `json:"variant,omitempty" yaml:"variant,omitempty"`
	Field   string `json:"field,omitempty" yaml:"field,omitempty"`
}

// Record is an entity plus its synchronization bookkeeping.
type Record struct {
	// ID is the canonical, server-assigned identity.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// TempID is the client-generated identity used until (and after) the
	// server assigns ID.
	TempID int64 `json:"tempId,omitempty" yaml:"tempId,omitempty"`
	// Creating is set while a create is in flight. It is never persisted.
	Creating bool `json:"-" yaml:"-"`
	// Modified lists the operation ids dispatched but not yet confirmed.
	Modified []string `json:"modified,omitempty" yaml:"modified,omitempty"`
	// Deleted is set as soon as a delete is requested.
	Deleted bool                 `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	Pending map[string]PendingOp `json:"pending,omitempty" yaml:"pending,omitempty"`
	Data    Metadata             `json:"data" yaml:"data"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Modified = slices.Clone(r.Modified)
	if r.Pending != nil {
		out.Pending = make(map[string]PendingOp, len(r.Pending))
		for k, v := range r.Pending {
			out.Pending[k] = v
		}
	}
	out.Data = r.Data.Clone()
	return out
}

// Key returns the identity the record is looked up by: the canonical id
// when known, the temporary id otherwise.
func (r Record) Key() string {
	return keyOf(&r)
}

// Field returns the raw entity value stored under name.
func (r Record) Field(name string) any {
	return r.Data[name]
}

// HasMarker reports whether the operation id is still in flight.
func (r Record) HasMarker(opID string) bool {
	return slices.Contains(r.Modified, opID)
}

// Unconfirmed reports whether the record carries work the server has not
// acknowledged yet.
func (r Record) Unconfirmed() bool {
	return r.ID == "" || r.Deleted || r.Creating || len(r.Modified) > 0
}

func (r *Record) addMarker(opID string) {
	if !slices.Contains(r.Modified, opID) {
		r.Modified = append(r.Modified, opID)
	}
}

func (r *Record) clearMarker(opID string) {
	r.Modified = slices.DeleteFunc(r.Modified, func(m string) bool { return m == opID })
	if len(r.Modified) == 0 {
		r.Modified = nil
	}
	delete(r.Pending, opID)
	if len(r.Pending) == 0 {
		r.Pending = nil
	}
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Metadata(t).Clone())
	case Metadata:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// mergeInto overlays the populated fields of src onto dst.
// Markers and pending options are merged as a union; Creating is owned by
// the pipeline and never merged.
func mergeInto(dst, src *Record) {
	if dst == src {
		return
	}
	if src.ID != "" {
		dst.ID = src.ID
	}
	// The first temp id wins so cells keyed by it stay valid.
	if src.TempID != 0 && dst.TempID == 0 {
		dst.TempID = src.TempID
	}
	// Deleted is sticky: only a confirmed delete removes the record.
	if src.Deleted {
		dst.Deleted = true
	}
	for _, m := range src.Modified {
		dst.addMarker(m)
	}
	for k, v := range src.Pending {
		if dst.Pending == nil {
			dst.Pending = make(map[string]PendingOp)
		}
		dst.Pending[k] = v
	}
	if len(src.Data) > 0 && dst.Data == nil {
		dst.Data = make(Metadata, len(src.Data))
	}
	// Shallow field merge: keys missing from src keep their local value.
	for k, v := range src.Data {
		dst.Data[k] = cloneValue(v)
	}
}

// SnapshotVersion is the current Snapshot layout version.
const SnapshotVersion = 1

// Snapshot is the whole-collection unit handed to Persistence.
type Snapshot struct {
	Version    int       `json:"version" yaml:"version"`
	Collection string    `json:"collection" yaml:"collection"`
	SavedAt    time.Time `json:"savedAt" yaml:"savedAt"`
	Records    []Record  `json:"records" yaml:"records"`
}

// Event is a named notification published on the Bus.
type Event struct {
	Name      string
	Payload   any
	Timestamp int64 // Unix milliseconds
}

// String implements lifecycle.Event.
func (e Event) String() string {
	return e.Name
}
