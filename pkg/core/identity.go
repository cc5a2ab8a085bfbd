package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

// DefaultIDField is the entity field holding the canonical id.
const DefaultIDField = "_id"

// Resolver computes record identities from a configured field.
type Resolver struct {
	Field string
}

// Canonical reads the identity field of data and stringifies it.
func (r Resolver) Canonical(data Metadata) (string, bool) {
	v, ok := data[r.field()]
	if !ok {
		return "", false
	}
	id := stringify(v)
	return id, id != ""
}

// Resolve returns the canonical id when known, the temporary id otherwise.
func (r Resolver) Resolve(rec *Record) (string, bool) {
	if rec.ID != "" {
		return rec.ID, true
	}
	if id, ok := r.Canonical(rec.Data); ok {
		return id, true
	}
	if rec.TempID != 0 {
		return strconv.FormatInt(rec.TempID, 10), true
	}
	return "", false
}

func (r Resolver) field() string {
	if r.Field == "" {
		return DefaultIDField
	}
	return r.Field
}

// lastID holds the most recently issued temporary id.
var lastID atomic.Int64

// NewID returns a process-unique temporary id.
// The value is the epoch milliseconds scaled by 1000 plus a per-millisecond
// sequence, so ids sort by creation time and never repeat, even for many
// creations inside the same millisecond.
func NewID() int64 {
	base := time.Now().UnixMilli() * 1000
	for {
		prev := lastID.Load()
		next := base
		if next <= prev {
			next = prev + 1
		}
		if lastID.CompareAndSwap(prev, next) {
			return next
		}
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return stringify(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// keysOf expands a field value into bucket keys. Array values fan out into
// one key per distinct element.
func keysOf(v any) []string {
	var raw []any
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		raw = t
	case []string:
		raw = make([]any, len(t))
		for i, s := range t {
			raw[i] = s
		}
	default:
		raw = []any{v}
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if e == nil {
			continue
		}
		k := stringify(e)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// truthy mirrors the falsy set of the remote API: null, false, 0 and "".
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}
