package core

import (
	"context"
	"fmt"
	"time"
)

// Create submits a new record. A record that already carries a canonical id
// is updated instead.
//
// The record is visible in the store as soon as Create returns, flagged as
// creating until the server answers. On success rec receives the reconciled
// record, including its canonical id.
//
// While offline Create returns ErrQueued and the request is sent on the
// next reconnect. rec is not touched by the replay: read the outcome from
// OnSuccess, Cell or Doc.
//
// A hard failure clears the creating flag so the call can be retried. A
// soft failure keeps it, and a retry in the same session returns a guard
// failure until Restore re-submits the record.
func (c *Collection) Create(ctx context.Context, rec *Record, opts ...Option) error {
	c.store.normalize(rec)
	if rec.ID != "" {
		return c.Update(ctx, rec, opts...)
	}

	o := buildOptions(opts)
	if rec.Creating {
		return c.reject(OpCreate, rec, o, FailGuard, ErrAlreadyCreating)
	}

	work, err := c.before(ctx, OpCreate, rec)
	if err != nil {
		return c.reject(OpCreate, rec, o, FailHook, err)
	}
	if work.TempID == 0 {
		work.TempID = NewID()
	}
	if c.cfg.AppID != "" {
		if work.Data == nil {
			work.Data = Metadata{}
		}
		if _, ok := work.Data["appId"]; !ok {
			work.Data["appId"] = c.cfg.AppID
		}
	}

	staged, err := c.store.beginCreate(work)
	if err != nil {
		return c.reject(OpCreate, work, o, FailGuard, err)
	}
	if work != rec {
		*rec = staged.Clone()
	}
	c.staged(ctx, staged)

	return c.dispatch(ctx, newDescriptor(OpCreate, &staged, rec, o, c.now()))
}

// Update submits the whole record. The operation id "up"+variant stays in
// rec.Modified until the server confirms.
func (c *Collection) Update(ctx context.Context, rec *Record, opts ...Option) error {
	return c.mark(ctx, OpUpdate, MarkerUpdate, rec, buildOptions(opts))
}

// Unique submits a targeted field update, selected with WithField. On
// success only that field is overwritten with the server answer.
func (c *Collection) Unique(ctx context.Context, rec *Record, opts ...Option) error {
	o := buildOptions(opts)
	if o.Field == "" {
		return c.reject(OpUnique, rec, o, FailGuard, ErrNoField)
	}
	return c.mark(ctx, OpUnique, MarkerUnique, rec, o)
}

func (c *Collection) mark(ctx context.Context, op Op, prefix string, rec *Record, o Options) error {
	c.store.normalize(rec)
	if keyOf(rec) == "" {
		return c.reject(op, rec, o, FailGuard, ErrNoIdentity)
	}

	work, err := c.before(ctx, op, rec)
	if err != nil {
		return c.reject(op, rec, o, FailHook, err)
	}
	c.store.normalize(work)
	if keyOf(work) == "" {
		return c.reject(op, work, o, FailGuard, ErrNoIdentity)
	}

	opID := prefix + o.Variant
	work.addMarker(opID)
	if work.Pending == nil {
		work.Pending = make(map[string]PendingOp)
	}
	work.Pending[opID] = o.pending()

	staged := c.store.upsert(work)
	if work != rec {
		*rec = staged.Clone()
	}
	c.staged(ctx, staged)

	return c.dispatch(ctx, newDescriptor(op, &staged, rec, o, c.now()))
}

// Delete flags the record as deleted right away and removes it from the
// store once the server confirms.
func (c *Collection) Delete(ctx context.Context, rec *Record, opts ...Option) error {
	o := buildOptions(opts)
	c.store.normalize(rec)
	if keyOf(rec) == "" {
		return c.reject(OpDelete, rec, o, FailGuard, ErrNoIdentity)
	}

	work, err := c.before(ctx, OpDelete, rec)
	if err != nil {
		return c.reject(OpDelete, rec, o, FailHook, err)
	}
	work.Deleted = true

	staged := c.store.upsert(work)
	if work != rec {
		*rec = staged.Clone()
	}
	c.staged(ctx, staged)

	return c.dispatch(ctx, newDescriptor(OpDelete, &staged, rec, o, c.now()))
}

// Fetch retrieves the single record matching query and merges it into the
// store. While offline it returns ErrQueued and a zero Record.
func (c *Collection) Fetch(ctx context.Context, query Metadata, opts ...Option) (Record, error) {
	d := newDescriptor(OpFetch, nil, nil, buildOptions(opts), c.now())
	d.Query = query.Clone()
	if !c.conn.Online() {
		return Record{}, c.enqueue(d)
	}
	return c.sendFetch(ctx, d)
}

// Get lists records. Without a page the answer is authoritative: the store
// is cleared and refilled from it, except for records an operation in the
// offline queue still refers to. With a page the answer is merged into the store. The first
// unpaginated Get completes the "<name>_getted" milestone.
//
// While offline Get returns the local records with ErrQueued.
// OnSuccess is not called for Get; subscribe to "<name>_get" instead.
func (c *Collection) Get(ctx context.Context, q GetQuery, opts ...Option) ([]Record, error) {
	d := newDescriptor(OpGet, nil, nil, buildOptions(opts), c.now())
	d.Get = &q
	if !c.conn.Online() {
		return c.Records(), c.enqueue(d)
	}
	return c.sendGet(ctx, d)
}

// dispatch sends d, or queues it while offline.
func (c *Collection) dispatch(ctx context.Context, d *Descriptor) error {
	if !c.conn.Online() {
		return c.enqueue(d)
	}

	var err error
	switch d.Kind {
	case OpCreate:
		err = c.sendCreate(ctx, d)
	case OpUpdate, OpUnique:
		err = c.sendMark(ctx, d)
	case OpDelete:
		err = c.sendDelete(ctx, d)
	case OpFetch:
		_, err = c.sendFetch(ctx, d)
	case OpGet:
		_, err = c.sendGet(ctx, d)
	default:
		err = fmt.Errorf("unknown operation %q", d.Kind)
	}
	return err
}

func (c *Collection) enqueue(d *Descriptor) error {
	// The replay runs on the reconnect goroutine while the caller may still
	// be using its record. Results reach it through OnSuccess and the cell.
	d.caller = nil
	c.queue.Push(d)
	n := c.queue.Len()
	c.logger.Debug("operation queued", "op", d.Kind, "descriptor", d.ID, "depth", n)
	c.metrics.SetQueueDepth(c.cfg.Name, n)
	c.metrics.ObserveOperation(c.cfg.Name, d.Kind, OutcomeQueued, 0)
	return ErrQueued
}

func (c *Collection) sendCreate(ctx context.Context, d *Descriptor) error {
	if c.transport == nil {
		return c.failed(d, FailHard, ErrNoTransport, time.Now())
	}
	key := keyOf(d.Record)
	start := time.Now()

	resp, err := c.transport.Post(ctx, c.endpoint(OpCreate, d.Options.Variant), c.body(c.current(d)))
	if err != nil {
		if rec, ok := c.store.update(key, func(r *Record) { r.Creating = false }); ok {
			c.sig.sync(rec)
		}
		if d.caller != nil {
			d.caller.Creating = false
		}
		return c.failed(d, FailHard, err, start)
	}
	doc, err := c.document(resp)
	if err != nil {
		return c.failed(d, FailSoft, err, start)
	}
	id, ok := c.ids.Canonical(doc)
	if !ok {
		return c.failed(d, FailSoft, ErrNoIdentity, start)
	}

	rec := c.confirm(ctx, d, func(r *Record) {
		mergeData(r, doc)
		r.ID = id
		r.Creating = false
	})
	return c.finish(ctx, d, rec, start)
}

func (c *Collection) sendMark(ctx context.Context, d *Descriptor) error {
	if c.transport == nil {
		return c.failed(d, FailHard, ErrNoTransport, time.Now())
	}
	start := time.Now()

	resp, err := c.transport.Post(ctx, c.endpoint(d.Kind, d.Options.Variant), c.body(c.current(d)))
	if err != nil {
		return c.failed(d, FailHard, err, start)
	}
	if !truthy(resp) {
		return c.failed(d, FailSoft, ErrEmptyResponse, start)
	}

	prefix := MarkerUpdate
	if d.Kind == OpUnique {
		prefix = MarkerUnique
	}
	opID := prefix + d.Options.Variant

	var apply func(*Record)
	if d.Kind == OpUnique {
		field := d.Options.Field
		value, overwrite := uniqueValue(resp, field)
		apply = func(r *Record) {
			if overwrite {
				if r.Data == nil {
					r.Data = Metadata{}
				}
				r.Data[field] = cloneValue(value)
			}
			r.clearMarker(opID)
		}
	} else {
		var doc Metadata
		if m, ok := asMap(resp); ok {
			doc = c.ingest(m)
		}
		apply = func(r *Record) {
			mergeData(r, doc)
			if id, ok := c.ids.Canonical(doc); ok {
				r.ID = id
			}
			r.clearMarker(opID)
		}
	}

	rec := c.confirm(ctx, d, apply)
	return c.finish(ctx, d, rec, start)
}

// uniqueValue extracts the confirmed field value from a unique answer:
// either an object carrying the field or the value itself. A bare true
// confirms the local value.
func uniqueValue(resp any, field string) (any, bool) {
	if m, ok := asMap(resp); ok {
		v, ok := m[field]
		return v, ok
	}
	if _, ok := resp.(bool); ok {
		return nil, false
	}
	return resp, true
}

func (c *Collection) sendDelete(ctx context.Context, d *Descriptor) error {
	if c.transport == nil {
		return c.failed(d, FailHard, ErrNoTransport, time.Now())
	}
	start := time.Now()

	resp, err := c.transport.Post(ctx, c.endpoint(OpDelete, d.Options.Variant), c.body(c.current(d)))
	if err != nil {
		return c.failed(d, FailHard, err, start)
	}
	if !truthy(resp) {
		return c.failed(d, FailSoft, ErrEmptyResponse, start)
	}

	rec, ok := c.store.remove(keyOf(d.Record))
	if !ok && d.Record.TempID != 0 {
		rec, ok = c.store.remove(fmt.Sprint(d.Record.TempID))
	}
	if !ok {
		rec = d.Record.Clone()
	}
	rec.Deleted = true
	if d.caller != nil {
		*d.caller = rec.Clone()
	}
	c.save(ctx)
	c.sig.sync(rec)
	c.refresh(false)
	return c.finish(ctx, d, rec, start)
}

func (c *Collection) sendFetch(ctx context.Context, d *Descriptor) (Record, error) {
	if c.transport == nil {
		return Record{}, c.failed(d, FailHard, ErrNoTransport, time.Now())
	}
	start := time.Now()

	resp, err := c.transport.Post(ctx, c.endpoint(OpFetch, d.Options.Variant), map[string]any(d.Query.Clone()))
	if err != nil {
		return Record{}, c.failed(d, FailHard, err, start)
	}
	doc, err := c.document(resp)
	if err != nil {
		return Record{}, c.failed(d, FailSoft, err, start)
	}
	id, ok := c.ids.Canonical(doc)
	if !ok {
		return Record{}, c.failed(d, FailSoft, ErrNoIdentity, start)
	}

	in := Record{ID: id, Data: doc}
	rec := c.store.upsert(&in)
	c.save(ctx)
	c.sig.sync(rec)
	c.refresh(false)
	return rec, c.finish(ctx, d, rec, start)
}

func (c *Collection) sendGet(ctx context.Context, d *Descriptor) ([]Record, error) {
	if c.transport == nil {
		return nil, c.failed(d, FailHard, ErrNoTransport, time.Now())
	}
	q := GetQuery{}
	if d.Get != nil {
		q = *d.Get
	}
	start := time.Now()

	resp, err := c.transport.Get(ctx, c.listURL(q, d.Options.Variant))
	if err != nil {
		return nil, c.failed(d, FailHard, err, start)
	}
	if resp == nil {
		return nil, c.failed(d, FailSoft, ErrEmptyResponse, start)
	}
	items, ok := resp.([]any)
	if !ok {
		return nil, c.failed(d, FailSoft, fmt.Errorf("unexpected listing payload %T", resp), start)
	}

	if q.Page == 0 {
		c.store.resetKeeping(c.queue.keys())
	}
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			c.logger.Warn("skipping listing entry", "type", fmt.Sprintf("%T", item))
			continue
		}
		doc := c.ingest(m)
		id, ok := c.ids.Canonical(doc)
		if !ok {
			c.logger.Warn("skipping listing entry without id")
			continue
		}
		c.store.upsert(&Record{ID: id, Data: doc})
	}
	c.save(ctx)
	c.refresh(true)

	if q.Page == 0 && c.getted.CompareAndSwap(false, true) {
		c.bus.Complete(c.event("getted"), len(items))
	}
	records := c.Records()
	return records, c.finish(ctx, d, Record{}, start)
}

// confirm applies a confirmed answer to the stored record and to the
// caller's record. A record wiped from the store meanwhile is reconciled
// from the descriptor copy only.
func (c *Collection) confirm(ctx context.Context, d *Descriptor, apply func(*Record)) Record {
	rec, ok := c.store.update(keyOf(d.Record), apply)
	if !ok && d.Record.TempID != 0 {
		rec, ok = c.store.update(fmt.Sprint(d.Record.TempID), apply)
	}
	if !ok {
		rec = d.Record.Clone()
		apply(&rec)
	}
	if d.caller != nil {
		*d.caller = rec.Clone()
	}
	c.save(ctx)
	c.sig.sync(rec)
	c.refresh(false)
	return rec
}

// finish runs the after hook, announces the change and reports success.
func (c *Collection) finish(ctx context.Context, d *Descriptor, rec Record, start time.Time) error {
	switch d.Kind {
	case OpCreate, OpUpdate, OpUnique, OpDelete:
		if c.cfg.Hooks.After != nil {
			out := rec.Clone()
			if err := c.cfg.Hooks.After(ctx, d.Kind, &out); err != nil {
				return c.failed(d, FailHook, err, start)
			}
		}
	}

	payload := any(rec)
	if d.Kind == OpGet {
		payload = d.Get
	}
	c.bus.Emit(c.event(string(d.Kind)), payload)
	c.bus.Emit(c.event("changed"), payload)

	if d.Options.OnSuccess != nil && d.Kind != OpGet {
		d.Options.OnSuccess(rec.Clone())
	}
	c.metrics.ObserveOperation(c.cfg.Name, d.Kind, OutcomeOK, time.Since(start))
	c.logger.Debug("operation confirmed", "op", d.Kind, "id", keyOf(&rec))
	return nil
}

// failed reports a failed dispatch. Pending markers are left in place so a
// later Restore retries the operation.
func (c *Collection) failed(d *Descriptor, kind FailureKind, err error, start time.Time) error {
	id := ""
	if d.Record != nil {
		id = keyOf(d.Record)
	}
	opErr := &OpError{Kind: kind, Op: d.Kind, ID: id, Err: err}
	c.logger.Debug("operation failed", "op", d.Kind, "id", id, "kind", kind, "error", err)
	if d.Options.OnError != nil {
		d.Options.OnError(opErr)
	}
	c.metrics.ObserveOperation(c.cfg.Name, d.Kind, kind.String(), time.Since(start))
	return opErr
}

// reject reports a failure detected before anything was staged.
func (c *Collection) reject(op Op, rec *Record, o Options, kind FailureKind, err error) error {
	opErr := &OpError{Kind: kind, Op: op, ID: keyOf(rec), Err: err}
	if o.OnError != nil {
		o.OnError(opErr)
	}
	c.metrics.ObserveOperation(c.cfg.Name, op, kind.String(), 0)
	return opErr
}

func (c *Collection) before(ctx context.Context, op Op, rec *Record) (*Record, error) {
	if c.cfg.Hooks.Before == nil {
		return rec, nil
	}
	out, err := c.cfg.Hooks.Before(ctx, op, rec)
	if err != nil {
		return nil, err
	}
	if out != nil {
		return out, nil
	}
	return rec, nil
}

// staged publishes an optimistic change.
func (c *Collection) staged(ctx context.Context, rec Record) {
	c.save(ctx)
	c.sig.sync(rec)
	c.refresh(false)
}

// current returns the stored state of the descriptor's record, which may
// have changed since it was queued.
func (c *Collection) current(d *Descriptor) Record {
	if rec, ok := c.store.get(keyOf(d.Record)); ok {
		return rec
	}
	if d.Record.TempID != 0 {
		if rec, ok := c.store.get(fmt.Sprint(d.Record.TempID)); ok {
			return rec
		}
	}
	return d.Record.Clone()
}

// body is the request payload for a record: its entity plus the canonical
// id under the identity field.
func (c *Collection) body(rec Record) map[string]any {
	data := rec.Data.Clone()
	if data == nil {
		data = Metadata{}
	}
	if rec.ID != "" {
		data[c.ids.field()] = rec.ID
	}
	return data
}

// document validates a single-document answer.
func (c *Collection) document(resp any) (Metadata, error) {
	if !truthy(resp) {
		return nil, ErrEmptyResponse
	}
	m, ok := asMap(resp)
	if !ok {
		return nil, fmt.Errorf("unexpected document payload %T", resp)
	}
	return c.ingest(m), nil
}

// ingest runs the inbound replace hook on a server document.
func (c *Collection) ingest(m map[string]any) Metadata {
	doc := Metadata(m)
	if c.cfg.Replace != nil {
		if out := c.cfg.Replace(doc); out != nil {
			doc = out
		}
	}
	return doc
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Metadata:
		return t, true
	default:
		return nil, false
	}
}

func mergeData(r *Record, doc Metadata) {
	if len(doc) == 0 {
		return
	}
	if r.Data == nil {
		r.Data = make(Metadata, len(doc))
	}
	for k, v := range doc {
		r.Data[k] = cloneValue(v)
	}
}
