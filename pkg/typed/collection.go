// Package typed gives type-safe access to a core.Collection.
//
// Entities are converted between T and core.Metadata with a JSON round
// trip, so T's json tags define the field names seen by the engine, views
// and the remote API.
package typed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/docsync/pkg/core"
)

// ErrNotFound is returned when no record has the requested identity.
var ErrNotFound = errors.New("document not found")

// Document is a typed view of a record. Record keeps the synchronization
// bookkeeping; Data is the decoded entity.
type Document[T any] struct {
	Record core.Record
	Data   T
	saver  Saver[T]
}

// Saver is implemented by Collection. Documents keep a reference to the
// collection they came from so they can save themselves.
type Saver[T any] interface {
	Save(ctx context.Context, doc *Document[T], opts ...core.Option) error
}

// ID returns the canonical id, or the temporary one before the server
// confirmed the document.
func (d *Document[T]) ID() string {
	return d.Record.Key()
}

// Save persists the document through the collection it belongs to.
func (d *Document[T]) Save(ctx context.Context, opts ...core.Option) error {
	if d.saver == nil {
		return fmt.Errorf("document is detached (missing Saver)")
	}
	return d.saver.Save(ctx, d, opts...)
}

// Collection wraps a core.Collection with entity type T.
type Collection[T any] struct {
	c *core.Collection
}

// New creates a typed wrapper around an existing collection.
func New[T any](c *core.Collection) *Collection[T] {
	return &Collection[T]{c: c}
}

// Core returns the wrapped collection.
func (tc *Collection[T]) Core() *core.Collection {
	return tc.c
}

// New builds an unsaved document with a fresh temporary id.
func (tc *Collection[T]) New(data T) (*Document[T], error) {
	m, err := toMetadata(data)
	if err != nil {
		return nil, err
	}
	return &Document[T]{Record: tc.c.New(m), Data: data, saver: tc}, nil
}

// Save creates the document when it has no canonical id yet and updates it
// otherwise. core.ErrQueued means the change is stored locally and will be
// sent on reconnect.
func (tc *Collection[T]) Save(ctx context.Context, doc *Document[T], opts ...core.Option) error {
	if err := tc.stage(doc); err != nil {
		return err
	}
	var err error
	if doc.Record.ID == "" {
		err = tc.c.Create(ctx, &doc.Record, opts...)
	} else {
		err = tc.c.Update(ctx, &doc.Record, opts...)
	}
	return tc.settle(doc, err)
}

// Unique sends only field to the server.
func (tc *Collection[T]) Unique(ctx context.Context, doc *Document[T], field string, opts ...core.Option) error {
	if err := tc.stage(doc); err != nil {
		return err
	}
	opts = append(opts, core.WithField(field))
	return tc.settle(doc, tc.c.Unique(ctx, &doc.Record, opts...))
}

// Delete removes the document.
func (tc *Collection[T]) Delete(ctx context.Context, doc *Document[T], opts ...core.Option) error {
	return tc.c.Delete(ctx, &doc.Record, opts...)
}

// Get returns the stored document with the given canonical or temporary id.
func (tc *Collection[T]) Get(id string) (*Document[T], error) {
	rec, ok := tc.c.Doc(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tc.fromCore(rec)
}

// List returns every stored document that is not pending deletion.
func (tc *Collection[T]) List() ([]*Document[T], error) {
	return tc.Query(nil)
}

// Query returns the non-deleted documents whose entity satisfies pred.
// A nil pred matches everything.
func (tc *Collection[T]) Query(pred func(T) bool) ([]*Document[T], error) {
	recs := tc.c.Query(func(r core.Record) bool { return !r.Deleted })

	result := make([]*Document[T], 0, len(recs))
	for _, r := range recs {
		doc, err := tc.fromCore(r)
		if err != nil {
			return nil, fmt.Errorf("failed to process document %s: %w", r.Key(), err)
		}
		if pred == nil || pred(doc.Data) {
			result = append(result, doc)
		}
	}
	return result, nil
}

// Pull lists documents from the server into the collection and returns
// them typed.
func (tc *Collection[T]) Pull(ctx context.Context, q core.GetQuery, opts ...core.Option) ([]*Document[T], error) {
	recs, err := tc.c.Get(ctx, q, opts...)
	if err != nil && !errors.Is(err, core.ErrQueued) {
		return nil, err
	}
	result := make([]*Document[T], 0, len(recs))
	for _, r := range recs {
		doc, derr := tc.fromCore(r)
		if derr != nil {
			return nil, fmt.Errorf("failed to process document %s: %w", r.Key(), derr)
		}
		result = append(result, doc)
	}
	return result, err
}

// stage copies the typed entity into the record, keeping fields T does not
// declare (such as the identity field).
func (tc *Collection[T]) stage(doc *Document[T]) error {
	m, err := toMetadata(doc.Data)
	if err != nil {
		return err
	}
	if doc.Record.Data == nil {
		doc.Record.Data = make(core.Metadata, len(m))
	}
	for k, v := range m {
		doc.Record.Data[k] = v
	}
	if doc.saver == nil {
		doc.saver = tc
	}
	return nil
}

// settle decodes the record back into Data once the pipeline has written
// the reconciled state into it.
func (tc *Collection[T]) settle(doc *Document[T], opErr error) error {
	data, err := fromMetadata[T](doc.Record.Data)
	if err != nil {
		return errors.Join(opErr, err)
	}
	doc.Data = data
	return opErr
}

func (tc *Collection[T]) fromCore(rec core.Record) (*Document[T], error) {
	data, err := fromMetadata[T](rec.Data)
	if err != nil {
		return nil, err
	}
	return &Document[T]{Record: rec, Data: data, saver: tc}, nil
}

func toMetadata[T any](data T) (core.Metadata, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}
	var m core.Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to convert typed data to map: %w", err)
	}
	return m, nil
}

func fromMetadata[T any](m core.Metadata) (T, error) {
	var data T
	raw, err := json.Marshal(m)
	if err != nil {
		return data, fmt.Errorf("metadata marshal failed: %w", err)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("unmarshal to target type failed: %w", err)
	}
	return data, nil
}
