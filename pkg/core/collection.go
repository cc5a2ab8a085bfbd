package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/lifecycle"
)

// Default configuration values.
const (
	DefaultBaseURL       = "/api"
	DefaultAuthMilestone = "authenticated"
	WipeEvent            = "wipe"
)

// Collection owns the records of one entity type and every derived view
// over them. All methods are safe for concurrent use. No internal lock is
// held while hooks, ports or cell listeners run, so those may call back
// into the collection.
type Collection struct {
	cfg Config
	ids Resolver

	store *store
	queue *Queue
	sig   *signals
	views *registry

	transport Transport
	persist   Persistence
	conn      Connectivity
	bus       Bus
	metrics   Recorder
	logger    *slog.Logger
	now       func() time.Time

	getted  atomic.Bool
	started atomic.Bool
	saveMu  sync.Mutex
}

// NewCollection validates cfg and builds a collection. Nothing is loaded
// until Start or Restore is called.
func NewCollection(cfg Config) (*Collection, error) {
	if cfg.Name == "" {
		return nil, errors.New("collection name cannot be empty")
	}
	if cfg.IDField == "" {
		cfg.IDField = DefaultIDField
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuthMilestone == "" {
		cfg.AuthMilestone = DefaultAuthMilestone
	}

	c := &Collection{
		cfg:       cfg,
		ids:       Resolver{Field: cfg.IDField},
		queue:     &Queue{},
		sig:       newSignals(),
		views:     newRegistry(),
		transport: cfg.Transport,
		persist:   cfg.Persistence,
		conn:      cfg.Connectivity,
		bus:       cfg.Bus,
		metrics:   cfg.Recorder,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	c.store = newStore(c.ids)

	if c.persist == nil {
		c.persist = nopPersistence{}
	}
	if c.conn == nil {
		c.conn = alwaysOnline{}
	}
	if c.bus == nil {
		c.bus = nopBus{}
	}
	if c.metrics == nil {
		c.metrics = nopRecorder{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.logger = c.logger.With("collection", cfg.Name)
	return c, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.cfg.Name }

// Resolver returns the identity resolver of the collection.
func (c *Collection) Resolver() Resolver { return c.ids }

// Start loads the persisted snapshot and starts the background listeners.
// With Config.Unauthenticated the snapshot is restored before Start
// returns; otherwise restoration waits for the AuthMilestone on the bus.
// Start returns an error only when the snapshot cannot be loaded.
func (c *Collection) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if c.cfg.Unauthenticated {
		if err := c.Restore(ctx); err != nil && !isReplayError(err) {
			return err
		}
	} else {
		milestone := c.bus.OnComplete(ctx, c.cfg.AuthMilestone)
		c.goSafe(ctx, "restore", func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-milestone:
				if !ok {
					return nil
				}
			}
			if err := c.Restore(ctx); err != nil {
				c.logger.Warn("restore failed", "error", err)
			}
			return nil
		})
	}

	reconnected := c.conn.Reconnected(ctx)
	c.goSafe(ctx, "reconnect", func(ctx context.Context) error {
		for range reconnected {
			n := c.Drain(ctx)
			c.logger.Debug("queue drained", "count", n)
		}
		return nil
	})

	wipes := c.bus.On(ctx, WipeEvent)
	c.goSafe(ctx, "wipe", func(ctx context.Context) error {
		for range wipes {
			c.Clear(ctx)
		}
		return nil
	})
	return nil
}

func (c *Collection) goSafe(ctx context.Context, name string, fn func(context.Context) error) {
	lifecycle.Go(ctx, fn, lifecycle.WithErrorHandler(func(err error) {
		c.logger.Error("listener panic", "listener", name, "error", err)
	}))
}

// Drain replays the offline queue once, in enqueue order. Operations that
// are still deferred land in a fresh queue. It returns the number of
// descriptors replayed.
func (c *Collection) Drain(ctx context.Context) int {
	n := c.queue.Drain(ctx, func(ctx context.Context, d *Descriptor) {
		if err := c.dispatch(ctx, d); err != nil && !errors.Is(err, ErrQueued) {
			c.logger.Warn("replay failed", "op", d.Kind, "descriptor", d.ID, "error", err)
		}
	})
	c.metrics.SetQueueDepth(c.cfg.Name, c.queue.Len())
	return n
}

// Pending returns copies of the queued operations.
func (c *Collection) Pending() []Descriptor {
	return c.queue.Pending()
}

// New builds an unsaved record with a fresh temporary id.
func (c *Collection) New(data Metadata) Record {
	rec := Record{TempID: NewID(), Data: data.Clone()}
	if rec.Data == nil {
		rec.Data = Metadata{}
	}
	if c.cfg.AppID != "" {
		rec.Data["appId"] = c.cfg.AppID
	}
	return rec
}

// Doc returns the record stored under a canonical or temporary id.
func (c *Collection) Doc(id string) (Record, bool) {
	return c.store.get(id)
}

// Query returns every record matching pred. A nil pred matches all.
func (c *Collection) Query(pred func(Record) bool) []Record {
	return c.store.query(pred)
}

// Find returns the first record matching pred.
func (c *Collection) Find(pred func(Record) bool) (Record, bool) {
	return c.store.find(pred)
}

// Records returns a copy of every stored record in store order.
func (c *Collection) Records() []Record {
	return c.store.snapshot()
}

// Len returns the number of stored records, deleted-but-unconfirmed included.
func (c *Collection) Len() int {
	return c.store.len()
}

// Clear empties the collection, persists the empty snapshot and refreshes
// every derived view.
func (c *Collection) Clear(ctx context.Context) {
	c.store.clear()
	c.save(ctx)
	c.refresh(true)
	c.bus.Emit(c.event("changed"), nil)
}

// Cell returns the reactive cell of a record. The same cell is returned
// for every call with the same id, and for the canonical and temporary id
// of the same record once both are known.
func (c *Collection) Cell(id string) *RecordCell {
	if cell := c.sig.lookup(id); cell != nil {
		return cell
	}
	rec, _ := c.store.get(id)
	return c.sig.ensure(id, rec)
}

// List returns a derived cell holding the cells of every non-deleted
// record whose field equals value. Array fields match any element.
func (c *Collection) List(field string, value any) *ListCell {
	cell, created := c.sig.list(field, stringify(value))
	if created {
		c.sig.refresh(c.store.snapshot(), c.field, false)
	}
	return cell
}

// Group returns a derived cell bucketing record cells by a field value.
func (c *Collection) Group(field string) *GroupCell {
	cell, created := c.sig.group(field)
	if created {
		c.sig.refresh(c.store.snapshot(), c.field, false)
	}
	return cell
}

// Evict drops cached record cells except those of the given ids.
// Lists and groups are recomputed on the next mutation and may then hold
// fresh cells for evicted records.
func (c *Collection) Evict(except ...string) int {
	return c.sig.evict(except)
}

// RegisterSlice keeps *target equal to the accepted records of the
// collection, sorted by v.Compare, after every mutation.
func (c *Collection) RegisterSlice(target *[]Record, v View) *Registration {
	reg := c.views.add(&viewEntry{view: v, slice: target})
	c.recomputeViews()
	return reg
}

// RegisterMap keeps target bucketed by the view field after every mutation.
func (c *Collection) RegisterMap(target map[string][]Record, v View) *Registration {
	reg := c.views.add(&viewEntry{view: v, m: target})
	c.recomputeViews()
	return reg
}

// ReadViews runs fn while registered targets are not being recomputed.
func (c *Collection) ReadViews(fn func()) {
	c.views.mu.RLock()
	defer c.views.mu.RUnlock()
	fn()
}

// field reads a record field through the accessor table, falling back to
// the entity map.
func (c *Collection) field(rec Record, name string) any {
	if acc, ok := c.cfg.Accessors[name]; ok {
		return acc(rec)
	}
	return rec.Data[name]
}

func (c *Collection) event(suffix string) string {
	return c.cfg.Name + "_" + suffix
}

func (c *Collection) endpoint(verb Op, variant string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + c.cfg.Name + "/" + string(verb) + variant
}

func (c *Collection) listURL(q GetQuery, variant string) string {
	u := c.endpoint(OpGet, variant)
	vals := url.Values{}
	if q.Page > 0 {
		vals.Set("page", fmt.Sprint(q.Page))
	}
	if q.PerPage > 0 {
		vals.Set("perPage", fmt.Sprint(q.PerPage))
	}
	for k, v := range q.Query {
		vals.Set(k, v)
	}
	if len(vals) == 0 {
		return u
	}
	return u + "?" + vals.Encode()
}

// save writes the whole collection through the persistence port.
// Failures are logged; the in-memory state stays authoritative.
func (c *Collection) save(ctx context.Context) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	snap := &Snapshot{
		Version:    SnapshotVersion,
		Collection: c.cfg.Name,
		SavedAt:    c.now().UTC(),
		Records:    c.store.snapshot(),
	}
	for i := range snap.Records {
		snap.Records[i].Creating = false
	}
	if err := c.persist.Save(ctx, c.cfg.Name, snap); err != nil {
		c.logger.Warn("persist failed", "error", err)
	}
	c.metrics.SetRecords(c.cfg.Name, len(snap.Records))
}

// refresh recomputes lists, groups and filtered views, then announces it.
func (c *Collection) refresh(all bool) {
	records := c.store.snapshot()
	c.sig.refresh(records, c.field, all)
	c.views.recompute(records, c.field)
	c.bus.Emit(c.event("filtered"), nil)
}

func (c *Collection) recomputeViews() {
	c.views.recompute(c.store.snapshot(), c.field)
	c.bus.Emit(c.event("filtered"), nil)
}
