package core

import (
	"context"
	"log/slog"
	"time"
)

// Transport is the request/response primitive used to reach the remote API.
// Results are decoded JSON values (map[string]any, []any, string, float64,
// bool or nil).
type Transport interface {
	Get(ctx context.Context, url string) (any, error)
	Post(ctx context.Context, url string, body any) (any, error)
}

// Persistence loads and saves whole-collection snapshots keyed by
// collection name.
type Persistence interface {
	// Load returns nil, nil when no snapshot exists for key.
	Load(ctx context.Context, key string) (*Snapshot, error)
	Save(ctx context.Context, key string, snap *Snapshot) error
}

// Connectivity reports whether the remote API is reachable.
type Connectivity interface {
	Online() bool
	// Reconnected delivers one value per offline to online transition until
	// ctx is done.
	Reconnected(ctx context.Context) <-chan struct{}
}

// Bus is a named publish/subscribe channel with one-shot milestones.
type Bus interface {
	Emit(name string, payload any)
	// On subscribes to events whose name matches pattern.
	On(ctx context.Context, pattern string) <-chan Event
	// Complete fires a milestone. Later OnComplete calls receive it immediately.
	Complete(name string, payload any)
	OnComplete(ctx context.Context, name string) <-chan Event
}

// Recorder receives operational measurements.
type Recorder interface {
	ObserveOperation(collection string, op Op, outcome string, d time.Duration)
	SetQueueDepth(collection string, n int)
	SetRecords(collection string, n int)
}

// Operation outcomes reported to a Recorder.
const (
	OutcomeOK     = "ok"
	OutcomeQueued = "queued"
)

// Hooks customize the pipeline around every mutation.
type Hooks struct {
	// Before runs ahead of any state change. A non-nil record replaces the
	// payload; an error aborts the call with a hook failure.
	Before func(ctx context.Context, op Op, rec *Record) (*Record, error)
	// After runs once the server confirmed the operation.
	After func(ctx context.Context, op Op, rec *Record) error
}

// Accessor reads a derived field from a record.
type Accessor func(Record) any

// Config is the construction-time configuration of a Collection.
type Config struct {
	Name string
	// IDField names the entity field holding the canonical id.
	IDField string
	// Replace runs on every document received from the server before it is
	// ingested.
	Replace func(Metadata) Metadata
	// Unauthenticated restores from persistence without waiting for the
	// AuthMilestone.
	Unauthenticated bool
	// AppID is stamped into Data["appId"] of newly created records.
	AppID         string
	BaseURL       string
	Hooks         Hooks
	Accessors     map[string]Accessor
	AuthMilestone string

	Transport    Transport
	Persistence  Persistence
	Connectivity Connectivity
	Bus          Bus
	Recorder     Recorder

	Logger *slog.Logger
	Now    func() time.Time
}

// Options tune a single pipeline call.
type Options struct {
	// Variant names an operation flavor. It becomes part of the operation
	// id and of the request path.
	Variant string `json:"variant,omitempty"`
	// Field is the targeted field of a unique operation.
	Field string `json:"field,omitempty"`

	OnSuccess func(Record) `json:"-"`
	OnError   func(error)  `json:"-"`
}

// Option configures Options.
type Option func(*Options)

// WithVariant selects a named operation flavor.
func WithVariant(v string) Option {
	return func(o *Options) { o.Variant = v }
}

// WithField selects the field a unique operation overwrites.
func WithField(f string) Option {
	return func(o *Options) { o.Field = f }
}

// OnSuccess registers a callback for confirmed operations, including
// operations replayed from the offline queue.
func OnSuccess(fn func(Record)) Option {
	return func(o *Options) { o.OnSuccess = fn }
}

// OnError registers a callback for failed operations.
func OnError(fn func(error)) Option {
	return func(o *Options) { o.OnError = fn }
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) pending() PendingOp {
	return PendingOp{Variant: o.Variant, Field: o.Field}
}

// GetQuery parameterizes a listing call. Page 0 means unpaginated.
type GetQuery struct {
	Page    int               `json:"page,omitempty"`
	PerPage int               `json:"perPage,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
}

type nopPersistence struct{}

func (nopPersistence) Load(context.Context, string) (*Snapshot, error) { return nil, nil }
func (nopPersistence) Save(context.Context, string, *Snapshot) error   { return nil }

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }
func (alwaysOnline) Reconnected(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

type nopBus struct{}

func (nopBus) Emit(string, any)     {}
func (nopBus) Complete(string, any) {}
func (nopBus) On(ctx context.Context, _ string) <-chan Event {
	return closedOnDone(ctx)
}
func (nopBus) OnComplete(ctx context.Context, _ string) <-chan Event {
	return closedOnDone(ctx)
}

func closedOnDone(ctx context.Context) <-chan Event {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, Op, string, time.Duration) {}
func (nopRecorder) SetQueueDepth(string, int)                        {}
func (nopRecorder) SetRecords(string, int)                           {}
