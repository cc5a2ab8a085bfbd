// Package platform wires the engine's ports to concrete adapters.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/introspection"

	"github.com/aretw0/docsync/pkg/adapters/fs"
	"github.com/aretw0/docsync/pkg/adapters/memory"
	"github.com/aretw0/docsync/pkg/adapters/netstate"
	"github.com/aretw0/docsync/pkg/adapters/rest"
	"github.com/aretw0/docsync/pkg/bus"
	"github.com/aretw0/docsync/pkg/core"
	"github.com/aretw0/docsync/pkg/metrics"
)

// Engine owns the adapters shared by a set of collections: one bus, one
// persistence, one transport and one connectivity oracle.
//
//	eng, err := platform.New(platform.WithDir("./data"), platform.WithRemote("https://api.example.com"))
//	todos, err := eng.Open(ctx, "todos")
type Engine struct {
	opts *options

	bus         core.Bus
	persistence core.Persistence
	transport   core.Transport
	conn        core.Connectivity
	poller      *netstate.Poller
	recorder    core.Recorder
	logger      *slog.Logger

	mu          sync.Mutex
	collections map[string]*core.Collection
}

// New builds an engine. Nothing is loaded until Open.
func New(opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		opts:        o,
		logger:      logger,
		collections: make(map[string]*core.Collection),
	}

	e.bus = o.bus
	if e.bus == nil {
		e.bus = bus.New(bus.WithBuffer(o.eventBuffer), bus.WithLogger(logger))
	}

	persistence, err := e.initPersistence()
	if err != nil {
		return nil, err
	}
	e.persistence = persistence

	e.transport = o.transport
	var client *rest.Client
	if e.transport == nil && o.origin != "" {
		restOpts := []rest.Option{rest.WithLogger(logger)}
		for k, v := range o.headers {
			restOpts = append(restOpts, rest.WithHeader(k, v))
		}
		client = rest.New(o.origin, restOpts...)
		e.transport = client
	}

	e.conn = o.connectivity
	if e.conn == nil && o.probeEvery > 0 {
		if client == nil {
			return nil, fmt.Errorf("probe interval requires a remote origin")
		}
		e.poller = netstate.NewPoller(netstate.PollerConfig{
			Probe:    client.Ping,
			Interval: o.probeEvery,
			Online:   true,
			Logger:   logger,
		})
		e.conn = e.poller
	}

	if o.metrics {
		e.recorder = metrics.New(o.registerer)
	}
	return e, nil
}

func (e *Engine) initPersistence() (core.Persistence, error) {
	o := e.opts
	if o.persistence != nil {
		return o.persistence, nil
	}
	if o.dir == "" {
		return memory.New(), nil
	}

	useTemp := o.forceTemp || (IsDevRun() && o.devSafety)
	dir := ResolveDir(o.dir, useTemp)
	if useTemp {
		e.logger.Debug("running in SAFE mode (dev sandbox enabled)", "original_dir", o.dir, "resolved_dir", dir)
	}

	store, err := fs.NewStore(fs.Config{
		Dir:       dir,
		Format:    o.format,
		SystemDir: o.systemDir,
		Logger:    e.logger,
		Strict:    o.strict,
		MustExist: o.mustExist,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot directory: %w", err)
	}
	return store, nil
}

// Start starts background adapters such as the connectivity poller.
func (e *Engine) Start(ctx context.Context) error {
	if e.poller != nil {
		return e.poller.Start(ctx)
	}
	return nil
}

// Stop stops background adapters.
func (e *Engine) Stop(ctx context.Context) error {
	if e.poller != nil {
		return e.poller.Stop(ctx)
	}
	return nil
}

// Open returns the named collection, building and starting it on first
// use. Subsequent calls return the same instance.
func (e *Engine) Open(ctx context.Context, name string) (*core.Collection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.collections[name]; ok {
		return c, nil
	}

	o := e.opts
	c, err := core.NewCollection(core.Config{
		Name:            name,
		IDField:         o.idField,
		Replace:         o.replace,
		Unauthenticated: o.unauthenticated,
		AppID:           o.appID,
		BaseURL:         o.baseURL,
		Hooks:           o.hooks,
		Accessors:       o.accessors,
		Transport:       e.transport,
		Persistence:     e.persistence,
		Connectivity:    e.conn,
		Bus:             e.bus,
		Recorder:        e.recorder,
		Logger:          e.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start collection %q: %w", name, err)
	}

	e.collections[name] = c
	return c, nil
}

// Authenticate completes the authentication milestone, releasing the
// restore of every collection opened without WithUnauthenticated.
func (e *Engine) Authenticate(payload any) {
	e.bus.Complete(core.DefaultAuthMilestone, payload)
}

// Wipe clears every collection through the bus wipe event.
func (e *Engine) Wipe() {
	e.bus.Emit(core.WipeEvent, nil)
}

// Bus returns the shared event bus.
func (e *Engine) Bus() core.Bus {
	return e.bus
}

// Persistence returns the shared persistence adapter.
func (e *Engine) Persistence() core.Persistence {
	return e.persistence
}

// Connectivity returns the connectivity oracle, or nil when the remote is
// assumed reachable.
func (e *Engine) Connectivity() core.Connectivity {
	return e.conn
}

// EngineState exposes internal state for observability.
type EngineState struct {
	Collections map[string]any `json:"collections"`
	Persistence string         `json:"persistence"`
	Transport   bool           `json:"transport"`
	Polling     bool           `json:"polling"`
	Metrics     bool           `json:"metrics"`
	Bus         any            `json:"bus,omitempty"`
}

// State implements introspection.Introspectable.
func (e *Engine) State() any {
	e.mu.Lock()
	names := make([]string, 0, len(e.collections))
	for n := range e.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	cols := make(map[string]any, len(names))
	for _, n := range names {
		cols[n] = e.collections[n].State()
	}
	e.mu.Unlock()

	st := EngineState{
		Collections: cols,
		Persistence: componentType(e.persistence),
		Transport:   e.transport != nil,
		Polling:     e.poller != nil,
		Metrics:     e.recorder != nil,
	}
	if in, ok := e.bus.(introspection.Introspectable); ok {
		st.Bus = in.State()
	}
	return st
}

// ComponentType implements introspection.Component.
func (e *Engine) ComponentType() string {
	return "engine"
}

func componentType(v any) string {
	if c, ok := v.(introspection.Component); ok {
		return c.ComponentType()
	}
	return fmt.Sprintf("%T", v)
}

var _ introspection.Introspectable = (*Engine)(nil)
