package platform

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/docsync/pkg/core"
)

// options holds the configuration shared by every collection an Engine
// opens.
type options struct {
	dir       string
	format    string
	systemDir string
	strict    bool
	mustExist bool
	devSafety bool
	forceTemp bool

	origin       string
	baseURL      string
	headers      map[string]string
	probeEvery   time.Duration
	connectivity core.Connectivity
	transport    core.Transport
	persistence  core.Persistence
	bus          core.Bus
	eventBuffer  int

	hooks           core.Hooks
	accessors       map[string]core.Accessor
	registerer      prometheus.Registerer
	metrics         bool
	unauthenticated bool
	appID           string
	idField         string
	replace         func(core.Metadata) core.Metadata

	logger *slog.Logger
}

// Option defines a functional option for configuring an Engine.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		format:    ".json",
		devSafety: true,
		headers:   make(map[string]string),
		accessors: make(map[string]core.Accessor),
	}
}

// WithDir persists snapshots as files in dir. Without it (and without
// WithPersistence) snapshots live in memory only.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithCodec selects the snapshot file format by extension: ".json",
// ".yaml" or ".cbor".
func WithCodec(ext string) Option {
	return func(o *options) {
		o.format = ext
	}
}

// WithSystemDir names the directory holding the manifest (default ".docsync").
func WithSystemDir(name string) Option {
	return func(o *options) {
		o.systemDir = name
	}
}

// WithStrict decodes JSON snapshot numbers as json.Number.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithMustExist fails when the snapshot directory does not exist.
func WithMustExist(must bool) Option {
	return func(o *options) {
		o.mustExist = must
	}
}

// WithDevSafety controls the sandbox used under `go run` and `go test`:
// when enabled (the default) snapshot directories outside the system temp
// dir are redirected into it.
func WithDevSafety(enabled bool) Option {
	return func(o *options) {
		o.devSafety = enabled
	}
}

// WithForceTemp always redirects the snapshot directory into the system
// temp dir.
func WithForceTemp(force bool) Option {
	return func(o *options) {
		o.forceTemp = force
	}
}

// WithRemote sets the origin of the remote API, e.g. "https://example.com".
// It builds the default JSON over HTTP transport.
func WithRemote(origin string) Option {
	return func(o *options) {
		o.origin = origin
	}
}

// WithHeader adds a header sent with every request of the default transport.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.headers[key] = value
	}
}

// WithBaseURL sets the path prefix of collection endpoints (default "/api").
func WithBaseURL(base string) Option {
	return func(o *options) {
		o.baseURL = base
	}
}

// WithProbeInterval polls the remote origin to track connectivity. Zero
// (the default) assumes the remote is always reachable.
func WithProbeInterval(d time.Duration) Option {
	return func(o *options) {
		o.probeEvery = d
	}
}

// WithConnectivity injects the connectivity oracle.
func WithConnectivity(c core.Connectivity) Option {
	return func(o *options) {
		o.connectivity = c
	}
}

// WithTransport injects the transport, replacing the default HTTP client.
func WithTransport(t core.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithPersistence injects the persistence adapter.
func WithPersistence(p core.Persistence) Option {
	return func(o *options) {
		o.persistence = p
	}
}

// WithBus injects the event bus shared by all collections.
func WithBus(b core.Bus) Option {
	return func(o *options) {
		o.bus = b
	}
}

// WithEventBuffer sets the per-subscriber buffer of the default bus.
// Zero means default (64).
func WithEventBuffer(size int) Option {
	return func(o *options) {
		o.eventBuffer = size
	}
}

// WithHooks sets the before/after hooks of every collection.
func WithHooks(h core.Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

// WithAccessor registers a field getter used by lists, groups and views.
func WithAccessor(field string, fn core.Accessor) Option {
	return func(o *options) {
		o.accessors[field] = fn
	}
}

// WithMetrics registers Prometheus metrics on reg. A nil reg uses the
// default registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.metrics = true
		o.registerer = reg
	}
}

// WithUnauthenticated restores collections on open instead of waiting for
// the authentication milestone.
func WithUnauthenticated(enabled bool) Option {
	return func(o *options) {
		o.unauthenticated = enabled
	}
}

// WithAppID stamps created records with Data["appId"].
func WithAppID(id string) Option {
	return func(o *options) {
		o.appID = id
	}
}

// WithIDField names the canonical identity field (default "_id").
func WithIDField(field string) Option {
	return func(o *options) {
		o.idField = field
	}
}

// WithReplace rewrites every document received from the server.
func WithReplace(fn func(core.Metadata) core.Metadata) Option {
	return func(o *options) {
		o.replace = fn
	}
}

// WithLogger sets the logger shared by the engine and its adapters.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
