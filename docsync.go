package docsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/docsync/internal/platform"
	"github.com/aretw0/docsync/pkg/core"
)

// --- Types ---

// Engine owns the adapters shared by a set of collections.
type Engine = platform.Engine

// Collection is one synchronized set of records.
type Collection = core.Collection

// Record is an entity plus its synchronization bookkeeping.
type Record = core.Record

// Metadata is the free-form entity carried by a record.
type Metadata = core.Metadata

// --- Configuration ---

// Option defines a functional option for configuring an Engine.
type Option = platform.Option

// WithDir persists snapshots as files in dir.
func WithDir(dir string) Option {
	return platform.WithDir(dir)
}

// WithCodec selects the snapshot file format: ".json", ".yaml" or ".cbor".
func WithCodec(ext string) Option {
	return platform.WithCodec(ext)
}

// WithSystemDir names the directory holding the manifest.
func WithSystemDir(name string) Option {
	return platform.WithSystemDir(name)
}

// WithStrict decodes JSON snapshot numbers as json.Number.
func WithStrict(strict bool) Option {
	return platform.WithStrict(strict)
}

// WithMustExist fails when the snapshot directory does not exist.
func WithMustExist(must bool) Option {
	return platform.WithMustExist(must)
}

// WithDevSafety controls the `go run`/`go test` sandbox for snapshot dirs.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// WithForceTemp always redirects the snapshot directory into the temp dir.
func WithForceTemp(force bool) Option {
	return platform.WithForceTemp(force)
}

// WithRemote sets the origin of the remote API.
func WithRemote(origin string) Option {
	return platform.WithRemote(origin)
}

// WithHeader adds a header to every request of the default transport.
func WithHeader(key, value string) Option {
	return platform.WithHeader(key, value)
}

// WithBaseURL sets the path prefix of collection endpoints.
func WithBaseURL(base string) Option {
	return platform.WithBaseURL(base)
}

// WithProbeInterval polls the remote origin to track connectivity.
func WithProbeInterval(d time.Duration) Option {
	return platform.WithProbeInterval(d)
}

// WithConnectivity injects the connectivity oracle.
func WithConnectivity(c core.Connectivity) Option {
	return platform.WithConnectivity(c)
}

// WithTransport injects the transport.
func WithTransport(t core.Transport) Option {
	return platform.WithTransport(t)
}

// WithPersistence injects the persistence adapter.
func WithPersistence(p core.Persistence) Option {
	return platform.WithPersistence(p)
}

// WithBus injects the event bus.
func WithBus(b core.Bus) Option {
	return platform.WithBus(b)
}

// WithEventBuffer sets the per-subscriber buffer of the default bus.
func WithEventBuffer(size int) Option {
	return platform.WithEventBuffer(size)
}

// WithHooks sets the before/after hooks of every collection.
func WithHooks(h core.Hooks) Option {
	return platform.WithHooks(h)
}

// WithAccessor registers a field getter used by lists, groups and views.
func WithAccessor(field string, fn core.Accessor) Option {
	return platform.WithAccessor(field, fn)
}

// WithMetrics registers Prometheus metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return platform.WithMetrics(reg)
}

// WithUnauthenticated restores collections on open.
func WithUnauthenticated(enabled bool) Option {
	return platform.WithUnauthenticated(enabled)
}

// WithAppID stamps created records with Data["appId"].
func WithAppID(id string) Option {
	return platform.WithAppID(id)
}

// WithIDField names the canonical identity field.
func WithIDField(field string) Option {
	return platform.WithIDField(field)
}

// WithReplace rewrites every document received from the server.
func WithReplace(fn func(core.Metadata) core.Metadata) Option {
	return platform.WithReplace(fn)
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// --- Factory ---

// New creates an Engine.
func New(opts ...Option) (*Engine, error) {
	return platform.New(opts...)
}

// Open creates an Engine and opens a single collection on it.
func Open(ctx context.Context, name string, opts ...Option) (*Collection, error) {
	eng, err := platform.New(opts...)
	if err != nil {
		return nil, err
	}
	return eng.Open(ctx, name)
}

// --- Safety & Utils ---

// ResolveDir determines the actual snapshot directory based on safety rules.
func ResolveDir(userPath string, forceTemp bool) string {
	return platform.ResolveDir(userPath, forceTemp)
}

// IsDevRun reports whether the process runs under `go run` or `go test`.
func IsDevRun() bool {
	return platform.IsDevRun()
}

// FindRoot walks upwards looking for a snapshot root.
func FindRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}
