// Package docsync is the composition root of the document synchronization
// engine.
//
// A Collection keeps an in-memory set of records, applies local mutations
// optimistically, reconciles them against a remote JSON API and defers
// them while offline. Every change is persisted as a whole-collection
// snapshot, so unconfirmed work survives a restart and is replayed on the
// next open. Reactive cells, lists, groups and filtered views follow the
// records as they change.
//
// The core (pkg/core) only sees ports. This package wires the default
// adapters: snapshot files (pkg/adapters/fs), JSON over HTTP
// (pkg/adapters/rest), a connectivity poller (pkg/adapters/netstate), an
// in-process bus (pkg/bus) and Prometheus metrics (pkg/metrics).
//
// Usage:
//
//	eng, err := docsync.New(
//		docsync.WithDir("./data"),
//		docsync.WithRemote("https://api.example.com"),
//		docsync.WithProbeInterval(30*time.Second),
//	)
//	todos, err := eng.Open(ctx, "todos")
//	eng.Authenticate(user)
//
//	rec := todos.New(docsync.Metadata{"title": "buy milk"})
//	err = todos.Create(ctx, &rec) // core.ErrQueued while offline
package docsync
