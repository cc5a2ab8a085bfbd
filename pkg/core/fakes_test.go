package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/docsync/pkg/bus"
	"github.com/aretw0/docsync/pkg/core"
)

type call struct {
	Method string
	URL    string
	Body   map[string]any
}

// fakeTransport records every request and answers through respond.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []call
	respond func(method, url string, body map[string]any) (any, error)
}

func (f *fakeTransport) record(method, url string, body any) call {
	c := call{Method: method, URL: url}
	if m, ok := body.(map[string]any); ok {
		c.Body = m
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return c
}

func (f *fakeTransport) answer(c call) (any, error) {
	if f.respond == nil {
		return c.Body, nil
	}
	return f.respond(c.Method, c.URL, c.Body)
}

func (f *fakeTransport) Get(_ context.Context, url string) (any, error) {
	return f.answer(f.record("GET", url, nil))
}

func (f *fakeTransport) Post(_ context.Context, url string, body any) (any, error) {
	return f.answer(f.record("POST", url, body))
}

func (f *fakeTransport) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

// echoWithID answers creates with the posted body plus an assigned id.
func echoWithID(id string) func(string, string, map[string]any) (any, error) {
	return func(_, url string, body map[string]any) (any, error) {
		if strings.Contains(url, "/create") {
			out := map[string]any{}
			for k, v := range body {
				out[k] = v
			}
			out["_id"] = id
			return out, nil
		}
		return body, nil
	}
}

// memPersistence keeps JSON-encoded snapshots so only persisted fields
// survive a round trip.
type memPersistence struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
}

func newMemPersistence() *memPersistence {
	return &memPersistence{data: make(map[string][]byte)}
}

func (m *memPersistence) Load(_ context.Context, key string) (*core.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	var snap core.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (m *memPersistence) Save(_ context.Context, key string, snap *core.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.saves++
	m.mu.Unlock()
	return nil
}

type failingPersistence struct{}

func (failingPersistence) Load(context.Context, string) (*core.Snapshot, error) {
	return nil, errors.New("disk on fire")
}
func (failingPersistence) Save(context.Context, string, *core.Snapshot) error { return nil }

// switchConn is a manually flipped connectivity port.
type switchConn struct {
	online atomic.Bool
	ch     chan struct{}
}

func newSwitch(online bool) *switchConn {
	s := &switchConn{ch: make(chan struct{}, 8)}
	s.online.Store(online)
	return s
}

func (s *switchConn) Online() bool { return s.online.Load() }

func (s *switchConn) Reconnected(context.Context) <-chan struct{} { return s.ch }

func (s *switchConn) Set(online bool) {
	was := s.online.Swap(online)
	if online && !was {
		s.ch <- struct{}{}
	}
}

type harness struct {
	c     *core.Collection
	tr    *fakeTransport
	store *memPersistence
	conn  *switchConn
	bus   *bus.Bus
}

func newHarness(t *testing.T, online bool, mutate ...func(*core.Config)) *harness {
	t.Helper()

	h := &harness{
		tr:    &fakeTransport{},
		store: newMemPersistence(),
		conn:  newSwitch(online),
		bus:   bus.New(),
	}
	cfg := core.Config{
		Name:            "todos",
		Unauthenticated: true,
		Transport:       h.tr,
		Persistence:     h.store,
		Connectivity:    h.conn,
		Bus:             h.bus,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := core.NewCollection(cfg)
	require.NoError(t, err)
	h.c = c
	return h
}

func (h *harness) reopen(t *testing.T, mutate ...func(*core.Config)) *core.Collection {
	t.Helper()
	cfg := core.Config{
		Name:         "todos",
		Transport:    h.tr,
		Persistence:  h.store,
		Connectivity: h.conn,
		Bus:          h.bus,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := core.NewCollection(cfg)
	require.NoError(t, err)
	return c
}
