package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docsync/pkg/core"
)

func TestRestore_ReproducesRecordSet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	for _, r := range []core.Record{
		{ID: "a", Data: core.Metadata{"n": 1.0, "tags": []any{"x"}}},
		{ID: "b", Data: core.Metadata{"n": 2.0}},
	} {
		require.NoError(t, h.c.Update(ctx, &r))
	}
	want := h.c.Records()

	c := h.reopen(t)
	require.NoError(t, c.Restore(ctx))

	assert.Equal(t, want, c.Records())
	assert.Empty(t, h.tr.Calls()[2:], "confirmed records are not replayed")
}

func TestRestore_ReplaysUnconfirmedWork(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	confirmed := core.Record{ID: "gone", Data: core.Metadata{}}
	require.NoError(t, h.c.Update(ctx, &confirmed))

	h.conn.online.Store(false)
	created := h.c.New(core.Metadata{"title": "new"})
	require.ErrorIs(t, h.c.Create(ctx, &created), core.ErrQueued)
	updated := core.Record{ID: "u", Data: core.Metadata{"slug": "s"}}
	require.ErrorIs(t, h.c.Unique(ctx, &updated, core.WithField("slug"), core.WithVariant("Slug")), core.ErrQueued)
	require.ErrorIs(t, h.c.Delete(ctx, &confirmed), core.ErrQueued)

	// A fresh process: the queue is gone, the snapshot is not.
	h.conn.online.Store(true)
	h.tr.respond = echoWithID("created-1")
	loaded := h.bus.OnComplete(t.Context(), "todos_loaded")

	c := h.reopen(t)
	require.NoError(t, c.Restore(ctx))

	select {
	case <-loaded:
	case <-time.After(time.Second):
		t.Fatal("loaded milestone not fired")
	}

	var urls []string
	for _, call := range h.tr.Calls()[1:] {
		urls = append(urls, call.URL)
	}
	assert.ElementsMatch(t, []string{
		"/api/todos/create",
		"/api/todos/uniqueSlug",
		"/api/todos/delete",
	}, urls)

	_, stillThere := c.Doc("gone")
	assert.False(t, stillThere)
	for _, r := range c.Records() {
		assert.False(t, r.Unconfirmed(), "record %s still unconfirmed", r.Key())
	}
}

func TestRestore_CreatedThenUpdatedOffline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	rec := h.c.New(core.Metadata{"title": "draft"})
	require.ErrorIs(t, h.c.Create(ctx, &rec), core.ErrQueued)
	rec.Data["title"] = "final"
	require.ErrorIs(t, h.c.Update(ctx, &rec), core.ErrQueued)

	h.conn.online.Store(true)
	h.tr.respond = echoWithID("n1")
	c := h.reopen(t)
	require.NoError(t, c.Restore(ctx))

	var urls []string
	for _, call := range h.tr.Calls() {
		urls = append(urls, call.URL)
	}
	assert.Equal(t, []string{"/api/todos/create", "/api/todos/update"}, urls)

	got, ok := c.Doc("n1")
	require.True(t, ok)
	assert.Empty(t, got.Modified, "update marker is confirmed after the create")
	assert.False(t, got.Unconfirmed())
	assert.Equal(t, "final", got.Data["title"])

	require.NoError(t, h.reopen(t).Restore(ctx))
	assert.Len(t, h.tr.Calls(), 2, "nothing left to replay")
}

func TestRestore_ReplayErrorsAreJoined(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	for _, id := range []string{"a", "b"} {
		rec := core.Record{ID: id, Data: core.Metadata{}}
		require.ErrorIs(t, h.c.Update(ctx, &rec), core.ErrQueued)
	}

	h.conn.online.Store(true)
	h.tr.respond = func(_, url string, _ map[string]any) (any, error) {
		if strings.Contains(url, "update") {
			return nil, errors.New("boom")
		}
		return nil, nil
	}

	c := h.reopen(t)
	err := c.Restore(ctx)

	var replay *core.ReplayError
	require.ErrorAs(t, err, &replay)
	assert.ErrorIs(t, err, core.ErrHardFailure)
	assert.Len(t, c.Records(), 2)
	for _, r := range c.Records() {
		assert.Equal(t, []string{"up"}, r.Modified, "markers survive failed replays")
	}
}

func TestRestore_OfflineReplayIsQueued(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	rec := core.Record{ID: "a", Data: core.Metadata{}}
	require.ErrorIs(t, h.c.Update(ctx, &rec), core.ErrQueued)

	c := h.reopen(t)
	require.NoError(t, c.Restore(ctx))
	assert.Len(t, c.Pending(), 1)
	assert.Empty(t, h.tr.Calls())
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	rec := core.Record{ID: "a", Data: core.Metadata{}}
	require.NoError(t, h.c.Update(ctx, &rec))
	var all []core.Record
	h.c.RegisterSlice(&all, core.View{})
	require.Len(t, all, 1)

	h.c.Clear(ctx)

	assert.Equal(t, 0, h.c.Len())
	assert.Empty(t, all)

	c := h.reopen(t)
	require.NoError(t, c.Restore(ctx))
	assert.Equal(t, 0, c.Len(), "the empty collection is persisted")
}
