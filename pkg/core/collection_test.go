package core_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docsync/pkg/core"
)

func notDeleted(r core.Record) bool { return !r.Deleted }

func TestNewCollection_RequiresName(t *testing.T) {
	_, err := core.NewCollection(core.Config{})
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("Offline Create Queues Then Confirms On Reconnect", func(t *testing.T) {
		h := newHarness(t, false)
		h.tr.respond = echoWithID("x")

		rec := h.c.New(core.Metadata{"name": "a"})
		err := h.c.Create(ctx, &rec)
		require.ErrorIs(t, err, core.ErrQueued)

		all := h.c.Records()
		require.Len(t, all, 1)
		assert.Empty(t, all[0].ID)
		assert.NotZero(t, all[0].TempID)
		assert.True(t, all[0].Creating)
		assert.Empty(t, h.tr.Calls())
		assert.Equal(t, 1, len(h.c.Pending()))

		h.conn.Set(true)
		assert.Equal(t, 1, h.c.Drain(ctx))

		calls := h.tr.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "/api/todos/create", calls[0].URL)
		assert.Equal(t, "a", calls[0].Body["name"])

		all = h.c.Records()
		require.Len(t, all, 1)
		assert.Equal(t, "x", all[0].ID)
		assert.False(t, all[0].Creating)
		assert.Empty(t, rec.ID, "queued replay leaves the caller record alone")
		assert.Equal(t, "x", h.c.Cell(strconv.FormatInt(rec.TempID, 10)).Get().ID)
		assert.Equal(t, 0, len(h.c.Pending()))
	})

	t.Run("Background Replay Does Not Write Caller Record", func(t *testing.T) {
		h := newHarness(t, false)
		h.tr.respond = echoWithID("bg")
		require.NoError(t, h.c.Start(t.Context()))

		confirmed := make(chan core.Record, 1)
		rec := h.c.New(core.Metadata{"name": "a"})
		err := h.c.Create(ctx, &rec, core.OnSuccess(func(r core.Record) { confirmed <- r }))
		require.ErrorIs(t, err, core.ErrQueued)

		h.conn.Set(true)
		var got core.Record
		deadline := time.Now().Add(time.Second)
		for got.ID == "" {
			require.True(t, time.Now().Before(deadline), "queued create not confirmed")
			// Touching rec while the reconnect goroutine replays must be safe.
			_ = rec.ID
			rec.Data["name"] = "edited"
			select {
			case got = <-confirmed:
			default:
			}
		}

		assert.Equal(t, "bg", got.ID)
		assert.Empty(t, rec.ID)
		stored, ok := h.c.Doc("bg")
		require.True(t, ok)
		assert.Equal(t, "a", stored.Data["name"])
	})

	t.Run("Online Create Assigns Canonical ID", func(t *testing.T) {
		h := newHarness(t, true, func(c *core.Config) { c.AppID = "app-1" })
		h.tr.respond = echoWithID("srv-1")

		var got core.Record
		rec := core.Record{Data: core.Metadata{"name": "b"}}
		err := h.c.Create(ctx, &rec, core.OnSuccess(func(r core.Record) { got = r }))
		require.NoError(t, err)

		assert.Equal(t, "srv-1", rec.ID)
		assert.NotZero(t, rec.TempID)
		assert.Equal(t, "app-1", rec.Data["appId"])
		assert.Equal(t, "srv-1", got.ID)

		byTemp, ok := h.c.Doc(strconv.FormatInt(rec.TempID, 10))
		require.True(t, ok, "temporary id still resolves")
		assert.Equal(t, "srv-1", byTemp.ID)
	})

	t.Run("Payload With ID Delegates To Update", func(t *testing.T) {
		h := newHarness(t, true)

		rec := core.Record{Data: core.Metadata{"_id": "y", "name": "c"}}
		require.NoError(t, h.c.Create(ctx, &rec))

		calls := h.tr.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "/api/todos/update", calls[0].URL)
		assert.Equal(t, "y", calls[0].Body["_id"])
	})

	t.Run("Already Creating Is A Guard Failure", func(t *testing.T) {
		h := newHarness(t, false)

		rec := h.c.New(core.Metadata{"name": "d"})
		require.ErrorIs(t, h.c.Create(ctx, &rec), core.ErrQueued)

		dup := rec.Clone()
		err := h.c.Create(ctx, &dup)
		require.ErrorIs(t, err, core.ErrGuardFailure)
		require.ErrorIs(t, err, core.ErrAlreadyCreating)

		var opErr *core.OpError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, core.FailGuard, opErr.Kind)
		assert.Equal(t, 1, len(h.c.Pending()))
		assert.Equal(t, 1, h.c.Len())
	})

	t.Run("Hard Failure Clears Creating", func(t *testing.T) {
		h := newHarness(t, true)
		h.tr.respond = func(string, string, map[string]any) (any, error) {
			return nil, errors.New("connection reset")
		}

		var reported error
		rec := h.c.New(core.Metadata{"name": "e"})
		err := h.c.Create(ctx, &rec, core.OnError(func(err error) { reported = err }))

		require.ErrorIs(t, err, core.ErrHardFailure)
		assert.Equal(t, err, reported)
		assert.False(t, rec.Creating)
		stored, ok := h.c.Doc(rec.Key())
		require.True(t, ok)
		assert.False(t, stored.Creating)
		assert.Empty(t, stored.ID)

		h.tr.respond = echoWithID("e-1")
		require.NoError(t, h.c.Create(ctx, &stored), "creation can be retried")
		assert.Equal(t, "e-1", stored.ID)
	})

	t.Run("Before Hook Failure Mutates Nothing", func(t *testing.T) {
		h := newHarness(t, true, func(c *core.Config) {
			c.Hooks.Before = func(context.Context, core.Op, *core.Record) (*core.Record, error) {
				return nil, errors.New("denied")
			}
		})

		rec := core.Record{Data: core.Metadata{"name": "f"}}
		err := h.c.Create(ctx, &rec)

		require.ErrorIs(t, err, core.ErrHookFailure)
		assert.ErrorIs(t, err, core.ErrHardFailure, "hook failures propagate as hard failures")
		assert.NotErrorIs(t, err, core.ErrSoftFailure)
		assert.Equal(t, 0, h.c.Len())
		assert.Empty(t, h.tr.Calls())
		assert.Zero(t, rec.TempID)
	})

	t.Run("Before Hook Result Replaces Payload", func(t *testing.T) {
		h := newHarness(t, true, func(c *core.Config) {
			c.Hooks.Before = func(_ context.Context, _ core.Op, r *core.Record) (*core.Record, error) {
				out := r.Clone()
				out.Data["stamped"] = true
				return &out, nil
			}
		})
		h.tr.respond = echoWithID("g-1")

		rec := core.Record{Data: core.Metadata{"name": "g"}}
		require.NoError(t, h.c.Create(ctx, &rec))

		assert.Equal(t, true, h.tr.Calls()[0].Body["stamped"])
		assert.Equal(t, "g-1", rec.ID)
		assert.Equal(t, true, rec.Data["stamped"])
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("Falsy Payload Keeps Marker", func(t *testing.T) {
		h := newHarness(t, true)
		h.tr.respond = func(string, string, map[string]any) (any, error) { return false, nil }

		var reported error
		rec := core.Record{ID: "x", Data: core.Metadata{"title": "t"}}
		err := h.c.Update(ctx, &rec, core.OnError(func(err error) { reported = err }))

		require.ErrorIs(t, err, core.ErrSoftFailure)
		require.ErrorIs(t, reported, core.ErrSoftFailure)
		stored, ok := h.c.Doc("x")
		require.True(t, ok)
		assert.Equal(t, []string{"up"}, stored.Modified)
	})

	t.Run("Success Clears Marker And Emits Events", func(t *testing.T) {
		h := newHarness(t, true)
		events := h.bus.On(t.Context(), "todos_*")

		rec := core.Record{ID: "x", Data: core.Metadata{"title": "t"}}
		require.NoError(t, h.c.Update(ctx, &rec, core.WithVariant("Title")))

		assert.Equal(t, "/api/todos/updateTitle", h.tr.Calls()[0].URL)
		stored, _ := h.c.Doc("x")
		assert.Empty(t, stored.Modified)
		assert.Empty(t, stored.Pending)

		var names []string
		for len(events) > 0 {
			names = append(names, (<-events).Name)
		}
		assert.Contains(t, names, "todos_update")
		assert.Contains(t, names, "todos_changed")
		assert.Contains(t, names, "todos_filtered")
	})

	t.Run("Marker Is Added Once", func(t *testing.T) {
		h := newHarness(t, false)

		rec := core.Record{ID: "x", Data: core.Metadata{}}
		require.ErrorIs(t, h.c.Update(ctx, &rec), core.ErrQueued)
		require.ErrorIs(t, h.c.Update(ctx, &rec), core.ErrQueued)

		stored, _ := h.c.Doc("x")
		assert.Equal(t, []string{"up"}, stored.Modified)
		assert.Equal(t, 2, len(h.c.Pending()))
	})

	t.Run("Record Without Identity Is Rejected", func(t *testing.T) {
		h := newHarness(t, true)
		rec := core.Record{Data: core.Metadata{"title": "t"}}
		require.ErrorIs(t, h.c.Update(ctx, &rec), core.ErrGuardFailure)
		assert.Equal(t, 0, h.c.Len())
	})

	t.Run("After Hook Failure Suppresses Events", func(t *testing.T) {
		h := newHarness(t, true, func(c *core.Config) {
			c.Hooks.After = func(context.Context, core.Op, *core.Record) error { return errors.New("after") }
		})
		events := h.bus.On(t.Context(), "todos_update")

		rec := core.Record{ID: "x", Data: core.Metadata{}}
		require.ErrorIs(t, h.c.Update(ctx, &rec), core.ErrHookFailure)
		assert.Empty(t, events)
	})
}

func TestUnique(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.tr.respond = func(string, string, map[string]any) (any, error) {
		return map[string]any{"slug": "server-slug", "title": "ignored"}, nil
	}

	rec := core.Record{ID: "x", Data: core.Metadata{"slug": "local", "title": "keep"}}
	require.NoError(t, h.c.Unique(ctx, &rec, core.WithField("slug"), core.WithVariant("Slug")))

	assert.Equal(t, "/api/todos/uniqueSlug", h.tr.Calls()[0].URL)
	stored, _ := h.c.Doc("x")
	assert.Equal(t, "server-slug", stored.Data["slug"])
	assert.Equal(t, "keep", stored.Data["title"])
	assert.Empty(t, stored.Modified)

	t.Run("Bare Value Answer", func(t *testing.T) {
		h.tr.respond = func(string, string, map[string]any) (any, error) { return "bare", nil }
		require.NoError(t, h.c.Unique(ctx, &rec, core.WithField("slug")))
		stored, _ := h.c.Doc("x")
		assert.Equal(t, "bare", stored.Data["slug"])
	})

	t.Run("Missing Field Is A Guard Failure", func(t *testing.T) {
		require.ErrorIs(t, h.c.Unique(ctx, &rec), core.ErrNoField)
	})

	t.Run("Soft Failure Keeps Marker", func(t *testing.T) {
		h.tr.respond = func(string, string, map[string]any) (any, error) { return "", nil }
		require.ErrorIs(t, h.c.Unique(ctx, &rec, core.WithField("slug"), core.WithVariant("Slug")), core.ErrSoftFailure)
		stored, _ := h.c.Doc("x")
		assert.Equal(t, []string{"unSlug"}, stored.Modified)
		assert.Equal(t, core.PendingOp{Variant: "Slug", Field: "slug"}, stored.Pending["unSlug"])
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	rec := core.Record{ID: "x", Data: core.Metadata{"title": "t"}}
	h.conn.online.Store(true)
	require.NoError(t, h.c.Update(ctx, &rec))
	h.conn.online.Store(false)

	cell := h.c.Cell("x")
	assert.False(t, cell.Get().Deleted)

	require.ErrorIs(t, h.c.Delete(ctx, &rec), core.ErrQueued)
	assert.Empty(t, h.c.Query(notDeleted), "excluded before confirmation")
	assert.Equal(t, 1, h.c.Len(), "still physically present")
	assert.True(t, cell.Get().Deleted, "flagged optimistically")

	h.conn.Set(true)
	h.c.Drain(ctx)

	assert.Equal(t, 0, h.c.Len())
	assert.True(t, rec.Deleted, "staged copy")
	assert.True(t, cell.Get().Deleted, "cell keeps the confirmed tombstone")
	assert.Same(t, cell, h.c.Cell("x"))
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, func(c *core.Config) {
		c.Replace = func(m core.Metadata) core.Metadata {
			m["replaced"] = true
			return m
		}
	})
	h.tr.respond = func(_, url string, body map[string]any) (any, error) {
		assert.Equal(t, "/api/todos/fetch", url)
		assert.Equal(t, "a", body["slug"])
		return map[string]any{"_id": "f1", "slug": "a"}, nil
	}

	rec, err := h.c.Fetch(ctx, core.Metadata{"slug": "a"})
	require.NoError(t, err)
	assert.Equal(t, "f1", rec.ID)
	assert.Equal(t, true, rec.Data["replaced"])
	assert.Equal(t, 1, h.c.Len())

	_, err = h.c.Fetch(ctx, core.Metadata{"slug": "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.c.Len(), "fetch merges, never duplicates")

	t.Run("Offline Fetch Is Queued", func(t *testing.T) {
		h.conn.online.Store(false)
		_, err := h.c.Fetch(ctx, core.Metadata{"slug": "b"})
		require.ErrorIs(t, err, core.ErrQueued)
		pending := h.c.Pending()
		require.Len(t, pending, 1)
		assert.Equal(t, core.OpFetch, pending[0].Kind)
		assert.Equal(t, "b", pending[0].Query["slug"])
	})
}

func listing(pages map[string][]any) func(string, string, map[string]any) (any, error) {
	return func(_, url string, _ map[string]any) (any, error) {
		for marker, docs := range pages {
			if marker != "" && strings.Contains(url, marker) {
				return docs, nil
			}
		}
		return pages[""], nil
	}
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.tr.respond = listing(map[string][]any{
		"":       {map[string]any{"_id": "1"}, map[string]any{"_id": "2"}},
		"page=2": {map[string]any{"_id": "3"}},
	})
	getted := h.bus.OnComplete(t.Context(), "todos_getted")

	_, err := h.c.Get(ctx, core.GetQuery{})
	require.NoError(t, err)
	_, err = h.c.Get(ctx, core.GetQuery{Page: 2, PerPage: 10})
	require.NoError(t, err)

	assert.Len(t, h.c.Records(), 3, "pages are additive")
	assert.Equal(t, "/api/todos/get?page=2&perPage=10", h.tr.Calls()[1].URL)

	select {
	case ev := <-getted:
		assert.Equal(t, 2, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("getted milestone not fired")
	}

	t.Run("Unpaginated Get Replaces Confirmed Records", func(t *testing.T) {
		local := core.Record{ID: "local", Data: core.Metadata{}}
		h.conn.online.Store(false)
		require.ErrorIs(t, h.c.Update(ctx, &local), core.ErrQueued)
		h.conn.online.Store(true)

		h.tr.respond = listing(map[string][]any{"": {map[string]any{"_id": "9"}}})
		_, err := h.c.Get(ctx, core.GetQuery{})
		require.NoError(t, err)

		var ids []string
		for _, r := range h.c.Records() {
			ids = append(ids, r.ID)
		}
		assert.ElementsMatch(t, []string{"local", "9"}, ids, "queued work survives")
	})

	t.Run("Unpaginated Get Drops Soft Failed Records", func(t *testing.T) {
		h.tr.respond = func(string, string, map[string]any) (any, error) { return false, nil }
		stale := core.Record{ID: "stale", Data: core.Metadata{}}
		require.ErrorIs(t, h.c.Update(ctx, &stale), core.ErrSoftFailure)
		rec, ok := h.c.Doc("stale")
		require.True(t, ok)
		require.True(t, rec.Unconfirmed())

		h.c.Drain(ctx)
		h.tr.respond = listing(map[string][]any{"": {map[string]any{"_id": "a"}}})
		_, err := h.c.Get(ctx, core.GetQuery{})
		require.NoError(t, err)

		var ids []string
		for _, r := range h.c.Records() {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []string{"a"}, ids)
	})

	t.Run("Query Parameters", func(t *testing.T) {
		_, err := h.c.Get(ctx, core.GetQuery{Query: map[string]string{"owner": "me"}}, core.WithVariant("Mine"))
		require.NoError(t, err)
		calls := h.tr.Calls()
		assert.Equal(t, "/api/todos/getMine?owner=me", calls[len(calls)-1].URL)
	})

	t.Run("Non Listing Payload Is Soft Failure", func(t *testing.T) {
		h.tr.respond = func(string, string, map[string]any) (any, error) { return map[string]any{}, nil }
		_, err := h.c.Get(ctx, core.GetQuery{})
		require.ErrorIs(t, err, core.ErrSoftFailure)
	})
}

func TestUpsert_SameIdentityKeepsOneRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	a := core.Record{ID: "x", Data: core.Metadata{"a": 1.0}}
	b := core.Record{Data: core.Metadata{"_id": "x", "b": 2.0}}
	require.NoError(t, h.c.Update(ctx, &a))
	require.NoError(t, h.c.Update(ctx, &b))

	require.Equal(t, 1, h.c.Len())
	stored, _ := h.c.Doc("x")
	assert.Equal(t, 1.0, stored.Data["a"])
	assert.Equal(t, 2.0, stored.Data["b"])
	assert.Equal(t, 1.0, b.Data["a"], "merge is written back into the caller record")
}

func TestQueue_ReplaysInOrderOnReconnect(t *testing.T) {
	h := newHarness(t, false)
	ctx := t.Context()
	require.NoError(t, h.c.Start(ctx))

	for _, id := range []string{"a", "b", "c"} {
		rec := core.Record{ID: id, Data: core.Metadata{}}
		require.ErrorIs(t, h.c.Update(ctx, &rec), core.ErrQueued)
	}
	assert.Empty(t, h.tr.Calls())

	h.conn.Set(true)
	require.Eventually(t, func() bool { return len(h.tr.Calls()) == 3 }, time.Second, 5*time.Millisecond)

	var order []string
	for _, c := range h.tr.Calls() {
		order = append(order, c.Body["_id"].(string))
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
	require.Eventually(t, func() bool { return len(h.c.Pending()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestQueue_StillOfflineRequeues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	rec := core.Record{ID: "a", Data: core.Metadata{}}
	require.ErrorIs(t, h.c.Update(ctx, &rec), core.ErrQueued)
	before := h.c.Pending()[0].ID

	assert.Equal(t, 1, h.c.Drain(ctx))
	require.Equal(t, 1, len(h.c.Pending()))
	assert.Equal(t, before, h.c.Pending()[0].ID)
	assert.Empty(t, h.tr.Calls())
}

func TestWipeEventClears(t *testing.T) {
	h := newHarness(t, true)
	ctx := t.Context()
	require.NoError(t, h.c.Start(ctx))

	rec := core.Record{ID: "x", Data: core.Metadata{}}
	require.NoError(t, h.c.Update(ctx, &rec))
	cell := h.c.Cell("x")

	h.bus.Emit(core.WipeEvent, nil)

	require.Eventually(t, func() bool { return h.c.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return cell.Get().Deleted }, time.Second, 5*time.Millisecond)
}

func TestStart(t *testing.T) {
	t.Run("Waits For Auth Milestone", func(t *testing.T) {
		h := newHarness(t, true)
		ctx := t.Context()

		seed := h.reopen(t, func(c *core.Config) { c.Unauthenticated = true })
		rec := core.Record{ID: "x", Data: core.Metadata{}}
		require.NoError(t, seed.Update(ctx, &rec))

		c := h.reopen(t)
		require.NoError(t, c.Start(ctx))
		assert.Equal(t, 0, c.Len())

		h.bus.Complete("authenticated", nil)
		require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, c.Start(ctx), core.ErrAlreadyStarted)
	})

	t.Run("Load Failure Is Returned", func(t *testing.T) {
		c, err := core.NewCollection(core.Config{
			Name:            "todos",
			Unauthenticated: true,
			Persistence:     failingPersistence{},
		})
		require.NoError(t, err)
		assert.Error(t, c.Start(context.Background()))
	})
}

func TestState(t *testing.T) {
	h := newHarness(t, false)
	rec := h.c.New(nil)
	require.ErrorIs(t, h.c.Create(context.Background(), &rec), core.ErrQueued)

	state := h.c.State().(core.CollectionState)
	assert.Equal(t, "todos", state.Name)
	assert.Equal(t, 1, state.Records)
	assert.Equal(t, 1, state.Unconfirmed)
	assert.Equal(t, 1, state.QueueDepth)
	assert.False(t, state.Online)
	assert.Equal(t, "collection", h.c.ComponentType())
}
