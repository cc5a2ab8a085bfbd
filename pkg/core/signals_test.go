package core_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docsync/pkg/core"
)

func TestCell(t *testing.T) {
	ctx := context.Background()

	t.Run("Same Reference For Same ID", func(t *testing.T) {
		h := newHarness(t, true)
		assert.Same(t, h.c.Cell("x"), h.c.Cell("x"))
	})

	t.Run("Seeded From Store And Resynced", func(t *testing.T) {
		h := newHarness(t, true)
		rec := core.Record{ID: "x", Data: core.Metadata{"title": "one"}}
		require.NoError(t, h.c.Update(ctx, &rec))

		cell := h.c.Cell("x")
		assert.Equal(t, "one", cell.Get().Data["title"])

		var seen []string
		cancel := cell.Subscribe(func(r core.Record) { seen = append(seen, r.Data["title"].(string)) })
		defer cancel()

		rec.Data["title"] = "two"
		require.NoError(t, h.c.Update(ctx, &rec))

		assert.Same(t, cell, h.c.Cell("x"))
		assert.Equal(t, "two", cell.Get().Data["title"])
		assert.Contains(t, seen, "two")
	})

	t.Run("Temporary ID Cell Survives Promotion", func(t *testing.T) {
		h := newHarness(t, false)
		h.tr.respond = echoWithID("x")

		rec := h.c.New(core.Metadata{"title": "t"})
		require.ErrorIs(t, h.c.Create(ctx, &rec), core.ErrQueued)
		tempCell := h.c.Cell(strconv.FormatInt(rec.TempID, 10))
		assert.True(t, tempCell.Get().Creating)

		h.conn.Set(true)
		h.c.Drain(ctx)

		assert.Same(t, tempCell, h.c.Cell("x"))
		assert.Equal(t, "x", tempCell.Get().ID)
	})

	t.Run("Evict Keeps Listed IDs", func(t *testing.T) {
		h := newHarness(t, true)
		a, b := h.c.Cell("a"), h.c.Cell("b")

		assert.Equal(t, 1, h.c.Evict("a"))
		assert.Same(t, a, h.c.Cell("a"))
		assert.NotSame(t, b, h.c.Cell("b"))
	})
}

func TestListAndGroup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	for _, r := range []core.Record{
		{ID: "1", Data: core.Metadata{"owner": "ann", "tags": []any{"a", "b"}}},
		{ID: "2", Data: core.Metadata{"owner": "bob", "tags": []any{"b"}}},
	} {
		require.NoError(t, h.c.Update(ctx, &r))
	}

	anns := h.c.List("owner", "ann")
	require.Len(t, anns.Get(), 1)
	assert.Same(t, h.c.Cell("1"), anns.Get()[0])

	tags := h.c.Group("tags")
	assert.Len(t, tags.Get()["a"], 1)
	assert.Len(t, tags.Get()["b"], 2)
	assert.Same(t, tags, h.c.Group("tags"))

	rec := core.Record{ID: "3", Data: core.Metadata{"owner": "ann", "tags": []any{"a"}}}
	require.NoError(t, h.c.Update(ctx, &rec))

	assert.Len(t, anns.Get(), 2)
	assert.Len(t, tags.Get()["a"], 2)

	t.Run("Deleted Records Leave Lists", func(t *testing.T) {
		h.conn.online.Store(false)
		require.ErrorIs(t, h.c.Delete(ctx, &rec), core.ErrQueued)
		assert.Len(t, anns.Get(), 1)
	})

	t.Run("Accessor Table", func(t *testing.T) {
		h := newHarness(t, true, func(c *core.Config) {
			c.Accessors = map[string]core.Accessor{
				"initial": func(r core.Record) any {
					s, _ := r.Data["owner"].(string)
					if s == "" {
						return nil
					}
					return s[:1]
				},
			}
		})
		rec := core.Record{ID: "1", Data: core.Metadata{"owner": "ann"}}
		require.NoError(t, h.c.Update(ctx, &rec))
		assert.Len(t, h.c.List("initial", "a").Get(), 1)
	})
}
