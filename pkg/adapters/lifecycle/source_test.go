package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dlifecycle "github.com/aretw0/docsync/pkg/adapters/lifecycle"
	"github.com/aretw0/docsync/pkg/bus"
	"github.com/aretw0/docsync/pkg/core"
)

func TestNewSource(t *testing.T) {
	events := make(chan core.Event, 1)
	src := dlifecycle.NewSource(events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx))

	events <- core.Event{Name: "todos_write"}
	select {
	case e := <-src.Events():
		assert.Equal(t, "todos_write", e.String())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	close(events)
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-src.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestNewBusSource(t *testing.T) {
	b := bus.New()
	src := dlifecycle.NewBusSource(b, "todos_*")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx))

	b.Emit("notes_changed", nil)
	b.Emit("todos_changed", 1)

	select {
	case e := <-src.Events():
		assert.Equal(t, "todos_changed", e.String())
		ce, ok := e.(core.Event)
		require.True(t, ok)
		assert.Equal(t, 1, ce.Payload)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bus event")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-src.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
