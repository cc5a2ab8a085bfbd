package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docsync/pkg/bus"
	"github.com/aretw0/docsync/pkg/core"
)

func recv(t *testing.T, ch <-chan core.Event) core.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return core.Event{}
	}
}

func TestBus_GlobRouting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(bus.WithClock(func() time.Time { return time.UnixMilli(42) }))
	todos := b.On(ctx, "todos_*")
	exact := b.On(ctx, "users_changed")

	b.Emit("todos_changed", 1)
	b.Emit("users_changed", 2)

	ev := recv(t, todos)
	assert.Equal(t, "todos_changed", ev.Name)
	assert.Equal(t, 1, ev.Payload)
	assert.Equal(t, int64(42), ev.Timestamp)

	ev = recv(t, exact)
	assert.Equal(t, "users_changed", ev.Name)

	select {
	case ev := <-todos:
		t.Fatalf("unexpected event %s", ev.Name)
	default:
	}
}

func TestBus_MilestoneReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New()
	early := b.OnComplete(ctx, "todos_loaded")

	b.Complete("todos_loaded", 3)
	b.Complete("todos_loaded", 4)

	ev := recv(t, early)
	assert.Equal(t, 3, ev.Payload)
	_, open := <-early
	assert.False(t, open)

	t.Run("Late Subscriber Receives Milestone", func(t *testing.T) {
		late := b.OnComplete(ctx, "todos_loaded")
		ev := recv(t, late)
		assert.Equal(t, 3, ev.Payload)
		assert.True(t, b.Completed("todos_loaded"))
	})

	t.Run("Reset Forgets Milestones", func(t *testing.T) {
		b.Reset()
		assert.False(t, b.Completed("todos_loaded"))
	})
}

func TestBus_CancelClosesChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := bus.New()

	sub := b.On(ctx, "*")
	waiter := b.OnComplete(ctx, "never")
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	_, ok := <-waiter
	assert.False(t, ok)

	state := b.State().(bus.BusState)
	assert.Equal(t, 0, state.Subscribers)
	assert.Equal(t, 0, state.Waiters)
}

func TestBus_FullBufferDrops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(bus.WithBuffer(1))
	_ = b.On(ctx, "x")

	b.Emit("x", nil)
	b.Emit("x", nil)

	assert.Equal(t, int64(1), b.State().(bus.BusState).Dropped)
}
