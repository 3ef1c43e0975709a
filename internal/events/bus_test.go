package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	defer shutdownBus(t, bus)

	var got atomic.Int32
	bus.SubscribeFunc(SessionCreated, func(_ context.Context, event Event) error {
		assert.Equal(t, SessionCreated, event.Type())
		got.Add(1)
		return nil
	})
	// A handler for a different type must not fire.
	bus.SubscribeFunc(SessionFailed, func(_ context.Context, _ Event) error {
		t.Error("wrong handler invoked")
		return nil
	})

	require.NoError(t, bus.Publish(NewSessionEvent(SessionCreated, "sess-1", "asset", "addr", "CREATED", "")))

	require.Eventually(t, func() bool {
		return got.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	defer shutdownBus(t, bus)

	var got atomic.Int32
	sub := bus.SubscribeFunc(TradeExecuted, func(_ context.Context, _ Event) error {
		got.Add(1)
		return nil
	})

	require.NoError(t, bus.Publish(NewSessionEvent(TradeExecuted, "sess-1", "", "", "", "")))
	require.Eventually(t, func() bool { return got.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	require.NoError(t, bus.Publish(NewSessionEvent(TradeExecuted, "sess-1", "", "", "", "")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), got.Load())
}

func TestBusRejectsAfterShutdown(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	shutdownBus(t, bus)

	err := bus.Publish(NewSessionEvent(SessionCreated, "sess-1", "", "", "", ""))
	require.Error(t, err)
}

func shutdownBus(t *testing.T, bus *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Shutdown(ctx))
}
