package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusOrderPreserved(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, NewToken("a")))
	require.NoError(t, bus.Publish(ctx, NewToken("b")))
	require.NoError(t, bus.Publish(ctx, NewDone("conv", "ab", nil, Metadata{})))

	first, err := bus.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.(*Token).Content)

	second, err := bus.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", second.(*Token).Content)

	last, err := bus.Next(ctx)
	require.NoError(t, err)
	assert.True(t, last.Terminal())
}

func TestBusDropsAfterTerminal(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, NewError("INTERNAL_ERROR", "boom")))
	require.NoError(t, bus.Publish(ctx, NewToken("late")))
	require.NoError(t, bus.Publish(ctx, NewDone("conv", "", nil, Metadata{})))

	event, err := bus.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, TypeError, event.EventType())

	_, err = bus.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBusPublishBlocksWhenFull(t *testing.T) {
	bus := NewBus(WithCapacity(1))
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, NewToken("a")))

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := bus.Publish(blocked, NewToken("b"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Draining frees space for the producer.
	_, err = bus.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, NewToken("c")))
}

func TestBusIdleTimeout(t *testing.T) {
	bus := NewBus(WithIdleTimeout(20 * time.Millisecond))

	_, err := bus.Next(context.Background())
	assert.ErrorIs(t, err, ErrIdleTimeout)
}

func TestBusNextHonorsContext(t *testing.T) {
	bus := NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventWireShapes(t *testing.T) {
	toolStart, err := json.Marshal(NewToolStart("id-1", "calculate", map[string]interface{}{"expression": "1+2"}, 42))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool_start","tool_id":"id-1","tool_name":"calculate","input":{"expression":"1+2"},"insert_position":42}`, string(toolStart))

	toolEnd, err := json.Marshal(NewToolEnd("id-1", StatusCompleted, "3", nil, 12))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool_end","tool_id":"id-1","status":"completed","output":"3","error":null,"execution_time_ms":12}`, string(toolEnd))

	done, err := json.Marshal(NewDone("conv", "hi", nil, Metadata{Model: "gpt-4.1", Provider: "openai", CompletionMode: "auto"}))
	require.NoError(t, err)
	assert.Contains(t, string(done), `"tool_calls":[]`)
	assert.Contains(t, string(done), `"completion_mode_used":"auto"`)
	assert.Contains(t, string(done), `"tokens_used":{"prompt":0,"completion":0,"total":0}`)
}
