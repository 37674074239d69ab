package eventlog

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitInjectsTaskContextLineage(t *testing.T) {
	b := New()
	ctx := WithTaskContext(context.Background(), TaskContext{SwarmID: "s1", ExecutionID: "e1"})

	var got Event
	b.Subscribe(Filter{}, func(e Event) { got = e })
	b.Emit(ctx, Event{Type: TypeAgentStart, Agent: "coder"})

	require.Equal(t, "s1", got.SwarmID)
	require.Equal(t, "e1", got.ExecutionID)
	require.False(t, got.Timestamp.IsZero())
}

func TestEmitDoesNotOverrideExplicitLineage(t *testing.T) {
	b := New()
	ctx := WithTaskContext(context.Background(), TaskContext{SwarmID: "s1"})

	var got Event
	b.Subscribe(Filter{}, func(e Event) { got = e })
	b.Emit(ctx, Event{Type: TypeAgentStart, SwarmID: "explicit"})

	require.Equal(t, "explicit", got.SwarmID)
}

func TestSubscribeFilterByTypeAndAgent(t *testing.T) {
	b := New()
	var matched []Event
	b.Subscribe(Filter{Type: TypeToolCall, Agent: "coder"}, func(e Event) { matched = append(matched, e) })

	b.Emit(context.Background(), Event{Type: TypeToolCall, Agent: "reviewer"})
	b.Emit(context.Background(), Event{Type: TypeAgentStop, Agent: "coder"})
	b.Emit(context.Background(), Event{Type: TypeToolCall, Agent: "coder"})

	require.Len(t, matched, 1)
	require.Equal(t, "coder", matched[0].Agent)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	count := 0
	id := b.Subscribe(Filter{}, func(Event) { count++ })
	b.Emit(context.Background(), Event{Type: TypeAgentStart})
	b.Unsubscribe(id)
	b.Emit(context.Background(), Event{Type: TypeAgentStart})
	require.Equal(t, 1, count)
}

func TestHandlerPanicDoesNotStopOtherSubscribers(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var internalErrors int
	secondRan := false

	b.Subscribe(Filter{Type: TypeToolCall}, func(Event) { panic("boom") })
	b.Subscribe(Filter{Type: TypeToolCall}, func(Event) { secondRan = true })
	b.Subscribe(Filter{Type: TypeInternalError}, func(Event) {
		mu.Lock()
		internalErrors++
		mu.Unlock()
	})

	b.Emit(context.Background(), Event{Type: TypeToolCall})

	require.True(t, secondRan)
	mu.Lock()
	require.Equal(t, 1, internalErrors)
	mu.Unlock()
}

func TestEmissionOrderIsProgramOrder(t *testing.T) {
	b := New()
	var order []string
	b.Subscribe(Filter{}, func(e Event) { order = append(order, string(e.Type)) })

	b.Emit(context.Background(), Event{Type: TypeAgentStart})
	b.Emit(context.Background(), Event{Type: TypeAgentStep})
	b.Emit(context.Background(), Event{Type: TypeAgentStop})

	require.Equal(t, []string{"agent_start", "agent_step", "agent_stop"}, order)
}
