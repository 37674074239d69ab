// Package eventlog implements the single-writer, multi-subscriber structured
// event stream (C1). Emission auto-injects swarm/execution lineage from
// task-local context so events carry correct identity even when a swarm
// instance is reused across concurrent executions.
package eventlog

import (
	"context"
	"sync"
	"time"
)

// EventType discriminates the taxonomy listed in spec §3.
type EventType string

const (
	TypeAgentStart             EventType = "agent_start"
	TypeAgentStep              EventType = "agent_step"
	TypeAgentStop              EventType = "agent_stop"
	TypeToolCall               EventType = "tool_call"
	TypeToolResult             EventType = "tool_result"
	TypeAgentDelegation        EventType = "agent_delegation"
	TypeDelegationResult       EventType = "delegation_result"
	TypeContextThresholdHit    EventType = "context_threshold_hit"
	TypeContextLimitWarning    EventType = "context_limit_warning"
	TypeContextCompression     EventType = "context_compression"
	TypeContextManagementAction EventType = "context_management_action"
	TypeToolError              EventType = "tool_error"
	TypeInternalError          EventType = "internal_error"
	TypeOpenAIRequest          EventType = "openai_request"
	TypeOpenAIResponse         EventType = "openai_response"
	TypeModelLookupWarning     EventType = "model_lookup_warning"
	TypeDuplicateToolCallID    EventType = "duplicate_tool_call_id_warning"
)

// Event is a structured record emitted by any component. Payload carries
// type-specific fields.
type Event struct {
	Type           EventType
	Timestamp      time.Time
	SwarmID        string
	ParentSwarmID  string
	ExecutionID    string
	Agent          string
	Payload        map[string]any
}

// TaskContext carries the lineage ids emit() injects when absent from the
// Event. The orchestrator installs it into ctx before agent execution begins;
// it is inherited by any child task (tool execution, delegation) via
// context.Context propagation, so nested goroutines spawned from ctx see the
// same lineage.
type TaskContext struct {
	SwarmID       string
	ParentSwarmID string
	ExecutionID   string
	Agent         string
}

type taskContextKey struct{}

// WithTaskContext returns a context carrying tc, inherited by children.
func WithTaskContext(ctx context.Context, tc TaskContext) context.Context {
	return context.WithValue(ctx, taskContextKey{}, tc)
}

// TaskContextFrom extracts the TaskContext installed by WithTaskContext, if any.
func TaskContextFrom(ctx context.Context) (TaskContext, bool) {
	tc, ok := ctx.Value(taskContextKey{}).(TaskContext)
	return tc, ok
}

// Filter matches an Event when every non-empty field equals the
// corresponding event field. The zero Filter matches everything.
type Filter struct {
	Type  EventType
	Agent string
}

func (f Filter) matches(e Event) bool {
	if f.Type != "" && f.Type != e.Type {
		return false
	}
	if f.Agent != "" && f.Agent != e.Agent {
		return false
	}
	return true
}

// Handler receives matched events. A Handler that panics is recovered by the
// Bus and re-emitted as an internal_error event; it never aborts delivery to
// other subscribers.
type Handler func(Event)

// Bus is the process-wide event stream. It is safe for concurrent emit and
// subscribe/unsubscribe.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]subscription
	next int
}

type subscription struct {
	filter  Filter
	handler Handler
}

// New returns a ready-to-use Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers handler for events matching filter and returns a
// subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(filter Filter, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = subscription{filter: filter, handler: handler}
	return id
}

// Unsubscribe removes a subscription installed by Subscribe. It is a no-op
// if id is unknown.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Emit fills in lineage fields from ctx's TaskContext when the corresponding
// Event field is empty, stamps Timestamp if zero, and delivers the event to
// every matching subscriber in the order calls to Emit were observed by the
// bus. Handler panics are caught and re-emitted as internal_error so one
// broken subscriber never silences the others.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if tc, ok := TaskContextFrom(ctx); ok {
		if e.SwarmID == "" {
			e.SwarmID = tc.SwarmID
		}
		if e.ParentSwarmID == "" {
			e.ParentSwarmID = tc.ParentSwarmID
		}
		if e.ExecutionID == "" {
			e.ExecutionID = tc.ExecutionID
		}
		if e.Agent == "" {
			e.Agent = tc.Agent
		}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.matches(e) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		b.dispatch(ctx, s, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.Emit(ctx, Event{
				Type:    TypeInternalError,
				Payload: map[string]any{"recovered": r, "source_event": e.Type},
			})
		}
	}()
	s.handler(e)
}
