// Package hooks implements Hook Dispatch (C11): named extension points an
// operator can attach priority-ordered callbacks to. Unlike the teacher's
// hooks.Bus, which stops fan-out at the first subscriber error, Dispatch
// never lets one broken hook silence the rest — spec §4.11 requires a
// failing hook to be captured and logged, not to abort dispatch. That
// divergence is recorded as a deliberate redesign in DESIGN.md.
package hooks

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"github.com/swarmkit/swarmkit/eventlog"
)

// Point names one of the fixed extension points the engine and tool
// dispatcher invoke hooks at.
type Point string

const (
	PointAgentStep      Point = "agent_step"
	PointAgentStop      Point = "agent_stop"
	PointContextWarning Point = "context_warning"
	PointPreTool        Point = "pre_tool"
	PointPostTool       Point = "post_tool"
)

// Event carries the payload delivered to a hook callback.
type Event struct {
	Point    Point
	Agent    string
	ToolName string // set for PointPreTool / PointPostTool
	Payload  map[string]any
}

// Func is a hook callback. An error return is treated as a failure of this
// hook only; it does not prevent lower-priority hooks at the same point from
// running.
type Func func(ctx context.Context, e Event) error

// Hook binds a callback to a Point with an optional tool-name Matcher
// (pre_tool/post_tool only) and a Priority (lower runs first).
type Hook struct {
	Point    Point
	Matcher  *regexp.Regexp
	Priority int
	Func     Func
}

// Dispatcher holds registered hooks and invokes them synchronously in
// priority order, one Point at a time.
type Dispatcher struct {
	bus *eventlog.Bus

	mu    sync.RWMutex
	hooks map[Point][]Hook
}

// NewDispatcher returns a Dispatcher that reports hook failures on bus.
func NewDispatcher(bus *eventlog.Bus) *Dispatcher {
	return &Dispatcher{bus: bus, hooks: make(map[Point][]Hook)}
}

// Register adds h, keeping each Point's hook list sorted by ascending
// Priority (stable, so equal-priority hooks keep registration order).
func (d *Dispatcher) Register(h Hook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks[h.Point] = append(d.hooks[h.Point], h)
	sort.SliceStable(d.hooks[h.Point], func(i, j int) bool {
		return d.hooks[h.Point][i].Priority < d.hooks[h.Point][j].Priority
	})
}

// Dispatch runs every hook registered at e.Point whose Matcher (if any)
// matches e.ToolName. A hook that panics or returns an error is captured and
// re-emitted as an internal_error event; remaining hooks still run.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) {
	d.mu.RLock()
	hs := append([]Hook(nil), d.hooks[e.Point]...)
	d.mu.RUnlock()

	for _, h := range hs {
		if h.Matcher != nil && !h.Matcher.MatchString(e.ToolName) {
			continue
		}
		d.invoke(ctx, h, e)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Hook, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.bus.Emit(ctx, eventlog.Event{
				Type:  eventlog.TypeInternalError,
				Agent: e.Agent,
				Payload: map[string]any{
					"recovered":  r,
					"hook_point": string(e.Point),
				},
			})
		}
	}()
	if err := h.Func(ctx, e); err != nil {
		d.bus.Emit(ctx, eventlog.Event{
			Type:  eventlog.TypeInternalError,
			Agent: e.Agent,
			Payload: map[string]any{
				"error":      err.Error(),
				"hook_point": string(e.Point),
			},
		})
	}
}
