package hooks

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmkit/swarmkit/eventlog"
)

func TestDispatchRunsInPriorityOrder(t *testing.T) {
	bus := eventlog.New()
	d := NewDispatcher(bus)
	var order []string

	d.Register(Hook{Point: PointAgentStep, Priority: 10, Func: func(context.Context, Event) error {
		order = append(order, "second")
		return nil
	}})
	d.Register(Hook{Point: PointAgentStep, Priority: 0, Func: func(context.Context, Event) error {
		order = append(order, "first")
		return nil
	}})

	d.Dispatch(context.Background(), Event{Point: PointAgentStep, Agent: "a"})
	require.Equal(t, []string{"first", "second"}, order)
}

func TestDispatchMatcherFiltersByToolName(t *testing.T) {
	bus := eventlog.New()
	d := NewDispatcher(bus)
	var called []string

	d.Register(Hook{
		Point:   PointPreTool,
		Matcher: regexp.MustCompile(`^Bash$`),
		Func: func(_ context.Context, e Event) error {
			called = append(called, e.ToolName)
			return nil
		},
	})

	d.Dispatch(context.Background(), Event{Point: PointPreTool, ToolName: "Read"})
	d.Dispatch(context.Background(), Event{Point: PointPreTool, ToolName: "Bash"})

	require.Equal(t, []string{"Bash"}, called)
}

func TestDispatchErrorDoesNotStopRemainingHooks(t *testing.T) {
	bus := eventlog.New()
	var internalErrors int
	bus.Subscribe(eventlog.Filter{Type: eventlog.TypeInternalError}, func(eventlog.Event) {
		internalErrors++
	})

	d := NewDispatcher(bus)
	var ran bool
	d.Register(Hook{Point: PointAgentStop, Priority: 0, Func: func(context.Context, Event) error {
		return errors.New("boom")
	}})
	d.Register(Hook{Point: PointAgentStop, Priority: 1, Func: func(context.Context, Event) error {
		ran = true
		return nil
	}})

	d.Dispatch(context.Background(), Event{Point: PointAgentStop, Agent: "a"})
	require.True(t, ran, "a later hook must still run after an earlier one errors")
	require.Equal(t, 1, internalErrors)
}

func TestDispatchPanicIsRecovered(t *testing.T) {
	bus := eventlog.New()
	var internalErrors int
	bus.Subscribe(eventlog.Filter{Type: eventlog.TypeInternalError}, func(eventlog.Event) {
		internalErrors++
	})

	d := NewDispatcher(bus)
	var ran bool
	d.Register(Hook{Point: PointContextWarning, Priority: 0, Func: func(context.Context, Event) error {
		panic("unexpected")
	}})
	d.Register(Hook{Point: PointContextWarning, Priority: 1, Func: func(context.Context, Event) error {
		ran = true
		return nil
	}})

	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), Event{Point: PointContextWarning, Agent: "a"})
	})
	require.True(t, ran)
	require.Equal(t, 1, internalErrors)
}
