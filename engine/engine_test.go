package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/require"

	"github.com/swarmkit/swarmkit/agent"
	"github.com/swarmkit/swarmkit/eventlog"
	"github.com/swarmkit/swarmkit/llm"
	"github.com/swarmkit/swarmkit/model"
	"github.com/swarmkit/swarmkit/tools"
)

type scriptedProvider struct {
	responses []llm.Response
	errs      []error
	calls     int
	seen      []llm.Request
}

func (p *scriptedProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	i := p.calls
	p.calls++
	p.seen = append(p.seen, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	resp := p.responses[i]
	return &resp, nil
}

type echoTool struct {
	name  string
	calls int
	err   error
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echo" }
func (t *echoTool) ParamsSchema() *jsonschema.Schema {
	return tools.CompileSchema("engine-test://"+t.name, `{"type":"object"}`)
}
func (t *echoTool) Removable() bool { return true }
func (t *echoTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return string(args), nil
}

func newTestEngine(provider llm.Provider, toolset map[string]tools.Tool) *Engine {
	def := &agent.Definition{Name: "coder", Model: "test-model", SystemPrompt: "be terse"}
	return New(def, provider, toolset, nil, nil, nil, eventlog.New(), Options{})
}

func TestRunStopsNormallyWithNoToolCalls(t *testing.T) {
	p := &scriptedProvider{responses: []llm.Response{
		{Message: &model.Message{Role: model.RoleAssistant, Text: "done"}},
	}}
	e := newTestEngine(p, nil)

	res, err := e.Run(context.Background(), "do the thing")
	require.NoError(t, err)
	require.Equal(t, StopNormal, res.Stop)
	require.Equal(t, "done", res.Content)
	require.Equal(t, 1, res.Turns)
	require.Equal(t, "be terse", p.seen[0].SystemPrompt)
}

func TestRunDispatchesToolCallAndLoops(t *testing.T) {
	et := &echoTool{name: "Echo"}
	p := &scriptedProvider{responses: []llm.Response{
		{Message: &model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "Echo", Arguments: json.RawMessage(`{"x":1}`)},
			},
		}},
		{Message: &model.Message{Role: model.RoleAssistant, Text: "final"}},
	}}
	e := newTestEngine(p, map[string]tools.Tool{"Echo": et})

	res, err := e.Run(context.Background(), "go")
	require.NoError(t, err)
	require.Equal(t, StopNormal, res.Stop)
	require.Equal(t, "final", res.Content)
	require.Equal(t, 1, et.calls)

	var toolMsg *model.Message
	for _, m := range e.Conversation.Messages {
		if m.Role == model.RoleTool {
			toolMsg = m
		}
	}
	require.NotNil(t, toolMsg)
	require.Equal(t, "call-1", toolMsg.ToolCallID)
	require.JSONEq(t, `{"x":1}`, toolMsg.Text)
}

func TestRunEncodesToolErrorAsJSONErrorBody(t *testing.T) {
	et := &echoTool{name: "Echo", err: errors.New("boom")}
	p := &scriptedProvider{responses: []llm.Response{
		{Message: &model.Message{
			Role:      model.RoleAssistant,
			ToolCalls: []model.ToolCall{{ID: "call-1", Name: "Echo"}},
		}},
		{Message: &model.Message{Role: model.RoleAssistant, Text: "final"}},
	}}
	e := newTestEngine(p, map[string]tools.Tool{"Echo": et})

	_, err := e.Run(context.Background(), "go")
	require.NoError(t, err)

	var toolMsg *model.Message
	for _, m := range e.Conversation.Messages {
		if m.Role == model.RoleTool {
			toolMsg = m
		}
	}
	require.JSONEq(t, `{"error":"boom"}`, toolMsg.Text)
}

func TestRunMissingCallIDIsHardError(t *testing.T) {
	p := &scriptedProvider{responses: []llm.Response{
		{Message: &model.Message{
			Role:      model.RoleAssistant,
			ToolCalls: []model.ToolCall{{Name: "Echo"}},
		}},
	}}
	e := newTestEngine(p, map[string]tools.Tool{"Echo": &echoTool{name: "Echo"}})

	_, err := e.Run(context.Background(), "go")
	require.Error(t, err)
}

func TestRunDuplicateCallIDsStillDispatchBoth(t *testing.T) {
	et := &echoTool{name: "Echo"}
	p := &scriptedProvider{responses: []llm.Response{
		{Message: &model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{
				{ID: "dup", Name: "Echo", Arguments: json.RawMessage(`{"n":1}`)},
				{ID: "dup", Name: "Echo", Arguments: json.RawMessage(`{"n":2}`)},
			},
		}},
		{Message: &model.Message{Role: model.RoleAssistant, Text: "final"}},
	}}
	e := newTestEngine(p, map[string]tools.Tool{"Echo": et})

	_, err := e.Run(context.Background(), "go")
	require.NoError(t, err)
	require.Equal(t, 2, et.calls)

	var toolCount int
	for _, m := range e.Conversation.Messages {
		if m.Role == model.RoleTool {
			toolCount++
		}
	}
	require.Equal(t, 2, toolCount)
}

func TestRunTransportErrorReturnsNoPartialResult(t *testing.T) {
	p := &scriptedProvider{errs: []error{errors.New("connection reset")}, responses: []llm.Response{{}}}
	e := newTestEngine(p, nil)

	res, err := e.Run(context.Background(), "go")
	require.Error(t, err)
	require.Nil(t, res)
	require.Empty(t, e.Conversation.Messages[1:], "no assistant/tool message should be appended on transport failure")
}

func TestRunForcedStopByFinishAgent(t *testing.T) {
	p := &scriptedProvider{responses: []llm.Response{
		{Message: &model.Message{
			Role: model.RoleAssistant,
			Text: "wrapping up",
			ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "FinishAgent", Arguments: json.RawMessage(`{"reason":"user cancelled"}`)},
			},
		}},
	}}
	e := newTestEngine(p, nil)

	res, err := e.Run(context.Background(), "go")
	require.NoError(t, err)
	require.Equal(t, StopForced, res.Stop)
	require.Equal(t, "FinishAgent", res.StopReason)
	require.Equal(t, 1, p.calls, "forced stop must not trigger another LLM turn")
}

func TestRunMaxTurnsExceeded(t *testing.T) {
	et := &echoTool{name: "Echo"}
	resp := llm.Response{Message: &model.Message{
		Role:      model.RoleAssistant,
		ToolCalls: []model.ToolCall{{ID: "call-1", Name: "Echo"}},
	}}
	p := &scriptedProvider{}
	for i := 0; i < 3; i++ {
		p.responses = append(p.responses, resp)
	}
	e := newTestEngine(p, map[string]tools.Tool{"Echo": et})
	e.maxTurns = 3

	_, err := e.Run(context.Background(), "go")
	require.Error(t, err)
}
