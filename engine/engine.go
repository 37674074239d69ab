// Package engine implements the Agent Conversation Engine (C6): the
// per-agent turn loop that builds a request, calls the model, dispatches
// tool calls, and repeats until the model stops asking for tools.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/swarmkit/swarmkit/agent"
	"github.com/swarmkit/swarmkit/contextmgr"
	"github.com/swarmkit/swarmkit/eventlog"
	"github.com/swarmkit/swarmkit/hooks"
	"github.com/swarmkit/swarmkit/llm"
	"github.com/swarmkit/swarmkit/model"
	"github.com/swarmkit/swarmkit/swarmerr"
	"github.com/swarmkit/swarmkit/tools"
)

// defaultMaxTurns is the soft recursion ceiling on consecutive tool-calling
// turns (spec §4.6 "effectively unbounded, e.g. 100,000").
const defaultMaxTurns = 100000

// StopReason classifies why Run returned.
type StopReason string

const (
	StopNormal   StopReason = "normal"
	StopForced   StopReason = "forced"
	StopMaxTurns StopReason = "max_turns"
)

// forcedStopTools names the tool calls that end a turn early, regardless of
// what else the assistant message contains; the override reason recorded in
// Result.StopReason and on the agent_stop event is the tool's name, while the
// call's optional "reason" argument is echoed in its tool-result message. They are recognized directly by the engine rather than
// registered in the tool Registry, since they never touch the filesystem or
// storage and exist purely to signal the state machine.
var forcedStopTools = map[string]bool{
	"FinishAgent": true,
	"FinishSwarm": true,
}

// Delegator resolves a WorkWith<Agent> tool call into its delegation result.
// Declared here (rather than engine importing package delegation directly)
// because delegation.Router holds a map of *engine.Engine instances — engine
// importing delegation would cycle.
type Delegator interface {
	// Delegate runs spec §4.7 steps 1-5 for one delegation tool call and
	// returns the delegated conversation's final assistant content.
	Delegate(ctx context.Context, delegator agent.Ident, call model.ToolCall) (string, error)
}

// Options configures one Engine instance.
type Options struct {
	// SystemPrompt is injected once, at construction, not re-derived per
	// turn (spec §4.6 "injected on first turn only").
	SystemPrompt string
	// MaxTurns overrides defaultMaxTurns when positive.
	MaxTurns int
}

// Result is what Run returns on a clean stop (normal or forced). Transport
// and hard-validation failures are returned as a Go error instead, per spec
// §4.6 "the engine returns a user-visible error message; no partial tool
// results are appended."
type Result struct {
	Content    string
	Stop       StopReason
	StopReason string // name of the forced-stop tool that ended the run, set only when Stop == StopForced
	Usage      model.TokenUsage
	Turns      int
}

// Engine drives one agent's conversation per spec §4.6's state machine.
type Engine struct {
	Def       *agent.Definition
	Provider  llm.Provider
	Tools     map[string]tools.Tool
	Delegator Delegator
	CtxMgr    *contextmgr.Manager
	Hooks     *hooks.Dispatcher
	Bus       *eventlog.Bus

	Conversation *model.Conversation

	// delegationCalls maps an open tool-call id to the delegation target it
	// was dispatched to (spec §3 Agent Context, §4.7 step 2). Cleared when
	// the delegation result is appended.
	delegationCalls map[string]agent.Ident
	// activeSkillPath mirrors the most recently loaded skill's path, or ""
	// when no skill is active (spec §3, §9).
	activeSkillPath string
	// lastTodoWriteIndex is the Conversation.Messages index of the most
	// recent TodoWrite tool-result message, or -1 if none yet.
	lastTodoWriteIndex int

	systemPrompt string
	maxTurns     int
}

// ContextState is the slice of Agent Context (spec §3) owned directly by the
// Engine: open delegation call-id mappings and the active skill pointer.
// Warning-threshold and compression state live in contextmgr.State; package
// snapshot merges both into one context_state record (spec §4.10).
type ContextState struct {
	AgentName                 string
	DelegationCallTargets     map[string]string
	ActiveSkillPath           string
	LastTodoWriteMessageIndex int
}

// ExportContextState captures the Agent Context fields owned directly by the
// Engine (spec §4.10 context_state), excluding contextmgr's own State which
// the caller attaches separately.
func (e *Engine) ExportContextState() ContextState {
	targets := make(map[string]string, len(e.delegationCalls))
	for id, target := range e.delegationCalls {
		targets[id] = string(target)
	}
	return ContextState{
		AgentName:                string(e.Def.Name),
		DelegationCallTargets:    targets,
		ActiveSkillPath:          e.activeSkillPath,
		LastTodoWriteMessageIndex: e.lastTodoWriteIndex,
	}
}

// RestoreContextState reinstalls a previously exported ContextState. It does
// not touch contextmgr state; callers restore that separately via
// contextmgr.Manager.Restore.
func (e *Engine) RestoreContextState(s ContextState) {
	e.delegationCalls = make(map[string]agent.Ident, len(s.DelegationCallTargets))
	for id, target := range s.DelegationCallTargets {
		e.delegationCalls[id] = agent.Ident(target)
	}
	e.activeSkillPath = s.ActiveSkillPath
	e.lastTodoWriteIndex = s.LastTodoWriteMessageIndex
}

// SetDelegationTarget records call_id -> target in the Agent Context (spec
// §4.7 step 2), called by package delegation before it runs the delegated
// conversation.
func (e *Engine) SetDelegationTarget(callID string, target agent.Ident) {
	if e.delegationCalls == nil {
		e.delegationCalls = make(map[string]agent.Ident)
	}
	e.delegationCalls[callID] = target
}

// ClearDelegationTarget removes a call_id mapping once its delegation result
// has been appended (spec §4.7 step 5).
func (e *Engine) ClearDelegationTarget(callID string) {
	delete(e.delegationCalls, callID)
}

// DelegationTarget reports the target recorded for an open delegation call.
func (e *Engine) DelegationTarget(callID string) (agent.Ident, bool) {
	target, ok := e.delegationCalls[callID]
	return target, ok
}

// SystemPrompt returns the prompt injected on this Engine's first turn,
// for the Snapshot Engine (spec §4.10 "agents: {... system_prompt}").
func (e *Engine) SystemPrompt() string { return e.systemPrompt }

// ActiveSkillPath returns the currently loaded skill's path, or "".
func (e *Engine) ActiveSkillPath() string { return e.activeSkillPath }

// SetActiveSkillPath updates the active skill pointer (spec §9); called by
// the swarm-level skill loader after it recomputes the tool set.
func (e *Engine) SetActiveSkillPath(path string) { e.activeSkillPath = path }

// LastTodoWriteIndex returns the message index of the most recent TodoWrite
// tool result, or -1 if TodoWrite has never been called.
func (e *Engine) LastTodoWriteIndex() int { return e.lastTodoWriteIndex }

// New builds an Engine bound to def, ready to run turns against toolset
// (already instantiated and permission-guarded by the swarm builder).
// ctxMgr, hooksDispatcher, and delegator may be nil; the Engine always starts
// with an empty Conversation.
func New(def *agent.Definition, provider llm.Provider, toolset map[string]tools.Tool, delegator Delegator, ctxMgr *contextmgr.Manager, hooksDispatcher *hooks.Dispatcher, bus *eventlog.Bus, opts Options) *Engine {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = def.SystemPrompt
	}
	return &Engine{
		Def:                def,
		Provider:           provider,
		Tools:              toolset,
		Delegator:          delegator,
		CtxMgr:             ctxMgr,
		Hooks:              hooksDispatcher,
		Bus:                bus,
		Conversation:       &model.Conversation{},
		delegationCalls:    make(map[string]agent.Ident),
		lastTodoWriteIndex: -1,
		systemPrompt:       systemPrompt,
		maxTurns:           maxTurns,
	}
}

// Run executes prompt to completion: BUILD_REQUEST → CALL_LLM → RECEIVE →
// DISPATCH → {LOCAL_TOOL|DELEGATION|MCP_TOOL} → APPEND_TOOL_RESULT →
// NEXT_TURN, looping until a turn ends with no tool calls, a forced-stop
// tool is called, or maxTurns is reached.
func (e *Engine) Run(ctx context.Context, prompt string) (*Result, error) {
	e.Bus.Emit(ctx, eventlog.Event{
		Type:    eventlog.TypeAgentStart,
		Agent:   string(e.Def.Name),
		Payload: map[string]any{"prompt": prompt},
	})
	e.Conversation.Append(&model.Message{Role: model.RoleUser, Text: prompt})

	var total model.TokenUsage
	for turn := 0; turn < e.maxTurns; turn++ {
		if e.CtxMgr != nil {
			e.CtxMgr.CheckProvisional(ctx, e.Conversation)
		}
		resp, err := e.Provider.Complete(ctx, llm.Request{
			Model:        e.Def.Model,
			SystemPrompt: e.systemPrompt,
			Conversation: e.Conversation,
			Tools:        llm.ToolSpecsFrom(e.Tools),
		})
		if err != nil {
			return nil, fmt.Errorf("engine: llm call failed: %w", err)
		}

		total.Add(resp.Usage)
		if e.CtxMgr != nil {
			e.CtxMgr.AddUsage(resp.Usage)
		}

		assistant := resp.Message
		e.Conversation.Append(assistant)

		if e.CtxMgr != nil {
			e.CtxMgr.Check(ctx, e.Conversation)
		}

		if len(assistant.ToolCalls) == 0 {
			e.Bus.Emit(ctx, eventlog.Event{
				Type:    eventlog.TypeAgentStop,
				Agent:   string(e.Def.Name),
				Payload: usagePayload(map[string]any{"reason": "normal"}, resp.Usage, e.Def.Model),
			})
			return &Result{Content: assistant.Text, Stop: StopNormal, Usage: total, Turns: turn + 1}, nil
		}

		e.Bus.Emit(ctx, eventlog.Event{
			Type:    eventlog.TypeAgentStep,
			Agent:   string(e.Def.Name),
			Payload: usagePayload(map[string]any{"tool_calls": len(assistant.ToolCalls)}, resp.Usage, e.Def.Model),
		})

		forced, reason, err := e.dispatchToolCalls(ctx, assistant.ToolCalls)
		if err != nil {
			return nil, err
		}
		if forced {
			e.Bus.Emit(ctx, eventlog.Event{
				Type:    eventlog.TypeAgentStop,
				Agent:   string(e.Def.Name),
				Payload: map[string]any{"reason": reason},
			})
			return &Result{Content: assistant.Text, Stop: StopForced, StopReason: reason, Usage: total, Turns: turn + 1}, nil
		}
	}
	return nil, &swarmerr.ExecutionError{Reason: fmt.Sprintf("agent %q exceeded max turn depth (%d)", e.Def.Name, e.maxTurns)}
}

// dispatchToolCalls executes calls in the order they appear in the assistant
// message and appends one tool-role message per call. It returns forced=true
// when a finish-agent/finish-swarm tool was among them (execution still
// continues for any calls preceding it in the same message, per spec §4.6
// "tool calls are executed in the order they appear").
func (e *Engine) dispatchToolCalls(ctx context.Context, calls []model.ToolCall) (forced bool, reason string, err error) {
	seen := make(map[string]int, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			return false, "", fmt.Errorf("engine: missing call_id for tool %q", call.Name)
		}
		if n := seen[call.ID]; n > 0 {
			e.Bus.Emit(ctx, eventlog.Event{
				Type:  eventlog.TypeDuplicateToolCallID,
				Agent: string(e.Def.Name),
				Payload: map[string]any{"call_id": call.ID, "tool": call.Name, "position": i},
			})
		}
		seen[call.ID]++

		result, execErr := e.execute(ctx, call)
		text := encodeToolResult(result, execErr)
		e.Conversation.Append(&model.Message{Role: model.RoleTool, ToolCallID: call.ID, Text: text})
		if call.Name == "TodoWrite" {
			e.lastTodoWriteIndex = len(e.Conversation.Messages) - 1
		}

		if execErr == nil && forcedStopTools[call.Name] {
			forced = true
			reason = call.Name
		}
	}
	return forced, reason, nil
}

// execute dispatches a single tool call to a local tool, the delegation
// router, or an MCP stub, wrapped in pre_tool/post_tool hooks and
// tool_call/tool_result events.
func (e *Engine) execute(ctx context.Context, call model.ToolCall) (string, error) {
	e.hookDispatch(ctx, hooks.PointPreTool, call.Name, nil)
	e.Bus.Emit(ctx, eventlog.Event{
		Type:  eventlog.TypeToolCall,
		Agent: string(e.Def.Name),
		Payload: map[string]any{"tool": call.Name, "call_id": call.ID},
	})

	var (
		out string
		err error
	)
	switch {
	case forcedStopTools[call.Name]:
		out = forcedStopResultText(call.Arguments)
	case e.Delegator != nil && isDelegationCall(call.Name):
		out, err = e.Delegator.Delegate(ctx, e.Def.Name, call)
	default:
		t, ok := e.Tools[call.Name]
		if !ok {
			err = &swarmerr.ConfigurationError{Reason: fmt.Sprintf("tool %q not available to agent %q", call.Name, e.Def.Name)}
			break
		}
		var res any
		res, err = t.Execute(ctx, call.Arguments)
		if err == nil {
			out = contentText(res)
		}
	}

	e.Bus.Emit(ctx, eventlog.Event{
		Type:  eventlog.TypeToolResult,
		Agent: string(e.Def.Name),
		Payload: map[string]any{"tool": call.Name, "call_id": call.ID, "error": err != nil},
	})
	e.hookDispatch(ctx, hooks.PointPostTool, call.Name, map[string]any{"error": err != nil})
	return out, err
}

func (e *Engine) hookDispatch(ctx context.Context, point hooks.Point, toolName string, extra map[string]any) {
	if e.Hooks == nil {
		return
	}
	e.Hooks.Dispatch(ctx, hooks.Event{Point: point, Agent: string(e.Def.Name), ToolName: toolName, Payload: extra})
}

// usagePayload merges per-turn token usage into an event payload so
// swarm-level aggregation (C9 Result counters) can read usage off the event
// bus without reaching into every nested Engine.
func usagePayload(base map[string]any, u model.TokenUsage, modelID string) map[string]any {
	base["input_tokens"] = u.InputTokens
	base["output_tokens"] = u.OutputTokens
	base["cached_tokens"] = u.CachedTokens
	base["cache_creation_tokens"] = u.CacheCreationTokens
	base["model"] = modelID
	return base
}

// isDelegationCall reports whether name follows the WorkWith<Agent>
// delegation naming convention (spec §4.7).
func isDelegationCall(name string) bool {
	const prefix = "WorkWith"
	return len(name) > len(prefix) && name[:len(prefix)] == prefix
}

// forcedStopResultText extracts an optional "reason" argument from a
// finish-agent/finish-swarm call so it survives into the tool-role message,
// even though the call never reaches the tool Registry.
func forcedStopResultText(args json.RawMessage) string {
	var payload struct {
		Reason string `json:"reason"`
	}
	if len(args) > 0 {
		_ = json.Unmarshal(args, &payload)
	}
	if payload.Reason == "" {
		return `{"ok":true}`
	}
	raw, err := json.Marshal(map[string]any{"ok": true, "reason": payload.Reason})
	if err != nil {
		return `{"ok":true}`
	}
	return string(raw)
}

// contentText flattens a tool's Execute result into the string stored in a
// tool-role message body. tools.Content carries text plus image attachments;
// only the text survives into the model-facing tool result (images are not
// yet round-tripped back to the provider — image extraction is an external
// collaborator per spec §1). A plain string result is passed through as-is,
// not re-marshaled: built-in tools that already produce JSON-formatted text
// (Glob/Grep/List results, MCP tool output) hand back that text verbatim,
// and re-encoding it would double-escape an already-valid JSON body rather
// than add anything spec §4.6 asks for. Only non-string/non-Content results
// (a plugin tool returning a plain Go value) fall through to json.Marshal,
// matching the one place spec §4.6 actually requires a serialization step.
func contentText(res any) string {
	switch v := res.(type) {
	case string:
		return v
	case tools.Content:
		return v.Text
	case *tools.Content:
		if v == nil {
			return ""
		}
		return v.Text
	default:
		raw, err := json.Marshal(res)
		if err != nil {
			return fmt.Sprintf("%v", res)
		}
		return string(raw)
	}
}

// encodeToolResult serializes a tool outcome per spec §4.6 "errors become
// {"error": "<message>"}"; the success body is whatever contentText already
// produced (verbatim text, or the JSON encoding of a non-text result — see
// contentText).
func encodeToolResult(text string, err error) string {
	if err != nil {
		raw, merr := json.Marshal(map[string]string{"error": err.Error()})
		if merr != nil {
			return `{"error":"tool execution failed"}`
		}
		return string(raw)
	}
	return text
}
