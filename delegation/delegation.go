// Package delegation implements the Delegation Router (C7): converts
// WorkWith<Agent> tool calls into sub-conversations on a target agent,
// reusing one delegation instance per (target, delegator) pair for the
// lifetime of the swarm execution.
package delegation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/swarmkit/swarmkit/agent"
	"github.com/swarmkit/swarmkit/engine"
	"github.com/swarmkit/swarmkit/eventlog"
	"github.com/swarmkit/swarmkit/model"
	"github.com/swarmkit/swarmkit/swarmerr"
)

// delegationPrefix names the tool-call convention the engine and router
// agree on: a tool call "WorkWith<Agent>" delegates to the agent whose name
// is <Agent> with its first letter lowered (spec §4.7 step 1).
const delegationPrefix = "WorkWith"

// EngineFactory builds a fresh *engine.Engine bound to target's definition,
// wired with its own tool set, context manager, and hooks but sharing the
// swarm's event bus. Supplied by package swarm, which alone knows how to
// assemble a toolset from the registry (keeps delegation decoupled from tool
// construction).
type EngineFactory func(target agent.Ident) (*engine.Engine, error)

// Router owns every delegation instance created during one swarm execution,
// keyed by "target@delegator" (spec §3 Delegation Instance).
type Router struct {
	bus         *eventlog.Bus
	definitions map[agent.Ident]*agent.Definition
	newEngine   EngineFactory

	mu         sync.Mutex
	delegators map[agent.Ident]*engine.Engine
	instances  map[string]*engine.Engine
}

// NewRouter returns a Router that validates delegation targets against
// definitions and builds new delegation instances through newEngine.
func NewRouter(bus *eventlog.Bus, definitions map[agent.Ident]*agent.Definition, newEngine EngineFactory) *Router {
	return &Router{
		bus:         bus,
		definitions: definitions,
		newEngine:   newEngine,
		delegators:  make(map[agent.Ident]*engine.Engine),
		instances:   make(map[string]*engine.Engine),
	}
}

// RegisterDelegator associates a primary agent's name with its live Engine
// so Delegate can record and clear call-id -> target mappings in that
// agent's Agent Context (spec §4.7 step 2, step 5).
func (r *Router) RegisterDelegator(name agent.Ident, e *engine.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegators[name] = e
}

// Instances returns every live delegation instance keyed by "target@delegator",
// for the Snapshot Engine (C10).
func (r *Router) Instances() map[string]*engine.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*engine.Engine, len(r.instances))
	for k, v := range r.instances {
		out[k] = v
	}
	return out
}

// SetInstance installs a previously-built Engine as the instance for
// instanceName, used when restoring a Snapshot.
func (r *Router) SetInstance(instanceName string, e *engine.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[instanceName] = e
}

// TargetFromToolName extracts the delegate agent name from a
// WorkWith<Agent> tool-call name, lowering its first letter (spec §4.7 step 1).
func TargetFromToolName(toolName string) (agent.Ident, bool) {
	if !strings.HasPrefix(toolName, delegationPrefix) || len(toolName) == len(delegationPrefix) {
		return "", false
	}
	rest := toolName[len(delegationPrefix):]
	runes := []rune(rest)
	runes[0] = unicode.ToLower(runes[0])
	return agent.Ident(string(runes)), true
}

// InstanceName builds the "target@delegator" key spec §3 assigns a
// delegation instance.
func InstanceName(target, delegator agent.Ident) string {
	return fmt.Sprintf("%s@%s", target, delegator)
}

// SplitInstanceName reverses InstanceName, reporting false if name does not
// contain exactly one "@".
func SplitInstanceName(name string) (target, delegator agent.Ident, ok bool) {
	parts := strings.SplitN(name, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return agent.Ident(parts[0]), agent.Ident(parts[1]), true
}

// Delegate implements engine.Delegator: spec §4.7 steps 1-5. It runs the
// delegated prompt to completion and returns the child's final assistant
// content as the delegator's open tool result.
func (r *Router) Delegate(ctx context.Context, delegator agent.Ident, call model.ToolCall) (string, error) {
	target, ok := TargetFromToolName(call.Name)
	if !ok {
		return "", fmt.Errorf("delegation: tool name %q does not follow the WorkWith<Agent> convention", call.Name)
	}

	def, ok := r.definitions[delegator]
	if !ok {
		return "", &swarmerr.AgentNotFoundError{Agent: string(delegator)}
	}
	if !declaresTarget(def, target) {
		return "", &swarmerr.AgentNotFoundError{Agent: string(target)}
	}
	if _, ok := r.definitions[target]; !ok {
		return "", &swarmerr.AgentNotFoundError{Agent: string(target)}
	}

	if delegatorEngine, ok := r.delegatorEngine(delegator); ok {
		delegatorEngine.SetDelegationTarget(call.ID, target)
	}
	r.bus.Emit(ctx, eventlog.Event{
		Type:  eventlog.TypeAgentDelegation,
		Agent: string(delegator),
		Payload: map[string]any{
			"delegate_to": string(target),
			"call_id":     call.ID,
		},
	})

	instance, err := r.instance(target, delegator)
	if err != nil {
		return "", err
	}

	prompt, err := delegatedPrompt(call.Arguments)
	if err != nil {
		return "", err
	}

	res, err := instance.Run(ctx, prompt)
	if err != nil {
		return "", err
	}

	r.bus.Emit(ctx, eventlog.Event{
		Type:  eventlog.TypeDelegationResult,
		Agent: string(delegator),
		Payload: map[string]any{
			"delegate_to": string(target),
			"call_id":     call.ID,
			"content":     res.Content,
		},
	})

	if delegatorEngine, ok := r.delegatorEngine(delegator); ok {
		delegatorEngine.ClearDelegationTarget(call.ID)
	}
	return res.Content, nil
}

func declaresTarget(def *agent.Definition, target agent.Ident) bool {
	for _, t := range def.DelegationTargets {
		if t == target {
			return true
		}
	}
	return false
}

func (r *Router) delegatorEngine(name agent.Ident) (*engine.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.delegators[name]
	return e, ok
}

// instance returns the existing delegation instance for (target, delegator)
// or builds and stores a fresh one (spec §3 "Created on first delegation
// call; reused for subsequent calls from the same delegator").
func (r *Router) instance(target, delegator agent.Ident) (*engine.Engine, error) {
	name := InstanceName(target, delegator)

	r.mu.Lock()
	if e, ok := r.instances[name]; ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	e, err := r.newEngine(target)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.instances[name]; ok {
		return existing, nil
	}
	r.instances[name] = e
	return e, nil
}

// delegatedPrompt extracts the "prompt" field WorkWith<Agent> calls carry as
// their sole documented argument (spec §8 S3).
func delegatedPrompt(args json.RawMessage) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	var in struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("delegation: invalid arguments: %w", err)
	}
	return in.Prompt, nil
}
