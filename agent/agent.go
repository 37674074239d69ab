// Package agent provides the agent identifier type and the immutable agent
// definition that a swarm builds conversation engines from.
package agent

import "github.com/swarmkit/swarmkit/swarmerr"

// Ident is the strong type for agent names. Agent names are symbols within a
// swarm (e.g. "coder", "reviewer") and must be unique within one swarm's
// agent set.
type Ident string

// Permissions declares per-tool allow/deny regular expression lists. A nil
// Permissions means "no restriction beyond the tool's own checks".
type Permissions struct {
	// Allowed, when non-empty, requires a match before a guarded operation proceeds.
	Allowed []string
	// Denied always takes precedence over Allowed.
	Denied []string
}

// ToolPermissions maps a tool name to its Permissions for one agent.
type ToolPermissions map[string]*Permissions

// Definition is the immutable, build-time description of one agent. It is
// constructed once when the swarm is built and never mutated afterward; all
// mutable per-turn state lives in the engine.Engine built from it.
type Definition struct {
	// Name identifies the agent within its swarm.
	Name Ident
	// Description is a human-readable summary shown to operators and, for
	// delegation targets, surfaced in the delegator's tool description.
	Description string
	// Model is the model identifier passed to the llm.Provider (e.g.
	// "claude-sonnet-4-5", "gpt-4.1", "anthropic.claude-3-5-sonnet").
	Model string
	// Directory is the filesystem root local tools (Read/Write/Edit/Glob/Grep/Bash)
	// resolve relative paths against.
	Directory string
	// Tools lists the built-in and MCP tool names this agent may call.
	Tools []string
	// DelegationTargets lists agent names this agent may invoke via
	// WorkWith<Agent> tool calls. Calling an undeclared target is an
	// AgentNotFoundError.
	DelegationTargets []Ident
	// Permissions overrides the default (permissive) policy per tool.
	Permissions ToolPermissions
	// PluginConfig carries opaque per-plugin configuration (e.g. the memory
	// plugin's storage directory) keyed by plugin name.
	PluginConfig map[string]map[string]any
	// SystemPrompt is injected on the first turn of a fresh conversation only.
	SystemPrompt string
}

// Validate checks structural invariants that do not require swarm-wide
// context (e.g. that delegation targets exist elsewhere).
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &swarmerr.ConfigurationError{Reason: "agent definition missing name"}
	}
	if d.Model == "" {
		return &swarmerr.ConfigurationError{Reason: "agent definition missing model"}
	}
	return nil
}
