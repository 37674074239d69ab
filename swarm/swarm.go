// Package swarm implements the Swarm Orchestrator (C9): it holds the agent
// set, builds one Agent Engine per agent definition, wires the Delegation
// Router and per-agent skill loading, routes the initial prompt to the lead
// agent, and aggregates a swarm-wide Result.
package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/swarmkit/swarmkit/agent"
	"github.com/swarmkit/swarmkit/contextmgr"
	"github.com/swarmkit/swarmkit/delegation"
	"github.com/swarmkit/swarmkit/engine"
	"github.com/swarmkit/swarmkit/eventlog"
	"github.com/swarmkit/swarmkit/hooks"
	"github.com/swarmkit/swarmkit/llm"
	"github.com/swarmkit/swarmkit/model"
	"github.com/swarmkit/swarmkit/permissions"
	"github.com/swarmkit/swarmkit/readtracker"
	"github.com/swarmkit/swarmkit/storage"
	"github.com/swarmkit/swarmkit/swarmerr"
	"github.com/swarmkit/swarmkit/tools"
)

// defaultContextLimit is used when Options.ContextLimitFor is nil or returns
// 0 for a model id.
const defaultContextLimit = 200_000

// Definition is the build-time description of a swarm: its name, the lead
// agent that receives the initial prompt, and the full agent set (spec §6
// Configuration).
type Definition struct {
	Name      string
	LeadAgent agent.Ident
	Agents    map[agent.Ident]*agent.Definition
}

// Validate checks structural invariants across the whole agent set:
// definition validity, a resolvable lead agent, and delegation targets that
// refer only to declared agents.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &swarmerr.ConfigurationError{Reason: "swarm definition missing name"}
	}
	if _, ok := d.Agents[d.LeadAgent]; !ok {
		return &swarmerr.ConfigurationError{Reason: fmt.Sprintf("lead agent %q not declared", d.LeadAgent)}
	}
	for name, def := range d.Agents {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
		for _, target := range def.DelegationTargets {
			if _, ok := d.Agents[target]; !ok {
				return &swarmerr.ConfigurationError{Reason: fmt.Sprintf("agent %q declares delegation target %q which is not part of the swarm", name, target)}
			}
		}
	}
	return nil
}

// Accessor is the variant-free minimal surface spec §9 carves out so the
// Snapshot Engine and event logging work the same whether the live object
// is a flat Swarm or a future workflow-DAG swarm.
type Accessor interface {
	Name() string
	SwarmID() string
	ParentSwarmID() string
	FirstMessageSent() bool
	AgentDefinitions() map[agent.Ident]*agent.Definition
	PrimaryAgents() map[agent.Ident]*engine.Engine
	DelegationInstances() map[string]*engine.Engine
	ScratchpadAccess() storage.Store
	ReadTrackerAccess() *readtracker.Tracker
	// MemoryStoreAccess returns the stable persistent store for one agent, for
	// the Snapshot Engine's plugin_states capture (spec §4.10).
	MemoryStoreAccess(name agent.Ident) (storage.Store, bool)
}

// Options configures swarm construction. Every field has a usable default.
type Options struct {
	// Registry supplies tool classes; defaults to built-ins plus the memory
	// plugin family (spec §4.4 "available set excludes plugin-provided tools
	// ... registered via a separate plugin registry at swarm build time").
	Registry *tools.Registry
	// Bus is the process-wide event log; defaults to a fresh eventlog.Bus.
	Bus *eventlog.Bus
	// Hooks dispatches lifecycle callbacks; defaults to a fresh Dispatcher.
	Hooks *hooks.Dispatcher
	// ReadTracker is the process-wide read-before-write ledger; defaults to
	// a fresh Tracker.
	ReadTracker *readtracker.Tracker
	// Scratchpad is the shared volatile store; defaults to NewScratchpad().
	Scratchpad storage.Store
	// MemoryStoreFor returns the persistent memory Store for one agent. When
	// nil, every agent gets its own fresh volatile store — a usable default
	// that still exercises the memory tool family, documented as a fallback
	// since wiring a real persistent backend is a caller concern (spec §1).
	MemoryStoreFor func(agent.Ident) storage.Store
	// ProviderFor resolves a model id to the llm.Provider that serves it.
	// Required; Build returns a ConfigurationError if nil.
	ProviderFor func(modelID string) (llm.Provider, error)
	// ContextLimitFor returns the context window size, in tokens, for a
	// model id. A zero or missing entry falls back to defaultContextLimit.
	ContextLimitFor func(modelID string) int
	// PriceTable prices token usage per model for the cost counters SPEC_FULL
	// adds to Result; defaults to llm.DefaultPriceTable().
	PriceTable llm.PriceTable
	// ParentSwarmID links a nested swarm execution to its parent (spec §3).
	ParentSwarmID string
	// MaxTurns overrides each Engine's recursion ceiling when positive.
	MaxTurns int
}

// Swarm is the concrete Accessor built from a Definition; it owns every live
// Agent Engine and the shared substrates they read and write.
type Swarm struct {
	name          string
	lead          agent.Ident
	swarmID       string
	parentSwarmID string

	definitions map[agent.Ident]*agent.Definition
	registry    *tools.Registry
	bus         *eventlog.Bus
	hooks       *hooks.Dispatcher
	readTracker *readtracker.Tracker
	scratchpad  storage.Store
	priceTable  llm.PriceTable

	providerFor     func(string) (llm.Provider, error)
	contextLimitFor func(string) int
	memoryStoreFor  func(agent.Ident) storage.Store
	maxTurns        int

	mu            sync.Mutex
	memoryStores  map[agent.Ident]storage.Store
	todoStores    map[agent.Ident]*tools.TodoStore
	primaryAgents map[agent.Ident]*engine.Engine
	router        *delegation.Router

	firstMessageSent bool
}

// Build constructs a Swarm from def: validates the definition, resolves
// option defaults, then builds one Agent Engine per declared agent, wiring
// a shared Delegation Router so WorkWith<Agent> calls resolve correctly
// (spec §4.9, §4.7).
func Build(def Definition, opts Options) (*Swarm, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if opts.ProviderFor == nil {
		return nil, &swarmerr.ConfigurationError{Reason: "swarm.Options.ProviderFor is required"}
	}

	registry := opts.Registry
	if registry == nil {
		registry = tools.NewRegistry()
		tools.RegisterBuiltins(registry)
		tools.RegisterMemoryPlugin(registry)
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventlog.New()
	}
	hooksDispatcher := opts.Hooks
	if hooksDispatcher == nil {
		hooksDispatcher = hooks.NewDispatcher(bus)
	}
	tracker := opts.ReadTracker
	if tracker == nil {
		tracker = readtracker.New()
	}
	scratchpad := opts.Scratchpad
	if scratchpad == nil {
		scratchpad = storage.NewScratchpad()
	}
	priceTable := opts.PriceTable
	if priceTable == nil {
		priceTable = llm.DefaultPriceTable()
	}
	contextLimitFor := opts.ContextLimitFor
	if contextLimitFor == nil {
		contextLimitFor = func(string) int { return defaultContextLimit }
	}
	memoryStoreFor := opts.MemoryStoreFor
	if memoryStoreFor == nil {
		memoryStoreFor = func(agent.Ident) storage.Store { return storage.NewScratchpad() }
	}

	s := &Swarm{
		name:            def.Name,
		lead:            def.LeadAgent,
		swarmID:         uuid.NewString(),
		parentSwarmID:   opts.ParentSwarmID,
		definitions:     def.Agents,
		registry:        registry,
		bus:             bus,
		hooks:           hooksDispatcher,
		readTracker:     tracker,
		scratchpad:      scratchpad,
		priceTable:      priceTable,
		providerFor:     opts.ProviderFor,
		contextLimitFor: contextLimitFor,
		memoryStoreFor:  memoryStoreFor,
		maxTurns:        opts.MaxTurns,
		memoryStores:    make(map[agent.Ident]storage.Store),
		todoStores:      make(map[agent.Ident]*tools.TodoStore),
		primaryAgents:   make(map[agent.Ident]*engine.Engine),
	}
	s.router = delegation.NewRouter(bus, def.Agents, s.buildEngine)

	for name := range def.Agents {
		eng, err := s.buildEngine(name)
		if err != nil {
			return nil, err
		}
		s.primaryAgents[name] = eng
		s.router.RegisterDelegator(name, eng)
	}
	return s, nil
}

func (s *Swarm) Name() string          { return s.name }
func (s *Swarm) SwarmID() string       { return s.swarmID }
func (s *Swarm) ParentSwarmID() string { return s.parentSwarmID }
func (s *Swarm) FirstMessageSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstMessageSent
}
func (s *Swarm) AgentDefinitions() map[agent.Ident]*agent.Definition { return s.definitions }
func (s *Swarm) PrimaryAgents() map[agent.Ident]*engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[agent.Ident]*engine.Engine, len(s.primaryAgents))
	for k, v := range s.primaryAgents {
		out[k] = v
	}
	return out
}
func (s *Swarm) DelegationInstances() map[string]*engine.Engine { return s.router.Instances() }
func (s *Swarm) ScratchpadAccess() storage.Store                { return s.scratchpad }
func (s *Swarm) ReadTrackerAccess() *readtracker.Tracker         { return s.readTracker }

// MemoryStoreAccess returns the stable persistent store for name, building
// it lazily via memoryStoreForAgent; the second return is false only when
// name is not a declared agent.
func (s *Swarm) MemoryStoreAccess(name agent.Ident) (storage.Store, bool) {
	if _, declared := s.definitions[name]; !declared {
		return nil, false
	}
	return s.memoryStoreForAgent(name), true
}

// Bus exposes the shared event bus so callers can subscribe before calling
// Execute.
func (s *Swarm) Bus() *eventlog.Bus { return s.bus }

// Router exposes the Delegation Router, primarily so package snapshot can
// rebuild delegation instances on restore.
func (s *Swarm) Router() *delegation.Router { return s.router }

// EnsureDelegationInstance returns the live delegation instance named
// "target@delegator", building and registering one if it does not exist yet
// (package snapshot uses this to recreate instances recorded in a Snapshot
// but not yet (re-)triggered by a live Delegate call).
func (s *Swarm) EnsureDelegationInstance(instanceName string) (*engine.Engine, error) {
	if eng, ok := s.router.Instances()[instanceName]; ok {
		return eng, nil
	}
	target, _, ok := delegation.SplitInstanceName(instanceName)
	if !ok {
		return nil, fmt.Errorf("swarm: invalid delegation instance name %q", instanceName)
	}
	eng, err := s.buildEngine(target)
	if err != nil {
		return nil, err
	}
	s.router.SetInstance(instanceName, eng)
	return eng, nil
}

// memoryStoreForAgent returns the stable per-agent persistent store,
// building it once via Options.MemoryStoreFor on first use.
func (s *Swarm) memoryStoreForAgent(name agent.Ident) storage.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.memoryStores[name]; ok {
		return st
	}
	st := s.memoryStoreFor(name)
	s.memoryStores[name] = st
	return st
}

// todoStoreForAgent returns the stable per-agent TodoWrite backing store, so
// a skill reload does not lose the agent's tracked task list.
func (s *Swarm) todoStoreForAgent(name agent.Ident) *tools.TodoStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.todoStores[name]; ok {
		return st
	}
	st := &tools.TodoStore{}
	s.todoStores[name] = st
	return st
}

// creationContextFor builds the tools.CreationContext for name, reusing the
// stable per-agent memory store and todo store across skill reloads. An
// agent with no declared Directory gets ".".
func (s *Swarm) creationContextFor(name agent.Ident) tools.CreationContext {
	def := s.definitions[name]
	dir := def.Directory
	if dir == "" {
		dir = "."
	}
	return tools.CreationContext{
		AgentName:         string(name),
		Directory:         dir,
		ScratchpadStorage: s.scratchpad,
		MemoryStorage:     s.memoryStoreForAgent(name),
		ReadTracker:       s.readTracker,
		TodoStore:         s.todoStoreForAgent(name),
		SkillLoader:       &skillLoader{swarm: s, agentName: name},
	}
}

// buildEngine builds a fresh Agent Engine bound to name's definition: its
// declared tool set (plus synthesized WorkWith<Agent> delegation tools), a
// Context Manager sized to its model's context window, and the swarm's
// shared hooks/bus/delegation router. Used both for the swarm's primary
// agents and as the delegation.EngineFactory for delegation instances, so
// each delegation instance gets an independent Conversation (spec §3).
func (s *Swarm) buildEngine(name agent.Ident) (*engine.Engine, error) {
	def, ok := s.definitions[name]
	if !ok {
		return nil, &swarmerr.AgentNotFoundError{Agent: string(name)}
	}

	creationCtx := s.creationContextFor(name)
	toolset, err := s.buildToolset(def, creationCtx, def.Tools, def.Permissions)
	if err != nil {
		return nil, err
	}

	provider, err := s.providerFor(def.Model)
	if err != nil {
		return nil, &swarmerr.ConfigurationError{Reason: fmt.Sprintf("no provider for model %q", def.Model), Cause: err}
	}

	ctxMgr := contextmgr.NewManager(s.bus, string(name), s.contextLimitFor(def.Model))
	if est, err := contextmgr.NewEstimator(def.Model); err == nil {
		ctxMgr.SetEstimator(est)
	}
	return engine.New(def, provider, toolset, s.router, ctxMgr, s.hooks, s.bus, engine.Options{
		SystemPrompt: def.SystemPrompt,
		MaxTurns:     s.maxTurns,
	}), nil
}

// buildToolset instantiates names, together with every non-removable
// registered tool, from the registry, wraps each with the resolved
// permission policy, and adds one synthesized delegation tool per
// declared delegation target (spec §4.4 "synthesized per agent definition
// at swarm-build time, not registered in the static table").
func (s *Swarm) buildToolset(def *agent.Definition, creationCtx tools.CreationContext, names []string, perms agent.ToolPermissions) (map[string]tools.Tool, error) {
	names = dedupe(append(s.nonRemovableToolNames(), names...))
	if unknown := s.registry.Validate(names); len(unknown) > 0 {
		return nil, &swarmerr.ConfigurationError{Reason: fmt.Sprintf("unknown tools: %v", unknown)}
	}

	out := make(map[string]tools.Tool, len(names)+len(def.DelegationTargets))
	for _, n := range names {
		t, err := s.registry.Create(n, creationCtx)
		if err != nil {
			return nil, err
		}
		policy, err := compilePolicy(perms[n])
		if err != nil {
			return nil, &swarmerr.ConfigurationError{Reason: fmt.Sprintf("tool %q permissions", n), Cause: err}
		}
		out[n] = permissions.Wrap(t, string(def.Name), policy)
	}
	for _, target := range def.DelegationTargets {
		name := delegationToolName(target)
		out[name] = newDelegationTool(target, s.definitions[target])
	}
	return out, nil
}

func compilePolicy(p *agent.Permissions) (*permissions.Policy, error) {
	if p == nil {
		return nil, nil
	}
	return permissions.Compile(p.Allowed, p.Denied)
}

// delegationToolName renders the WorkWith<Agent> convention spec §4.7 step 1
// reverses when routing a call back to a target agent name.
func delegationToolName(target agent.Ident) string {
	r := []rune(string(target))
	if len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
	}
	return "WorkWith" + string(r)
}

const delegationToolSchema = `{"type":"object","properties":{"prompt":{"type":"string"}},"required":["prompt"]}`

// delegationTool is the synthesized, non-removable tool entry the LLM sees
// for one declared delegation target. The engine never calls Execute on it
// directly — it intercepts WorkWith<Agent> calls before consulting the tool
// map (engine.isDelegationCall) and routes them through the Delegation
// Router instead; Execute exists only to satisfy the Tool interface
// defensively.
type delegationTool struct {
	target agent.Ident
	def    *agent.Definition
	schema *jsonschema.Schema
}

func newDelegationTool(target agent.Ident, def *agent.Definition) *delegationTool {
	return &delegationTool{
		target: target,
		def:    def,
		schema: tools.CompileSchema("delegate://"+string(target), delegationToolSchema),
	}
}

func (t *delegationTool) Name() string { return delegationToolName(t.target) }
func (t *delegationTool) Description() string {
	if t.def != nil && t.def.Description != "" {
		return fmt.Sprintf("Delegate a sub-task to agent %q: %s", t.target, t.def.Description)
	}
	return fmt.Sprintf("Delegate a sub-task to agent %q.", t.target)
}
func (t *delegationTool) ParamsSchema() *jsonschema.Schema { return t.schema }
func (t *delegationTool) RawSchema() json.RawMessage       { return json.RawMessage(delegationToolSchema) }
func (t *delegationTool) Removable() bool                  { return false }
func (t *delegationTool) Execute(context.Context, json.RawMessage) (any, error) {
	return nil, fmt.Errorf("delegation tool %q must be routed through the delegation router, not executed directly", t.Name())
}

// skillLoader implements tools.SkillLoader by recomputing an agent's active
// tool set from a skill's declared tools plus every non-removable tool (spec
// §9 Skills).
type skillLoader struct {
	swarm     *Swarm
	agentName agent.Ident
}

// Skill is the memory entry format LoadSkill parses (spec §9's "replacing an
// agent's removable tools" mechanism, whose exact on-disk shape is an Open
// Question the original spec left undefined — DESIGN.md records this
// decision).
type Skill struct {
	Tools       []string              `json:"tools"`
	Permissions agent.ToolPermissions `json:"permissions,omitempty"`
}

func (l *skillLoader) LoadSkill(ctx context.Context, agentName, skillPath string) error {
	s := l.swarm
	eng, ok := s.engineFor(agent.Ident(agentName))
	if !ok {
		return &swarmerr.AgentNotFoundError{Agent: agentName}
	}
	if eng.ActiveSkillPath() == skillPath {
		return nil // already active: spec §9 "a no-op"
	}

	def := s.definitions[agent.Ident(agentName)]
	if def == nil {
		return &swarmerr.AgentNotFoundError{Agent: agentName}
	}

	if skillPath == "" {
		creationCtx := s.creationContextFor(agent.Ident(agentName))
		toolset, err := s.buildToolset(def, creationCtx, def.Tools, def.Permissions)
		if err != nil {
			return err
		}
		eng.Tools = toolset
		eng.SetActiveSkillPath("")
		return nil
	}

	memStore := s.memoryStoreForAgent(agent.Ident(agentName))
	entry, err := memStore.Read(skillPath)
	if err != nil {
		return fmt.Errorf("load skill %q: %w", skillPath, err)
	}
	var skill Skill
	if err := json.Unmarshal(entry.Content, &skill); err != nil {
		return fmt.Errorf("load skill %q: invalid skill document: %w", skillPath, err)
	}

	names := dedupe(append(s.nonRemovableToolNames(), skill.Tools...))
	creationCtx := s.creationContextFor(agent.Ident(agentName))
	toolset, err := s.buildToolset(def, creationCtx, names, skill.Permissions)
	if err != nil {
		return err
	}
	eng.Tools = toolset
	eng.SetActiveSkillPath(skillPath)
	return nil
}

// engineFor looks up the live Engine for name among primary agents and
// delegation instances.
func (s *Swarm) engineFor(name agent.Ident) (*engine.Engine, bool) {
	s.mu.Lock()
	eng, ok := s.primaryAgents[name]
	s.mu.Unlock()
	if ok {
		return eng, true
	}
	for _, eng := range s.router.Instances() {
		if eng.Def.Name == name {
			return eng, true
		}
	}
	return nil, false
}

// nonRemovableToolNames returns every registered tool class name whose
// Removable flag is false — the universal set a skill load can never drop.
func (s *Swarm) nonRemovableToolNames() []string {
	var out []string
	for _, tc := range s.registry.All() {
		if !tc.Removable {
			out = append(out, tc.Name)
		}
	}
	return out
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Result is what Execute returns: the lead agent's final content plus
// swarm-wide aggregate counters (spec §4.9).
type Result struct {
	Content        string
	Success        bool
	Cancelled      bool
	Duration       time.Duration
	Usage          model.TokenUsage
	CostUSD        float64
	LLMRequests    int
	ToolCallsCount int
	AgentsInvolved []string
	Err            error
}

// resultJSON mirrors Result but renders Err as a plain string, since error
// values otherwise marshal as "{}" (cmd/swarmctl's -o json).
type resultJSON struct {
	Content        string           `json:"content"`
	Success        bool             `json:"success"`
	Cancelled      bool             `json:"cancelled"`
	Duration       time.Duration    `json:"duration_ns"`
	Usage          model.TokenUsage `json:"usage"`
	CostUSD        float64          `json:"cost_usd"`
	LLMRequests    int              `json:"llm_requests"`
	ToolCallsCount int              `json:"tool_calls_count"`
	AgentsInvolved []string         `json:"agents_involved"`
	Error          string           `json:"error,omitempty"`
}

// MarshalJSON renders Err as a string so the Result survives JSON round trips
// (cmd/swarmctl's -o json depends on this).
func (r *Result) MarshalJSON() ([]byte, error) {
	aux := resultJSON{
		Content:        r.Content,
		Success:        r.Success,
		Cancelled:      r.Cancelled,
		Duration:       r.Duration,
		Usage:          r.Usage,
		CostUSD:        r.CostUSD,
		LLMRequests:    r.LLMRequests,
		ToolCallsCount: r.ToolCallsCount,
		AgentsInvolved: r.AgentsInvolved,
	}
	if r.Err != nil {
		aux.Error = r.Err.Error()
	}
	return json.Marshal(aux)
}

// Execute routes prompt to the lead agent per spec §4.9: it establishes
// task-local lineage, tees every emitted event to logCallback, runs the lead
// Engine to completion, and aggregates token/cost/call counters across every
// agent and delegation instance involved — read off the event bus rather
// than threaded explicitly, since delegation can nest arbitrarily deep.
func (s *Swarm) Execute(ctx context.Context, prompt string, logCallback func(eventlog.Event)) (*Result, error) {
	executionID := uuid.NewString()
	tc := eventlog.TaskContext{SwarmID: s.swarmID, ParentSwarmID: s.parentSwarmID, ExecutionID: executionID}
	ctx = eventlog.WithTaskContext(ctx, tc)

	acc := &aggregator{agentsInvolved: make(map[string]bool)}
	var totalCost float64
	subID := s.bus.Subscribe(eventlog.Filter{}, func(e eventlog.Event) {
		acc.observe(e)
		if modelID, ok := e.Payload["model"].(string); ok && (e.Type == eventlog.TypeAgentStep || e.Type == eventlog.TypeAgentStop) {
			c, _ := s.priceTable.Cost(modelID, model.TokenUsage{
				InputTokens:         intField(e.Payload, "input_tokens"),
				OutputTokens:        intField(e.Payload, "output_tokens"),
				CachedTokens:        intField(e.Payload, "cached_tokens"),
				CacheCreationTokens: intField(e.Payload, "cache_creation_tokens"),
			})
			acc.mu.Lock()
			totalCost += c
			acc.mu.Unlock()
		}
		if logCallback != nil {
			logCallback(e)
		}
	})
	defer s.bus.Unsubscribe(subID)

	s.emitModelLookupWarnings(ctx)

	start := time.Now()
	lead, ok := s.primaryAgents[s.leadName()]
	if !ok {
		return nil, &swarmerr.AgentNotFoundError{Agent: string(s.leadName())}
	}

	s.mu.Lock()
	s.firstMessageSent = true
	s.mu.Unlock()

	res, err := lead.Run(ctx, prompt)
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() == context.Canceled {
			return &Result{Cancelled: true, Duration: duration, Err: &swarmerr.Cancelled{Reason: "context cancelled"}}, nil
		}
		return &Result{Success: false, Duration: duration, Err: err}, nil
	}

	acc.mu.Lock()
	cost := totalCost
	acc.mu.Unlock()
	return &Result{
		Content:        res.Content,
		Success:        true,
		Duration:       duration,
		Usage:          acc.usage,
		CostUSD:        cost,
		LLMRequests:    acc.llmRequests,
		ToolCallsCount: acc.toolCalls,
		AgentsInvolved: acc.agents(),
	}, nil
}

// leadName returns the agent Build designated to receive the initial prompt.
func (s *Swarm) leadName() agent.Ident {
	return s.lead
}

func (s *Swarm) emitModelLookupWarnings(ctx context.Context) {
	for name, def := range s.definitions {
		if _, found := s.priceTable[def.Model]; !found {
			s.bus.Emit(ctx, eventlog.Event{
				Type:  eventlog.TypeModelLookupWarning,
				Agent: string(name),
				Payload: map[string]any{
					"model":  def.Model,
					"reason": "no price table entry for model",
				},
			})
		}
	}
}

// aggregator accumulates swarm-wide counters from the raw event stream so
// Execute never has to thread state through arbitrarily deep delegation.
type aggregator struct {
	mu             sync.Mutex
	usage          model.TokenUsage
	llmRequests    int
	toolCalls      int
	agentsInvolved map[string]bool
}

func (a *aggregator) observe(e eventlog.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch e.Type {
	case eventlog.TypeAgentStart:
		if e.Agent != "" {
			a.agentsInvolved[e.Agent] = true
		}
	case eventlog.TypeAgentStep, eventlog.TypeAgentStop:
		a.llmRequests++
		a.usage.InputTokens += intField(e.Payload, "input_tokens")
		a.usage.OutputTokens += intField(e.Payload, "output_tokens")
		a.usage.CachedTokens += intField(e.Payload, "cached_tokens")
		a.usage.CacheCreationTokens += intField(e.Payload, "cache_creation_tokens")
	case eventlog.TypeToolCall:
		a.toolCalls++
	}
}

func (a *aggregator) agents() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.agentsInvolved))
	for name := range a.agentsInvolved {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func intField(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}
