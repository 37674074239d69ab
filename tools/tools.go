// Package tools implements the Tool Registry & Factory (C4) and the Tool ABI
// (spec §6): every tool exposes a name, description, JSON-schema params, and
// an Execute call returning either text, structured content, or a
// domain-typed error.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/swarmkit/swarmkit/readtracker"
	"github.com/swarmkit/swarmkit/storage"
	"github.com/swarmkit/swarmkit/swarmerr"
)

// ContextKey names a piece of context a tool needs at construction time
// (spec §4.4 "creation_requirements").
type ContextKey string

const (
	KeyAgentName          ContextKey = "agent_name"
	KeyDirectory          ContextKey = "directory"
	KeyScratchpadStorage  ContextKey = "scratchpad_storage"
	KeyMemoryStorage      ContextKey = "memory_storage"
	KeyReadTracker        ContextKey = "read_tracker"
	KeyTodoStore          ContextKey = "todo_store"
	KeySkillLoader        ContextKey = "skill_loader"
)

// Image is an image attachment inside a structured tool Content result.
type Image struct {
	Format string
	Bytes  []byte
}

// Content is the structured shape a tool Execute call may return instead of
// a plain string (spec §4.2 SUPPLEMENTED FEATURES: text + image attachments).
type Content struct {
	Text   string  `json:"text"`
	Images []Image `json:"images,omitempty"`
}

// Tool is the ABI every built-in, MCP, and delegation tool implements.
type Tool interface {
	Name() string
	Description() string
	ParamsSchema() *jsonschema.Schema
	// Execute runs the tool. Returning an error is distinct from returning a
	// result whose content happens to describe failure: engine.go encodes
	// errors as {"error": "<message>"} per spec §4.6.
	Execute(ctx context.Context, args json.RawMessage) (any, error)
	// Removable reports whether this tool is dropped when a skill replaces
	// the agent's removable tool set (spec §4.4, §9).
	Removable() bool
}

// CreationContext carries the construction-time values a Factory may draw
// from when building a tool instance for one agent.
type CreationContext struct {
	AgentName         string
	Directory         string
	ScratchpadStorage storage.Store
	MemoryStorage     storage.Store
	ReadTracker       *readtracker.Tracker
	TodoStore         *TodoStore
	SkillLoader       SkillLoader
}

func (c CreationContext) get(key ContextKey) (any, bool) {
	switch key {
	case KeyAgentName:
		return c.AgentName, c.AgentName != ""
	case KeyDirectory:
		return c.Directory, c.Directory != ""
	case KeyScratchpadStorage:
		return c.ScratchpadStorage, c.ScratchpadStorage != nil
	case KeyMemoryStorage:
		return c.MemoryStorage, c.MemoryStorage != nil
	case KeyReadTracker:
		return c.ReadTracker, c.ReadTracker != nil
	case KeyTodoStore:
		return c.TodoStore, c.TodoStore != nil
	case KeySkillLoader:
		return c.SkillLoader, c.SkillLoader != nil
	}
	return nil, false
}

// TodoStore backs the TodoWrite tool: a simple per-agent ordered task list.
type TodoStore struct {
	mu    sync.Mutex
	Items []TodoItem
}

// TodoItem is one entry in a TodoWrite list.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"` // pending, in_progress, completed
}

// Set replaces the stored items atomically.
func (t *TodoStore) Set(items []TodoItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Items = items
}

// Snapshot returns a copy of the current items.
func (t *TodoStore) Snapshot() []TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TodoItem(nil), t.Items...)
}

// SkillLoader is implemented by the component (package swarm) that
// recomputes an agent's active tool set when LoadSkill is invoked (spec §9).
type SkillLoader interface {
	LoadSkill(ctx context.Context, agentName, skillPath string) error
}

// RawSchemaProvider is implemented by tools that can report their params
// schema as the original JSON Schema document rather than only the compiled
// validator — the shape a model Provider needs for its function-calling
// payload. Not every Tool implements it (an MCP stub whose schema failed to
// load has none yet).
type RawSchemaProvider interface {
	RawSchema() json.RawMessage
}

// Factory builds one tool instance given a CreationContext.
type Factory func(ctx CreationContext) (Tool, error)

// ToolClass pairs a Factory with its declared creation requirements and
// removability, the registry's unit of registration.
type ToolClass struct {
	Name                 string
	CreationRequirements []ContextKey
	Removable            bool
	New                  Factory
}

// Registry is the immutable-after-construction lookup surface shared by
// built-in and plugin-provided tool classes (spec §4.4, §9 "Dynamic dispatch
// over tool names").
type Registry struct {
	mu      sync.RWMutex
	classes map[string]ToolClass
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]ToolClass)}
}

// Register adds a tool class. It is intended to be called during swarm
// construction, before any Create call; the registry is treated as immutable
// thereafter (spec §5).
func (r *Registry) Register(tc ToolClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[tc.Name] = tc
}

// Get returns the tool class registered under name.
func (r *Registry) Get(name string) (ToolClass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tc, ok := r.classes[name]
	return tc, ok
}

// Validate returns the subset of names that are not registered.
func (r *Registry) Validate(names []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var unknown []string
	for _, n := range names {
		if _, ok := r.classes[n]; !ok {
			unknown = append(unknown, n)
		}
	}
	return unknown
}

// All returns every registered tool class, sorted by name. Used by the
// swarm builder to compute the universal non-removable tool set (spec §4.4,
// §9 Skills).
func (r *Registry) All() []ToolClass {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolClass, 0, len(r.classes))
	for _, tc := range r.classes {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Create builds a tool instance bound to creationCtx, validating that every
// declared creation requirement is present. The caller (the swarm builder's
// buildToolset in package swarm) is responsible for wrapping the returned Tool with the
// agent's permission policy; Create itself never applies permissions.
func (r *Registry) Create(name string, creationCtx CreationContext) (Tool, error) {
	tc, ok := r.Get(name)
	if !ok {
		return nil, &swarmerr.ConfigurationError{Reason: fmt.Sprintf("unknown tool %q", name)}
	}
	for _, req := range tc.CreationRequirements {
		if _, present := creationCtx.get(req); !present {
			return nil, &swarmerr.ConfigurationError{Reason: fmt.Sprintf("tool %q missing required context key %q", name, req)}
		}
	}
	return tc.New(creationCtx)
}

// CompileSchema compiles a JSON Schema document string into a *jsonschema.Schema,
// panicking on malformed built-in schemas (a programmer error, not a runtime
// one) so tool registration fails loudly at process start rather than at
// first invocation.
func CompileSchema(name, schemaJSON string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, mustUnmarshal(schemaJSON)); err != nil {
		panic(fmt.Sprintf("tools: invalid schema for %s: %v", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("tools: compile schema for %s: %v", name, err))
	}
	return sch
}

func mustUnmarshal(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(fmt.Sprintf("tools: invalid schema JSON: %v", err))
	}
	return v
}
