package tools

import (
	"context"
	"encoding/json"
)

// RegisterMemoryPlugin installs the memory tool family (MemoryWrite,
// MemoryRead, MemoryDelete, MemoryList) against the agent's persistent
// storage. These are registered by the plugin registry at swarm build time,
// not by RegisterBuiltins, per spec §4.4; all memory tools are non-removable
// (spec §4.4).
func RegisterMemoryPlugin(r *Registry) {
	r.Register(memoryWriteClass)
	r.Register(memoryReadClass)
	r.Register(memoryDeleteClass)
	r.Register(memoryListClass)
}

const memoryWriteSchema = `{"type":"object","properties":{"path":{"type":"string"},
"content":{"type":"string"},"title":{"type":"string"}},"required":["path","content"]}`

var memoryWriteClass = ToolClass{
	Name:                 "MemoryWrite",
	Removable:            false,
	CreationRequirements: []ContextKey{KeyMemoryStorage},
	New: func(cc CreationContext) (Tool, error) {
		return &simpleTool{
			name:        "MemoryWrite",
			description: "Write an entry to persistent memory, keyed by path.",
			schema:      CompileSchema("MemoryWrite", memoryWriteSchema),
			rawSchema:   memoryWriteSchema,
			removable:   false,
			run: func(_ context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Path    string `json:"path"`
					Content string `json:"content"`
					Title   string `json:"title"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				if err := cc.MemoryStorage.Write(in.Path, in.Content, in.Title, nil); err != nil {
					return nil, err
				}
				return "written", nil
			},
		}, nil
	},
}

const memoryPathSchema = `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`

var memoryReadClass = ToolClass{
	Name:                 "MemoryRead",
	Removable:            false,
	CreationRequirements: []ContextKey{KeyMemoryStorage},
	New: func(cc CreationContext) (Tool, error) {
		return &simpleTool{
			name:        "MemoryRead",
			description: "Read an entry from persistent memory.",
			schema:      CompileSchema("MemoryRead", memoryPathSchema),
			rawSchema:   memoryPathSchema,
			removable:   false,
			run: func(_ context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Path string `json:"path"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				e, err := cc.MemoryStorage.Read(in.Path)
				if err != nil {
					return nil, err
				}
				return string(e.Content), nil
			},
		}, nil
	},
}

var memoryDeleteClass = ToolClass{
	Name:                 "MemoryDelete",
	Removable:            false,
	CreationRequirements: []ContextKey{KeyMemoryStorage},
	New: func(cc CreationContext) (Tool, error) {
		return &simpleTool{
			name:        "MemoryDelete",
			description: "Delete an entry from persistent memory.",
			schema:      CompileSchema("MemoryDelete", memoryPathSchema),
			rawSchema:   memoryPathSchema,
			removable:   false,
			run: func(_ context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Path string `json:"path"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				if err := cc.MemoryStorage.Delete(in.Path); err != nil {
					return nil, err
				}
				return "deleted", nil
			},
		}, nil
	},
}

const memoryListSchema = `{"type":"object","properties":{"prefix":{"type":"string"}}}`

var memoryListClass = ToolClass{
	Name:                 "MemoryList",
	Removable:            false,
	CreationRequirements: []ContextKey{KeyMemoryStorage},
	New: func(cc CreationContext) (Tool, error) {
		return &simpleTool{
			name:        "MemoryList",
			description: "List persistent memory entries under an optional path prefix.",
			schema:      CompileSchema("MemoryList", memoryListSchema),
			rawSchema:   memoryListSchema,
			removable:   false,
			run: func(_ context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Prefix string `json:"prefix"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				items, err := cc.MemoryStorage.List(in.Prefix)
				if err != nil {
					return nil, err
				}
				return items, nil
			},
		}, nil
	},
}
