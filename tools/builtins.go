package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/swarmkit/swarmkit/storage"
	"github.com/swarmkit/swarmkit/swarmerr"
)

// RegisterBuiltins installs the standard, non-removable (except where noted)
// tool classes into r. Memory tools are registered separately by the plugin
// registry at swarm build time (spec §4.4), not here.
func RegisterBuiltins(r *Registry) {
	r.Register(thinkClass)
	r.Register(clockClass)
	r.Register(todoWriteClass)
	r.Register(readClass)
	r.Register(writeClass)
	r.Register(editClass)
	r.Register(globClass)
	r.Register(grepClass)
	r.Register(bashClass)
	r.Register(loadSkillClass)
}

const thinkSchema = `{"type":"object","properties":{"thought":{"type":"string"}},"required":["thought"]}`

var thinkClass = ToolClass{
	Name:       "Think",
	Removable:  false,
	New: func(CreationContext) (Tool, error) {
		return &simpleTool{
			name:        "Think",
			description: "Record a private reasoning note; has no side effect beyond the transcript.",
			schema:      CompileSchema("Think", thinkSchema),
			rawSchema:   thinkSchema,
			removable:   false,
			run: func(_ context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Thought string `json:"thought"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				return "noted", nil
			},
		}, nil
	},
}

var clockClass = ToolClass{
	Name:      "Clock",
	Removable: false,
	New: func(CreationContext) (Tool, error) {
		return &simpleTool{
			name:        "Clock",
			description: "Return the current UTC time in RFC3339 format.",
			schema:      CompileSchema("Clock", `{"type":"object","properties":{}}`),
			rawSchema:   `{"type":"object","properties":{}}`,
			removable:   false,
			run: func(context.Context, json.RawMessage) (any, error) {
				return time.Now().UTC().Format(time.RFC3339), nil
			},
		}, nil
	},
}

const todoWriteSchema = `{"type":"object","properties":{"items":{"type":"array","items":{"type":"object",
"properties":{"content":{"type":"string"},"status":{"type":"string","enum":["pending","in_progress","completed"]}},
"required":["content","status"]}}},"required":["items"]}`

var todoWriteClass = ToolClass{
	Name:                 "TodoWrite",
	Removable:            false,
	CreationRequirements: []ContextKey{KeyTodoStore},
	New: func(cc CreationContext) (Tool, error) {
		store := cc.TodoStore
		return &simpleTool{
			name:        "TodoWrite",
			description: "Replace the agent's tracked task list.",
			schema:      CompileSchema("TodoWrite", todoWriteSchema),
			rawSchema:   todoWriteSchema,
			removable:   false,
			run: func(_ context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Items []TodoItem `json:"items"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				store.Set(in.Items)
				return fmt.Sprintf("recorded %d items", len(in.Items)), nil
			},
		}, nil
	},
}

const readSchema = `{"type":"object","properties":{"file_path":{"type":"string"},
"offset":{"type":"integer"},"limit":{"type":"integer"}},"required":["file_path"]}`

// maxInlineReadBytes bounds a single Read result so it cannot alone exceed a
// model's context window (spec §7 ContextOverflow).
const maxInlineReadBytes = 200_000

var readClass = ToolClass{
	Name:                 "Read",
	Removable:            true,
	CreationRequirements: []ContextKey{KeyDirectory, KeyAgentName, KeyReadTracker},
	New: func(cc CreationContext) (Tool, error) {
		return &readTool{dir: cc.Directory, agent: cc.AgentName, tracker: cc.ReadTracker}, nil
	},
}

type readTool struct {
	dir     string
	agent   string
	tracker interface {
		Register(agent, path string, content []byte)
	}
}

func (t *readTool) Name() string        { return "Read" }
func (t *readTool) Description() string { return "Read a file's contents, optionally windowed by offset/limit lines." }
func (t *readTool) Removable() bool     { return true }
func (t *readTool) ParamsSchema() *jsonschema.Schema {
	return CompileSchema("Read", readSchema)
}
func (t *readTool) RawSchema() json.RawMessage { return json.RawMessage(readSchema) }

func (t *readTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	path := resolvePath(t.dir, in.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(content) > maxInlineReadBytes && in.Limit == 0 {
		return nil, &swarmerr.ContextOverflow{
			Tool: "Read",
			Hint: fmt.Sprintf("file is %d bytes; retry with offset and limit to read a window", len(content)),
		}
	}
	lines := strings.Split(string(content), "\n")
	if in.Offset > 0 || in.Limit > 0 {
		start := in.Offset
		if start > len(lines) {
			start = len(lines)
		}
		end := len(lines)
		if in.Limit > 0 && start+in.Limit < end {
			end = start + in.Limit
		}
		lines = lines[start:end]
	}
	t.tracker.Register(t.agent, path, content)
	return strings.Join(lines, "\n"), nil
}

const writeSchema = `{"type":"object","properties":{"file_path":{"type":"string"},
"content":{"type":"string"}},"required":["file_path","content"]}`

var writeClass = ToolClass{
	Name:                 "Write",
	Removable:            true,
	CreationRequirements: []ContextKey{KeyDirectory, KeyAgentName, KeyReadTracker},
	New: func(cc CreationContext) (Tool, error) {
		return &writeTool{dir: cc.Directory, agent: cc.AgentName, tracker: cc.ReadTracker}, nil
	},
}

type writeTool struct {
	dir     string
	agent   string
	tracker interface {
		Check(agent, path string) (bool, error)
		Register(agent, path string, content []byte)
	}
}

func (t *writeTool) Name() string        { return "Write" }
func (t *writeTool) Description() string { return "Overwrite a file with new content." }
func (t *writeTool) Removable() bool     { return true }
func (t *writeTool) ParamsSchema() *jsonschema.Schema {
	return CompileSchema("Write", writeSchema)
}
func (t *writeTool) RawSchema() json.RawMessage { return json.RawMessage(writeSchema) }

func (t *writeTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	path := resolvePath(t.dir, in.FilePath)
	if _, err := os.Stat(path); err == nil {
		ok, err := t.tracker.Check(t.agent, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &swarmerr.ReadBeforeWriteViolation{Path: path}
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
		return nil, err
	}
	t.tracker.Register(t.agent, path, []byte(in.Content))
	return fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.FilePath), nil
}

const editSchema = `{"type":"object","properties":{"file_path":{"type":"string"},
"old_text":{"type":"string"},"new_text":{"type":"string"}},"required":["file_path","old_text","new_text"]}`

var editClass = ToolClass{
	Name:                 "Edit",
	Removable:            true,
	CreationRequirements: []ContextKey{KeyDirectory, KeyAgentName, KeyReadTracker},
	New: func(cc CreationContext) (Tool, error) {
		return &editTool{dir: cc.Directory, agent: cc.AgentName, tracker: cc.ReadTracker}, nil
	},
}

type editTool struct {
	dir     string
	agent   string
	tracker interface {
		Check(agent, path string) (bool, error)
		Register(agent, path string, content []byte)
	}
}

func (t *editTool) Name() string        { return "Edit" }
func (t *editTool) Description() string { return "Replace one occurrence of old_text with new_text in a file." }
func (t *editTool) Removable() bool     { return true }
func (t *editTool) ParamsSchema() *jsonschema.Schema {
	return CompileSchema("Edit", editSchema)
}
func (t *editTool) RawSchema() json.RawMessage { return json.RawMessage(editSchema) }

func (t *editTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		FilePath string `json:"file_path"`
		OldText  string `json:"old_text"`
		NewText  string `json:"new_text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	path := resolvePath(t.dir, in.FilePath)
	ok, err := t.tracker.Check(t.agent, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &swarmerr.ReadBeforeWriteViolation{Path: path}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(string(content), in.OldText) {
		return nil, fmt.Errorf("old_text not found in %s", in.FilePath)
	}
	updated := strings.Replace(string(content), in.OldText, in.NewText, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return nil, err
	}
	t.tracker.Register(t.agent, path, []byte(updated))
	return "edit applied", nil
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

const globSchema = `{"type":"object","properties":{"pattern":{"type":"string"}},"required":["pattern"]}`

var globClass = ToolClass{
	Name:                 "Glob",
	Removable:            true,
	CreationRequirements: []ContextKey{KeyScratchpadStorage},
	New: func(cc CreationContext) (Tool, error) {
		return &simpleTool{
			name:        "Glob",
			description: "Glob storage paths matching a pattern, most recently updated first.",
			schema:      CompileSchema("Glob", globSchema),
			rawSchema:   globSchema,
			removable:   true,
			run: func(_ context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Pattern string `json:"pattern"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				return cc.ScratchpadStorage.Glob(in.Pattern)
			},
		}, nil
	},
}

const grepSchema = `{"type":"object","properties":{"pattern":{"type":"string"},
"case_insensitive":{"type":"boolean"},"mode":{"type":"string","enum":["files_with_matches","content","count"]}},
"required":["pattern"]}`

var grepClass = ToolClass{
	Name:                 "Grep",
	Removable:            true,
	CreationRequirements: []ContextKey{KeyScratchpadStorage},
	New: func(cc CreationContext) (Tool, error) {
		return &simpleTool{
			name:        "Grep",
			description: "Regex search storage entry contents.",
			schema:      CompileSchema("Grep", grepSchema),
			rawSchema:   grepSchema,
			removable:   true,
			run: func(_ context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Pattern         string `json:"pattern"`
					CaseInsensitive bool   `json:"case_insensitive"`
					Mode            string `json:"mode"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				mode := in.Mode
				if mode == "" {
					mode = "files_with_matches"
				}
				return cc.ScratchpadStorage.Grep(in.Pattern, in.CaseInsensitive, storage.GrepMode(mode))
			},
		}, nil
	},
}

const bashSchema = `{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`

var bashClass = ToolClass{
	Name:                 "Bash",
	Removable:            true,
	CreationRequirements: []ContextKey{KeyDirectory},
	New: func(cc CreationContext) (Tool, error) {
		return &simpleTool{
			name:        "Bash",
			description: "Execute a shell command in the agent's directory.",
			schema:      CompileSchema("Bash", bashSchema),
			rawSchema:   bashSchema,
			removable:   true,
			run: func(ctx context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Command string `json:"command"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				cmd := exec.CommandContext(ctx, "/bin/sh", "-c", in.Command)
				cmd.Dir = cc.Directory
				out, err := cmd.CombinedOutput()
				if err != nil {
					return nil, fmt.Errorf("%w: %s", err, string(out))
				}
				return string(out), nil
			},
		}, nil
	},
}

const loadSkillSchema = `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`

var loadSkillClass = ToolClass{
	Name:                 "LoadSkill",
	Removable:            false,
	CreationRequirements: []ContextKey{KeyAgentName, KeySkillLoader},
	New: func(cc CreationContext) (Tool, error) {
		return &simpleTool{
			name:        "LoadSkill",
			description: "Load a memory-stored skill, replacing the agent's removable tool set.",
			schema:      CompileSchema("LoadSkill", loadSkillSchema),
			rawSchema:   loadSkillSchema,
			removable:   false,
			run: func(ctx context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Path string `json:"path"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				if err := cc.SkillLoader.LoadSkill(ctx, cc.AgentName, in.Path); err != nil {
					return nil, err
				}
				return fmt.Sprintf("loaded skill %s", in.Path), nil
			},
		}, nil
	},
}

// simpleTool adapts a closure-based implementation to the Tool interface for
// built-ins with no internal state beyond their bound CreationContext.
type simpleTool struct {
	name        string
	description string
	schema      *jsonschema.Schema
	rawSchema   string
	removable   bool
	run         func(context.Context, json.RawMessage) (any, error)
}

func (t *simpleTool) Name() string                   { return t.name }
func (t *simpleTool) Description() string            { return t.description }
func (t *simpleTool) Removable() bool                { return t.removable }
func (t *simpleTool) ParamsSchema() *jsonschema.Schema { return t.schema }
func (t *simpleTool) RawSchema() json.RawMessage     { return json.RawMessage(t.rawSchema) }
func (t *simpleTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	return t.run(ctx, args)
}
