// Package snapshot implements the Snapshot Engine (C10): it captures a
// running swarm.Accessor into a versioned, portable JSON record and restores
// one back into a freshly built swarm, reconstituting conversations, context
// state, storage entries, the read-tracker, and plugin state verbatim.
package snapshot

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/swarmkit/swarmkit/agent"
	"github.com/swarmkit/swarmkit/contextmgr"
	"github.com/swarmkit/swarmkit/engine"
	"github.com/swarmkit/swarmkit/model"
	"github.com/swarmkit/swarmkit/storage"
	"github.com/swarmkit/swarmkit/swarm"
)

// memoryPluginName keys the memory store's entries under plugin_states, the
// one "plugin" this module ships (spec §4.10's plugin_states is otherwise a
// forward-looking extension point for third-party plugin state).
const memoryPluginName = "memory"

// Version is the current snapshot record format (spec §4.10, §6).
const Version = "2.1.0"

// Type distinguishes a flat swarm record from a future workflow-DAG one; both
// share this record shape since swarm.Accessor is variant-free (spec §9).
type Type string

const (
	TypeSwarm    Type = "swarm"
	TypeWorkflow Type = "workflow"
)

// Snapshot is the versioned, portable record spec §4.10 defines.
type Snapshot struct {
	Version    string   `json:"version"`
	Type       Type     `json:"type"`
	SnapshotAt string   `json:"snapshot_at"` // RFC3339; caller supplies the clock (package never calls time.Now itself, see Capture)
	SDKVersion string   `json:"sdk_version"`
	Metadata   Metadata `json:"metadata"`

	Agents              map[string]AgentRecord `json:"agents"`
	DelegationInstances map[string]AgentRecord `json:"delegation_instances"`
	Scratchpad          ScratchpadRecord       `json:"scratchpad"`
	ReadTracking        map[string]map[string]string `json:"read_tracking"`
	// PluginStates maps plugin name -> agent name -> an opaque JSON blob
	// (spec §4.10). This module populates one entry, "memory", with each
	// agent's persistent Scoped Storage Substrate contents.
	PluginStates map[string]map[string]json.RawMessage `json:"plugin_states"`
}

// Metadata mirrors spec §4.10 "metadata: {id, parent_id, name, first_message_sent}".
type Metadata struct {
	ID               string `json:"id"`
	ParentID         string `json:"parent_id,omitempty"`
	Name             string `json:"name"`
	FirstMessageSent bool   `json:"first_message_sent"`
}

// AgentRecord is the per-agent/per-delegation-instance shape: a conversation,
// its context_state, and the system prompt injected on first turn.
type AgentRecord struct {
	Conversation []MessageRecord    `json:"conversation"`
	ContextState ContextStateRecord `json:"context_state"`
	SystemPrompt string             `json:"system_prompt"`
}

// ContextStateRecord is spec §4.10's four-field context_state: "
// warning_thresholds_hit (as a list), compression_applied,
// last_todowrite_message_index, active_skill_path".
type ContextStateRecord struct {
	WarningThresholdsHit      []int  `json:"warning_thresholds_hit"`
	CompressionApplied        bool   `json:"compression_applied"`
	LastTodoWriteMessageIndex int    `json:"last_todowrite_message_index"`
	ActiveSkillPath           string `json:"active_skill_path"`

	// tokensUsed and delegationCallTargets round-trip contextmgr/engine state
	// that spec §4.10 does not name explicitly but that restoration requires
	// to reconstitute "all four" fields faithfully plus resume threshold
	// accounting; carried as an extension of the documented shape.
	TokensUsed            int               `json:"tokens_used"`
	DelegationCallTargets map[string]string `json:"delegation_call_targets,omitempty"`
}

// ScratchpadRecord is spec §4.10's "scratchpad: {shared: bool, data:
// entries_or_per_node}". Every swarm in this implementation shares one
// scratchpad instance, so Shared is always true; Data holds its entries.
type ScratchpadRecord struct {
	Shared bool            `json:"shared"`
	Data   []EntryRecord   `json:"data"`
}

// EntryRecord is the serializable form of storage.Entry.
type EntryRecord struct {
	Path      string            `json:"path"`
	Content   string            `json:"content"` // base64
	Title     string            `json:"title,omitempty"`
	UpdatedAt string            `json:"updated_at"` // RFC3339
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MessageRecord is the serializable form of *model.Message. model.Part is an
// interface, so Parts are flattened into a tagged union rather than
// marshaled directly (encoding/json cannot unmarshal into an interface).
type MessageRecord struct {
	Role       string       `json:"role"`
	Text       string       `json:"text,omitempty"`
	Parts      []PartRecord `json:"parts,omitempty"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Usage      UsageRecord  `json:"usage"`
	Model      string       `json:"model,omitempty"`
}

// PartRecord tags a model.Part by kind: "text" or "image".
type PartRecord struct {
	Kind   string `json:"kind"`
	Text   string `json:"text,omitempty"`
	Format string `json:"format,omitempty"`
	Bytes  string `json:"bytes,omitempty"` // base64, image parts only
}

// ToolCallRecord is the serializable form of model.ToolCall.
type ToolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // raw JSON text
}

// UsageRecord is the serializable form of model.TokenUsage.
type UsageRecord struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CachedTokens        int `json:"cached_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
}

// Clock supplies the snapshot_at timestamp. Capture never calls time.Now
// itself so callers control the clock (and so tests are deterministic);
// pass time.Now().UTC().Format(time.RFC3339) in production code.
type Clock func() string

// SDKVersion is stamped into every captured Snapshot. Overridable by callers
// embedding this module as a library under a different release train.
var SDKVersion = "swarmkit-0.1.0"

// Capture walks acc and produces a Snapshot per spec §4.10. now supplies the
// snapshot_at timestamp (see Clock).
func Capture(acc swarm.Accessor, snapshotType Type, now Clock) (*Snapshot, error) {
	snap := &Snapshot{
		Version:    Version,
		Type:       snapshotType,
		SnapshotAt: now(),
		SDKVersion: SDKVersion,
		Metadata: Metadata{
			ID:               acc.SwarmID(),
			ParentID:         acc.ParentSwarmID(),
			Name:             acc.Name(),
			FirstMessageSent: acc.FirstMessageSent(),
		},
		Agents:              make(map[string]AgentRecord),
		DelegationInstances: make(map[string]AgentRecord),
		ReadTracking:        acc.ReadTrackerAccess().Export(),
		PluginStates:        map[string]map[string]json.RawMessage{memoryPluginName: {}},
	}

	for name, eng := range acc.PrimaryAgents() {
		snap.Agents[string(name)] = captureAgent(eng)
		if err := captureMemory(acc, name, snap); err != nil {
			return nil, err
		}
	}
	for instanceName, eng := range acc.DelegationInstances() {
		snap.DelegationInstances[instanceName] = captureAgent(eng)
	}

	entries := acc.ScratchpadAccess().Snapshot()
	data := make([]EntryRecord, len(entries))
	for i, e := range entries {
		data[i] = EntryRecord{
			Path:      e.Path,
			Content:   base64.StdEncoding.EncodeToString(e.Content),
			Title:     e.Title,
			UpdatedAt: e.UpdatedAt.Format(timeFormat),
			Metadata:  e.Metadata,
		}
	}
	snap.Scratchpad = ScratchpadRecord{Shared: true, Data: data}

	return snap, nil
}

// captureAgent builds one AgentRecord from a live Engine: its Conversation,
// merged context_state (engine.ContextState + contextmgr.State), and
// system prompt.
func captureAgent(eng *engine.Engine) AgentRecord {
	es := eng.ExportContextState()
	var cs contextmgr.State
	if eng.CtxMgr != nil {
		cs = eng.CtxMgr.Export()
	}

	fired := make([]int, 0, len(cs.Fired))
	for th, hit := range cs.Fired {
		if hit {
			fired = append(fired, th)
		}
	}
	sort.Ints(fired)

	return AgentRecord{
		Conversation: marshalConversation(eng.Conversation),
		ContextState: ContextStateRecord{
			WarningThresholdsHit:      fired,
			CompressionApplied:        cs.CompressionApplied,
			LastTodoWriteMessageIndex: es.LastTodoWriteMessageIndex,
			ActiveSkillPath:           es.ActiveSkillPath,
			TokensUsed:                cs.TokensUsed,
			DelegationCallTargets:     es.DelegationCallTargets,
		},
		SystemPrompt: eng.SystemPrompt(),
	}
}

const timeFormat = "2006-01-02T15:04:05.999999999Z07:00"

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeFormat, s)
}

// captureMemory serializes name's persistent memory store entries into
// snap.PluginStates["memory"][name], skipping names for which the accessor
// reports no memory store (MemoryStoreAccess's second return is false).
func captureMemory(acc swarm.Accessor, name agent.Ident, snap *Snapshot) error {
	store, ok := acc.MemoryStoreAccess(name)
	if !ok {
		return nil
	}
	entries := store.Snapshot()
	recs := make([]EntryRecord, len(entries))
	for i, e := range entries {
		recs[i] = EntryRecord{
			Path:      e.Path,
			Content:   base64.StdEncoding.EncodeToString(e.Content),
			Title:     e.Title,
			UpdatedAt: e.UpdatedAt.Format(timeFormat),
			Metadata:  e.Metadata,
		}
	}
	raw, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("snapshot: marshaling memory state for %q: %w", name, err)
	}
	snap.PluginStates[memoryPluginName][string(name)] = raw
	return nil
}

// restoreMemory reverses captureMemory for one agent, a no-op if no memory
// plugin state was recorded for it.
func restoreMemory(acc swarm.Accessor, name agent.Ident, snap *Snapshot) error {
	byAgent, ok := snap.PluginStates[memoryPluginName]
	if !ok {
		return nil
	}
	raw, ok := byAgent[string(name)]
	if !ok {
		return nil
	}
	var recs []EntryRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return fmt.Errorf("snapshot: invalid memory state for %q: %w", name, err)
	}
	store, ok := acc.MemoryStoreAccess(name)
	if !ok {
		return fmt.Errorf("snapshot: agent %q has no memory store to restore into", name)
	}
	return restoreScratchpad(store, ScratchpadRecord{Data: recs})
}

func marshalConversation(conv *model.Conversation) []MessageRecord {
	out := make([]MessageRecord, len(conv.Messages))
	for i, m := range conv.Messages {
		rec := MessageRecord{
			Role:       string(m.Role),
			Text:       m.Text,
			ToolCallID: m.ToolCallID,
			Model:      m.Model,
			Usage: UsageRecord{
				InputTokens:         m.Usage.InputTokens,
				OutputTokens:        m.Usage.OutputTokens,
				CachedTokens:        m.Usage.CachedTokens,
				CacheCreationTokens: m.Usage.CacheCreationTokens,
			},
		}
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				rec.Parts = append(rec.Parts, PartRecord{Kind: "text", Text: v.Text})
			case model.ImagePart:
				rec.Parts = append(rec.Parts, PartRecord{
					Kind:   "image",
					Format: v.Format,
					Bytes:  base64.StdEncoding.EncodeToString(v.Bytes),
				})
			}
		}
		for _, tc := range m.ToolCalls {
			rec.ToolCalls = append(rec.ToolCalls, ToolCallRecord{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			})
		}
		out[i] = rec
	}
	return out
}

func unmarshalConversation(recs []MessageRecord) *model.Conversation {
	conv := &model.Conversation{Messages: make([]*model.Message, len(recs))}
	for i, rec := range recs {
		msg := &model.Message{
			Role:       model.Role(rec.Role),
			Text:       rec.Text,
			ToolCallID: rec.ToolCallID,
			Model:      rec.Model,
			Usage: model.TokenUsage{
				InputTokens:         rec.Usage.InputTokens,
				OutputTokens:        rec.Usage.OutputTokens,
				CachedTokens:        rec.Usage.CachedTokens,
				CacheCreationTokens: rec.Usage.CacheCreationTokens,
			},
		}
		for _, p := range rec.Parts {
			switch p.Kind {
			case "text":
				msg.Parts = append(msg.Parts, model.TextPart{Text: p.Text})
			case "image":
				raw, _ := base64.StdEncoding.DecodeString(p.Bytes)
				msg.Parts = append(msg.Parts, model.ImagePart{Format: p.Format, Bytes: raw})
			}
		}
		for _, tc := range rec.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: []byte(tc.Arguments),
			})
		}
		conv.Messages[i] = msg
	}
	return conv
}

// Restore reconstitutes a previously Captured Snapshot into acc: it replaces
// every primary agent's conversation and context state, rebuilds (or
// reuses) each delegation instance named in delegation_instances, restores
// the shared scratchpad and the read-tracker, per spec §4.10 "Restoration is
// symmetric and must reconstitute all four [context_state fields]."
func Restore(snap *Snapshot, acc swarm.Accessor) error {
	if snap.Version != Version {
		return fmt.Errorf("snapshot: unsupported version %q (want %q)", snap.Version, Version)
	}

	restorer, ok := acc.(interface {
		EnsureDelegationInstance(instanceName string) (*engine.Engine, error)
	})
	if !ok {
		return fmt.Errorf("snapshot: %T cannot rebuild delegation instances", acc)
	}

	primary := acc.PrimaryAgents()
	for name, rec := range snap.Agents {
		eng, ok := primary[agent.Ident(name)]
		if !ok {
			return fmt.Errorf("snapshot: agent %q not present in target swarm", name)
		}
		restoreAgent(eng, rec)
		if err := restoreMemory(acc, agent.Ident(name), snap); err != nil {
			return err
		}
	}

	for instanceName, rec := range snap.DelegationInstances {
		eng, err := restorer.EnsureDelegationInstance(instanceName)
		if err != nil {
			return fmt.Errorf("snapshot: restoring delegation instance %q: %w", instanceName, err)
		}
		restoreAgent(eng, rec)
	}

	if err := restoreScratchpad(acc.ScratchpadAccess(), snap.Scratchpad); err != nil {
		return fmt.Errorf("snapshot: restoring scratchpad: %w", err)
	}

	acc.ReadTrackerAccess().Restore(snap.ReadTracking)
	return nil
}

func restoreAgent(eng *engine.Engine, rec AgentRecord) {
	eng.Conversation = unmarshalConversation(rec.Conversation)

	fired := make(map[int]bool, len(rec.ContextState.WarningThresholdsHit))
	for _, th := range rec.ContextState.WarningThresholdsHit {
		fired[th] = true
	}
	if eng.CtxMgr != nil {
		eng.CtxMgr.Restore(contextmgr.State{
			TokensUsed:         rec.ContextState.TokensUsed,
			Fired:              fired,
			CompressionApplied: rec.ContextState.CompressionApplied,
		})
	}

	eng.RestoreContextState(engine.ContextState{
		AgentName:                 string(eng.Def.Name),
		DelegationCallTargets:     rec.ContextState.DelegationCallTargets,
		ActiveSkillPath:           rec.ContextState.ActiveSkillPath,
		LastTodoWriteMessageIndex: rec.ContextState.LastTodoWriteMessageIndex,
	})
}

func restoreScratchpad(store storage.Store, rec ScratchpadRecord) error {
	entries := make([]storage.Entry, len(rec.Data))
	for i, d := range rec.Data {
		content, err := base64.StdEncoding.DecodeString(d.Content)
		if err != nil {
			return fmt.Errorf("entry %q: invalid content encoding: %w", d.Path, err)
		}
		updatedAt, err := parseTime(d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("entry %q: invalid updated_at: %w", d.Path, err)
		}
		entries[i] = storage.Entry{
			Path:      d.Path,
			Content:   content,
			Title:     d.Title,
			UpdatedAt: updatedAt,
			Metadata:  d.Metadata,
		}
	}
	return store.Restore(entries)
}
