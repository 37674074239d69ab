// Package model defines the provider-agnostic conversation types shared by
// the engine, context manager, and llm adapters. Messages carry typed parts
// so multi-modal content (text, images) round-trips without lossy string
// concatenation.
package model

import "encoding/json"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type (
	// Part is implemented by every message content block.
	Part interface{ isPart() }

	// TextPart is plain text content.
	TextPart struct{ Text string }

	// ImagePart carries image bytes attached to a message.
	ImagePart struct {
		Format string // e.g. "png", "jpeg"
		Bytes  []byte
	}
)

func (TextPart) isPart()  {}
func (ImagePart) isPart() {}

// ToolCall is a structured tool invocation requested by the model inside an
// assistant message.
type ToolCall struct {
	// ID is an opaque string the model assigns; it must be non-empty (spec
	// §4.6 "Missing call_id on a function call is a hard error").
	ID string
	// Name is the tool name as declared to the model (may be a
	// WorkWith<Agent> delegation name).
	Name string
	// Arguments is the raw JSON object the model produced for this call.
	Arguments json.RawMessage
}

// TokenUsage reports per-message or per-run token accounting.
type TokenUsage struct {
	InputTokens         int
	OutputTokens        int
	CachedTokens        int
	CacheCreationTokens int
}

// Add accumulates u into a running total and returns the receiver.
func (u *TokenUsage) Add(o TokenUsage) *TokenUsage {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CachedTokens += o.CachedTokens
	u.CacheCreationTokens += o.CacheCreationTokens
	return u
}

// Total returns input+output tokens, the figure threshold checks compare
// against the model's context limit.
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// Message is one turn of a Conversation. Content is either a plain string
// (Text) or structured Parts; exactly one of the two is populated.
type Message struct {
	Role Role
	// Text is the flattened content for simple text-only messages. Set when
	// Parts is empty.
	Text string
	// Parts carries structured multi-part content (text mixed with images).
	// When non-empty, the anthropic encoder sends Parts instead of Text; the
	// openai and bedrock encoders send Text only.
	Parts []Part
	// ToolCalls is populated on assistant messages that request tool
	// invocations; empty means the turn ended normally (spec §4.6).
	ToolCalls []ToolCall
	// ToolCallID links a tool-role message back to the assistant ToolCall
	// that produced it. Invariant (spec §3): must match a prior assistant
	// ToolCall.ID in the same conversation.
	ToolCallID string
	// Usage reports token counts for this message when available (assistant
	// messages after a model response).
	Usage TokenUsage
	// Model is the model identifier that produced this message, empty for
	// user/system/tool messages.
	Model string
}

// Conversation is the ordered, append-only (within a turn) message list for
// one agent. Compression and pruning run between turns via contextmgr.
type Conversation struct {
	Messages []*Message
}

// Append adds msgs to the end of the conversation in order.
func (c *Conversation) Append(msgs ...*Message) {
	c.Messages = append(c.Messages, msgs...)
}

// Clone returns a deep-enough copy suitable for snapshotting: the message
// slice and each *Message are copied; Parts/ToolCalls slices are copied by
// value reference since Part implementations are immutable value types.
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{Messages: make([]*Message, len(c.Messages))}
	for i, m := range c.Messages {
		cp := *m
		cp.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		cp.Parts = append([]Part(nil), m.Parts...)
		out.Messages[i] = &cp
	}
	return out
}

// ValidateToolDAG checks the invariant that every tool-role message has a
// preceding assistant message with a matching tool call id, and that no
// tool call id is orphaned (spec §3, §8 property 1).
func (c *Conversation) ValidateToolDAG() error {
	seen := make(map[string]bool)
	for _, m := range c.Messages {
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				seen[tc.ID] = true
			}
		case RoleTool:
			if !seen[m.ToolCallID] {
				return &ToolDAGError{ToolCallID: m.ToolCallID}
			}
		}
	}
	return nil
}

// ToolDAGError reports a tool-role message whose ToolCallID has no preceding
// assistant tool call in the same conversation.
type ToolDAGError struct{ ToolCallID string }

func (e *ToolDAGError) Error() string {
	return "tool message references unknown tool_call_id " + e.ToolCallID
}
