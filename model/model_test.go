package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenUsageAddAndTotal(t *testing.T) {
	u := TokenUsage{InputTokens: 10, OutputTokens: 5}
	u.Add(TokenUsage{InputTokens: 1, OutputTokens: 2, CachedTokens: 3, CacheCreationTokens: 4})
	require.Equal(t, 11, u.InputTokens)
	require.Equal(t, 7, u.OutputTokens)
	require.Equal(t, 3, u.CachedTokens)
	require.Equal(t, 4, u.CacheCreationTokens)
	require.Equal(t, 18, u.Total())
}

func TestConversationAppendPreservesOrder(t *testing.T) {
	c := &Conversation{}
	c.Append(&Message{Role: RoleUser, Text: "hi"})
	c.Append(&Message{Role: RoleAssistant, Text: "hello"})
	require.Len(t, c.Messages, 2)
	require.Equal(t, RoleUser, c.Messages[0].Role)
	require.Equal(t, RoleAssistant, c.Messages[1].Role)
}

func TestValidateToolDAGAcceptsMatchingCall(t *testing.T) {
	c := &Conversation{}
	c.Append(&Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "Read"}}})
	c.Append(&Message{Role: RoleTool, ToolCallID: "c1", Text: "ok"})
	require.NoError(t, c.ValidateToolDAG())
}

func TestValidateToolDAGRejectsOrphanToolResult(t *testing.T) {
	c := &Conversation{}
	c.Append(&Message{Role: RoleTool, ToolCallID: "ghost", Text: "ok"})
	err := c.ValidateToolDAG()
	require.Error(t, err)
	var dagErr *ToolDAGError
	require.ErrorAs(t, err, &dagErr)
	require.Equal(t, "ghost", dagErr.ToolCallID)
}

func TestConversationCloneIsIndependent(t *testing.T) {
	c := &Conversation{}
	c.Append(&Message{Role: RoleUser, Text: "hi", ToolCalls: []ToolCall{{ID: "c1"}}})
	clone := c.Clone()
	clone.Messages[0].Text = "mutated"
	clone.Messages[0].ToolCalls[0].ID = "c2"
	require.Equal(t, "hi", c.Messages[0].Text)
	require.Equal(t, "c1", c.Messages[0].ToolCalls[0].ID)
}
