package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmkit/swarmkit/agent"
	"github.com/swarmkit/swarmkit/llm"
	"github.com/swarmkit/swarmkit/model"
	"github.com/swarmkit/swarmkit/swarm"
)

type stubProvider struct{}

func (stubProvider) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return &llm.Response{Message: &model.Message{Role: model.RoleAssistant, Text: "unused"}}, nil
}

func providerFor(string) (llm.Provider, error) { return stubProvider{}, nil }

func buildTestSwarm(t *testing.T) *swarm.Swarm {
	t.Helper()
	def := swarm.Definition{
		Name:      "demo-swarm",
		LeadAgent: "coder",
		Agents: map[agent.Ident]*agent.Definition{
			"coder": {Name: "coder", Model: "model-a", Tools: []string{"Bash"}},
		},
	}
	s, err := swarm.Build(def, swarm.Options{ProviderFor: providerFor})
	require.NoError(t, err)
	return s
}

func fixedClock() string { return "2026-07-31T00:00:00Z" }

func TestCaptureSerializesConversationContextStateAndMemory(t *testing.T) {
	s := buildTestSwarm(t)
	eng := s.PrimaryAgents()["coder"]
	eng.Conversation.Append(&model.Message{Role: model.RoleUser, Text: "investigate the outage"})
	eng.Conversation.Append(&model.Message{
		Role:  model.RoleAssistant,
		Text:  "looking into it",
		Parts: []model.Part{model.TextPart{Text: "looking into it"}},
		Usage: model.TokenUsage{InputTokens: 10, OutputTokens: 5},
	})
	eng.SetActiveSkillPath("skills/debug.json")

	require.NoError(t, s.ScratchpadAccess().Write("notes/a.txt", "hello", "", nil))

	memStore, ok := s.MemoryStoreAccess("coder")
	require.True(t, ok)
	require.NoError(t, memStore.Write("prefs.json", `{"theme":"dark"}`, "", nil))

	snap, err := Capture(s, TypeSwarm, fixedClock)
	require.NoError(t, err)

	require.Equal(t, Version, snap.Version)
	require.Equal(t, "demo-swarm", snap.Metadata.Name)
	require.Equal(t, "2026-07-31T00:00:00Z", snap.SnapshotAt)

	rec, ok := snap.Agents["coder"]
	require.True(t, ok)
	require.Equal(t, "skills/debug.json", rec.ContextState.ActiveSkillPath)
	require.Len(t, rec.Conversation, 2)
	require.Equal(t, "looking into it", rec.Conversation[1].Text)
	require.Len(t, rec.Conversation[1].Parts, 1)
	require.Equal(t, "text", rec.Conversation[1].Parts[0].Kind)

	require.Len(t, snap.Scratchpad.Data, 1)
	require.Equal(t, "notes/a.txt", snap.Scratchpad.Data[0].Path)

	memRaw, ok := snap.PluginStates["memory"]["coder"]
	require.True(t, ok)
	require.NotEmpty(t, memRaw)
}

func TestRestoreReconstitutesConversationAndStores(t *testing.T) {
	source := buildTestSwarm(t)
	srcEng := source.PrimaryAgents()["coder"]
	srcEng.Conversation.Append(&model.Message{Role: model.RoleUser, Text: "summarize the incident"})
	srcEng.Conversation.Append(&model.Message{Role: model.RoleAssistant, Text: "here is the summary"})
	srcEng.SetActiveSkillPath("skills/debug.json")
	require.NoError(t, source.ScratchpadAccess().Write("notes/a.txt", "hello", "", nil))
	memStore, ok := source.MemoryStoreAccess("coder")
	require.True(t, ok)
	require.NoError(t, memStore.Write("prefs.json", `{"theme":"dark"}`, "", nil))

	snap, err := Capture(source, TypeSwarm, fixedClock)
	require.NoError(t, err)

	target := buildTestSwarm(t)
	require.NoError(t, Restore(snap, target))

	dstEng := target.PrimaryAgents()["coder"]
	require.Len(t, dstEng.Conversation.Messages, 2)
	require.Equal(t, "summarize the incident", dstEng.Conversation.Messages[0].Text)
	require.Equal(t, "here is the summary", dstEng.Conversation.Messages[1].Text)
	require.Equal(t, "skills/debug.json", dstEng.ActiveSkillPath())

	entry, err := target.ScratchpadAccess().Read("notes/a.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(entry.Content))

	dstMemStore, ok := target.MemoryStoreAccess("coder")
	require.True(t, ok)
	memEntry, err := dstMemStore.Read("prefs.json")
	require.NoError(t, err)
	require.Equal(t, `{"theme":"dark"}`, string(memEntry.Content))
}

func TestRestoreRejectsMismatchedVersion(t *testing.T) {
	s := buildTestSwarm(t)
	snap, err := Capture(s, TypeSwarm, fixedClock)
	require.NoError(t, err)
	snap.Version = "0.0.1"
	require.Error(t, Restore(snap, s))
}
