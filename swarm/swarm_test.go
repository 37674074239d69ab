package swarm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmkit/swarmkit/agent"
	"github.com/swarmkit/swarmkit/eventlog"
	"github.com/swarmkit/swarmkit/llm"
	"github.com/swarmkit/swarmkit/model"
	"github.com/swarmkit/swarmkit/swarmerr"
	"github.com/swarmkit/swarmkit/tools"
)

// scriptedProvider returns one canned response per call, in order, looping on
// the final entry once exhausted.
type scriptedProvider struct {
	responses []llm.Response
	calls     int
}

func (p *scriptedProvider) Complete(_ context.Context, _ llm.Request) (*llm.Response, error) {
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	resp := p.responses[i]
	return &resp, nil
}

func textResponse(text string) llm.Response {
	return llm.Response{Message: &model.Message{Role: model.RoleAssistant, Text: text}}
}

func toolCallResponse(toolName string, args string) llm.Response {
	return llm.Response{Message: &model.Message{
		Role: model.RoleAssistant,
		ToolCalls: []model.ToolCall{{ID: "call-1", Name: toolName, Arguments: json.RawMessage(args)}},
	}}
}

func TestDefinitionValidateRejectsMissingLeadAgent(t *testing.T) {
	def := Definition{
		Name:      "s",
		LeadAgent: "nope",
		Agents:    map[agent.Ident]*agent.Definition{"coder": {Name: "coder", Model: "m"}},
	}
	require.Error(t, def.Validate())
}

func TestDefinitionValidateRejectsUndeclaredDelegationTarget(t *testing.T) {
	def := Definition{
		Name:      "s",
		LeadAgent: "coder",
		Agents: map[agent.Ident]*agent.Definition{
			"coder": {Name: "coder", Model: "m", DelegationTargets: []agent.Ident{"ghost"}},
		},
	}
	require.Error(t, def.Validate())
}

func TestBuildRequiresProviderFor(t *testing.T) {
	def := Definition{
		Name:      "s",
		LeadAgent: "coder",
		Agents:    map[agent.Ident]*agent.Definition{"coder": {Name: "coder", Model: "m"}},
	}
	_, err := Build(def, Options{})
	require.Error(t, err)
}

func twoAgentDefinition() Definition {
	return Definition{
		Name:      "support-swarm",
		LeadAgent: "coder",
		Agents: map[agent.Ident]*agent.Definition{
			"coder": {
				Name:              "coder",
				Model:             "model-a",
				Tools:             []string{"Bash"},
				DelegationTargets: []agent.Ident{"reviewer"},
			},
			"reviewer": {
				Name:  "reviewer",
				Model: "model-b",
			},
		},
	}
}

func TestExecuteDelegatesAndAggregatesResult(t *testing.T) {
	coderProvider := &scriptedProvider{responses: []llm.Response{
		toolCallResponse("WorkWithReviewer", `{"prompt":"please review"}`),
		textResponse("done, thanks reviewer"),
	}}
	reviewerProvider := &scriptedProvider{responses: []llm.Response{textResponse("looks good")}}

	s, err := Build(twoAgentDefinition(), Options{
		ProviderFor: func(modelID string) (llm.Provider, error) {
			switch modelID {
			case "model-a":
				return coderProvider, nil
			case "model-b":
				return reviewerProvider, nil
			default:
				return nil, &swarmerr.ConfigurationError{Reason: "unknown model"}
			}
		},
	})
	require.NoError(t, err)

	var events []eventlog.Event
	res, err := s.Execute(context.Background(), "please look into this", func(e eventlog.Event) {
		events = append(events, e)
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "done, thanks reviewer", res.Content)
	require.ElementsMatch(t, []string{"coder", "reviewer"}, res.AgentsInvolved)
	require.Equal(t, 3, res.LLMRequests) // coder x2 + reviewer x1
	require.Equal(t, 1, res.ToolCallsCount)
	require.NotEmpty(t, events)

	var sawWarning bool
	for _, e := range events {
		if e.Type == eventlog.TypeModelLookupWarning {
			sawWarning = true
		}
	}
	require.True(t, sawWarning, "model-a/model-b have no DefaultPriceTable entry")
}

func TestBuiltToolsetDeniesPermissionAtExecute(t *testing.T) {
	def := Definition{
		Name:      "s",
		LeadAgent: "coder",
		Agents: map[agent.Ident]*agent.Definition{
			"coder": {
				Name:  "coder",
				Model: "model-a",
				Tools: []string{"Bash"},
				Permissions: agent.ToolPermissions{
					"Bash": {Denied: []string{`rm -rf`}},
				},
			},
		},
	}
	s, err := Build(def, Options{
		ProviderFor: func(string) (llm.Provider, error) { return &scriptedProvider{responses: []llm.Response{textResponse("x")}}, nil },
	})
	require.NoError(t, err)

	eng, ok := s.PrimaryAgents()["coder"]
	require.True(t, ok)
	bash, ok := eng.Tools["Bash"]
	require.True(t, ok)

	_, err = bash.Execute(context.Background(), json.RawMessage(`{"command":"rm -rf /"}`))
	require.Error(t, err)
	var denied *swarmerr.PermissionDenied
	require.ErrorAs(t, err, &denied)

	_, err = bash.Execute(context.Background(), json.RawMessage(`{"command":"echo hi"}`))
	require.NoError(t, err)
}

func singleAgentDefinition() Definition {
	return Definition{
		Name:      "s",
		LeadAgent: "coder",
		Agents: map[agent.Ident]*agent.Definition{
			"coder": {Name: "coder", Model: "model-a", Tools: []string{"Bash"}},
		},
	}
}

func buildSingleAgentSwarm(t *testing.T) *Swarm {
	t.Helper()
	s, err := Build(singleAgentDefinition(), Options{
		ProviderFor: func(string) (llm.Provider, error) { return &scriptedProvider{responses: []llm.Response{textResponse("x")}}, nil },
	})
	require.NoError(t, err)
	return s
}

func TestSkillLoadReplacesRemovableToolsThenUnloadRestoresThem(t *testing.T) {
	s := buildSingleAgentSwarm(t)
	eng, ok := s.PrimaryAgents()["coder"]
	require.True(t, ok)

	_, hasBashBefore := eng.Tools["Bash"]
	require.True(t, hasBashBefore)
	_, hasReadBefore := eng.Tools["Read"]
	require.False(t, hasReadBefore)

	memStore, ok := s.MemoryStoreAccess("coder")
	require.True(t, ok)
	skillDoc, err := json.Marshal(Skill{Tools: []string{"Read"}})
	require.NoError(t, err)
	require.NoError(t, memStore.Write("skills/reading.json", string(skillDoc), "", nil))

	loadSkill, ok := eng.Tools["LoadSkill"]
	require.True(t, ok)
	_, err = loadSkill.Execute(context.Background(), json.RawMessage(`{"path":"skills/reading.json"}`))
	require.NoError(t, err)

	eng, ok = s.PrimaryAgents()["coder"] // re-fetch: buildToolset assigns a new Tools map
	require.True(t, ok)
	require.Equal(t, "skills/reading.json", eng.ActiveSkillPath())
	_, hasBashAfterLoad := eng.Tools["Bash"]
	require.False(t, hasBashAfterLoad, "Bash is removable and not declared by the skill")
	_, hasReadAfterLoad := eng.Tools["Read"]
	require.True(t, hasReadAfterLoad)
	_, hasThinkAfterLoad := eng.Tools["Think"]
	require.True(t, hasThinkAfterLoad, "non-removable tools survive a skill load")

	// Loading the same skill again is a no-op (spec: active skill reload).
	_, err = loadSkill.Execute(context.Background(), json.RawMessage(`{"path":"skills/reading.json"}`))
	require.NoError(t, err)

	_, err = loadSkill.Execute(context.Background(), json.RawMessage(`{"path":""}`))
	require.NoError(t, err)

	eng, ok = s.PrimaryAgents()["coder"]
	require.True(t, ok)
	require.Equal(t, "", eng.ActiveSkillPath())
	_, hasBashAfterUnload := eng.Tools["Bash"]
	require.True(t, hasBashAfterUnload)
	_, hasReadAfterUnload := eng.Tools["Read"]
	require.False(t, hasReadAfterUnload)
}

func TestDelegationToolNameSynthesizesWorkWithConvention(t *testing.T) {
	require.Equal(t, "WorkWithReviewer", delegationToolName("reviewer"))
}

func TestNonRemovableToolNamesExcludesRemovableBuiltins(t *testing.T) {
	r := tools.NewRegistry()
	tools.RegisterBuiltins(r)
	tools.RegisterMemoryPlugin(r)
	s := &Swarm{registry: r}
	names := s.nonRemovableToolNames()
	require.Contains(t, names, "Think")
	require.Contains(t, names, "MemoryWrite")
	require.NotContains(t, names, "Bash")
	require.NotContains(t, names, "Read")
}
