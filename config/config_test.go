package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmkit/swarmkit/agent"
)

const sampleYAML = `
name: demo-swarm
lead_agent: orchestrator
max_turns: 50
agents:
  - name: orchestrator
    model: claude-sonnet-4-5
    directory: /work
    tools: [Read, Write, WorkWithCoder]
    delegation_targets: [coder]
    system_prompt: "You coordinate."
  - name: coder
    model: claude-sonnet-4-5
    tools: [Read, Write, Edit, Bash]
    permissions:
      Bash:
        denied: ["^rm -rf"]
`

func TestParseDecodesDocument(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "demo-swarm", doc.Name)
	require.Equal(t, "orchestrator", doc.LeadAgent)
	require.Equal(t, 50, doc.MaxTurns)
	require.Len(t, doc.Agents, 2)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("name: x\nbogus_field: true\n"))
	require.Error(t, err)
}

func TestToSwarmDefinitionBuildsAgentDefinitions(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	def, err := doc.ToSwarmDefinition()
	require.NoError(t, err)
	require.Equal(t, "demo-swarm", def.Name)
	require.Equal(t, agent.Ident("orchestrator"), def.LeadAgent)
	require.Len(t, def.Agents, 2)

	orchestrator := def.Agents[agent.Ident("orchestrator")]
	require.Equal(t, []agent.Ident{"coder"}, orchestrator.DelegationTargets)

	coder := def.Agents[agent.Ident("coder")]
	require.NotNil(t, coder.Permissions["Bash"])
	require.Equal(t, []string{"^rm -rf"}, coder.Permissions["Bash"].Denied)

	require.NoError(t, def.Validate())
}
