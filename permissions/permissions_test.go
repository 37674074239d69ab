package permissions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/require"

	"github.com/swarmkit/swarmkit/swarmerr"
)

type fakeTool struct {
	name string
	args json.RawMessage
}

func (f *fakeTool) Name() string                       { return f.name }
func (f *fakeTool) Description() string                { return "fake" }
func (f *fakeTool) ParamsSchema() *jsonschema.Schema    { return nil }
func (f *fakeTool) Removable() bool                     { return true }
func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	f.args = args
	return "ok", nil
}

func TestPolicyAllowsWithoutAllowList(t *testing.T) {
	p, err := Compile(nil, []string{`^rm -rf`})
	require.NoError(t, err)
	require.True(t, p.Allows("ls -la"))
	require.False(t, p.Allows("rm -rf /"))
}

func TestPolicyDenyWinsOverAllow(t *testing.T) {
	p, err := Compile([]string{`.*`}, []string{`^rm -rf`})
	require.NoError(t, err)
	require.False(t, p.Allows("rm -rf /"))
	require.True(t, p.Allows("ls -la"))
}

func TestPolicyAllowListRequiresMatch(t *testing.T) {
	p, err := Compile([]string{`^ls`}, nil)
	require.NoError(t, err)
	require.True(t, p.Allows("ls -la"))
	require.False(t, p.Allows("rm -rf /"))
}

func TestNilPolicyAllowsEverything(t *testing.T) {
	var p *Policy
	require.True(t, p.Allows("anything"))
}

func TestWrapNilPolicyIsPassthrough(t *testing.T) {
	tool := &fakeTool{name: "Bash"}
	wrapped := Wrap(tool, "coder", nil)
	require.Same(t, tool, wrapped)
}

func TestGuardDeniesMatchingCommand(t *testing.T) {
	tool := &fakeTool{name: "Bash"}
	policy, err := Compile(nil, []string{`^rm -rf`})
	require.NoError(t, err)
	guard := Wrap(tool, "coder", policy)

	_, err = guard.Execute(context.Background(), json.RawMessage(`{"command":"rm -rf /"}`))
	require.Error(t, err)
	var denied *swarmerr.PermissionDenied
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "Bash", denied.Tool)
	require.Equal(t, "coder", denied.Agent)
}

func TestGuardAllowsNonMatchingCommand(t *testing.T) {
	tool := &fakeTool{name: "Bash"}
	policy, err := Compile(nil, []string{`^rm -rf`})
	require.NoError(t, err)
	guard := Wrap(tool, "coder", policy)

	out, err := guard.Execute(context.Background(), json.RawMessage(`{"command":"ls -la"}`))
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestGuardIgnoresToolsWithoutExtractor(t *testing.T) {
	tool := &fakeTool{name: "Think"}
	policy, err := Compile(nil, []string{`.*`})
	require.NoError(t, err)
	guard := Wrap(tool, "coder", policy)

	out, err := guard.Execute(context.Background(), json.RawMessage(`{"thought":"hmm"}`))
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}
