package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmkit/swarmkit/readtracker"
	"github.com/swarmkit/swarmkit/storage"
)

func TestRegistryValidateUnknown(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	unknown := r.Validate([]string{"Think", "NoSuchTool"})
	require.Equal(t, []string{"NoSuchTool"}, unknown)
}

func TestCreateMissingRequirement(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	_, err := r.Create("Read", CreationContext{})
	require.Error(t, err)
}

func TestThinkToolExecute(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	tool, err := r.Create("Think", CreationContext{})
	require.NoError(t, err)
	out, err := tool.Execute(context.Background(), []byte(`{"thought":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, "noted", out)
	require.False(t, tool.Removable())
}

func TestReadWriteReadBeforeWrite(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()
	RegisterBuiltins(r)
	tracker := readtracker.New()

	writeTool, err := r.Create("Write", CreationContext{Directory: dir, AgentName: "a", ReadTracker: tracker})
	require.NoError(t, err)

	// First write to a brand new file needs no prior read.
	_, err = writeTool.Execute(context.Background(), []byte(`{"file_path":"x.txt","content":"v1"}`))
	require.NoError(t, err)

	// Overwriting right after our own write needs no separate read: the digest still matches.
	_, err = writeTool.Execute(context.Background(), []byte(`{"file_path":"x.txt","content":"v2"}`))
	require.NoError(t, err) // tracker was updated by the first write itself

	readTool, err := r.Create("Read", CreationContext{Directory: dir, AgentName: "a", ReadTracker: tracker})
	require.NoError(t, err)
	out, err := readTool.Execute(context.Background(), []byte(`{"file_path":"x.txt"}`))
	require.NoError(t, err)
	require.Equal(t, "v2", out)
}

func TestGlobToolUsesScratchpad(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	sp := storage.NewScratchpad()
	require.NoError(t, sp.Write("a/b.txt", "x", "", nil))
	tool, err := r.Create("Glob", CreationContext{ScratchpadStorage: sp})
	require.NoError(t, err)
	out, err := tool.Execute(context.Background(), []byte(`{"pattern":"a/*.txt"}`))
	require.NoError(t, err)
	items, ok := out.([]storage.ListItem)
	require.True(t, ok)
	require.Len(t, items, 1)
}
