package readtracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterThenCheck(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))

	tr := New()
	ok, err := tr.Check("agent-a", p)
	require.NoError(t, err)
	require.False(t, ok)

	tr.Register("agent-a", p, []byte("hello"))
	ok, err = tr.Check("agent-a", p)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, os.WriteFile(p, []byte("changed"), 0o644))
	ok, err = tr.Check("agent-a", p)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExportRestoreRoundTrip(t *testing.T) {
	tr := New()
	tr.Register("a", "/x", []byte("v"))
	state := tr.Export()

	tr2 := New()
	tr2.Restore(state)
	require.Equal(t, state, tr2.Export())
}
