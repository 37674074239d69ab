package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScratchpadWriteReplacesSize(t *testing.T) {
	s := NewScratchpad()
	require.NoError(t, s.Write("a/b.txt", "hello", "B", nil))
	require.Equal(t, 5, s.TotalSize())
	require.NoError(t, s.Write("a/b.txt", "hi", "B", nil))
	require.Equal(t, 2, s.TotalSize())
}

func TestScratchpadRejectsEmptyKey(t *testing.T) {
	s := NewScratchpad()
	require.Error(t, s.Write("   ", "x", "", nil))
}

func TestScratchpadVirtualEntryReadOnly(t *testing.T) {
	s := NewScratchpad()
	e, err := s.Read(DeepLearningProtocol.Path)
	require.NoError(t, err)
	require.Equal(t, DeepLearningProtocol.Title, e.Title)
	require.Error(t, s.Write(DeepLearningProtocol.Path, "overwrite", "x", nil))
}

func TestScratchpadGlob(t *testing.T) {
	s := NewScratchpad()
	require.NoError(t, s.Write("dir/a.txt", "1", "", nil))
	require.NoError(t, s.Write("dir/b.txt", "2", "", nil))
	require.NoError(t, s.Write("dir/c.md", "3", "", nil))
	require.NoError(t, s.Write("other/a.txt", "4", "", nil))

	got, err := s.Glob("dir/*.txt")
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = s.Glob("**/*.txt")
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestScratchpadGrepModes(t *testing.T) {
	s := NewScratchpad()
	require.NoError(t, s.Write("f.txt", "foo\nbar foo\nbaz", "", nil))

	files, err := s.Grep("foo", false, GrepFilesWithMatches)
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := s.Grep("foo", false, GrepContent)
	require.NoError(t, err)
	require.Len(t, content[0].Lines, 2)

	counts, err := s.Grep("foo", false, GrepCount)
	require.NoError(t, err)
	require.Equal(t, 2, counts[0].Count)
}

func TestScratchpadDeleteMissing(t *testing.T) {
	s := NewScratchpad()
	require.Error(t, s.Delete("missing"))
}

func TestScratchpadAggregateLimit(t *testing.T) {
	s := NewScratchpadWithLimit(10)
	require.NoError(t, s.Write("a", "12345", "", nil))
	require.Error(t, s.Write("b", "123456", "", nil))
}
