package storage

import "time"

// VirtualEntry is a fixed, read-only entry seeded at store construction. It
// appears in Read/List/Glob/Grep but consumes no storage budget and cannot
// be overwritten or deleted (spec §4.2).
type VirtualEntry struct {
	Path    string
	Title   string
	Content string
}

// DeepLearningProtocol is the built-in skill referenced by spec §4.2 as the
// canonical example of a virtual entry: a reference document agents can read
// via the memory store's Read/Glob/Grep surface without it ever occupying
// writable storage.
var DeepLearningProtocol = VirtualEntry{
	Path:  "skills/deep-learning-protocol.md",
	Title: "Deep-Learning Protocol",
	Content: "# Deep-Learning Protocol\n\n" +
		"1. Read before writing. 2. Prefer small, verifiable steps. " +
		"3. Record assumptions in the scratchpad before delegating.\n",
}

func virtualEntries() map[string]Entry {
	out := make(map[string]Entry)
	for _, v := range []VirtualEntry{DeepLearningProtocol} {
		out[v.Path] = Entry{
			Path:      v.Path,
			Content:   []byte(v.Content),
			Title:     v.Title,
			UpdatedAt: time.Time{},
		}
	}
	return out
}
