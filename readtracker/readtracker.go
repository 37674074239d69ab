// Package readtracker implements the Read-Tracker (C3): a process-wide map
// of agent -> absolute file path -> content digest, enabling read-before-write
// enforcement across the Read/Write/Edit tool family.
package readtracker

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
)

// Tracker holds one mutex guarding a two-level map. Per spec §4.3 and §5,
// the mutex must not be held during the filesystem read Check performs; only
// the map lookup and digest comparison are critical sections.
type Tracker struct {
	mu      sync.Mutex
	digests map[string]map[string]string // agent -> path -> hex sha256
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{digests: make(map[string]map[string]string)}
}

// digest hashes the bytes actually consumed. The UTF-8 fallback to binary
// mentioned in spec §4.3 is a no-op at the hashing layer: SHA-256 operates on
// raw bytes regardless of encoding, so callers may pass either a UTF-8
// decoded re-encoding or the original bytes as long as they pass the same
// transform to both Register and Check.
func digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Register records the digest of content as having been read by agent at
// path. Subsequent Check calls with unmodified file contents return true.
func (t *Tracker) Register(agent, path string, content []byte) {
	d := digest(content)
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.digests[agent]
	if !ok {
		m = make(map[string]string)
		t.digests[agent] = m
	}
	m[path] = d
}

// Check reads path from disk outside the lock and returns true only if the
// path exists and its current digest matches the digest recorded for agent.
func (t *Tracker) Check(agent, path string) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	current := digest(content)

	t.mu.Lock()
	stored, ok := t.digests[agent][path]
	t.mu.Unlock()
	if !ok {
		return false, nil
	}
	return stored == current, nil
}

// Export returns a deep copy of the tracker state for snapshotting.
func (t *Tracker) Export() map[string]map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]map[string]string, len(t.digests))
	for agent, m := range t.digests {
		cp := make(map[string]string, len(m))
		for p, d := range m {
			cp[p] = d
		}
		out[agent] = cp
	}
	return out
}

// Restore replaces the tracker state verbatim with a previously Exported map.
func (t *Tracker) Restore(state map[string]map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.digests = make(map[string]map[string]string, len(state))
	for agent, m := range state {
		cp := make(map[string]string, len(m))
		for p, d := range m {
			cp[p] = d
		}
		t.digests[agent] = cp
	}
}
