package storage

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// scratchpad is the volatile, in-process Store implementation. No I/O is
// performed under its mutex, per spec §5.
type scratchpad struct {
	mu       sync.Mutex
	entries  map[string]Entry
	virtuals map[string]Entry
	total    int
	maxTotal int // 0 means unlimited
}

// NewScratchpad returns a volatile Store with the standard virtual entry set
// pre-seeded and no aggregate size limit.
func NewScratchpad() Store {
	return NewScratchpadWithLimit(0)
}

// NewScratchpadWithLimit returns a volatile Store enforcing an aggregate size
// cap in bytes; 0 means unlimited.
func NewScratchpadWithLimit(maxTotal int) Store {
	return &scratchpad{
		entries:  make(map[string]Entry),
		virtuals: virtualEntries(),
		maxTotal: maxTotal,
	}
}

func (s *scratchpad) Write(path, content, title string, metadata map[string]string) error {
	p, err := normalizePath(path)
	if err != nil {
		return err
	}
	if _, ok := s.virtuals[p]; ok {
		return errVirtual
	}
	if err := checkEntrySize(content); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	newSize := len(content)
	prevSize := 0
	if existing, ok := s.entries[p]; ok {
		prevSize = existing.Size()
	}
	if s.maxTotal > 0 && s.total-prevSize+newSize > s.maxTotal {
		return fmt.Errorf("write would exceed aggregate storage limit of %d bytes", s.maxTotal)
	}
	s.total += newSize - prevSize
	s.entries[p] = Entry{
		Path:      p,
		Content:   []byte(content),
		Title:     title,
		UpdatedAt: time.Now(),
		Metadata:  metadata,
	}
	return nil
}

func (s *scratchpad) Read(path string) (Entry, error) {
	p, err := normalizePath(path)
	if err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.virtuals[p]; ok {
		return v, nil
	}
	e, ok := s.entries[p]
	if !ok {
		return Entry{}, errNotFound
	}
	return e, nil
}

func (s *scratchpad) Delete(path string) error {
	p, err := normalizePath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.virtuals[p]; ok {
		return errVirtual
	}
	e, ok := s.entries[p]
	if !ok {
		return errNotFound
	}
	s.total -= e.Size()
	delete(s.entries, p)
	return nil
}

func (s *scratchpad) allEntries() []Entry {
	out := make([]Entry, 0, len(s.entries)+len(s.virtuals))
	for _, e := range s.entries {
		out = append(out, e)
	}
	for _, e := range s.virtuals {
		out = append(out, e)
	}
	return out
}

func (s *scratchpad) List(prefix string) ([]ListItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ListItem
	for _, e := range s.allEntries() {
		if prefix == "" || hasPrefixSegment(e.Path, prefix) {
			out = append(out, ListItem{Path: e.Path, Title: e.Title, Size: e.Size(), UpdatedAt: e.UpdatedAt})
		}
	}
	sortByRecency(out)
	return out, nil
}

func hasPrefixSegment(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}

func (s *scratchpad) Glob(pattern string) ([]ListItem, error) {
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ListItem
	for _, e := range s.allEntries() {
		if re.MatchString(e.Path) {
			out = append(out, ListItem{Path: e.Path, Title: e.Title, Size: e.Size(), UpdatedAt: e.UpdatedAt})
		}
	}
	sortByRecency(out)
	return out, nil
}

func (s *scratchpad) Grep(pattern string, caseInsensitive bool, mode GrepMode) ([]GrepResult, error) {
	expr := pattern
	if caseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []GrepResult
	for _, e := range s.allEntries() {
		switch mode {
		case GrepContent:
			var lines []GrepLine
			for i, line := range splitLines(string(e.Content)) {
				if re.MatchString(line) {
					lines = append(lines, GrepLine{LineNumber: i + 1, Content: line})
				}
			}
			if len(lines) > 0 {
				out = append(out, GrepResult{Path: e.Path, Lines: lines})
			}
		case GrepCount:
			n := len(re.FindAllStringIndex(string(e.Content), -1))
			if n > 0 {
				out = append(out, GrepResult{Path: e.Path, Count: n})
			}
		default: // GrepFilesWithMatches
			if re.MatchString(string(e.Content)) {
				out = append(out, GrepResult{Path: e.Path})
			}
		}
	}
	return out, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func (s *scratchpad) TotalSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *scratchpad) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

func (s *scratchpad) Restore(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry, len(entries))
	s.total = 0
	for _, e := range entries {
		s.entries[e.Path] = e
		s.total += e.Size()
	}
	return nil
}
