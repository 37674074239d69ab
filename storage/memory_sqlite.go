package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver registered under "sqlite"
)

// memoryStore is the persistent, filesystem-backed (via sqlite) Store
// implementation (spec §4.2's "memory" variant). Unlike the in-memory
// scratchpad, its mutating operations may hold the lock across the disk
// write; this is acceptable given the per-entry size cap (spec §5).
type memoryStore struct {
	mu       sync.Mutex
	db       *sql.DB
	virtuals map[string]Entry
	total    int
	maxTotal int
}

// OpenMemoryStore opens (creating if necessary) a sqlite-backed persistent
// Store at dbPath. maxTotal of 0 means no aggregate limit.
func OpenMemoryStore(dbPath string, maxTotal int) (Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		path TEXT PRIMARY KEY,
		content BLOB,
		title TEXT,
		updated_at INTEGER,
		size INTEGER,
		metadata TEXT
	)`); err != nil {
		return nil, fmt.Errorf("migrate memory store: %w", err)
	}
	m := &memoryStore{db: db, virtuals: virtualEntries(), maxTotal: maxTotal}
	row := db.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM entries`)
	if err := row.Scan(&m.total); err != nil {
		return nil, fmt.Errorf("load memory store total: %w", err)
	}
	return m, nil
}

func (m *memoryStore) Write(path, content, title string, metadata map[string]string) error {
	p, err := normalizePath(path)
	if err != nil {
		return err
	}
	if _, ok := m.virtuals[p]; ok {
		return errVirtual
	}
	if err := checkEntrySize(content); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var prevSize int
	row := m.db.QueryRow(`SELECT size FROM entries WHERE path = ?`, p)
	switch err := row.Scan(&prevSize); err {
	case nil:
	case sql.ErrNoRows:
		prevSize = 0
	default:
		return err
	}
	newSize := len(content)
	if m.maxTotal > 0 && m.total-prevSize+newSize > m.maxTotal {
		return fmt.Errorf("write would exceed aggregate storage limit of %d bytes", m.maxTotal)
	}

	_, err = m.db.Exec(`INSERT INTO entries (path, content, title, updated_at, size, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET content=excluded.content, title=excluded.title,
			updated_at=excluded.updated_at, size=excluded.size, metadata=excluded.metadata`,
		p, []byte(content), title, time.Now().UnixNano(), newSize, string(metaJSON))
	if err != nil {
		return err
	}
	m.total += newSize - prevSize
	return nil
}

func (m *memoryStore) Read(path string) (Entry, error) {
	p, err := normalizePath(path)
	if err != nil {
		return Entry{}, err
	}
	if v, ok := m.virtuals[p]; ok {
		return v, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLocked(p)
}

func (m *memoryStore) readLocked(p string) (Entry, error) {
	row := m.db.QueryRow(`SELECT content, title, updated_at, metadata FROM entries WHERE path = ?`, p)
	var content []byte
	var title, metaJSON string
	var updatedAtNano int64
	if err := row.Scan(&content, &title, &updatedAtNano, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, errNotFound
		}
		return Entry{}, err
	}
	var meta map[string]string
	_ = json.Unmarshal([]byte(metaJSON), &meta)
	return Entry{
		Path:      p,
		Content:   content,
		Title:     title,
		UpdatedAt: time.Unix(0, updatedAtNano),
		Metadata:  meta,
	}, nil
}

func (m *memoryStore) Delete(path string) error {
	p, err := normalizePath(path)
	if err != nil {
		return err
	}
	if _, ok := m.virtuals[p]; ok {
		return errVirtual
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var size int
	row := m.db.QueryRow(`SELECT size FROM entries WHERE path = ?`, p)
	if err := row.Scan(&size); err != nil {
		if err == sql.ErrNoRows {
			return errNotFound
		}
		return err
	}
	if _, err := m.db.Exec(`DELETE FROM entries WHERE path = ?`, p); err != nil {
		return err
	}
	m.total -= size
	return nil
}

func (m *memoryStore) allRows() ([]Entry, error) {
	rows, err := m.db.Query(`SELECT path, content, title, updated_at, metadata FROM entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var path, title, metaJSON string
		var content []byte
		var updatedAtNano int64
		if err := rows.Scan(&path, &content, &title, &updatedAtNano, &metaJSON); err != nil {
			return nil, err
		}
		var meta map[string]string
		_ = json.Unmarshal([]byte(metaJSON), &meta)
		out = append(out, Entry{Path: path, Content: content, Title: title, UpdatedAt: time.Unix(0, updatedAtNano), Metadata: meta})
	}
	for _, v := range m.virtuals {
		out = append(out, v)
	}
	return out, rows.Err()
}

func (m *memoryStore) List(prefix string) ([]ListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := m.allRows()
	if err != nil {
		return nil, err
	}
	var out []ListItem
	for _, e := range entries {
		if prefix == "" || hasPrefixSegment(e.Path, prefix) {
			out = append(out, ListItem{Path: e.Path, Title: e.Title, Size: e.Size(), UpdatedAt: e.UpdatedAt})
		}
	}
	sortByRecency(out)
	return out, nil
}

func (m *memoryStore) Glob(pattern string) ([]ListItem, error) {
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := m.allRows()
	if err != nil {
		return nil, err
	}
	var out []ListItem
	for _, e := range entries {
		if re.MatchString(e.Path) {
			out = append(out, ListItem{Path: e.Path, Title: e.Title, Size: e.Size(), UpdatedAt: e.UpdatedAt})
		}
	}
	sortByRecency(out)
	return out, nil
}

func (m *memoryStore) Grep(pattern string, caseInsensitive bool, mode GrepMode) ([]GrepResult, error) {
	expr := pattern
	if caseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := m.allRows()
	if err != nil {
		return nil, err
	}
	var out []GrepResult
	for _, e := range entries {
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
		default:
			if re.MatchString(string(e.Content)) {
				out = append(out, GrepResult{Path: e.Path})
			}
		}
	}
	return out, nil
}

func (m *memoryStore) TotalSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *memoryStore) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := m.allRows()
	if err != nil {
		return nil
	}
	out := entries[:0:0]
	for _, e := range entries {
		if _, virtual := m.virtuals[e.Path]; !virtual {
			out = append(out, e)
		}
	}
	return out
}

func (m *memoryStore) Restore(entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.db.Exec(`DELETE FROM entries`); err != nil {
		return err
	}
	m.total = 0
	for _, e := range entries {
		metaJSON, _ := json.Marshal(e.Metadata)
		if _, err := m.db.Exec(`INSERT INTO entries (path, content, title, updated_at, size, metadata)
			VALUES (?, ?, ?, ?, ?, ?)`, e.Path, e.Content, e.Title, e.UpdatedAt.UnixNano(), e.Size(), string(metaJSON)); err != nil {
			return err
		}
		m.total += e.Size()
	}
	return nil
}
