// Package history records executed dataset queries.
package history

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Entry struct {
	ID        int64     `json:"id"`
	Dataset   string    `json:"dataset"`
	Split     string    `json:"split,omitempty"`
	SQL       string    `json:"sql"`
	RowCount  int       `json:"row_count"`
	Truncated bool      `json:"truncated"`
	ElapsedMs float64   `json:"elapsed_ms"`
	ErrorCode string    `json:"error_code,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ListFilter struct {
	Dataset string
	Limit   int
}

// NormalizedLimit clamps the requested page size.
func (f ListFilter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
}

// Memory keeps the most recent entries in a fixed-size ring.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	lastID  int64
	now     func() time.Time
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = MaxListLimit
	}
	return &Memory{entries: make([]Entry, capacity), now: time.Now}
}

func (m *Memory) Record(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastID++
	entry.ID = m.lastID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now().UTC()
	}
	m.entries[m.next] = entry
	m.next = (m.next + 1) % len(m.entries)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// List returns newest entries first.
func (m *Memory) List(_ context.Context, filter ListFilter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := filter.NormalizedLimit()
	size := m.next
	if m.full {
		size = len(m.entries)
	}
	out := make([]Entry, 0, min(limit, size))
	for i := 0; i < size && len(out) < limit; i++ {
		idx := (m.next - 1 - i + len(m.entries)) % len(m.entries)
		entry := m.entries[idx]
		if filter.Dataset != "" && !strings.EqualFold(entry.Dataset, filter.Dataset) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
