package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("history: not found")

// MaxEntriesPerConnection bounds stored history; older entries are trimmed on insert.
const MaxEntriesPerConnection = 200

type Entry struct {
	ID              string    `json:"id"`
	ConnectionID    string    `json:"connection_id"`
	RunID           string    `json:"run_id,omitempty"`
	SQL             string    `json:"query"`
	ExecutedAt      time.Time `json:"executed_at"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
}

// Recorder stores executed statements.
type Recorder interface {
	Add(ctx context.Context, entry Entry) (Entry, error)
}

type Store interface {
	Recorder
	List(ctx context.Context, connectionID string, limit int) ([]Entry, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context, connectionID string) (int64, error)
}

// Prepare fills the id and timestamp of a new entry.
func Prepare(entry Entry, now time.Time) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = now.UTC()
	}
	return entry
}

// Memory is an in-process Store used when no history database is configured.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Add(_ context.Context, entry Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry = Prepare(entry, m.now())
	m.entries = append(m.entries, entry)
	sort.SliceStable(m.entries, func(i, j int) bool {
		return m.entries[i].ExecutedAt.After(m.entries[j].ExecutedAt)
	})

	kept := m.entries[:0]
	perConnection := map[string]int{}
	for _, item := range m.entries {
		perConnection[item.ConnectionID]++
		if perConnection[item.ConnectionID] > MaxEntriesPerConnection {
			continue
		}
		kept = append(kept, item)
	}
	m.entries = kept
	return entry, nil
}

func (m *Memory) List(_ context.Context, connectionID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0)
	for _, item := range m.entries {
		if connectionID != "" && item.ConnectionID != connectionID {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, item := range m.entries {
		if item.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) Clear(_ context.Context, connectionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	var removed int64
	for _, item := range m.entries {
		if connectionID == "" || item.ConnectionID == connectionID {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	m.entries = kept
	return removed, nil
}
