package correlation

import (
	"context"
	"sync"
	"time"
)

// Memory is the default in-process store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]Entry{}, now: time.Now}
}

func (m *Memory) Set(_ context.Context, e Entry) {
	if e.SentItemID == "" {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	m.mu.Lock()
	m.entries[e.SentItemID] = e
	m.mu.Unlock()
}

func (m *Memory) Get(_ context.Context, sentItemID string) (Entry, bool) {
	m.mu.Lock()
	e, ok := m.entries[sentItemID]
	m.mu.Unlock()
	return e, ok
}

func (m *Memory) Delete(_ context.Context, sentItemID string) {
	m.mu.Lock()
	delete(m.entries, sentItemID)
	m.mu.Unlock()
}

func (m *Memory) ClearAll(_ context.Context) {
	m.mu.Lock()
	m.entries = map[string]Entry{}
	m.mu.Unlock()
}

func (m *Memory) Len(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
