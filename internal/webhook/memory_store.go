package webhook

import (
	"context"
	"sync"
	"time"
)

// MemoryProcessedStore is an in-memory ProcessedStore for tests and
// local development.
type MemoryProcessedStore struct {
	mu     sync.Mutex
	events map[string]time.Time
}

// NewMemoryProcessedStore creates an empty in-memory store.
func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{events: make(map[string]time.Time)}
}

func (m *MemoryProcessedStore) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.events[eventID]; seen {
		return ErrAlreadyProcessed
	}
	m.events[eventID] = time.Now().UTC()
	return nil
}

func (m *MemoryProcessedStore) Forget(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventID)
	return nil
}
