package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory transaction store for demo/development mode.
type MemoryStore struct {
	txns  map[string]*Transaction
	byRef map[string]string // provider ref -> transaction id
	order []string
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txns:  make(map[string]*Transaction),
		byRef: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, txn *Transaction) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.ProviderRef != "" {
		if id, ok := m.byRef[txn.ProviderRef]; ok {
			cp := *m.txns[id]
			return &cp, nil
		}
	}

	cp := *txn
	m.txns[txn.ID] = &cp
	m.order = append(m.order, txn.ID)
	if txn.ProviderRef != "" {
		m.byRef[txn.ProviderRef] = txn.ID
	}
	out := cp
	return &out, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txn, ok := m.txns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) GetByProviderRef(ctx context.Context, ref string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.txns[id]
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return ErrNotFound
	}
	txn.Status = status
	txn.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListByQuestion(ctx context.Context, questionID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Transaction
	for _, id := range m.order {
		if t := m.txns[id]; t.QuestionID == questionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Transaction
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		if t := m.txns[m.order[i]]; t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkReversed(ctx context.Context, id, reversalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return ErrNotFound
	}
	if txn.Status == StatusReversed {
		return ErrAlreadyReversed
	}
	if txn.Status != StatusCompleted {
		return ErrNotReversible
	}
	txn.Status = StatusReversed
	txn.ReversedBy = reversalID
	txn.UpdatedAt = time.Now().UTC()
	return nil
}
