package payout

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	payouts map[string]*Payout
	byKey   map[string]string // idempotency key -> payout id
	byRef   map[string]string // transfer ref -> payout id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payouts: make(map[string]*Payout),
		byKey:   make(map[string]string),
		byRef:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.IdempotencyKey != "" {
		if _, exists := m.byKey[p.IdempotencyKey]; exists {
			return ErrDuplicateKey
		}
	}
	cp := *p
	m.payouts[p.ID] = &cp
	if p.IdempotencyKey != "" {
		m.byKey[p.IdempotencyKey] = p.ID
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(id)
}

func (m *MemoryStore) get(id string) (*Payout, error) {
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetByIdempotencyKey(ctx context.Context, key string) (*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return m.get(id)
}

func (m *MemoryStore) GetByTransferRef(ctx context.Context, ref string) (*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return m.get(id)
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from []Status, to Status, transferRef, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return ErrNotFound
	}
	matched := false
	for _, f := range from {
		if p.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return ErrNotSettleable
	}
	p.Status = to
	if transferRef != "" {
		p.TransferRef = transferRef
		m.byRef[transferRef] = id
	}
	if reason != "" {
		p.FailureReason = reason
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Payout
	for _, p := range m.payouts {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
