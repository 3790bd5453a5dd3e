package ppv

import (
	"context"
	"sync"
)

// MemoryGrantStore is an in-memory GrantStore for tests and local
// development.
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[string]*AccessGrant // questionID + "\x00" + userID
}

// NewMemoryGrantStore creates an empty in-memory grant store.
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string]*AccessGrant)}
}

func grantKey(questionID, userID string) string {
	return questionID + "\x00" + userID
}

func (m *MemoryGrantStore) Create(ctx context.Context, grant *AccessGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := grantKey(grant.QuestionID, grant.UserID)
	if _, exists := m.grants[key]; exists {
		return ErrAlreadyPurchased
	}
	cp := *grant
	m.grants[key] = &cp
	return nil
}

func (m *MemoryGrantStore) Get(ctx context.Context, questionID, userID string) (*AccessGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	grant, ok := m.grants[grantKey(questionID, userID)]
	if !ok {
		return nil, ErrGrantNotFound
	}
	cp := *grant
	return &cp, nil
}

func (m *MemoryGrantStore) ListByQuestion(ctx context.Context, questionID string) ([]*AccessGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*AccessGrant
	for _, grant := range m.grants {
		if grant.QuestionID == questionID {
			cp := *grant
			out = append(out, &cp)
		}
	}
	return out, nil
}
