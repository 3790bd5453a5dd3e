package pool

import (
	"context"
	"sync"
	"time"

	"github.com/dkims/askpay/internal/syncutil"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	pools   map[string]*DistributionPool
	members map[string]map[string]*PoolMember // questionID -> responderID
	refs    map[string]bool                   // applied accumulation refs
	locks   *syncutil.ContextShardedMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:   make(map[string]*DistributionPool),
		members: make(map[string]map[string]*PoolMember),
		refs:    make(map[string]bool),
		locks:   syncutil.NewContextShardedMutex(),
	}
}

func (m *MemoryStore) getOrCreate(questionID string) *DistributionPool {
	p, ok := m.pools[questionID]
	if !ok {
		p = &DistributionPool{QuestionID: questionID, UpdatedAt: time.Now().UTC()}
		m.pools[questionID] = p
	}
	return p
}

func (m *MemoryStore) GetPool(ctx context.Context, questionID string) (*DistributionPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[questionID]
	if !ok {
		return &DistributionPool{QuestionID: questionID}, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) add(ctx context.Context, questionID string, amount int64, ref string, best bool) error {
	unlock, err := m.locks.LockContext(ctx, "pool:"+questionID)
	if err != nil {
		return err
	}
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[ref] {
		return nil
	}
	p := m.getOrCreate(questionID)
	if best {
		p.HeldForBest += amount
	} else {
		p.TotalAmount += amount
	}
	p.UpdatedAt = time.Now().UTC()
	m.refs[ref] = true
	return nil
}

func (m *MemoryStore) AddHeldForBest(ctx context.Context, questionID string, amount int64, ref string) error {
	return m.add(ctx, questionID, amount, ref, true)
}

func (m *MemoryStore) AddTotal(ctx context.Context, questionID string, amount int64, ref string) error {
	return m.add(ctx, questionID, amount, ref, false)
}

func (m *MemoryStore) DeductHeldForBest(ctx context.Context, questionID string, expectedRound, released int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[questionID]
	if !ok {
		return ErrPoolNotFound
	}
	if p.BestRound != expectedRound || p.HeldForBest < released {
		return ErrStaleRound
	}
	p.HeldForBest -= released
	p.BestRound++
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CompleteDistribution(ctx context.Context, questionID string, expectedRound, distributed int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[questionID]
	if !ok {
		return ErrPoolNotFound
	}
	if p.OthersRound != expectedRound || p.TotalAmount < distributed {
		return ErrStaleRound
	}
	p.TotalAmount -= distributed
	p.OthersRound++
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpsertMember(ctx context.Context, questionID, responderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byQ, ok := m.members[questionID]
	if !ok {
		byQ = make(map[string]*PoolMember)
		m.members[questionID] = byQ
	}
	if _, exists := byQ[responderID]; exists {
		return nil
	}
	byQ[responderID] = &PoolMember{
		QuestionID:  questionID,
		ResponderID: responderID,
		JoinedAt:    time.Now().UTC(),
	}
	return nil
}

func (m *MemoryStore) SetExcluded(ctx context.Context, questionID, responderID string, excluded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byQ, ok := m.members[questionID]
	if !ok {
		return ErrMemberNotFound
	}
	member, ok := byQ[responderID]
	if !ok {
		return ErrMemberNotFound
	}
	member.IsExcluded = excluded
	return nil
}

func (m *MemoryStore) ListMembers(ctx context.Context, questionID string) ([]*PoolMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PoolMember
	for _, member := range m.members[questionID] {
		cp := *member
		out = append(out, &cp)
	}
	return out, nil
}
