package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/dkims/askpay/internal/idgen"
	"github.com/dkims/askpay/internal/syncutil"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
// Per-wallet operations are serialized through a context-aware sharded
// mutex keyed by user id, so unrelated wallets never contend.
type MemoryStore struct {
	wallets map[string]*Wallet
	entries []*Transaction
	byRef   map[string]*Transaction
	locks   *syncutil.ContextShardedMutex
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
		byRef:   make(map[string]*Transaction),
		locks:   syncutil.NewContextShardedMutex(),
	}
}

func (m *MemoryStore) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.wallets[userID]; ok {
		cp := *w
		return &cp, nil
	}
	return &Wallet{UserID: userID, UpdatedAt: time.Now().UTC()}, nil
}

func (m *MemoryStore) Credit(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	return m.apply(ctx, userID, KindCredit, amount, refType, refID, description)
}

func (m *MemoryStore) Debit(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	return m.apply(ctx, userID, KindDebit, amount, refType, refID, description)
}

func (m *MemoryStore) Hold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	return m.apply(ctx, userID, KindHold, amount, refType, refID, description)
}

func (m *MemoryStore) ConfirmHold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	return m.apply(ctx, userID, KindHoldConfirm, amount, refType, refID, description)
}

func (m *MemoryStore) ReleaseHold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	return m.apply(ctx, userID, KindHoldRelease, amount, refType, refID, description)
}

func (m *MemoryStore) apply(ctx context.Context, userID string, kind Kind, amount int64, refType, refID, description string) (*Transaction, error) {
	unlock, err := m.locks.LockContext(ctx, "wallet:"+userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotency: a replayed reference returns the prior entry unchanged.
	if prior, ok := m.byRef[refKey(refType, refID)]; ok {
		cp := *prior
		return &cp, nil
	}

	w, ok := m.wallets[userID]
	if !ok {
		w = &Wallet{UserID: userID}
		m.wallets[userID] = w
	}

	entry := &Transaction{
		ID:            idgen.WithPrefix("wtx_"),
		UserID:        userID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: w.Available,
		ReferenceType: refType,
		ReferenceID:   refID,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}

	newAvailable := w.Available + entry.availableDelta()
	newPending := w.Pending + entry.pendingDelta()
	if newAvailable < 0 {
		return nil, ErrInsufficientFunds
	}
	if newPending < 0 {
		return nil, ErrInsufficientHold
	}

	w.Available = newAvailable
	w.Pending = newPending
	w.UpdatedAt = time.Now().UTC()
	entry.BalanceAfter = newAvailable

	m.entries = append(m.entries, entry)
	m.byRef[refKey(refType, refID)] = entry

	cp := *entry
	return &cp, nil
}

func (m *MemoryStore) FindByReference(ctx context.Context, refType, refID string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.byRef[refKey(refType, refID)]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, ErrWalletNotFound
}

func (m *MemoryStore) History(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Transaction
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			cp := *m.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) Log(ctx context.Context, userID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Transaction
	for _, e := range m.entries {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
