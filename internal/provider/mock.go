package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is an in-memory Provider for demo mode and tests. It honors
// idempotency keys and can be told to fail specific operations.
type Mock struct {
	mu          sync.Mutex
	seq         int
	payments    map[string]*PaymentRef
	transfers   map[string]*TransferRef
	byIdemKey   map[string]string // idempotency key -> object id
	FailCharges bool
	FailCapture bool
	FailXfer    bool
}

// NewMock creates a mock provider.
func NewMock() *Mock {
	return &Mock{
		payments:  make(map[string]*PaymentRef),
		transfers: make(map[string]*TransferRef),
		byIdemKey: make(map[string]string),
	}
}

func (m *Mock) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_mock_%d", prefix, m.seq)
}

func (m *Mock) Authorize(ctx context.Context, p AuthorizeParams) (*PaymentRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.IdempotencyKey != "" {
		if id, ok := m.byIdemKey[p.IdempotencyKey]; ok {
			return m.payments[id], nil
		}
	}

	ref := &PaymentRef{
		ID:       m.nextID("pi"),
		Amount:   p.Amount,
		Currency: p.Currency,
		Status:   "requires_capture",
		Created:  time.Now().UTC(),
	}
	m.payments[ref.ID] = ref
	if p.IdempotencyKey != "" {
		m.byIdemKey[p.IdempotencyKey] = ref.ID
	}
	return ref, nil
}

func (m *Mock) Capture(ctx context.Context, ref string, amount int64) (*PaymentRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCapture {
		return nil, ErrUnavailable
	}
	pi, ok := m.payments[ref]
	if !ok {
		return nil, ErrNotFound
	}
	pi.Status = "succeeded"
	pi.ChargeID = "ch_" + pi.ID
	return pi, nil
}

func (m *Mock) Cancel(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pi, ok := m.payments[ref]
	if !ok {
		return ErrNotFound
	}
	pi.Status = "canceled"
	return nil
}

func (m *Mock) Charge(ctx context.Context, p ChargeParams) (*PaymentRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCharges {
		return nil, ErrPaymentDeclined
	}
	if p.IdempotencyKey != "" {
		if id, ok := m.byIdemKey[p.IdempotencyKey]; ok {
			return m.payments[id], nil
		}
	}

	ref := &PaymentRef{
		ID:       m.nextID("pi"),
		Amount:   p.Amount,
		Currency: p.Currency,
		Status:   "succeeded",
		Created:  time.Now().UTC(),
	}
	ref.ChargeID = "ch_" + ref.ID
	m.payments[ref.ID] = ref
	if p.IdempotencyKey != "" {
		m.byIdemKey[p.IdempotencyKey] = ref.ID
	}
	return ref, nil
}

func (m *Mock) Transfer(ctx context.Context, p TransferParams) (*TransferRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailXfer {
		return nil, ErrUnavailable
	}
	if p.IdempotencyKey != "" {
		if id, ok := m.byIdemKey[p.IdempotencyKey]; ok {
			return m.transfers[id], nil
		}
	}

	tr := &TransferRef{
		ID:          m.nextID("tr"),
		Amount:      p.Amount,
		Currency:    p.Currency,
		Destination: p.Destination,
		Created:     time.Now().UTC(),
	}
	m.transfers[tr.ID] = tr
	if p.IdempotencyKey != "" {
		m.byIdemKey[p.IdempotencyKey] = tr.ID
	}
	return tr, nil
}

// Payment returns a recorded payment by id (test helper).
func (m *Mock) Payment(id string) (*PaymentRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.payments[id]
	return pi, ok
}
