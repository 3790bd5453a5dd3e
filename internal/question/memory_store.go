package question

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory question store for demo/development mode.
type MemoryStore struct {
	questions map[string]*Question
	answers   map[string]*Answer
	byQ       map[string][]string // questionID -> answer IDs in post order
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory question store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		questions: make(map[string]*Question),
		answers:   make(map[string]*Answer),
		byQ:       make(map[string][]string),
	}
}

func (m *MemoryStore) CreateQuestion(ctx context.Context, q *Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *q
	m.questions[q.ID] = &cp
	return nil
}

func (m *MemoryStore) GetQuestion(ctx context.Context, id string) (*Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (m *MemoryStore) GetQuestionByEscrowRef(ctx context.Context, ref string) (*Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.questions {
		if q.EscrowReference == ref {
			cp := *q
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from []Status, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return ErrNotFound
	}
	for _, f := range from {
		if q.Status == f {
			q.Status = to
			q.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrInvalidTransition
}

func (m *MemoryStore) SetEscrowReference(ctx context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return ErrNotFound
	}
	q.EscrowReference = ref
	q.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetBestAnswer(ctx context.Context, questionID, answerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	if !ok {
		return ErrNotFound
	}
	if q.BestAnswerID != "" {
		return ErrBestAlreadySelected
	}
	a, ok := m.answers[answerID]
	if !ok || a.QuestionID != questionID {
		return ErrAnswerNotFound
	}
	q.BestAnswerID = answerID
	q.UpdatedAt = time.Now().UTC()
	a.IsBest = true
	return nil
}

func (m *MemoryStore) IncrementPPV(ctx context.Context, id string, revenue int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return ErrNotFound
	}
	q.PPVPurchaseCount++
	q.TotalPPVRevenue += revenue
	q.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CreateAnswer(ctx context.Context, a *Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.questions[a.QuestionID]; !ok {
		return ErrNotFound
	}
	cp := *a
	m.answers[a.ID] = &cp
	m.byQ[a.QuestionID] = append(m.byQ[a.QuestionID], a.ID)
	return nil
}

func (m *MemoryStore) GetAnswer(ctx context.Context, id string) (*Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.answers[id]
	if !ok {
		return nil, ErrAnswerNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListAnswers(ctx context.Context, questionID string) ([]*Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byQ[questionID]
	out := make([]*Answer, 0, len(ids))
	for _, id := range ids {
		cp := *m.answers[id]
		out = append(out, &cp)
	}
	return out, nil
}
