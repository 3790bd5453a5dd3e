// Package question tracks bounty-backed questions and their answers.
//
// A question moves through a fixed lifecycle:
//
//	DRAFT -> PENDING_PAYMENT -> FUNDED -> ANSWERING -> SELECTING
//	      -> BEST_SELECTED -> RESOLVED
//
// EXPIRED, CANCELLED, and REFUNDED are exits from pre-settlement states
// only; once a best answer is selected the question can only resolve.
package question

import (
	"context"
	"errors"
	"time"

	"github.com/dkims/askpay/internal/idgen"
	"github.com/dkims/askpay/internal/validation"
)

var (
	ErrNotFound            = errors.New("question not found")
	ErrAnswerNotFound      = errors.New("answer not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrBestAlreadySelected = errors.New("best answer already selected")
	ErrSelfAnswer          = errors.New("asker cannot answer own question")
	ErrInvalidInput        = errors.New("invalid input")
)

// Status is a question lifecycle state.
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusFunded         Status = "FUNDED"
	StatusAnswering      Status = "ANSWERING"
	StatusSelecting      Status = "SELECTING"
	StatusBestSelected   Status = "BEST_SELECTED"
	StatusResolved       Status = "RESOLVED"
	StatusExpired        Status = "EXPIRED"
	StatusCancelled      Status = "CANCELLED"
	StatusRefunded       Status = "REFUNDED"
)

// transitions is the set of legal status moves.
var transitions = map[Status][]Status{
	StatusDraft:          {StatusPendingPayment, StatusCancelled, StatusExpired},
	StatusPendingPayment: {StatusFunded, StatusCancelled, StatusExpired},
	StatusFunded:         {StatusAnswering, StatusCancelled, StatusExpired, StatusRefunded},
	StatusAnswering:      {StatusSelecting, StatusExpired, StatusRefunded},
	StatusSelecting:      {StatusBestSelected, StatusExpired, StatusRefunded},
	StatusBestSelected:   {StatusResolved},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Question is a bounty-backed question.
type Question struct {
	ID               string    `json:"id"`
	AskerID          string    `json:"askerId"`
	Title            string    `json:"title"`
	Body             string    `json:"body,omitempty"`
	BountyAmount     int64     `json:"bountyAmount"` // smallest currency unit
	Currency         string    `json:"currency"`
	Status           Status    `json:"status"`
	BestAnswerID     string    `json:"bestAnswerId,omitempty"`
	EscrowReference  string    `json:"escrowReference,omitempty"`
	PPVPurchaseCount int64     `json:"ppvPurchaseCount"`
	TotalPPVRevenue  int64     `json:"totalPpvRevenue"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Answer is one responder's answer to a question.
type Answer struct {
	ID          string    `json:"id"`
	QuestionID  string    `json:"questionId"`
	ResponderID string    `json:"responderId"`
	Body        string    `json:"body,omitempty"`
	IsBest      bool      `json:"isBest"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists questions and answers.
type Store interface {
	CreateQuestion(ctx context.Context, q *Question) error
	GetQuestion(ctx context.Context, id string) (*Question, error)
	GetQuestionByEscrowRef(ctx context.Context, ref string) (*Question, error)
	// UpdateStatus moves a question from one of the given statuses to the
	// target status. Returns ErrInvalidTransition if the question is not in
	// any of the from statuses.
	UpdateStatus(ctx context.Context, id string, from []Status, to Status) error
	SetEscrowReference(ctx context.Context, id, ref string) error
	// SetBestAnswer records the best answer exactly once. Returns
	// ErrBestAlreadySelected if one is already recorded.
	SetBestAnswer(ctx context.Context, questionID, answerID string) error
	IncrementPPV(ctx context.Context, id string, revenue int64) error

	CreateAnswer(ctx context.Context, a *Answer) error
	GetAnswer(ctx context.Context, id string) (*Answer, error)
	ListAnswers(ctx context.Context, questionID string) ([]*Answer, error)
}

// Service manages the question lifecycle.
type Service struct {
	store Store
}

// New creates a question service.
func New(store Store) *Service {
	return &Service{store: store}
}

// Create registers a new DRAFT question.
func (s *Service) Create(ctx context.Context, askerID, title, body string, bountyAmount int64, currency string) (*Question, error) {
	if askerID == "" || title == "" || bountyAmount <= 0 {
		return nil, ErrInvalidInput
	}
	now := time.Now().UTC()
	q := &Question{
		ID:           idgen.WithPrefix("qst_"),
		AskerID:      askerID,
		Title:        validation.SanitizeString(title, 500),
		Body:         validation.SanitizeString(body, validation.MaxStringLength),
		BountyAmount: bountyAmount,
		Currency:     currency,
		Status:       StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// Get returns a question by id.
func (s *Service) Get(ctx context.Context, id string) (*Question, error) {
	return s.store.GetQuestion(ctx, id)
}

// PostAnswer records a responder's answer. The asker cannot answer their
// own question. Posting the first answer moves a FUNDED question to
// ANSWERING.
func (s *Service) PostAnswer(ctx context.Context, questionID, responderID, body string) (*Answer, error) {
	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.AskerID == responderID {
		return nil, ErrSelfAnswer
	}
	if q.Status != StatusFunded && q.Status != StatusAnswering {
		return nil, ErrInvalidTransition
	}

	a := &Answer{
		ID:          idgen.WithPrefix("ans_"),
		QuestionID:  questionID,
		ResponderID: responderID,
		Body:        validation.SanitizeString(body, validation.MaxStringLength),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateAnswer(ctx, a); err != nil {
		return nil, err
	}

	if q.Status == StatusFunded {
		// Best effort: a concurrent answer may already have moved it.
		if err := s.store.UpdateStatus(ctx, questionID, []Status{StatusFunded}, StatusAnswering); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
	}
	return a, nil
}

// GetAnswer returns an answer by id.
func (s *Service) GetAnswer(ctx context.Context, id string) (*Answer, error) {
	return s.store.GetAnswer(ctx, id)
}

// ListAnswers lists the answers to a question.
func (s *Service) ListAnswers(ctx context.Context, questionID string) ([]*Answer, error) {
	return s.store.ListAnswers(ctx, questionID)
}

// SelectBest marks an answer as the best answer. The choice is made at
// most once and is irrevocable; a second call fails with
// ErrBestAlreadySelected regardless of which answer it names.
func (s *Service) SelectBest(ctx context.Context, questionID, answerID string) (*Question, error) {
	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.BestAnswerID != "" {
		return nil, ErrBestAlreadySelected
	}

	a, err := s.store.GetAnswer(ctx, answerID)
	if err != nil {
		return nil, err
	}
	if a.QuestionID != questionID {
		return nil, ErrAnswerNotFound
	}

	// ANSWERING questions move through SELECTING implicitly.
	if q.Status == StatusAnswering {
		if err := s.store.UpdateStatus(ctx, questionID, []Status{StatusAnswering}, StatusSelecting); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
	}

	if err := s.store.SetBestAnswer(ctx, questionID, answerID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateStatus(ctx, questionID, []Status{StatusSelecting}, StatusBestSelected); err != nil && !errors.Is(err, ErrInvalidTransition) {
		return nil, err
	}
	return s.store.GetQuestion(ctx, questionID)
}

// IncrementPPV bumps the purchase count and adds revenue to the total.
func (s *Service) IncrementPPV(ctx context.Context, id string, revenue int64) error {
	return s.store.IncrementPPV(ctx, id, revenue)
}

// SetEscrowReference records the provider authorization reference.
func (s *Service) SetEscrowReference(ctx context.Context, id, ref string) error {
	return s.store.SetEscrowReference(ctx, id, ref)
}

// GetByEscrowReference finds the question holding an escrow reference.
func (s *Service) GetByEscrowReference(ctx context.Context, ref string) (*Question, error) {
	return s.store.GetQuestionByEscrowRef(ctx, ref)
}

// TransitionFrom moves a question from a specific status to another.
// Returns ErrInvalidTransition if the question is not in the from status.
func (s *Service) TransitionFrom(ctx context.Context, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return s.store.UpdateStatus(ctx, id, []Status{from}, to)
}

// Transition moves a question to a new status along a legal edge.
func (s *Service) Transition(ctx context.Context, id string, to Status) error {
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(q.Status, to) {
		return ErrInvalidTransition
	}
	return s.store.UpdateStatus(ctx, id, []Status{q.Status}, to)
}
