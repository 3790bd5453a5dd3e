// Package escrow manages bounty funds from authorization to capture.
//
// The bounty is authorized as a manual-capture payment when the question
// is posted, captured when the question settles, and voided if the
// question dies before settlement. Real money only moves at the provider;
// the ledger and wallets record what happened.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkims/askpay/internal/config"
	"github.com/dkims/askpay/internal/ledger"
	"github.com/dkims/askpay/internal/logging"
	"github.com/dkims/askpay/internal/metrics"
	"github.com/dkims/askpay/internal/money"
	"github.com/dkims/askpay/internal/provider"
	"github.com/dkims/askpay/internal/question"
	"github.com/dkims/askpay/internal/traces"
	"github.com/dkims/askpay/internal/wallet"
)

var (
	ErrInvalidAmount   = errors.New("invalid escrow amount")
	ErrAlreadyFunded   = errors.New("question already funded")
	ErrNotAuthorized   = errors.New("no active escrow authorization")
	ErrNotCapturable   = errors.New("question not in a capturable state")
	ErrAlreadyCaptured = errors.New("escrow already captured")
)

// Pool receives the bounty remainder when no best answer is chosen yet.
type Pool interface {
	AddHeldForBest(ctx context.Context, questionID string, amount int64, ref string) error
}

// CaptureResult describes a completed bounty capture.
type CaptureResult struct {
	Transaction *ledger.Transaction `json:"transaction"`
	PlatformFee int64               `json:"platformFee"`
	Net         int64               `json:"net"`
	CreditedTo  string              `json:"creditedTo"` // responder id, or "pool"
}

// Service manages bounty escrow.
type Service struct {
	questions *question.Service
	ledger    *ledger.Ledger
	wallets   *wallet.Service
	pool      Pool
	provider  provider.Provider
	fees      config.Fees
}

// New creates an escrow service.
func New(questions *question.Service, led *ledger.Ledger, wallets *wallet.Service, pool Pool, prov provider.Provider, fees config.Fees) *Service {
	return &Service{
		questions: questions,
		ledger:    led,
		wallets:   wallets,
		pool:      pool,
		provider:  prov,
		fees:      fees,
	}
}

// Authorize places a manual-capture hold for the question's bounty and
// moves the question to PENDING_PAYMENT. The webhook reconciler promotes
// it to FUNDED once the provider confirms the authorization.
func (s *Service) Authorize(ctx context.Context, questionID string, amount int64, paymentMethod string) (*question.Question, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.authorize",
		traces.QuestionID(questionID), traces.Amount(amount))
	defer span.End()

	q, err := s.questions.Get(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if amount <= 0 || amount != q.BountyAmount {
		return nil, ErrInvalidAmount
	}
	if q.Status != question.StatusDraft && q.Status != question.StatusPendingPayment {
		return nil, ErrAlreadyFunded
	}

	ref, err := s.provider.Authorize(ctx, provider.AuthorizeParams{
		Amount:         amount,
		Currency:       q.Currency,
		UserID:         q.AskerID,
		QuestionID:     q.ID,
		PaymentMethod:  paymentMethod,
		IdempotencyKey: "escrow:" + q.ID,
	})
	if err != nil {
		metrics.EscrowsTotal.WithLabelValues("authorize_failed").Inc()
		return nil, fmt.Errorf("provider authorization failed: %w", err)
	}

	if err := s.questions.SetEscrowReference(ctx, q.ID, ref.ID); err != nil {
		// Authorization exists at the provider but not in our records.
		logging.Audit(ctx, "escrow authorization recorded at provider but reference write failed",
			"question_id", q.ID, "provider_ref", ref.ID, "error", err)
		return nil, err
	}

	if q.Status == question.StatusDraft {
		if err := s.questions.Transition(ctx, q.ID, question.StatusPendingPayment); err != nil && !errors.Is(err, question.ErrInvalidTransition) {
			return nil, err
		}
	}

	metrics.EscrowsTotal.WithLabelValues("authorized").Inc()
	logging.L(ctx).Info("escrow authorized",
		"question_id", q.ID, "amount", amount, "provider_ref", ref.ID)
	return s.questions.Get(ctx, q.ID)
}

// MarkFunded promotes a PENDING_PAYMENT question to FUNDED once the
// provider confirms its authorization, recording a PENDING escrow
// transaction with the fee breakdown precomputed. Called by the webhook
// reconciler; replays are no-ops.
func (s *Service) MarkFunded(ctx context.Context, providerRef string) (*question.Question, error) {
	q, err := s.questions.GetByEscrowReference(ctx, providerRef)
	if err != nil {
		return nil, err
	}

	fee, net := money.EscrowFee(q.BountyAmount, s.fees)
	if _, err := s.ledger.Record(ctx, &ledger.Transaction{
		UserID:      q.AskerID,
		QuestionID:  q.ID,
		Type:        ledger.TypeEscrow,
		Status:      ledger.StatusPending,
		Amount:      q.BountyAmount,
		PlatformFee: fee,
		BestShare:   net,
		ProviderRef: providerRef,
		Description: "bounty escrow",
	}); err != nil {
		return nil, err
	}

	if err := s.questions.TransitionFrom(ctx, q.ID, question.StatusPendingPayment, question.StatusFunded); err != nil && !errors.Is(err, question.ErrInvalidTransition) {
		return nil, err
	}
	metrics.EscrowsTotal.WithLabelValues("funded").Inc()
	return s.questions.Get(ctx, q.ID)
}

// Capture captures the full bounty from an active authorization. The
// platform fee is floored; the remainder goes to the best responder's
// wallet if one is chosen, otherwise into the pool's best reserve.
// Replaying a capture returns the prior result.
func (s *Service) Capture(ctx context.Context, questionID string) (*CaptureResult, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.capture", traces.QuestionID(questionID))
	defer span.End()

	q, err := s.questions.Get(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.EscrowReference == "" {
		return nil, ErrNotAuthorized
	}
	switch q.Status {
	case question.StatusFunded, question.StatusAnswering, question.StatusSelecting, question.StatusBestSelected:
	default:
		return nil, ErrNotCapturable
	}

	fee, net := money.EscrowFee(q.BountyAmount, s.fees)

	// Idempotency: the escrow transaction carries the provider reference.
	txn, err := s.ledger.GetByProviderRef(ctx, q.EscrowReference)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		txn, err = s.ledger.Record(ctx, &ledger.Transaction{
			UserID:      q.AskerID,
			QuestionID:  q.ID,
			Type:        ledger.TypeEscrow,
			Status:      ledger.StatusPending,
			Amount:      q.BountyAmount,
			PlatformFee: fee,
			BestShare:   net,
			ProviderRef: q.EscrowReference,
			Description: "bounty escrow",
		})
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	alreadyCaptured := txn.Status == ledger.StatusCompleted

	if !alreadyCaptured {
		if _, err := s.provider.Capture(ctx, q.EscrowReference, q.BountyAmount); err != nil {
			metrics.EscrowsTotal.WithLabelValues("capture_failed").Inc()
			return nil, fmt.Errorf("provider capture failed: %w", err)
		}
		if err := s.ledger.Complete(ctx, txn.ID); err != nil {
			logging.Audit(ctx, "bounty captured at provider but ledger completion failed",
				"question_id", q.ID, "transaction_id", txn.ID, "error", err)
			return nil, err
		}
	}

	// Credit is keyed on the transaction id, so the replay path below
	// repairs a crash between capture and credit without double-paying.
	result := &CaptureResult{Transaction: txn, PlatformFee: fee, Net: net}
	if q.BestAnswerID != "" {
		best, err := s.questions.GetAnswer(ctx, q.BestAnswerID)
		if err != nil {
			return nil, err
		}
		if _, err := s.wallets.Credit(ctx, best.ResponderID, net, "escrow_capture", txn.ID, "bounty for best answer"); err != nil {
			logging.Audit(ctx, "bounty captured but best responder credit failed",
				"question_id", q.ID, "responder_id", best.ResponderID, "error", err)
			return nil, err
		}
		result.CreditedTo = best.ResponderID
		if err := s.questions.TransitionFrom(ctx, q.ID, question.StatusBestSelected, question.StatusResolved); err != nil && !errors.Is(err, question.ErrInvalidTransition) {
			return nil, err
		}
	} else {
		if err := s.pool.AddHeldForBest(ctx, q.ID, net, "escrow_capture:"+txn.ID); err != nil {
			logging.Audit(ctx, "bounty captured but pool reserve write failed",
				"question_id", q.ID, "error", err)
			return nil, err
		}
		result.CreditedTo = "pool"
	}

	if !alreadyCaptured {
		metrics.EscrowsTotal.WithLabelValues("captured").Inc()
		logging.L(ctx).Info("escrow captured",
			"question_id", q.ID, "amount", q.BountyAmount, "fee", fee, "credited_to", result.CreditedTo)
	}

	txn, err = s.ledger.Get(ctx, txn.ID)
	if err == nil {
		result.Transaction = txn
	}
	return result, nil
}

// Release voids an uncaptured authorization and records the refund. The
// question exits to CANCELLED (never funded) or REFUNDED (funded but
// abandoned before settlement).
func (s *Service) Release(ctx context.Context, questionID string) (*question.Question, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.release", traces.QuestionID(questionID))
	defer span.End()

	q, err := s.questions.Get(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.EscrowReference == "" {
		return nil, ErrNotAuthorized
	}

	// A completed capture cannot be released.
	if txn, err := s.ledger.GetByProviderRef(ctx, q.EscrowReference); err == nil && txn.Status == ledger.StatusCompleted {
		return nil, ErrAlreadyCaptured
	}

	var exit question.Status
	switch q.Status {
	case question.StatusDraft, question.StatusPendingPayment:
		exit = question.StatusCancelled
	case question.StatusFunded, question.StatusAnswering, question.StatusSelecting:
		exit = question.StatusRefunded
	default:
		return nil, ErrNotCapturable
	}

	if err := s.provider.Cancel(ctx, q.EscrowReference); err != nil && !errors.Is(err, provider.ErrNotFound) {
		metrics.EscrowsTotal.WithLabelValues("release_failed").Inc()
		return nil, fmt.Errorf("provider cancel failed: %w", err)
	}

	if _, err := s.ledger.Record(ctx, &ledger.Transaction{
		UserID:      q.AskerID,
		QuestionID:  q.ID,
		Type:        ledger.TypeRefund,
		Status:      ledger.StatusCompleted,
		Amount:      q.BountyAmount,
		ProviderRef: "cancel:" + q.EscrowReference,
		Description: "escrow authorization voided",
	}); err != nil {
		return nil, err
	}

	if err := s.questions.Transition(ctx, q.ID, exit); err != nil && !errors.Is(err, question.ErrInvalidTransition) {
		return nil, err
	}

	metrics.EscrowsTotal.WithLabelValues("released").Inc()
	logging.L(ctx).Info("escrow released", "question_id", q.ID, "exit", string(exit))
	return s.questions.Get(ctx, q.ID)
}
