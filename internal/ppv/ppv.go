// Package ppv sells paid access to funded questions and splits the
// revenue four ways.
//
// The buyer pays the full bounty amount. The platform takes 20%, the
// asker 40%, and the best responder 24%, each rounded half-up; the
// others pool absorbs whatever remains, so the four shares always sum
// exactly to the gross amount.
package ppv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkims/askpay/internal/config"
	"github.com/dkims/askpay/internal/idgen"
	"github.com/dkims/askpay/internal/ledger"
	"github.com/dkims/askpay/internal/logging"
	"github.com/dkims/askpay/internal/metrics"
	"github.com/dkims/askpay/internal/money"
	"github.com/dkims/askpay/internal/pool"
	"github.com/dkims/askpay/internal/provider"
	"github.com/dkims/askpay/internal/question"
	"github.com/dkims/askpay/internal/traces"
	"github.com/dkims/askpay/internal/wallet"
)

var (
	ErrSelfPurchase     = errors.New("asker cannot purchase their own question")
	ErrAlreadyPurchased = errors.New("access already purchased")
	ErrNotPurchasable   = errors.New("question not open for purchase")
	ErrGrantNotFound    = errors.New("access grant not found")
)

// AccessGrant records that a user paid for access to a question.
type AccessGrant struct {
	ID            string    `json:"id"`
	QuestionID    string    `json:"questionId"`
	UserID        string    `json:"userId"`
	TransactionID string    `json:"transactionId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// GrantStore persists access grants. Create must enforce uniqueness on
// (question_id, user_id).
type GrantStore interface {
	Create(ctx context.Context, grant *AccessGrant) error
	Get(ctx context.Context, questionID, userID string) (*AccessGrant, error)
	ListByQuestion(ctx context.Context, questionID string) ([]*AccessGrant, error)
}

// Notifier delivers purchase notifications. Failures are logged, never
// propagated; notification is best-effort by contract.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, data map[string]any)
}

// PurchaseResult describes a completed purchase.
type PurchaseResult struct {
	Grant       *AccessGrant        `json:"grant"`
	Transaction *ledger.Transaction `json:"transaction"`
	Split       money.PPVSplit      `json:"split"`
}

// Service sells question access.
type Service struct {
	questions *question.Service
	grants    GrantStore
	ledger    *ledger.Ledger
	wallets   *wallet.Service
	pools     *pool.Service
	provider  provider.Provider
	notifier  Notifier
	fees      config.Fees
}

// New creates a PPV service. notifier may be nil.
func New(questions *question.Service, grants GrantStore, led *ledger.Ledger, wallets *wallet.Service, pools *pool.Service, prov provider.Provider, notifier Notifier, fees config.Fees) *Service {
	return &Service{
		questions: questions,
		grants:    grants,
		ledger:    led,
		wallets:   wallets,
		pools:     pools,
		provider:  prov,
		notifier:  notifier,
		fees:      fees,
	}
}

// HasAccess reports whether userID already holds a grant for the question.
func (s *Service) HasAccess(ctx context.Context, questionID, userID string) (bool, error) {
	_, err := s.grants.Get(ctx, questionID, userID)
	if errors.Is(err, ErrGrantNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Purchase charges the buyer the full bounty amount, splits the revenue,
// and grants access. The charge carries an idempotency key derived from
// the buyer and question, and every downstream credit is keyed to the
// purchase transaction, so a retried purchase neither double-charges nor
// double-credits.
func (s *Service) Purchase(ctx context.Context, questionID, buyerID string) (*PurchaseResult, error) {
	ctx, span := traces.StartSpan(ctx, "ppv.purchase",
		traces.QuestionID(questionID), traces.UserID(buyerID))
	defer span.End()

	q, err := s.questions.Get(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.AskerID == buyerID {
		metrics.PPVPurchasesTotal.WithLabelValues("self_rejected").Inc()
		return nil, ErrSelfPurchase
	}
	// Open for purchase from FUNDED onward; shares that have no taker
	// yet accumulate in the pool until settlement.
	switch q.Status {
	case question.StatusFunded, question.StatusAnswering, question.StatusSelecting, question.StatusBestSelected, question.StatusResolved:
	default:
		return nil, ErrNotPurchasable
	}

	if _, err := s.grants.Get(ctx, questionID, buyerID); err == nil {
		metrics.PPVPurchasesTotal.WithLabelValues("duplicate_rejected").Inc()
		return nil, ErrAlreadyPurchased
	} else if !errors.Is(err, ErrGrantNotFound) {
		return nil, err
	}

	amount := q.BountyAmount
	split, err := money.SplitPPV(amount, s.fees)
	if err != nil {
		return nil, err
	}

	ref, err := s.provider.Charge(ctx, provider.ChargeParams{
		Amount:         amount,
		Currency:       q.Currency,
		UserID:         buyerID,
		QuestionID:     q.ID,
		IdempotencyKey: fmt.Sprintf("ppv:%s:%s", q.ID, buyerID),
	})
	if err != nil {
		metrics.PPVPurchasesTotal.WithLabelValues("charge_failed").Inc()
		return nil, fmt.Errorf("provider charge failed: %w", err)
	}

	txn, err := s.ledger.Record(ctx, &ledger.Transaction{
		UserID:      buyerID,
		QuestionID:  q.ID,
		Type:        ledger.TypePPV,
		Status:      ledger.StatusCompleted,
		Amount:      amount,
		PlatformFee: split.Platform,
		AskerShare:  split.Asker,
		BestShare:   split.Best,
		OthersShare: split.Others,
		ProviderRef: ref.ID,
		Description: "pay-per-view purchase",
	})
	if err != nil {
		logging.Audit(ctx, "buyer charged but purchase transaction write failed",
			"question_id", q.ID, "buyer_id", buyerID, "provider_ref", ref.ID, "error", err)
		return nil, err
	}

	grant := &AccessGrant{
		ID:            idgen.New(),
		QuestionID:    q.ID,
		UserID:        buyerID,
		TransactionID: txn.ID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.grants.Create(ctx, grant); err != nil {
		if errors.Is(err, ErrAlreadyPurchased) {
			// A concurrent purchase won; the charge above was deduplicated
			// by the idempotency key, so no money is stranded.
			existing, gerr := s.grants.Get(ctx, questionID, buyerID)
			if gerr != nil {
				return nil, gerr
			}
			grant = existing
		} else {
			logging.Audit(ctx, "buyer charged but access grant write failed",
				"question_id", q.ID, "buyer_id", buyerID, "transaction_id", txn.ID, "error", err)
			return nil, err
		}
	}

	if err := s.settle(ctx, q, txn, split); err != nil {
		return nil, err
	}

	if err := s.questions.IncrementPPV(ctx, q.ID, amount); err != nil {
		logging.L(ctx).Warn("ppv counters not updated", "question_id", q.ID, "error", err)
	}

	s.notify(ctx, q, buyerID, amount)

	metrics.PPVPurchasesTotal.WithLabelValues("completed").Inc()
	logging.L(ctx).Info("ppv purchase completed",
		"question_id", q.ID, "buyer_id", buyerID, "amount", amount,
		"platform", split.Platform, "asker", split.Asker, "best", split.Best, "others", split.Others)
	return &PurchaseResult{Grant: grant, Transaction: txn, Split: split}, nil
}

// settle routes the asker, best, and others shares. Every write is
// idempotent on the purchase transaction id.
func (s *Service) settle(ctx context.Context, q *question.Question, txn *ledger.Transaction, split money.PPVSplit) error {
	if _, err := s.wallets.Credit(ctx, q.AskerID, split.Asker, "ppv_asker", txn.ID, "asker share of ppv purchase"); err != nil {
		logging.Audit(ctx, "purchase recorded but asker credit failed",
			"question_id", q.ID, "transaction_id", txn.ID, "error", err)
		return err
	}

	if q.BestAnswerID != "" {
		best, err := s.questions.GetAnswer(ctx, q.BestAnswerID)
		if err != nil {
			return err
		}
		if _, err := s.wallets.Credit(ctx, best.ResponderID, split.Best, "ppv_best", txn.ID, "best responder share of ppv purchase"); err != nil {
			logging.Audit(ctx, "purchase recorded but best responder credit failed",
				"question_id", q.ID, "transaction_id", txn.ID, "error", err)
			return err
		}
	} else {
		if err := s.pools.AddHeldForBest(ctx, q.ID, split.Best, "ppv_best:"+txn.ID); err != nil {
			logging.Audit(ctx, "purchase recorded but pool best reserve write failed",
				"question_id", q.ID, "transaction_id", txn.ID, "error", err)
			return err
		}
	}

	if err := s.pools.AddOthers(ctx, q.ID, split.Others, "ppv_others:"+txn.ID); err != nil {
		logging.Audit(ctx, "purchase recorded but pool others write failed",
			"question_id", q.ID, "transaction_id", txn.ID, "error", err)
		return err
	}

	// Enroll every non-best responder so the others share has takers.
	answers, err := s.questions.ListAnswers(ctx, q.ID)
	if err != nil {
		return err
	}
	for _, a := range answers {
		if a.ID == q.BestAnswerID {
			continue
		}
		if err := s.pools.RegisterMember(ctx, q.ID, a.ResponderID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) notify(ctx context.Context, q *question.Question, buyerID string, amount int64) {
	if s.notifier == nil {
		return
	}
	data := map[string]any{
		"question_id": q.ID,
		"amount":      amount,
	}
	s.notifier.Notify(ctx, q.AskerID, "ppv.sold", data)
	s.notifier.Notify(ctx, buyerID, "ppv.purchased", data)
}
