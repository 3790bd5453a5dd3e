// Package pool accumulates PPV revenue shares and settles them.
//
// Each question owns one distribution pool with two buckets: held_for_best
// (the best responder's share, released once the best answer is chosen)
// and total_amount (the "others" share, divided evenly across eligible
// pool members). Division uses floor arithmetic; the remainder stays in
// the pool and carries into the next distribution round, so money is
// never lost to rounding.
//
// Every credit is keyed by pool, round, and member, which makes both
// settlement operations safe to re-run after a crash or a replayed
// request.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkims/askpay/internal/logging"
	"github.com/dkims/askpay/internal/metrics"
	"github.com/dkims/askpay/internal/money"
	"github.com/dkims/askpay/internal/question"
	"github.com/dkims/askpay/internal/traces"
	"github.com/dkims/askpay/internal/wallet"
)

var (
	ErrPoolNotFound   = errors.New("distribution pool not found")
	ErrMemberNotFound = errors.New("pool member not found")
	ErrNoBestAnswer   = errors.New("no best answer selected")
	ErrStaleRound     = errors.New("distribution round already completed")
)

// DistributionPool holds undistributed PPV revenue for one question.
type DistributionPool struct {
	QuestionID  string    `json:"questionId"`
	HeldForBest int64     `json:"heldForBest"`
	TotalAmount int64     `json:"totalAmount"`
	BestRound   int64     `json:"bestRound"`   // completed best releases
	OthersRound int64     `json:"othersRound"` // completed others distributions
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PoolMember is a responder eligible for the others share.
type PoolMember struct {
	QuestionID  string    `json:"questionId"`
	ResponderID string    `json:"responderId"`
	IsExcluded  bool      `json:"isExcluded"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Store persists pools and members. Accumulation methods are idempotent
// on ref; round-completion methods are conditional on the expected round.
type Store interface {
	GetPool(ctx context.Context, questionID string) (*DistributionPool, error)
	AddHeldForBest(ctx context.Context, questionID string, amount int64, ref string) error
	AddTotal(ctx context.Context, questionID string, amount int64, ref string) error
	// DeductHeldForBest subtracts the released amount from the best
	// reserve and advances BestRound, but only if BestRound still equals
	// expectedRound. Subtraction rather than zeroing: an accumulation
	// that lands between the caller's read and this write stays in the
	// reserve.
	DeductHeldForBest(ctx context.Context, questionID string, expectedRound, released int64) error
	// CompleteDistribution subtracts the distributed amount from
	// TotalAmount and advances OthersRound, but only if OthersRound
	// still equals expectedRound. The carry remainder is whatever is
	// left, concurrent accumulations included.
	CompleteDistribution(ctx context.Context, questionID string, expectedRound, distributed int64) error

	UpsertMember(ctx context.Context, questionID, responderID string) error
	SetExcluded(ctx context.Context, questionID, responderID string, excluded bool) error
	ListMembers(ctx context.Context, questionID string) ([]*PoolMember, error)
}

// DistributionResult describes one completed others-share run.
type DistributionResult struct {
	QuestionID string   `json:"questionId"`
	Total      int64    `json:"total"`
	PerMember  int64    `json:"perMember"`
	Remainder  int64    `json:"remainder"` // carried into the next round
	Members    []string `json:"members"`
	PromotedTo string   `json:"promotedTo,omitempty"` // best responder, when no members exist
}

// Service settles pooled revenue.
type Service struct {
	store     Store
	wallets   *wallet.Service
	questions *question.Service
}

// New creates a pool service.
func New(store Store, wallets *wallet.Service, questions *question.Service) *Service {
	return &Service{store: store, wallets: wallets, questions: questions}
}

// Get returns a question's pool.
func (s *Service) Get(ctx context.Context, questionID string) (*DistributionPool, error) {
	return s.store.GetPool(ctx, questionID)
}

// AddHeldForBest accumulates into the best reserve. Idempotent on ref.
func (s *Service) AddHeldForBest(ctx context.Context, questionID string, amount int64, ref string) error {
	if amount <= 0 {
		return nil
	}
	return s.store.AddHeldForBest(ctx, questionID, amount, ref)
}

// AddOthers accumulates into the others bucket. Idempotent on ref.
func (s *Service) AddOthers(ctx context.Context, questionID string, amount int64, ref string) error {
	if amount <= 0 {
		return nil
	}
	return s.store.AddTotal(ctx, questionID, amount, ref)
}

// RegisterMember adds a responder to the pool if not already present.
// Excluded members stay excluded.
func (s *Service) RegisterMember(ctx context.Context, questionID, responderID string) error {
	return s.store.UpsertMember(ctx, questionID, responderID)
}

// Exclude blocks a responder from future distributions.
func (s *Service) Exclude(ctx context.Context, questionID, responderID string) error {
	return s.store.SetExcluded(ctx, questionID, responderID, true)
}

// Restore unblocks a previously excluded responder.
func (s *Service) Restore(ctx context.Context, questionID, responderID string) error {
	return s.store.SetExcluded(ctx, questionID, responderID, false)
}

// Members lists all pool members, excluded included.
func (s *Service) Members(ctx context.Context, questionID string) ([]*PoolMember, error) {
	return s.store.ListMembers(ctx, questionID)
}

// ReleaseBest credits the best reserve as read to the chosen responder
// and deducts exactly that amount. Re-invocation with an empty reserve is
// a no-op; a crash between the credit and the deduction is repaired on
// replay because the credit is keyed by round.
func (s *Service) ReleaseBest(ctx context.Context, questionID, responderID string) error {
	ctx, span := traces.StartSpan(ctx, "pool.release_best",
		traces.QuestionID(questionID), traces.UserID(responderID))
	defer span.End()

	p, err := s.store.GetPool(ctx, questionID)
	if err != nil {
		return err
	}
	if p.HeldForBest == 0 {
		return nil
	}

	ref := fmt.Sprintf("%s:r%d", questionID, p.BestRound)
	if _, err := s.wallets.Credit(ctx, responderID, p.HeldForBest, "pool_best", ref, "accumulated best responder share"); err != nil {
		return err
	}
	if err := s.store.DeductHeldForBest(ctx, questionID, p.BestRound, p.HeldForBest); err != nil {
		if errors.Is(err, ErrStaleRound) {
			return nil
		}
		logging.Audit(ctx, "best share credited but reserve deduction failed",
			"question_id", questionID, "responder_id", responderID, "error", err)
		return err
	}

	metrics.PoolDistributionsTotal.WithLabelValues("best_released").Inc()
	logging.L(ctx).Info("best share released",
		"question_id", questionID, "responder_id", responderID, "amount", p.HeldForBest)
	return nil
}

// DistributeOthers divides the others bucket evenly across eligible
// members. Each member gets floor(total/n); the remainder carries
// forward. With no eligible members, non-best responders are
// auto-registered; if none exist either, the whole bucket is promoted to
// the best responder.
func (s *Service) DistributeOthers(ctx context.Context, questionID string) (*DistributionResult, error) {
	ctx, span := traces.StartSpan(ctx, "pool.distribute_others", traces.QuestionID(questionID))
	defer span.End()

	p, err := s.store.GetPool(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if p.TotalAmount == 0 {
		// Nothing accumulated yet. Not an error; settlement triggers may
		// fire before any PPV revenue arrives.
		return &DistributionResult{QuestionID: questionID}, nil
	}

	eligible, err := s.eligibleMembers(ctx, questionID)
	if err != nil {
		return nil, err
	}

	if len(eligible) == 0 {
		if err := s.autoRegister(ctx, questionID); err != nil {
			return nil, err
		}
		eligible, err = s.eligibleMembers(ctx, questionID)
		if err != nil {
			return nil, err
		}
	}

	result := &DistributionResult{QuestionID: questionID, Total: p.TotalAmount}
	round := p.OthersRound

	if len(eligible) == 0 {
		// Nobody to share with: the best responder takes the bucket.
		best, err := s.bestResponder(ctx, questionID)
		if err != nil {
			return nil, err
		}
		ref := fmt.Sprintf("%s:r%d:promote", questionID, round)
		if _, err := s.wallets.Credit(ctx, best, p.TotalAmount, "pool_dist", ref, "others share promoted to best responder"); err != nil {
			return nil, err
		}
		if err := s.store.CompleteDistribution(ctx, questionID, round, p.TotalAmount); err != nil && !errors.Is(err, ErrStaleRound) {
			logging.Audit(ctx, "promotion credited but round completion failed",
				"question_id", questionID, "error", err)
			return nil, err
		}
		result.PromotedTo = best
		metrics.PoolDistributionsTotal.WithLabelValues("promoted").Inc()
		return result, nil
	}

	perMember, remainder := money.DivideEvenly(p.TotalAmount, len(eligible))
	result.PerMember = perMember
	result.Remainder = remainder

	if perMember == 0 {
		// Too small to split this round; the whole bucket carries.
		return result, nil
	}

	for _, m := range eligible {
		ref := fmt.Sprintf("%s:r%d:%s", questionID, round, m)
		if _, err := s.wallets.Credit(ctx, m, perMember, "pool_dist", ref, "distribution pool share"); err != nil {
			logging.Audit(ctx, "pool distribution credit failed mid-round",
				"question_id", questionID, "member", m, "round", round, "error", err)
			return nil, err
		}
		result.Members = append(result.Members, m)
	}

	if err := s.store.CompleteDistribution(ctx, questionID, round, perMember*int64(len(eligible))); err != nil {
		if errors.Is(err, ErrStaleRound) {
			return result, nil
		}
		logging.Audit(ctx, "pool credits applied but round completion failed",
			"question_id", questionID, "round", round, "error", err)
		return nil, err
	}

	metrics.PoolDistributionsTotal.WithLabelValues("distributed").Inc()
	logging.L(ctx).Info("others share distributed",
		"question_id", questionID, "round", round,
		"per_member", perMember, "members", len(eligible), "carry", remainder)
	return result, nil
}

func (s *Service) eligibleMembers(ctx context.Context, questionID string) ([]string, error) {
	members, err := s.store.ListMembers(ctx, questionID)
	if err != nil {
		return nil, err
	}
	best, _ := s.bestResponder(ctx, questionID)
	var out []string
	for _, m := range members {
		if m.IsExcluded || m.ResponderID == best {
			continue
		}
		out = append(out, m.ResponderID)
	}
	return out, nil
}

// autoRegister enrolls every non-best responder who answered.
func (s *Service) autoRegister(ctx context.Context, questionID string) error {
	answers, err := s.questions.ListAnswers(ctx, questionID)
	if err != nil {
		return err
	}
	best, _ := s.bestResponder(ctx, questionID)
	for _, a := range answers {
		if a.ResponderID == best {
			continue
		}
		if err := s.store.UpsertMember(ctx, questionID, a.ResponderID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) bestResponder(ctx context.Context, questionID string) (string, error) {
	q, err := s.questions.Get(ctx, questionID)
	if err != nil {
		return "", err
	}
	if q.BestAnswerID == "" {
		return "", ErrNoBestAnswer
	}
	a, err := s.questions.GetAnswer(ctx, q.BestAnswerID)
	if err != nil {
		return "", err
	}
	return a.ResponderID, nil
}
