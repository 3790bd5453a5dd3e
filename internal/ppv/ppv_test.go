package ppv

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkims/askpay/internal/config"
	"github.com/dkims/askpay/internal/ledger"
	"github.com/dkims/askpay/internal/pool"
	"github.com/dkims/askpay/internal/provider"
	"github.com/dkims/askpay/internal/question"
	"github.com/dkims/askpay/internal/wallet"
)

var testFees = config.Fees{
	PlatformRateBPS: 2000,
	AskerRateBPS:    4000,
	BestRateBPS:     2400,
}

type stubNotifier struct {
	mu     sync.Mutex
	events []string // userID + ":" + event
}

func (n *stubNotifier) Notify(ctx context.Context, userID, event string, data map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, userID+":"+event)
}

type fixture struct {
	ppv       *Service
	questions *question.Service
	wallets   *wallet.Service
	ledger    *ledger.Ledger
	pools     *pool.Service
	mock      *provider.Mock
	notifier  *stubNotifier
	question  *question.Question
}

// newFixture builds a funded question with answers from the given
// responders and, when selectBest is set, the first responder's answer
// chosen as best.
func newFixture(t *testing.T, responders []string, selectBest bool) *fixture {
	t.Helper()
	ctx := context.Background()

	questions := question.New(question.NewMemoryStore())
	wallets := wallet.New(wallet.NewMemoryStore())
	led := ledger.New(ledger.NewMemoryStore())
	pools := pool.New(pool.NewMemoryStore(), wallets, questions)
	mock := provider.NewMock()
	notifier := &stubNotifier{}

	q, err := questions.Create(ctx, "asker_1", "title", "body", 5000, "usd")
	require.NoError(t, err)
	require.NoError(t, questions.Transition(ctx, q.ID, question.StatusPendingPayment))
	require.NoError(t, questions.Transition(ctx, q.ID, question.StatusFunded))

	var answers []*question.Answer
	for _, r := range responders {
		a, err := questions.PostAnswer(ctx, q.ID, r, "answer from "+r)
		require.NoError(t, err)
		answers = append(answers, a)
	}
	if selectBest {
		require.NotEmpty(t, answers)
		_, err := questions.SelectBest(ctx, q.ID, answers[0].ID)
		require.NoError(t, err)
	}

	return &fixture{
		ppv:       New(questions, NewMemoryGrantStore(), led, wallets, pools, mock, notifier, testFees),
		questions: questions,
		wallets:   wallets,
		ledger:    led,
		pools:     pools,
		mock:      mock,
		notifier:  notifier,
		question:  q,
	}
}

func available(t *testing.T, wallets *wallet.Service, userID string) int64 {
	t.Helper()
	w, err := wallets.Get(context.Background(), userID)
	require.NoError(t, err)
	return w.Available
}

func TestPurchase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"resp_a", "resp_b"}, false)

	result, err := f.ppv.Purchase(ctx, f.question.ID, "buyer_1")
	require.NoError(t, err)

	// 5000 splits 1000 / 2000 / 1200 / 800.
	assert.Equal(t, int64(1000), result.Split.Platform)
	assert.Equal(t, int64(2000), result.Split.Asker)
	assert.Equal(t, int64(1200), result.Split.Best)
	assert.Equal(t, int64(800), result.Split.Others)

	assert.Equal(t, ledger.TypePPV, result.Transaction.Type)
	assert.Equal(t, ledger.StatusCompleted, result.Transaction.Status)
	assert.Equal(t, int64(5000), result.Transaction.Amount)

	assert.Equal(t, int64(2000), available(t, f.wallets, "asker_1"))

	// No best answer yet: best share accumulates in the pool reserve.
	p, err := f.pools.Get(ctx, f.question.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), p.HeldForBest)
	assert.Equal(t, int64(800), p.TotalAmount)

	granted, err := f.ppv.HasAccess(ctx, f.question.ID, "buyer_1")
	require.NoError(t, err)
	assert.True(t, granted)

	q, err := f.questions.Get(ctx, f.question.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.PPVPurchaseCount)
	assert.Equal(t, int64(5000), q.TotalPPVRevenue)

	assert.Contains(t, f.notifier.events, "asker_1:ppv.sold")
	assert.Contains(t, f.notifier.events, "buyer_1:ppv.purchased")
}

func TestPurchaseRegistersPoolMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"resp_a", "resp_b"}, false)

	_, err := f.ppv.Purchase(ctx, f.question.ID, "buyer_1")
	require.NoError(t, err)

	members, err := f.pools.Members(ctx, f.question.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestPurchaseWithBestSelected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"resp_best", "resp_b"}, true)

	_, err := f.ppv.Purchase(ctx, f.question.ID, "buyer_1")
	require.NoError(t, err)

	// Best share goes straight to the responder's wallet.
	assert.Equal(t, int64(1200), available(t, f.wallets, "resp_best"))
	p, err := f.pools.Get(ctx, f.question.ID)
	require.NoError(t, err)
	assert.Zero(t, p.HeldForBest)
	assert.Equal(t, int64(800), p.TotalAmount)
}

func TestSelfPurchaseForbidden(t *testing.T) {
	f := newFixture(t, []string{"resp_a"}, false)

	_, err := f.ppv.Purchase(context.Background(), f.question.ID, "asker_1")
	assert.ErrorIs(t, err, ErrSelfPurchase)
}

func TestDuplicatePurchaseRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"resp_a"}, false)

	_, err := f.ppv.Purchase(ctx, f.question.ID, "buyer_1")
	require.NoError(t, err)
	_, err = f.ppv.Purchase(ctx, f.question.ID, "buyer_1")
	assert.ErrorIs(t, err, ErrAlreadyPurchased)

	// One charge, one asker credit.
	assert.Equal(t, int64(2000), available(t, f.wallets, "asker_1"))
}

func TestPurchaseWhileFundedNoAnswers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, false)

	// FUNDED is purchasable even before any answer exists; the best and
	// others shares wait in the pool for settlement.
	result, err := f.ppv.Purchase(ctx, f.question.ID, "buyer_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), available(t, f.wallets, "asker_1"))

	p, err := f.pools.Get(ctx, f.question.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Split.Best, p.HeldForBest)
	assert.Equal(t, result.Split.Others, p.TotalAmount)
}

func TestPurchaseBeforeFunding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, false)

	q, err := f.questions.Create(ctx, "asker_2", "unfunded", "", 5000, "usd")
	require.NoError(t, err)

	_, err = f.ppv.Purchase(ctx, q.ID, "buyer_1")
	assert.ErrorIs(t, err, ErrNotPurchasable)

	require.NoError(t, f.questions.Transition(ctx, q.ID, question.StatusPendingPayment))
	_, err = f.ppv.Purchase(ctx, q.ID, "buyer_1")
	assert.ErrorIs(t, err, ErrNotPurchasable)
}

func TestPurchaseChargeDeclined(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"resp_a"}, false)

	f.mock.FailCharges = true
	_, err := f.ppv.Purchase(ctx, f.question.ID, "buyer_1")
	assert.ErrorIs(t, err, provider.ErrPaymentDeclined)

	granted, err := f.ppv.HasAccess(ctx, f.question.ID, "buyer_1")
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Zero(t, available(t, f.wallets, "asker_1"))
}

// TestRevenueConservation runs purchases through settlement and checks
// that every unit of gross revenue lands in exactly one place.
func TestRevenueConservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"resp_best", "resp_b", "resp_c"}, false)

	buyers := []string{"buyer_1", "buyer_2", "buyer_3"}
	for _, b := range buyers {
		_, err := f.ppv.Purchase(ctx, f.question.ID, b)
		require.NoError(t, err)
	}
	gross := int64(5000 * len(buyers))

	// Choose the best answer, then settle both buckets.
	answers, err := f.questions.ListAnswers(ctx, f.question.ID)
	require.NoError(t, err)
	_, err = f.questions.SelectBest(ctx, f.question.ID, answers[0].ID)
	require.NoError(t, err)

	require.NoError(t, f.pools.ReleaseBest(ctx, f.question.ID, "resp_best"))
	_, err = f.pools.DistributeOthers(ctx, f.question.ID)
	require.NoError(t, err)

	var wallets int64
	for _, u := range []string{"asker_1", "resp_best", "resp_b", "resp_c"} {
		wallets += available(t, f.wallets, u)
	}
	p, err := f.pools.Get(ctx, f.question.ID)
	require.NoError(t, err)

	platform := int64(1000 * len(buyers))
	assert.Equal(t, gross, platform+wallets+p.TotalAmount+p.HeldForBest)
}
