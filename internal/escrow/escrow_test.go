package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkims/askpay/internal/config"
	"github.com/dkims/askpay/internal/ledger"
	"github.com/dkims/askpay/internal/provider"
	"github.com/dkims/askpay/internal/question"
	"github.com/dkims/askpay/internal/wallet"
)

var testFees = config.Fees{
	PlatformRateBPS: 2000,
	AskerRateBPS:    4000,
	BestRateBPS:     2400,
}

// stubPool records best-reserve additions, deduplicated by ref like the
// real pool store.
type stubPool struct {
	added map[string]int64 // ref -> amount
}

func (p *stubPool) AddHeldForBest(ctx context.Context, questionID string, amount int64, ref string) error {
	if p.added == nil {
		p.added = make(map[string]int64)
	}
	if _, ok := p.added[ref]; ok {
		return nil
	}
	p.added[ref] = amount
	return nil
}

func (p *stubPool) total() int64 {
	var sum int64
	for _, v := range p.added {
		sum += v
	}
	return sum
}

type fixture struct {
	escrow    *Service
	questions *question.Service
	wallets   *wallet.Service
	ledger    *ledger.Ledger
	mock      *provider.Mock
	pool      *stubPool
	question  *question.Question
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	questions := question.New(question.NewMemoryStore())
	wallets := wallet.New(wallet.NewMemoryStore())
	led := ledger.New(ledger.NewMemoryStore())
	mock := provider.NewMock()
	pool := &stubPool{}

	q, err := questions.Create(context.Background(), "asker_1", "title", "body", 5000, "usd")
	require.NoError(t, err)

	return &fixture{
		escrow:    New(questions, led, wallets, pool, mock, testFees),
		questions: questions,
		wallets:   wallets,
		ledger:    led,
		mock:      mock,
		pool:      pool,
		question:  q,
	}
}

// authorizeAndFund walks the question through authorize and the webhook
// funding confirmation.
func (f *fixture) authorizeAndFund(t *testing.T) *question.Question {
	t.Helper()
	ctx := context.Background()
	q, err := f.escrow.Authorize(ctx, f.question.ID, 5000, "pm_card")
	require.NoError(t, err)
	q, err = f.escrow.MarkFunded(ctx, q.EscrowReference)
	require.NoError(t, err)
	return q
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)

	q, err := f.escrow.Authorize(context.Background(), f.question.ID, 5000, "pm_card")
	require.NoError(t, err)
	assert.Equal(t, question.StatusPendingPayment, q.Status)
	assert.NotEmpty(t, q.EscrowReference)

	pi, ok := f.mock.Payment(q.EscrowReference)
	require.True(t, ok)
	assert.Equal(t, "requires_capture", pi.Status)
}

func TestAuthorizeAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.escrow.Authorize(ctx, f.question.ID, 4999, "pm_card")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.escrow.Authorize(ctx, f.question.ID, 0, "pm_card")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.escrow.Authorize(ctx, f.question.ID, -5000, "pm_card")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAuthorizeRetryReusesAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q1, err := f.escrow.Authorize(ctx, f.question.ID, 5000, "pm_card")
	require.NoError(t, err)
	q2, err := f.escrow.Authorize(ctx, f.question.ID, 5000, "pm_card")
	require.NoError(t, err)
	assert.Equal(t, q1.EscrowReference, q2.EscrowReference)
}

func TestAuthorizeAfterFundedRejected(t *testing.T) {
	f := newFixture(t)
	f.authorizeAndFund(t)

	_, err := f.escrow.Authorize(context.Background(), f.question.ID, 5000, "pm_card")
	assert.ErrorIs(t, err, ErrAlreadyFunded)
}

func TestMarkFunded(t *testing.T) {
	f := newFixture(t)
	q := f.authorizeAndFund(t)
	assert.Equal(t, question.StatusFunded, q.Status)

	txn, err := f.ledger.GetByProviderRef(context.Background(), q.EscrowReference)
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeEscrow, txn.Type)
	assert.Equal(t, ledger.StatusPending, txn.Status)
	assert.Equal(t, int64(5000), txn.Amount)
	assert.Equal(t, int64(1000), txn.PlatformFee) // 20% floored
	assert.Equal(t, int64(4000), txn.BestShare)
}

func TestMarkFundedReplay(t *testing.T) {
	f := newFixture(t)
	q := f.authorizeAndFund(t)

	q2, err := f.escrow.MarkFunded(context.Background(), q.EscrowReference)
	require.NoError(t, err)
	assert.Equal(t, question.StatusFunded, q2.Status)
}

func TestCaptureWithoutAuthorization(t *testing.T) {
	f := newFixture(t)

	_, err := f.escrow.Capture(context.Background(), f.question.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestCaptureToPool(t *testing.T) {
	f := newFixture(t)
	q := f.authorizeAndFund(t)
	ctx := context.Background()

	result, err := f.escrow.Capture(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), result.PlatformFee)
	assert.Equal(t, int64(4000), result.Net)
	assert.Equal(t, "pool", result.CreditedTo)
	assert.Equal(t, ledger.StatusCompleted, result.Transaction.Status)
	assert.Equal(t, int64(4000), f.pool.total())

	pi, ok := f.mock.Payment(q.EscrowReference)
	require.True(t, ok)
	assert.Equal(t, "succeeded", pi.Status)
}

func TestCaptureIdempotent(t *testing.T) {
	f := newFixture(t)
	q := f.authorizeAndFund(t)
	ctx := context.Background()

	first, err := f.escrow.Capture(ctx, q.ID)
	require.NoError(t, err)
	second, err := f.escrow.Capture(ctx, q.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(4000), f.pool.total())
}

func TestCaptureWithBestSelected(t *testing.T) {
	f := newFixture(t)
	q := f.authorizeAndFund(t)
	ctx := context.Background()

	a, err := f.questions.PostAnswer(ctx, q.ID, "resp_1", "the answer")
	require.NoError(t, err)
	_, err = f.questions.SelectBest(ctx, q.ID, a.ID)
	require.NoError(t, err)

	result, err := f.escrow.Capture(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "resp_1", result.CreditedTo)
	assert.Zero(t, f.pool.total())

	w, err := f.wallets.Get(ctx, "resp_1")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), w.Available)

	final, err := f.questions.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, question.StatusResolved, final.Status)
}

func TestCaptureProviderFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	q := f.authorizeAndFund(t)
	ctx := context.Background()

	f.mock.FailCapture = true
	_, err := f.escrow.Capture(ctx, q.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnavailable)

	txn, err := f.ledger.GetByProviderRef(ctx, q.EscrowReference)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, txn.Status)
	assert.Zero(t, f.pool.total())

	// Retry succeeds once the provider recovers.
	f.mock.FailCapture = false
	result, err := f.escrow.Capture(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), result.Net)
}

func TestReleaseBeforeFunding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.escrow.Authorize(ctx, f.question.ID, 5000, "pm_card")
	require.NoError(t, err)

	q, err := f.escrow.Release(ctx, f.question.ID)
	require.NoError(t, err)
	assert.Equal(t, question.StatusCancelled, q.Status)

	pi, ok := f.mock.Payment(q.EscrowReference)
	require.True(t, ok)
	assert.Equal(t, "canceled", pi.Status)
}

func TestReleaseAfterFunding(t *testing.T) {
	f := newFixture(t)
	q := f.authorizeAndFund(t)
	ctx := context.Background()

	released, err := f.escrow.Release(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, question.StatusRefunded, released.Status)

	txns, err := f.ledger.ListByQuestion(ctx, q.ID)
	require.NoError(t, err)
	var refunds int
	for _, txn := range txns {
		if txn.Type == ledger.TypeRefund {
			refunds++
			assert.Equal(t, int64(5000), txn.Amount)
		}
	}
	assert.Equal(t, 1, refunds)
}

func TestReleaseAfterCaptureRejected(t *testing.T) {
	f := newFixture(t)
	q := f.authorizeAndFund(t)
	ctx := context.Background()

	_, err := f.escrow.Capture(ctx, q.ID)
	require.NoError(t, err)

	_, err = f.escrow.Release(ctx, q.ID)
	assert.ErrorIs(t, err, ErrAlreadyCaptured)
}

func TestReleaseWithoutAuthorization(t *testing.T) {
	f := newFixture(t)

	_, err := f.escrow.Release(context.Background(), f.question.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}
