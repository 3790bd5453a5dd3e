package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndGet(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	txn, err := l.Record(ctx, &Transaction{
		UserID:      "alice",
		QuestionID:  "qst_1",
		Type:        TypeEscrow,
		Status:      StatusPending,
		Amount:      5000,
		ProviderRef: "pi_123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, txn.ID)

	got, err := l.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeEscrow, got.Type)
	assert.Equal(t, int64(5000), got.Amount)

	byRef, err := l.GetByProviderRef(ctx, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, txn.ID, byRef.ID)
}

func TestRecordIdempotentOnProviderRef(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	first, err := l.Record(ctx, &Transaction{
		UserID: "alice", Type: TypePPV, Status: StatusCompleted,
		Amount: 500, ProviderRef: "ch_abc",
	})
	require.NoError(t, err)

	// Replaying the same provider ref returns the original record.
	second, err := l.Record(ctx, &Transaction{
		UserID: "alice", Type: TypePPV, Status: StatusCompleted,
		Amount: 500, ProviderRef: "ch_abc",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	txns, err := l.ListByUser(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestRecordInvalidAmount(t *testing.T) {
	l := New(NewMemoryStore())
	_, err := l.Record(context.Background(), &Transaction{Type: TypePPV, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestStatusUpdates(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	txn, err := l.Record(ctx, &Transaction{
		UserID: "bob", Type: TypePayout, Status: StatusPending, Amount: 3000,
	})
	require.NoError(t, err)

	require.NoError(t, l.Complete(ctx, txn.ID))
	got, _ := l.Get(ctx, txn.ID)
	assert.Equal(t, StatusCompleted, got.Status)

	assert.ErrorIs(t, l.Complete(ctx, "txn_missing"), ErrNotFound)
}

func TestReverse(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	txn, err := l.Record(ctx, &Transaction{
		UserID: "alice", QuestionID: "qst_1", Type: TypeEscrow,
		Status: StatusCompleted, Amount: 5000,
	})
	require.NoError(t, err)

	comp, err := l.Reverse(ctx, txn.ID, "bounty refunded")
	require.NoError(t, err)
	assert.Equal(t, TypeRefund, comp.Type)
	assert.Equal(t, txn.ID, comp.ReversalOf)
	assert.Equal(t, int64(5000), comp.Amount)

	orig, _ := l.Get(ctx, txn.ID)
	assert.Equal(t, StatusReversed, orig.Status)
	assert.Equal(t, comp.ID, orig.ReversedBy)

	// A second reversal is rejected.
	_, err = l.Reverse(ctx, txn.ID, "again")
	assert.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestReverseOnlyCompleted(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	txn, err := l.Record(ctx, &Transaction{
		UserID: "alice", Type: TypeEscrow, Status: StatusPending, Amount: 5000,
	})
	require.NoError(t, err)

	_, err = l.Reverse(ctx, txn.ID, "too early")
	assert.ErrorIs(t, err, ErrNotReversible)
}

func TestListByQuestion(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	for _, ref := range []string{"pi_1", "ch_1", "ch_2"} {
		_, err := l.Record(ctx, &Transaction{
			UserID: "alice", QuestionID: "qst_9", Type: TypePPV,
			Status: StatusCompleted, Amount: 500, ProviderRef: ref,
		})
		require.NoError(t, err)
	}
	_, err := l.Record(ctx, &Transaction{
		UserID: "bob", QuestionID: "qst_other", Type: TypePPV,
		Status: StatusCompleted, Amount: 500, ProviderRef: "ch_3",
	})
	require.NoError(t, err)

	txns, err := l.ListByQuestion(ctx, "qst_9")
	require.NoError(t, err)
	assert.Len(t, txns, 3)
}
