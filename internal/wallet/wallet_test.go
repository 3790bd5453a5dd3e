package wallet

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return New(NewMemoryStore())
}

func TestCreditAndGet(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	entry, err := s.Credit(ctx, "alice", 1000, "ppv_asker", "txn_1", "asker share")
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.BalanceBefore)
	assert.Equal(t, int64(1000), entry.BalanceAfter)

	w, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.Available)
	assert.Equal(t, int64(0), w.Pending)
}

func TestGetUnknownUserIsZeroWallet(t *testing.T) {
	s := newTestService()
	w, err := s.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Available)
}

func TestCreditIdempotent(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	first, err := s.Credit(ctx, "alice", 1000, "ppv_asker", "txn_1", "asker share")
	require.NoError(t, err)

	// Same reference pair: prior entry returned, balance unchanged.
	second, err := s.Credit(ctx, "alice", 1000, "ppv_asker", "txn_1", "asker share")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	w, _ := s.Get(ctx, "alice")
	assert.Equal(t, int64(1000), w.Available)
}

func TestDebitInsufficientFunds(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	_, err := s.Credit(ctx, "alice", 500, "ppv_asker", "txn_1", "")
	require.NoError(t, err)

	_, err = s.Debit(ctx, "alice", 600, "payout", "po_1", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Balance untouched by the failed debit.
	w, _ := s.Get(ctx, "alice")
	assert.Equal(t, int64(500), w.Available)
}

func TestInvalidAmounts(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	_, err := s.Credit(ctx, "alice", 0, "t", "r1", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = s.Debit(ctx, "alice", -5, "t", "r2", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestHoldLifecycle(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	_, err := s.Credit(ctx, "alice", 10000, "ppv_asker", "txn_1", "")
	require.NoError(t, err)

	// Hold moves available -> pending.
	_, err = s.Hold(ctx, "alice", 4000, "payout_hold", "po_1", "")
	require.NoError(t, err)
	w, _ := s.Get(ctx, "alice")
	assert.Equal(t, int64(6000), w.Available)
	assert.Equal(t, int64(4000), w.Pending)

	// Confirm consumes the pending amount.
	_, err = s.ConfirmHold(ctx, "alice", 4000, "payout_confirm", "po_1", "")
	require.NoError(t, err)
	w, _ = s.Get(ctx, "alice")
	assert.Equal(t, int64(6000), w.Available)
	assert.Equal(t, int64(0), w.Pending)
}

func TestReleaseHoldReturnsFunds(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	_, err := s.Credit(ctx, "alice", 10000, "ppv_asker", "txn_1", "")
	require.NoError(t, err)
	_, err = s.Hold(ctx, "alice", 4000, "payout_hold", "po_1", "")
	require.NoError(t, err)

	_, err = s.ReleaseHold(ctx, "alice", 4000, "payout_release", "po_1", "transfer failed")
	require.NoError(t, err)

	w, _ := s.Get(ctx, "alice")
	assert.Equal(t, int64(10000), w.Available)
	assert.Equal(t, int64(0), w.Pending)
}

func TestHoldInsufficientFunds(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	_, err := s.Credit(ctx, "alice", 1000, "ppv_asker", "txn_1", "")
	require.NoError(t, err)

	_, err = s.Hold(ctx, "alice", 2000, "payout_hold", "po_1", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestConfirmHoldWithoutHold(t *testing.T) {
	s := newTestService()
	_, err := s.ConfirmHold(context.Background(), "alice", 100, "payout_confirm", "po_1", "")
	assert.ErrorIs(t, err, ErrInsufficientHold)
}

func TestConcurrentCreditsAllApply(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := s.Credit(ctx, "alice", 10, "grant", fmt.Sprintf("ref_%d", i), "")
			if err != nil {
				t.Errorf("credit %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	w, _ := s.Get(ctx, "alice")
	assert.Equal(t, int64(n*10), w.Available)
}

func TestRebuildBalance(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	_, err := s.Credit(ctx, "alice", 1000, "a", "1", "")
	require.NoError(t, err)
	_, err = s.Debit(ctx, "alice", 300, "b", "2", "")
	require.NoError(t, err)
	_, err = s.Hold(ctx, "alice", 200, "c", "3", "")
	require.NoError(t, err)
	_, err = s.ReleaseHold(ctx, "alice", 200, "d", "4", "")
	require.NoError(t, err)
	_, err = s.Hold(ctx, "alice", 100, "e", "5", "")
	require.NoError(t, err)
	_, err = s.ConfirmHold(ctx, "alice", 100, "f", "6", "")
	require.NoError(t, err)

	rec, err := s.RebuildBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, int64(600), rec.ComputedAvailable)
	assert.Equal(t, int64(0), rec.ComputedPending)
	assert.Equal(t, 6, rec.Entries)
}

func TestHistoryNewestFirst(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Credit(ctx, "alice", 100, "grant", fmt.Sprintf("r%d", i), "")
		require.NoError(t, err)
	}

	history, err := s.History(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "r2", history[0].ReferenceID)
	assert.Equal(t, "r1", history[1].ReferenceID)
}
