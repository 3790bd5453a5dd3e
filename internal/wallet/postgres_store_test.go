package wallet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkims/askpay/internal/testutil"
)

func TestPostgresStoreCreditDebit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	entry, err := store.Credit(ctx, "usr_pg_alice", 5000, "ppv_asker", "txn_pg_1", "asker share")
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.BalanceBefore)
	assert.Equal(t, int64(5000), entry.BalanceAfter)

	_, err = store.Debit(ctx, "usr_pg_alice", 2000, "payout", "po_pg_1", "")
	require.NoError(t, err)

	w, err := store.GetWallet(ctx, "usr_pg_alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), w.Available)
	assert.Equal(t, int64(0), w.Pending)
}

func TestPostgresStoreReplayReturnsPriorEntry(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	first, err := store.Credit(ctx, "usr_pg_bob", 1000, "pool_best", "txn_pg_2", "")
	require.NoError(t, err)

	second, err := store.Credit(ctx, "usr_pg_bob", 1000, "pool_best", "txn_pg_2", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	w, err := store.GetWallet(ctx, "usr_pg_bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.Available)
}

func TestPostgresStoreOverdraft(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.Debit(ctx, "usr_pg_empty", 100, "payout", "po_pg_2", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestPostgresStoreHoldLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.Credit(ctx, "usr_pg_carol", 10000, "ppv_best", "txn_pg_3", "")
	require.NoError(t, err)

	_, err = store.Hold(ctx, "usr_pg_carol", 4000, "payout_hold", "po_pg_3", "")
	require.NoError(t, err)

	w, err := store.GetWallet(ctx, "usr_pg_carol")
	require.NoError(t, err)
	assert.Equal(t, int64(6000), w.Available)
	assert.Equal(t, int64(4000), w.Pending)

	_, err = store.ConfirmHold(ctx, "usr_pg_carol", 4000, "payout_confirm", "po_pg_3", "")
	require.NoError(t, err)

	w, err = store.GetWallet(ctx, "usr_pg_carol")
	require.NoError(t, err)
	assert.Equal(t, int64(6000), w.Available)
	assert.Equal(t, int64(0), w.Pending)

	entries, err := store.Log(ctx, "usr_pg_carol")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
