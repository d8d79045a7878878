package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/votefest/wallet-service/internal/domain"
)

func TestLoyaltyPolicyApply(t *testing.T) {
	policy := DefaultLoyaltyPolicy()
	cases := []struct {
		progress      int64
		wantRemaining int64
		wantRewards   int64
	}{
		{0, 0, 0},
		{599, 599, 0},
		{600, 0, 1},
		{601, 1, 1},
		{1250, 50, 2},
		{1800, 0, 3},
	}
	for _, tc := range cases {
		remaining, rewards := policy.Apply(tc.progress)
		require.Equal(t, tc.wantRemaining, remaining, "progress %d", tc.progress)
		require.Equal(t, tc.wantRewards, rewards, "progress %d", tc.progress)
	}
}

func TestRecordProgress_CarriesOverBeyondThreshold(t *testing.T) {
	e, st := newTestEngine(t)
	a := addAccount(st, "A")

	res, err := e.RecordProgress(context.Background(), a.ID, 1250)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Rewards)
	require.Equal(t, int64(50), res.Progress)
	require.True(t, res.CoinsEarned.Equal(decimal.NewFromInt(100)))
	require.Len(t, res.References, 2)

	requireBalance(t, e, a.ID, 100)
	var rewards int
	for _, txn := range st.Transactions(a.ID) {
		if txn.Kind == domain.KindReward {
			rewards++
		}
	}
	require.Equal(t, 2, rewards)

	// The carried 50 counts toward the next threshold.
	res, err = e.RecordProgress(context.Background(), a.ID, 550)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Rewards)
	require.Equal(t, int64(0), res.Progress)
	requireBalance(t, e, a.ID, 150)
	requireLedgerConsistent(t, e, st, a.ID)
}

func TestRecordProgress_BelowThresholdOnlyCounts(t *testing.T) {
	e, st := newTestEngine(t)
	a := addAccount(st, "A")

	res, err := e.RecordProgress(context.Background(), a.ID, 120)
	require.NoError(t, err)
	require.Zero(t, res.Rewards)
	require.Equal(t, int64(120), res.Progress)
	require.Empty(t, st.Transactions(a.ID))

	_, err = e.RecordProgress(context.Background(), a.ID, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}
