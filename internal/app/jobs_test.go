package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/ledger"
	"github.com/votefest/wallet-service/internal/store/memstore"
)

func TestJobs_LedgerReconciliationFindsNothingAfterEngineWrites(t *testing.T) {
	st := memstore.New(time.Second)
	engine := ledger.NewEngine(st, ledger.Options{}, nil, nil)
	alice := st.AddAccount(domain.Account{Username: "alice", WalletAccount: "WAL-A"})
	st.AddAccount(domain.Account{Username: "bob", WalletAccount: "WAL-B"})

	_, err := engine.Credit(context.Background(), alice.ID, decimal.NewFromInt(100), domain.KindDeposit, nil)
	require.NoError(t, err)
	_, err = engine.Transfer(context.Background(), alice.ID, "WAL-B", decimal.NewFromInt(40))
	require.NoError(t, err)

	drifts, err := NewJobs(st, nil, nil).reconcileLedger(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestJobs_TallyRepairedOnlyAfterSecondSighting(t *testing.T) {
	st := memstore.New(time.Second)
	contestant := st.AddContestant(domain.Contestant{Name: "Ada", Votes: 12})
	jobs := NewJobs(st, nil, nil)

	repaired, err := jobs.reconcileTallies(context.Background())
	require.NoError(t, err)
	assert.Zero(t, repaired)

	repaired, err = jobs.reconcileTallies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	board, err := st.Leaderboard(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, contestant.ID, board[0].ID)
	assert.Zero(t, board[0].Votes)

	repaired, err = jobs.reconcileTallies(context.Background())
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestJobs_ChangedDriftIsNotRepaired(t *testing.T) {
	st := memstore.New(time.Second)
	contestant := st.AddContestant(domain.Contestant{Name: "Ada", Votes: 3})
	jobs := NewJobs(st, nil, nil)

	_, err := jobs.reconcileTallies(context.Background())
	require.NoError(t, err)

	_, err = st.IncrementContestantVotes(context.Background(), contestant.ID, 2)
	require.NoError(t, err)

	repaired, err := jobs.reconcileTallies(context.Background())
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	s := NewScheduler(NewJobs(memstore.New(time.Second), nil, nil), "not a cron expression", nil)
	require.Error(t, s.Start())
}
