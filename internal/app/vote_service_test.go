package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/ledger"
)

type stubLimiter struct {
	allowance VoteAllowance
	err       error
	calls     int
}

func allowAll() *stubLimiter {
	return &stubLimiter{allowance: VoteAllowance{Allowed: true, Count: 1}}
}

func (l *stubLimiter) AllowVote(context.Context, uuid.UUID) (VoteAllowance, error) {
	l.calls++
	return l.allowance, l.err
}

func newVoteService(f *walletFixture, limiter VoteLimiter) *VoteService {
	return NewVoteService(f.engine, f.store, limiter, f.notifier, VoteOptions{
		LeaderboardWindow: time.Second,
		LeaderboardLimit:  10,
	}, nil)
}

func TestVoteService_CastFansOut(t *testing.T) {
	f := newWalletFixture(t)
	alice := f.account("WAL-ALICE")
	contestant := f.store.AddContestant(domain.Contestant{Name: "Ada", Number: 7})
	f.fund(t, alice.ID, 7000)

	svc := newVoteService(f, allowAll())
	res, err := svc.Cast(context.Background(), alice.ID, contestant.ID, 610)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Loyalty.Rewards)

	votes := f.notifier.events(domain.EventVoteUpdate)
	require.Len(t, votes, 1)
	update := votes[0].payload.(domain.VoteUpdatePayload)
	assert.Equal(t, contestant.ID, update.ContestantID)
	assert.EqualValues(t, 610, update.VoteCount)
	assert.EqualValues(t, 610, update.NewVotes)
	assert.Equal(t, alice.ID.String(), update.UserID)

	wallet := f.notifier.forAccount(alice.ID, domain.EventWalletUpdate)
	require.Len(t, wallet, 1)
	assert.Equal(t, json.Number("950.00"), wallet[0].payload.(domain.WalletUpdatePayload).NewBalance)

	rewards := f.notifier.forAccount(alice.ID, domain.EventLoyaltyReward)
	require.Len(t, rewards, 1)
	reward := rewards[0].payload.(domain.LoyaltyRewardPayload)
	assert.Equal(t, "50.00", reward.CoinsEarned)
	assert.EqualValues(t, 10, reward.Progress)

	require.Len(t, f.notifier.throttled, 1)
	snapshot, err := f.notifier.throttled[0]()
	require.NoError(t, err)
	board := snapshot.([]domain.LeaderboardEntry)
	require.Len(t, board, 1)
	assert.EqualValues(t, 610, board[0].Votes)
}

func TestVoteService_NoRewardBelowThreshold(t *testing.T) {
	f := newWalletFixture(t)
	alice := f.account("WAL-ALICE")
	contestant := f.store.AddContestant(domain.Contestant{Name: "Ada"})
	f.fund(t, alice.ID, 100)

	_, err := newVoteService(f, nil).Cast(context.Background(), alice.ID, contestant.ID, 5)
	require.NoError(t, err)
	assert.Empty(t, f.notifier.events(domain.EventLoyaltyReward))
}

func TestVoteService_InsufficientFundsNotifiesNobody(t *testing.T) {
	f := newWalletFixture(t)
	alice := f.account("WAL-ALICE")
	contestant := f.store.AddContestant(domain.Contestant{Name: "Ada"})
	f.fund(t, alice.ID, 100)

	_, err := newVoteService(f, nil).Cast(context.Background(), alice.ID, contestant.ID, 15)
	var insufficient *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Required.Equal(decimal.NewFromInt(150)))
	assert.True(t, insufficient.Available.Equal(decimal.NewFromInt(100)))

	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.notifier.throttled)
}

func TestVoteService_RateLimited(t *testing.T) {
	f := newWalletFixture(t)
	alice := f.account("WAL-ALICE")
	contestant := f.store.AddContestant(domain.Contestant{Name: "Ada"})
	f.fund(t, alice.ID, 100)

	limiter := &stubLimiter{allowance: VoteAllowance{Count: 60, RetryAfter: 42 * time.Second}}
	_, err := newVoteService(f, limiter).Cast(context.Background(), alice.ID, contestant.ID, 1)
	require.ErrorIs(t, err, ErrRateLimited)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 42, rl.RetryAfterSeconds)
	assert.True(t, f.balance(t, alice.ID).Equal(decimal.NewFromInt(100)))
}

func TestVoteService_LimiterOutageFailsOpen(t *testing.T) {
	f := newWalletFixture(t)
	alice := f.account("WAL-ALICE")
	contestant := f.store.AddContestant(domain.Contestant{Name: "Ada"})
	f.fund(t, alice.ID, 100)

	limiter := &stubLimiter{err: errors.New("redis down")}
	_, err := newVoteService(f, limiter).Cast(context.Background(), alice.ID, contestant.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.calls)
}

func TestVoteService_UnknownContestant(t *testing.T) {
	f := newWalletFixture(t)
	alice := f.account("WAL-ALICE")
	f.fund(t, alice.ID, 100)

	_, err := newVoteService(f, nil).Cast(context.Background(), alice.ID, uuid.New(), 1)
	require.Error(t, err)
	assert.True(t, ledger.IsDomainError(err))
}

func TestVoteService_WirePayloadKeys(t *testing.T) {
	f := newWalletFixture(t)
	alice := f.account("WAL-ALICE")
	contestant := f.store.AddContestant(domain.Contestant{Name: "Ada", Number: 7})
	f.fund(t, alice.ID, 100)

	_, err := newVoteService(f, allowAll()).Cast(context.Background(), alice.ID, contestant.ID, 3)
	require.NoError(t, err)

	votes := f.notifier.events(domain.EventVoteUpdate)
	require.Len(t, votes, 1)
	raw, err := json.Marshal(votes[0].payload)
	require.NoError(t, err)
	var update map[string]any
	require.NoError(t, json.Unmarshal(raw, &update))
	assert.Equal(t, contestant.ID.String(), update["contestantId"])
	assert.EqualValues(t, 3, update["newVotes"])
	assert.EqualValues(t, 3, update["voteCount"])
	assert.Equal(t, alice.ID.String(), update["userId"])

	wallet := f.notifier.forAccount(alice.ID, domain.EventWalletUpdate)
	require.Len(t, wallet, 1)
	raw, err = json.Marshal(wallet[0].payload)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"newBalance":70.00`)
}
