package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/ledger"
	"github.com/votefest/wallet-service/internal/store"
)

// VoteLimiter admits or rejects a vote request for an account.
type VoteLimiter interface {
	AllowVote(ctx context.Context, accountID uuid.UUID) (VoteAllowance, error)
}

// VoteOptions tunes leaderboard fan-out.
type VoteOptions struct {
	LeaderboardWindow time.Duration
	LeaderboardLimit  int
}

// VoteService buys votes through the engine and fans the results out.
type VoteService struct {
	engine   *ledger.Engine
	ledger   store.LedgerStore
	limiter  VoteLimiter
	notifier Notifier
	opts     VoteOptions
	logger   *zap.Logger
}

func NewVoteService(engine *ledger.Engine, ledgerStore store.LedgerStore, limiter VoteLimiter, notifier Notifier, opts VoteOptions, logger *zap.Logger) *VoteService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LeaderboardWindow <= 0 {
		opts.LeaderboardWindow = 3 * time.Second
	}
	if opts.LeaderboardLimit <= 0 {
		opts.LeaderboardLimit = 20
	}
	return &VoteService{
		engine:   engine,
		ledger:   ledgerStore,
		limiter:  limiter,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With(zap.String("component", "vote_service")),
	}
}

// Cast spends coins on voteCount votes for a contestant.
func (s *VoteService) Cast(ctx context.Context, accountID, contestantID uuid.UUID, voteCount int64) (ledger.VoteResult, error) {
	if err := s.checkRateLimit(ctx, accountID); err != nil {
		return ledger.VoteResult{}, err
	}

	res, err := s.engine.CastVote(ctx, accountID, contestantID, voteCount)
	if err != nil {
		return ledger.VoteResult{}, err
	}

	s.notifier.Broadcast(domain.EventVoteUpdate, domain.VoteUpdatePayload{
		ContestantID:   res.Contestant.ID,
		NewVotes:       res.Contestant.Votes,
		VoteCount:      res.VoteCount,
		UserID:         accountID.String(),
		ContestantName: res.Contestant.Name,
		Timestamp:      time.Now().UTC(),
	})
	s.notifier.NotifyAccount(accountID, domain.EventWalletUpdate, domain.WalletUpdatePayload{
		NewBalance:  domain.CoinAmount(res.NewBalance),
		Transaction: res.Reference,
		Reason:      string(domain.KindVoteDebit),
	})
	if res.Loyalty.Rewards > 0 {
		s.notifier.NotifyAccount(accountID, domain.EventLoyaltyReward, domain.LoyaltyRewardPayload{
			Rewards:     res.Loyalty.Rewards,
			CoinsEarned: res.Loyalty.CoinsEarned.StringFixed(2),
			Progress:    res.Loyalty.Progress,
			Threshold:   res.Loyalty.Threshold,
		})
	}
	s.notifier.BroadcastThrottled(domain.EventLeaderboardUpdate, s.leaderboardSnapshot, s.opts.LeaderboardWindow)
	return res, nil
}

// Leaderboard returns contestants ranked by tally.
func (s *VoteService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = s.opts.LeaderboardLimit
	}
	entries, err := s.ledger.Leaderboard(ctx, limit)
	if err != nil {
		return nil, &ledger.StorageError{Op: "leaderboard", Err: err}
	}
	return entries, nil
}

func (s *VoteService) leaderboardSnapshot() (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Leaderboard(ctx, s.opts.LeaderboardLimit)
}

// checkRateLimit fails open when the limiter backend is unavailable.
func (s *VoteService) checkRateLimit(ctx context.Context, accountID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	allowance, err := s.limiter.AllowVote(ctx, accountID)
	if err != nil {
		s.logger.Warn("vote rate limiter unavailable", zap.String("account_id", accountID.String()), zap.Error(err))
		return nil
	}
	if !allowance.Allowed {
		return &RateLimitError{RetryAfterSeconds: allowance.RetryAfterSeconds()}
	}
	return nil
}
