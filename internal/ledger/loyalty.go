package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/store"
)

const (
	DefaultLoyaltyThreshold int64 = 600
	DefaultLoyaltyReward    int64 = 50
)

// LoyaltyPolicy awards Reward coins each time accumulated progress reaches
// Threshold. Progress beyond the threshold carries over.
type LoyaltyPolicy struct {
	Threshold int64
	Reward    decimal.Decimal
}

// DefaultLoyaltyPolicy returns the 600 / 50 policy.
func DefaultLoyaltyPolicy() LoyaltyPolicy {
	return LoyaltyPolicy{Threshold: DefaultLoyaltyThreshold, Reward: decimal.NewFromInt(DefaultLoyaltyReward)}
}

// Apply returns the remaining progress and the number of rewards earned.
func (p LoyaltyPolicy) Apply(progress int64) (remaining int64, rewards int64) {
	if p.Threshold <= 0 || progress < p.Threshold {
		return progress, 0
	}
	return progress % p.Threshold, progress / p.Threshold
}

// LoyaltyResult describes one accrual.
type LoyaltyResult struct {
	Progress    int64           `json:"progress"`
	Threshold   int64           `json:"threshold"`
	Rewards     int64           `json:"rewards"`
	CoinsEarned decimal.Decimal `json:"coins_earned"`
	NewBalance  decimal.Decimal `json:"new_balance"`
	References  []string        `json:"references,omitempty"`
}

// RecordProgress adds units to the account's loyalty counter and credits any
// rewards earned, in one locked unit of work.
func (e *Engine) RecordProgress(ctx context.Context, accountID uuid.UUID, units int64) (LoyaltyResult, error) {
	const op = "record_progress"
	start := e.now()
	if units <= 0 {
		e.observe(op, start, ErrInvalidAmount)
		return LoyaltyResult{}, ErrInvalidAmount
	}

	var res LoyaltyResult
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		wallet, err := tx.LockWallet(ctx, accountID, true)
		if err != nil {
			return err
		}
		res, err = e.accrue(ctx, tx, wallet, units)
		if err != nil {
			return err
		}
		return tx.SaveWallet(ctx, wallet)
	})
	err = classify(op, err)
	e.observe(op, start, err)
	if err != nil {
		return LoyaltyResult{}, err
	}
	return res, nil
}

// accrue mutates wallet in place. The caller holds the wallet lock and saves it.
func (e *Engine) accrue(ctx context.Context, tx store.LedgerTx, wallet *domain.Wallet, units int64) (LoyaltyResult, error) {
	remaining, rewards := e.loyalty.Apply(wallet.LoyaltyProgress + units)
	wallet.LoyaltyProgress = remaining

	res := LoyaltyResult{
		Progress:    remaining,
		Threshold:   e.loyalty.Threshold,
		Rewards:     rewards,
		CoinsEarned: decimal.Zero,
		NewBalance:  wallet.Balance,
	}
	if rewards == 0 || !e.loyalty.Reward.IsPositive() {
		return res, nil
	}

	for i := int64(0); i < rewards; i++ {
		ref := newReference("RWD")
		wallet.Balance = wallet.Balance.Add(e.loyalty.Reward)
		txn := &domain.Transaction{
			ID:        uuid.New(),
			Reference: ref,
			AccountID: wallet.AccountID,
			Kind:      domain.KindReward,
			Amount:    e.loyalty.Reward,
			Metadata: map[string]any{
				"reason":    "loyalty_reward",
				"threshold": e.loyalty.Threshold,
			},
			Status:    domain.TransactionStatusCompleted,
			CreatedAt: e.now(),
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return LoyaltyResult{}, err
		}
		res.References = append(res.References, ref)
	}
	res.CoinsEarned = e.loyalty.Reward.Mul(decimal.NewFromInt(rewards))
	res.NewBalance = wallet.Balance

	event, err := domain.NewOutboxEvent(domain.RoutingLoyaltyRewarded, map[string]any{
		"account_id":   wallet.AccountID,
		"rewards":      rewards,
		"coins_earned": res.CoinsEarned.StringFixed(2),
		"progress":     remaining,
		"references":   res.References,
	})
	if err != nil {
		return LoyaltyResult{}, err
	}
	if err := tx.EnqueueEvent(ctx, event); err != nil {
		return LoyaltyResult{}, err
	}
	return res, nil
}
