package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is the per-account coin balance and its running counters.
// Balance is never negative.
type Wallet struct {
	AccountID       uuid.UUID       `json:"account_id"`
	Balance         decimal.Decimal `json:"balance"`
	TotalDeposited  decimal.Decimal `json:"total_deposited"`
	TotalVotesCast  int64           `json:"total_votes_cast"`
	LoyaltyProgress int64           `json:"loyalty_progress"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewWallet returns an empty wallet for accountID.
func NewWallet(accountID uuid.UUID) Wallet {
	return Wallet{
		AccountID:      accountID,
		Balance:        decimal.Zero,
		TotalDeposited: decimal.Zero,
		UpdatedAt:      time.Now().UTC(),
	}
}

// TransactionKind tags a ledger row. The kind fixes the direction of the movement.
type TransactionKind string

const (
	KindDeposit     TransactionKind = "deposit"
	KindTransferOut TransactionKind = "transfer_out"
	KindTransferIn  TransactionKind = "transfer_in"
	KindVoteDebit   TransactionKind = "vote_debit"
	KindReward      TransactionKind = "reward"
)

// IsDebit reports whether the kind removes coins from the wallet.
func (k TransactionKind) IsDebit() bool {
	return k == KindTransferOut || k == KindVoteDebit
}

// IsCredit reports whether the kind adds coins to the wallet.
func (k TransactionKind) IsCredit() bool {
	return k == KindDeposit || k == KindTransferIn || k == KindReward
}

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	return k.IsDebit() || k.IsCredit()
}

// Sign returns -1 for debits and +1 for credits.
func (k TransactionKind) Sign() int {
	if k.IsDebit() {
		return -1
	}
	return 1
}

// TransactionStatusCompleted is the only status a committed ledger row carries.
const TransactionStatusCompleted = "completed"

// Transaction is an immutable ledger row. Amount is always positive.
type Transaction struct {
	ID                uuid.UUID       `json:"id"`
	Reference         string          `json:"reference"`
	AccountID         uuid.UUID       `json:"account_id"`
	Kind              TransactionKind `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	CounterpartID     *uuid.UUID      `json:"counterpart_id,omitempty"`
	ExternalReference *string         `json:"external_reference,omitempty"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}

// SignedAmount returns the amount with the direction applied.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Kind.IsDebit() {
		return t.Amount.Neg()
	}
	return t.Amount
}
