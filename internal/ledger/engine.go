/**
 * @description
 * The wallet engine: the only code path that mutates coin balances. Every
 * operation runs as one unit of work that locks the affected wallet rows,
 * verifies, updates, appends ledger rows and enqueues an outbox event before
 * committing. Nothing is emitted to clients from here; callers notify after
 * a successful return.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Coin amounts.
 * - github.com/oklog/ulid/v2: Sortable transaction references.
 * - go.uber.org/zap: Structured logging.
 */

package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/metrics"
	"github.com/votefest/wallet-service/internal/store"
	"go.uber.org/zap"
)

// Metadata keys understood by the engine.
const (
	MetaReference  = "reference"
	MetaVoteCount  = "voteCount"
	MetaContestant = "contestantId"
)

// Options configures an Engine.
type Options struct {
	VoteUnitPrice decimal.Decimal
	Loyalty       LoyaltyPolicy
}

// Engine serializes wallet mutations through row locks held by the store.
type Engine struct {
	store     store.LedgerStore
	unitPrice decimal.Decimal
	loyalty   LoyaltyPolicy
	logger    *zap.Logger
	metrics   *metrics.Registry
	now       func() time.Time
}

// NewEngine creates a wallet engine. A nil logger or metrics registry disables them.
func NewEngine(st store.LedgerStore, opts Options, logger *zap.Logger, m *metrics.Registry) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !opts.VoteUnitPrice.IsPositive() {
		opts.VoteUnitPrice = decimal.NewFromInt(10)
	}
	if opts.Loyalty.Threshold <= 0 {
		opts.Loyalty = DefaultLoyaltyPolicy()
	}
	return &Engine{
		store:     st,
		unitPrice: opts.VoteUnitPrice,
		loyalty:   opts.Loyalty,
		logger:    logger.With(zap.String("component", "ledger")),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UnitPrice is the coin cost of a single vote.
func (e *Engine) UnitPrice() decimal.Decimal { return e.unitPrice }

// Loyalty returns the active loyalty policy.
func (e *Engine) Loyalty() LoyaltyPolicy { return e.loyalty }

// Result is returned by single-wallet mutations.
type Result struct {
	NewBalance decimal.Decimal `json:"new_balance"`
	Reference  string          `json:"reference"`
	// Duplicate is set when a credit matched an already applied external reference.
	Duplicate bool `json:"duplicate,omitempty"`
}

// TransferResult is returned by Transfer.
type TransferResult struct {
	Reference        string          `json:"reference"`
	SenderBalance    decimal.Decimal `json:"sender_balance"`
	RecipientID      uuid.UUID       `json:"recipient_id"`
	RecipientBalance decimal.Decimal `json:"-"`
}

// VoteResult is returned by CastVote.
type VoteResult struct {
	Reference  string            `json:"reference"`
	NewBalance decimal.Decimal   `json:"new_balance"`
	CoinsSpent decimal.Decimal   `json:"coins_spent"`
	VoteCount  int64             `json:"vote_count"`
	Contestant domain.Contestant `json:"contestant"`
	Loyalty    LoyaltyResult     `json:"loyalty"`
	// TallyStale is set when the contestant tally could not be incremented
	// after commit; reconciliation repairs it.
	TallyStale bool `json:"-"`
}

// GetBalance returns the current balance. A missing wallet reads as zero.
func (e *Engine) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	wallet, err := e.store.GetWallet(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, classify("get_balance", err)
	}
	return wallet.Balance, nil
}

// GetWallet returns the wallet with its counters. A missing wallet reads as empty.
func (e *Engine) GetWallet(ctx context.Context, accountID uuid.UUID) (domain.Wallet, error) {
	wallet, err := e.store.GetWallet(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			return domain.NewWallet(accountID), nil
		}
		return domain.Wallet{}, classify("get_wallet", err)
	}
	return *wallet, nil
}

// History returns the newest ledger rows for an account.
func (e *Engine) History(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	txns, err := e.store.ListTransactions(ctx, accountID, limit, offset)
	if err != nil {
		return nil, classify("history", err)
	}
	return txns, nil
}

// Deduct debits amount from the account. On any failure nothing is written.
func (e *Engine) Deduct(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, kind domain.TransactionKind, metadata map[string]any) (Result, error) {
	const op = "deduct"
	start := e.now()

	if err := e.validateDebit(amount, kind, metadata); err != nil {
		e.observe(op, start, err)
		return Result{}, err
	}

	ref := newReference("TXN")
	var res Result
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		wallet, err := e.lockDebitWallet(ctx, tx, accountID, amount)
		if err != nil {
			return err
		}
		wallet.Balance = wallet.Balance.Sub(amount)
		if err := tx.SaveWallet(ctx, wallet); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &domain.Transaction{
			ID:        uuid.New(),
			Reference: ref,
			AccountID: accountID,
			Kind:      kind,
			Amount:    amount,
			Metadata:  copyMetadata(metadata),
			Status:    domain.TransactionStatusCompleted,
			CreatedAt: e.now(),
		}); err != nil {
			return err
		}
		if err := e.enqueue(ctx, tx, domain.RoutingWalletDebited, map[string]any{
			"account_id":  accountID,
			"reference":   ref,
			"type":        kind,
			"amount":      amount.StringFixed(2),
			"new_balance": wallet.Balance.StringFixed(2),
		}); err != nil {
			return err
		}
		res = Result{NewBalance: wallet.Balance, Reference: ref}
		return nil
	})
	err = classify(op, err)
	e.observe(op, start, err)
	if err != nil {
		e.logFailure(op, accountID, err)
		return Result{}, err
	}
	return res, nil
}

// Credit adds amount to the account, creating the wallet when needed. When
// metadata carries a reference that was already applied, Credit succeeds
// without writing and reports the earlier transaction.
func (e *Engine) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, kind domain.TransactionKind, metadata map[string]any) (Result, error) {
	const op = "credit"
	start := e.now()

	if !kind.IsCredit() {
		e.observe(op, start, ErrInvalidKind)
		return Result{}, ErrInvalidKind
	}
	if err := validateAmount(amount); err != nil {
		e.observe(op, start, err)
		return Result{}, err
	}

	externalRef := metadataString(metadata, MetaReference)
	res, err := e.credit(ctx, accountID, amount, kind, metadata, externalRef)
	if errors.Is(err, store.ErrDuplicateReference) {
		// A concurrent credit with the same reference won the insert; the
		// retry finds its row and reports it as a duplicate.
		res, err = e.credit(ctx, accountID, amount, kind, metadata, externalRef)
	}
	err = classify(op, err)
	e.observe(op, start, err)
	if err != nil {
		e.logFailure(op, accountID, err)
		return Result{}, err
	}
	if res.Duplicate {
		e.logger.Info("credit replay ignored",
			zap.String("account_id", accountID.String()),
			zap.String("external_reference", externalRef),
			zap.String("reference", res.Reference),
		)
	}
	return res, nil
}

func (e *Engine) credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, kind domain.TransactionKind, metadata map[string]any, externalRef string) (Result, error) {
	ref := newReference("TXN")
	var res Result
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		wallet, err := tx.LockWallet(ctx, accountID, true)
		if err != nil {
			return err
		}

		var extRef *string
		if externalRef != "" {
			existing, err := tx.FindTransactionByExternalReference(ctx, externalRef)
			switch {
			case err == nil:
				if existing.AccountID != accountID {
					e.logger.Warn("external reference already applied to another account",
						zap.String("external_reference", externalRef),
						zap.String("account_id", accountID.String()),
						zap.String("owner_account_id", existing.AccountID.String()),
					)
				}
				res = Result{NewBalance: wallet.Balance, Reference: existing.Reference, Duplicate: true}
				return nil
			case !errors.Is(err, store.ErrTransactionNotFound):
				return err
			}
			extRef = &externalRef
		}

		wallet.Balance = wallet.Balance.Add(amount)
		if kind == domain.KindDeposit {
			wallet.TotalDeposited = wallet.TotalDeposited.Add(amount)
		}
		if err := tx.SaveWallet(ctx, wallet); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &domain.Transaction{
			ID:                uuid.New(),
			Reference:         ref,
			AccountID:         accountID,
			Kind:              kind,
			Amount:            amount,
			ExternalReference: extRef,
			Metadata:          copyMetadata(metadata),
			Status:            domain.TransactionStatusCompleted,
			CreatedAt:         e.now(),
		}); err != nil {
			return err
		}
		if err := e.enqueue(ctx, tx, domain.RoutingWalletCredited, map[string]any{
			"account_id":         accountID,
			"reference":          ref,
			"external_reference": externalRef,
			"type":               kind,
			"amount":             amount.StringFixed(2),
			"new_balance":        wallet.Balance.StringFixed(2),
		}); err != nil {
			return err
		}
		res = Result{NewBalance: wallet.Balance, Reference: ref}
		return nil
	})
	return res, err
}

// Transfer moves amount from the sender to the account behind toHandle. Both
// wallet rows are locked in ascending account id order and both ledger rows
// share one reference.
func (e *Engine) Transfer(ctx context.Context, fromID uuid.UUID, toHandle string, amount decimal.Decimal) (TransferResult, error) {
	const op = "transfer"
	start := e.now()

	if err := validateAmount(amount); err != nil {
		e.observe(op, start, err)
		return TransferResult{}, err
	}
	toHandle = strings.TrimSpace(toHandle)
	if toHandle == "" {
		e.observe(op, start, ErrInvalidTarget)
		return TransferResult{}, ErrInvalidTarget
	}

	ref := newReference("TRF")
	var res TransferResult
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		toID, err := tx.ResolveWalletHandle(ctx, toHandle)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				return ErrInvalidTarget
			}
			return err
		}
		if toID == fromID {
			return ErrInvalidTarget
		}

		wallets := make(map[uuid.UUID]*domain.Wallet, 2)
		for _, id := range lockOrder(fromID, toID) {
			var w *domain.Wallet
			if id == fromID {
				w, err = e.lockDebitWallet(ctx, tx, fromID, amount)
			} else {
				w, err = tx.LockWallet(ctx, id, true)
			}
			if err != nil {
				return err
			}
			wallets[id] = w
		}
		sender, recipient := wallets[fromID], wallets[toID]

		sender.Balance = sender.Balance.Sub(amount)
		recipient.Balance = recipient.Balance.Add(amount)
		if err := tx.SaveWallet(ctx, sender); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, recipient); err != nil {
			return err
		}

		now := e.now()
		counterTo, counterFrom := toID, fromID
		if err := tx.InsertTransaction(ctx, &domain.Transaction{
			ID:            uuid.New(),
			Reference:     ref,
			AccountID:     fromID,
			Kind:          domain.KindTransferOut,
			Amount:        amount,
			CounterpartID: &counterTo,
			Metadata:      map[string]any{"to_wallet": toHandle},
			Status:        domain.TransactionStatusCompleted,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &domain.Transaction{
			ID:            uuid.New(),
			Reference:     ref,
			AccountID:     toID,
			Kind:          domain.KindTransferIn,
			Amount:        amount,
			CounterpartID: &counterFrom,
			Metadata:      map[string]any{"from_account": fromID.String()},
			Status:        domain.TransactionStatusCompleted,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if err := e.enqueue(ctx, tx, domain.RoutingWalletTransferred, map[string]any{
			"reference":    ref,
			"from_account": fromID,
			"to_account":   toID,
			"amount":       amount.StringFixed(2),
		}); err != nil {
			return err
		}

		res = TransferResult{
			Reference:        ref,
			SenderBalance:    sender.Balance,
			RecipientID:      toID,
			RecipientBalance: recipient.Balance,
		}
		return nil
	})
	err = classify(op, err)
	e.observe(op, start, err)
	if err != nil {
		e.logFailure(op, fromID, err)
		return TransferResult{}, err
	}
	return res, nil
}

// CastVote buys voteCount votes for a contestant at the configured unit price,
// records them, and accrues loyalty progress in the same unit of work. The
// contestant tally is incremented after commit.
func (e *Engine) CastVote(ctx context.Context, accountID, contestantID uuid.UUID, voteCount int64) (VoteResult, error) {
	const op = "cast_vote"
	start := e.now()

	if voteCount <= 0 {
		e.observe(op, start, ErrInvalidAmount)
		return VoteResult{}, ErrInvalidAmount
	}
	cost := e.unitPrice.Mul(decimal.NewFromInt(voteCount))

	ref := newReference("VOT")
	var res VoteResult
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		contestant, err := tx.FindContestant(ctx, contestantID)
		if err != nil {
			return err
		}
		wallet, err := e.lockDebitWallet(ctx, tx, accountID, cost)
		if err != nil {
			return err
		}

		now := e.now()
		wallet.Balance = wallet.Balance.Sub(cost)
		wallet.TotalVotesCast += voteCount
		if err := tx.InsertTransaction(ctx, &domain.Transaction{
			ID:        uuid.New(),
			Reference: ref,
			AccountID: accountID,
			Kind:      domain.KindVoteDebit,
			Amount:    cost,
			Metadata: map[string]any{
				MetaContestant: contestantID.String(),
				MetaVoteCount:  voteCount,
				"unitPrice":    e.unitPrice.String(),
			},
			Status:    domain.TransactionStatusCompleted,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.InsertVote(ctx, &domain.VoteRecord{
			ID:           uuid.New(),
			AccountID:    accountID,
			ContestantID: contestantID,
			VoteCount:    voteCount,
			CoinsSpent:   cost,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		loyalty, err := e.accrue(ctx, tx, wallet, voteCount)
		if err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, wallet); err != nil {
			return err
		}
		if err := e.enqueue(ctx, tx, domain.RoutingVoteCast, map[string]any{
			"reference":     ref,
			"account_id":    accountID,
			"contestant_id": contestantID,
			"vote_count":    voteCount,
			"coins_spent":   cost.StringFixed(2),
		}); err != nil {
			return err
		}

		res = VoteResult{
			Reference:  ref,
			NewBalance: wallet.Balance,
			CoinsSpent: cost,
			VoteCount:  voteCount,
			Contestant: *contestant,
			Loyalty:    loyalty,
		}
		return nil
	})
	err = classify(op, err)
	e.observe(op, start, err)
	if err != nil {
		e.logFailure(op, accountID, err)
		return VoteResult{}, err
	}

	total, tallyErr := e.store.IncrementContestantVotes(ctx, contestantID, voteCount)
	if tallyErr != nil {
		e.logger.Warn("contestant tally increment failed; reconciliation will repair it",
			zap.String("contestant_id", contestantID.String()),
			zap.String("reference", ref),
			zap.Error(tallyErr),
		)
		res.TallyStale = true
		res.Contestant.Votes += voteCount
	} else {
		res.Contestant.Votes = total
	}
	return res, nil
}

func (e *Engine) validateDebit(amount decimal.Decimal, kind domain.TransactionKind, metadata map[string]any) error {
	if !kind.IsDebit() {
		return ErrInvalidKind
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	if kind != domain.KindVoteDebit {
		return nil
	}
	if !amount.Mod(e.unitPrice).IsZero() {
		return fmt.Errorf("%w: vote debit %s is not a multiple of the unit price %s", ErrInvalidAmount, amount.String(), e.unitPrice.String())
	}
	if count, ok := metadataInt(metadata, MetaVoteCount); ok {
		if !e.unitPrice.Mul(decimal.NewFromInt(count)).Equal(amount) {
			return fmt.Errorf("%w: vote debit %s does not match %d votes", ErrInvalidAmount, amount.String(), count)
		}
	}
	return nil
}

// lockDebitWallet locks the wallet to be debited and checks it can cover amount.
// A missing wallet has a balance of zero.
func (e *Engine) lockDebitWallet(ctx context.Context, tx store.LedgerTx, accountID uuid.UUID, amount decimal.Decimal) (*domain.Wallet, error) {
	wallet, err := tx.LockWallet(ctx, accountID, false)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			return nil, &InsufficientFundsError{Required: amount, Available: decimal.Zero}
		}
		return nil, err
	}
	if wallet.Balance.LessThan(amount) {
		return nil, &InsufficientFundsError{Required: amount, Available: wallet.Balance}
	}
	return wallet, nil
}

func (e *Engine) enqueue(ctx context.Context, tx store.LedgerTx, routingKey string, payload any) error {
	event, err := domain.NewOutboxEvent(routingKey, payload)
	if err != nil {
		return err
	}
	return tx.EnqueueEvent(ctx, event)
}

func (e *Engine) observe(op string, start time.Time, err error) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case IsDomainError(err):
		outcome = metrics.OutcomeRejected
	default:
		outcome = metrics.OutcomeError
	}
	e.metrics.ObserveWalletOp(op, outcome, e.now().Sub(start))
}

func (e *Engine) logFailure(op string, accountID uuid.UUID, err error) {
	if IsDomainError(err) {
		e.logger.Debug("wallet operation rejected", zap.String("op", op), zap.String("account_id", accountID.String()), zap.Error(err))
		return
	}
	e.logger.Error("wallet operation failed", zap.String("op", op), zap.String("account_id", accountID.String()), zap.Error(err))
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: at most two decimal places are allowed", ErrInvalidAmount)
	}
	return nil
}

func lockOrder(a, b uuid.UUID) []uuid.UUID {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return []uuid.UUID{a, b}
	}
	return []uuid.UUID{b, a}
}

func newReference(prefix string) string {
	return prefix + "-" + ulid.Make().String()
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	switch v := metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

func metadataInt(metadata map[string]any, key string) (int64, bool) {
	if metadata == nil {
		return 0, false
	}
	switch v := metadata[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}
