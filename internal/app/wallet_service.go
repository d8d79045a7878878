/**
 * @description
 * Wallet use cases exposed over HTTP and the payment consumer. Every mutation
 * goes through the ledger engine; realtime notifications are sent only after
 * the engine has committed.
 *
 * @dependencies
 * - internal/ledger: the wallet engine.
 * - github.com/shopspring/decimal: coin and currency amounts.
 * - github.com/oklog/ulid/v2: funding references.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/ledger"
	"github.com/votefest/wallet-service/internal/store"
)

// WalletOptions carries the funding and transfer limits.
type WalletOptions struct {
	MinTransfer          decimal.Decimal
	MinFunding           decimal.Decimal
	CoinsPerCurrencyUnit decimal.Decimal
}

// FundingRequest is returned when a wallet top-up is initiated.
type FundingRequest struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Coins     decimal.Decimal `json:"coins"`
}

// PaymentOutcome describes how a verified payment was applied.
type PaymentOutcome struct {
	Purpose    string          `json:"purpose"`
	Reference  string          `json:"reference"`
	Coins      decimal.Decimal `json:"coins,omitempty"`
	NewBalance decimal.Decimal `json:"new_balance,omitempty"`
	Ticket     *domain.Ticket  `json:"ticket,omitempty"`
	Duplicate  bool            `json:"duplicate"`
}

// WalletService orchestrates balance reads, transfers and funding.
type WalletService struct {
	engine   *ledger.Engine
	ledger   store.LedgerStore
	tickets  *TicketService
	notifier Notifier
	opts     WalletOptions
	logger   *zap.Logger
}

// NewWalletService creates a wallet service. tickets may be nil when ticket
// sales are disabled.
func NewWalletService(engine *ledger.Engine, ledgerStore store.LedgerStore, tickets *TicketService, notifier Notifier, opts WalletOptions, logger *zap.Logger) *WalletService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !opts.CoinsPerCurrencyUnit.IsPositive() {
		opts.CoinsPerCurrencyUnit = decimal.NewFromInt(10)
	}
	return &WalletService{
		engine:   engine,
		ledger:   ledgerStore,
		tickets:  tickets,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With(zap.String("component", "wallet_service")),
	}
}

// Balance returns the caller's wallet. A missing wallet reads as empty.
func (s *WalletService) Balance(ctx context.Context, accountID uuid.UUID) (domain.Wallet, error) {
	return s.engine.GetWallet(ctx, accountID)
}

// History returns the newest transactions first.
func (s *WalletService) History(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.engine.History(ctx, accountID, limit, offset)
}

// Transfer moves coins to the wallet behind toHandle and notifies both sides.
func (s *WalletService) Transfer(ctx context.Context, fromID uuid.UUID, toHandle string, amount decimal.Decimal) (ledger.TransferResult, error) {
	if amount.LessThan(s.opts.MinTransfer) {
		return ledger.TransferResult{}, fmt.Errorf("%w: minimum transfer is %s coins", ErrBelowMinimum, s.opts.MinTransfer.String())
	}

	res, err := s.engine.Transfer(ctx, fromID, toHandle, amount)
	if err != nil {
		return ledger.TransferResult{}, err
	}

	s.notifier.NotifyAccount(fromID, domain.EventWalletUpdate, domain.WalletUpdatePayload{
		NewBalance:  domain.CoinAmount(res.SenderBalance),
		Transaction: res.Reference,
		Reason:      string(domain.KindTransferOut),
	})
	s.notifier.NotifyAccount(res.RecipientID, domain.EventWalletUpdate, domain.WalletUpdatePayload{
		NewBalance:  domain.CoinAmount(res.RecipientBalance),
		Transaction: res.Reference,
		Reason:      string(domain.KindTransferIn),
	})
	return res, nil
}

// RequestFunding records a payment request for the payment collaborator and
// returns the reference the verified payment will carry back.
func (s *WalletService) RequestFunding(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (FundingRequest, error) {
	if amount.LessThan(s.opts.MinFunding) {
		return FundingRequest{}, fmt.Errorf("%w: minimum funding is %s", ErrBelowMinimum, s.opts.MinFunding.String())
	}
	if amount.Exponent() < -2 {
		return FundingRequest{}, ledger.ErrInvalidAmount
	}

	req := FundingRequest{
		Reference: "FND-" + ulid.Make().String(),
		Amount:    amount,
		Coins:     s.coinsFor(amount),
	}
	event, err := domain.NewOutboxEvent(domain.RoutingPaymentRequested, domain.PaymentRequestedEvent{
		Reference: req.Reference,
		AccountID: accountID,
		Amount:    amount.StringFixed(2),
		Purpose:   domain.PurposeWalletFunding,
		Requested: time.Now().UTC(),
	})
	if err != nil {
		return FundingRequest{}, err
	}
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		return tx.EnqueueEvent(ctx, event)
	})
	if err != nil {
		s.logger.Error("failed to record funding request", zap.String("account_id", accountID.String()), zap.Error(err))
		return FundingRequest{}, &ledger.StorageError{Op: "request_funding", Err: err}
	}

	s.logger.Info("funding requested",
		zap.String("account_id", accountID.String()),
		zap.String("reference", req.Reference),
		zap.String("amount", amount.StringFixed(2)),
	)
	return req, nil
}

// ApplyVerifiedPayment credits coins (or issues a ticket) for a payment the
// collaborator has verified. Replays of the same reference are no-ops.
func (s *WalletService) ApplyVerifiedPayment(ctx context.Context, event domain.PaymentVerifiedEvent) (PaymentOutcome, error) {
	reference := strings.TrimSpace(event.ExternalReference)
	if reference == "" {
		return PaymentOutcome{}, fmt.Errorf("%w: missing reference", ErrInvalidPayment)
	}
	accountID, err := uuid.Parse(strings.TrimSpace(event.AccountID))
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("%w: bad account id", ErrInvalidPayment)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(event.VerifiedAmount))
	if err != nil || !amount.IsPositive() {
		return PaymentOutcome{}, fmt.Errorf("%w: bad amount %q", ErrInvalidPayment, event.VerifiedAmount)
	}

	purpose := strings.TrimSpace(event.Purpose)
	if purpose == "" {
		purpose = domain.PurposeWalletFunding
	}

	switch purpose {
	case domain.PurposeTicketPurchase:
		return s.applyTicketPurchase(ctx, accountID, reference, amount, event.TicketType)
	case domain.PurposeWalletFunding:
		return s.applyFunding(ctx, accountID, reference, amount)
	default:
		return PaymentOutcome{}, fmt.Errorf("%w: unknown purpose %q", ErrInvalidPayment, purpose)
	}
}

func (s *WalletService) applyFunding(ctx context.Context, accountID uuid.UUID, reference string, amount decimal.Decimal) (PaymentOutcome, error) {
	coins := s.coinsFor(amount)
	res, err := s.engine.Credit(ctx, accountID, coins, domain.KindDeposit, map[string]any{
		ledger.MetaReference: reference,
		"currencyAmount":     amount.StringFixed(2),
		"purpose":            domain.PurposeWalletFunding,
	})
	if err != nil {
		return PaymentOutcome{}, err
	}

	out := PaymentOutcome{
		Purpose:    domain.PurposeWalletFunding,
		Reference:  reference,
		Coins:      coins,
		NewBalance: res.NewBalance,
		Duplicate:  res.Duplicate,
	}
	if res.Duplicate {
		s.logger.Info("verified payment already applied", zap.String("reference", reference))
		return out, nil
	}

	s.notifier.NotifyAccount(accountID, domain.EventWalletUpdate, domain.WalletUpdatePayload{
		NewBalance:  domain.CoinAmount(res.NewBalance),
		Transaction: res.Reference,
		Reason:      string(domain.KindDeposit),
	})
	s.notifier.NotifyAccount(accountID, domain.EventPurchaseUpdate, domain.PurchaseUpdatePayload{
		Type:      domain.PurposeWalletFunding,
		Reference: reference,
		Status:    "completed",
		Coins:     coins.StringFixed(2),
	})
	return out, nil
}

func (s *WalletService) applyTicketPurchase(ctx context.Context, accountID uuid.UUID, reference string, amount decimal.Decimal, ticketType string) (PaymentOutcome, error) {
	if s.tickets == nil {
		return PaymentOutcome{}, ErrTicketsUnavailable
	}
	ticket, created, err := s.tickets.IssueFromPayment(ctx, accountID, domain.TicketType(strings.ToLower(strings.TrimSpace(ticketType))), amount, reference)
	if err != nil {
		return PaymentOutcome{}, err
	}

	out := PaymentOutcome{
		Purpose:   domain.PurposeTicketPurchase,
		Reference: reference,
		Ticket:    ticket,
		Duplicate: !created,
	}
	if created {
		s.notifier.NotifyAccount(accountID, domain.EventPurchaseUpdate, domain.PurchaseUpdatePayload{
			Type:      domain.PurposeTicketPurchase,
			Reference: reference,
			Status:    "completed",
			TicketID:  ticket.ID.String(),
		})
	}
	return out, nil
}

func (s *WalletService) coinsFor(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.opts.CoinsPerCurrencyUnit).Round(2)
}

// IsPermanentPaymentError reports whether retrying the payment event can never succeed.
func IsPermanentPaymentError(err error) bool {
	return errors.Is(err, ErrInvalidPayment) ||
		errors.Is(err, ErrTicketsUnavailable) ||
		errors.Is(err, ErrInvalidTicketType) ||
		errors.Is(err, ErrTicketUnderpaid) ||
		ledger.IsDomainError(err)
}
