/**
 * @description
 * Storage contracts for the wallet service. The ledger is mutated only through
 * LedgerStore.RunInTx so that every balance change, its ledger row and its
 * outbox event commit or roll back together.
 *
 * @dependencies
 * - github.com/google/uuid: Identifiers.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/votefest/wallet-service/internal/domain"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrContestantNotFound  = errors.New("contestant not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrDuplicateReference  = errors.New("duplicate external reference")
	ErrLockTimeout         = errors.New("row lock wait timed out")
)

// TxFunc is a unit of work executed inside one ledger transaction.
type TxFunc func(ctx context.Context, tx LedgerTx) error

// LedgerStore owns wallet, transaction and vote persistence.
type LedgerStore interface {
	// RunInTx commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn TxFunc) error

	GetWallet(ctx context.Context, accountID uuid.UUID) (*domain.Wallet, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error)
	IncrementContestantVotes(ctx context.Context, contestantID uuid.UUID, delta int64) (int64, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// LedgerTx exposes the row-level primitives available inside a unit of work.
type LedgerTx interface {
	// LockWallet takes the wallet row lock. With create set, a missing wallet
	// is created first; otherwise ErrWalletNotFound is returned.
	LockWallet(ctx context.Context, accountID uuid.UUID, create bool) (*domain.Wallet, error)
	SaveWallet(ctx context.Context, wallet *domain.Wallet) error
	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
	FindTransactionByExternalReference(ctx context.Context, reference string) (*domain.Transaction, error)
	ResolveWalletHandle(ctx context.Context, handle string) (uuid.UUID, error)
	FindContestant(ctx context.Context, contestantID uuid.UUID) (*domain.Contestant, error)
	InsertVote(ctx context.Context, vote *domain.VoteRecord) error
	EnqueueEvent(ctx context.Context, event domain.OutboxEvent) error
}

// AccountDirectory reads accounts owned by the auth collaborator.
type AccountDirectory interface {
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
}

// MessageRepository persists support chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *domain.Message) error
	MarkMessageRead(ctx context.Context, messageID uuid.UUID) (*domain.Message, error)
}

// OutboxMessage is a claimed outbox row ready to be published.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// OutboxRepository drives the transactional outbox.
type OutboxRepository interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// CheckInParams describes one gate scan.
type CheckInParams struct {
	TicketKey string
	ScannerID uuid.UUID
	Action    domain.ScanAction
	ScannedAt time.Time
}

// TicketRepository persists admission tickets.
type TicketRepository interface {
	// CreateTicket inserts the ticket unless one already exists for the same
	// payment reference, in which case the existing ticket is returned with created=false.
	CreateTicket(ctx context.Context, ticket *domain.Ticket) (stored *domain.Ticket, created bool, err error)
	// FindTicket looks a ticket up by id or by payment reference.
	FindTicket(ctx context.Context, key string) (*domain.Ticket, error)
	// CheckInTicket locks the ticket row, marks it used and appends a scan log.
	// The supplied check runs under the lock and may veto the scan.
	CheckInTicket(ctx context.Context, params CheckInParams, check func(*domain.Ticket) error) (*domain.Ticket, error)
}

// LedgerDrift is a wallet whose balance disagrees with its ledger rows.
type LedgerDrift struct {
	AccountID   uuid.UUID
	Balance     decimal.Decimal
	LedgerTotal decimal.Decimal
}

// TallyDrift is a contestant whose vote tally disagrees with the vote records.
type TallyDrift struct {
	ContestantID uuid.UUID
	Tally        int64
	Recorded     int64
}

// ReconciliationRepository backs the scheduled consistency checks.
type ReconciliationRepository interface {
	FindLedgerDrift(ctx context.Context, limit int) ([]LedgerDrift, error)
	FindTallyDrift(ctx context.Context, limit int) ([]TallyDrift, error)
	RepairTally(ctx context.Context, contestantID uuid.UUID, observedTally, recorded int64) (bool, error)
}

// Compile-time checks.
var (
	_ LedgerStore              = (*PostgresStore)(nil)
	_ AccountDirectory         = (*PostgresStore)(nil)
	_ MessageRepository        = (*PostgresStore)(nil)
	_ OutboxRepository         = (*PostgresStore)(nil)
	_ TicketRepository         = (*PostgresStore)(nil)
	_ ReconciliationRepository = (*PostgresStore)(nil)
)
