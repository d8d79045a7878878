/**
 * @description
 * PostgreSQL implementation of the ledger store. Each unit of work runs in one
 * transaction with a bounded lock wait; wallet rows are locked with
 * SELECT ... FOR UPDATE and amounts travel as NUMERIC text.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and pool.
 * - github.com/shopspring/decimal: Exact coin amounts.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/votefest/wallet-service/internal/domain"
)

const (
	pgCodeUniqueViolation     = "23505"
	pgCodeForeignKeyViolation = "23503"
	pgCodeLockNotAvailable    = "55P03"
	pgCodeSerialization       = "40001"
	pgCodeDeadlock            = "40P01"
)

// PostgresStore implements LedgerStore, AccountDirectory, MessageRepository,
// OutboxRepository, TicketRepository and ReconciliationRepository.
type PostgresStore struct {
	db          *pgxpool.Pool
	exchange    string
	lockTimeout time.Duration
}

// NewPostgresStore creates a store on top of an existing pool. Outbox events
// are addressed to exchange.
func NewPostgresStore(db *pgxpool.Pool, exchange string, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &PostgresStore{db: db, exchange: strings.TrimSpace(exchange), lockTimeout: lockTimeout}
}

// RunInTx executes fn inside a single database transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn TxFunc) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	// SET LOCAL does not accept bind parameters.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return mapPgError(err)
	}

	if err := fn(ctx, &pgLedgerTx{tx: tx, exchange: s.exchange}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, accountID uuid.UUID) (*domain.Wallet, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, balance::text, total_deposited::text, total_votes_cast, loyalty_progress, updated_at
		FROM wallets
		WHERE user_id = $1
	`, accountID)
	wallet, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IncrementContestantVotes(ctx context.Context, contestantID uuid.UUID, delta int64) (int64, error) {
	var votes int64
	err := s.db.QueryRow(ctx, `
		UPDATE contestants SET votes = votes + $2 WHERE id = $1 RETURNING votes
	`, contestantID, delta).Scan(&votes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrContestantNotFound
		}
		return 0, err
	}
	return votes, nil
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, votes, RANK() OVER (ORDER BY votes DESC) AS rank
		FROM contestants
		ORDER BY votes DESC, name ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LeaderboardEntry, 0, limit)
	for rows.Next() {
		var entry domain.LeaderboardEntry
		if err := rows.Scan(&entry.ID, &entry.Name, &entry.Votes, &entry.Rank); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// FindAccountByID returns an active account.
func (s *PostgresStore) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var (
		acc  domain.Account
		role string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, username, role, COALESCE(wallet_account, ''), created_at, deleted_at
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`, accountID).Scan(&acc.ID, &acc.Username, &role, &acc.WalletAccount, &acc.CreatedAt, &acc.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	acc.Role = domain.ParseRole(role)
	return &acc, nil
}

type pgLedgerTx struct {
	tx       pgx.Tx
	exchange string
}

func (t *pgLedgerTx) LockWallet(ctx context.Context, accountID uuid.UUID, create bool) (*domain.Wallet, error) {
	if create {
		// Lazily create the wallet; the account itself must already exist.
		_, err := t.tx.Exec(ctx, `
			INSERT INTO wallets (user_id)
			SELECT id FROM users WHERE id = $1 AND deleted_at IS NULL
			ON CONFLICT (user_id) DO NOTHING
		`, accountID)
		if err != nil {
			return nil, err
		}
	}

	row := t.tx.QueryRow(ctx, `
		SELECT user_id, balance::text, total_deposited::text, total_votes_cast, loyalty_progress, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, accountID)
	wallet, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if create {
				return nil, ErrAccountNotFound
			}
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

func (t *pgLedgerTx) SaveWallet(ctx context.Context, wallet *domain.Wallet) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallets
		SET balance = $2::numeric,
			total_deposited = $3::numeric,
			total_votes_cast = $4,
			loyalty_progress = $5,
			updated_at = NOW()
		WHERE user_id = $1
	`, wallet.AccountID, wallet.Balance.StringFixed(2), wallet.TotalDeposited.StringFixed(2), wallet.TotalVotesCast, wallet.LoyaltyProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (t *pgLedgerTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	metadata := txn.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	blob, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal transaction metadata: %w", err)
	}
	status := txn.Status
	if status == "" {
		status = domain.TransactionStatusCompleted
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO transactions (
			id, reference, user_id, type, amount, counterpart_id, external_reference, metadata, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8::jsonb, $9, $10)
	`,
		txn.ID,
		txn.Reference,
		txn.AccountID,
		string(txn.Kind),
		txn.Amount.StringFixed(2),
		txn.CounterpartID,
		txn.ExternalReference,
		string(blob),
		status,
		txn.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "transactions_external_reference_key") {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (t *pgLedgerTx) FindTransactionByExternalReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE external_reference = $1
	`, strings.TrimSpace(reference))
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return txn, nil
}

func (t *pgLedgerTx) ResolveWalletHandle(ctx context.Context, handle string) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM users WHERE wallet_account = $1 AND deleted_at IS NULL
	`, strings.TrimSpace(handle)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrAccountNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (t *pgLedgerTx) FindContestant(ctx context.Context, contestantID uuid.UUID) (*domain.Contestant, error) {
	var c domain.Contestant
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, contestant_number, votes FROM contestants WHERE id = $1
	`, contestantID).Scan(&c.ID, &c.Name, &c.Number, &c.Votes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContestantNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (t *pgLedgerTx) InsertVote(ctx context.Context, vote *domain.VoteRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO votes (id, user_id, contestant_id, vote_count, coins_spent, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
	`, vote.ID, vote.AccountID, vote.ContestantID, vote.VoteCount, vote.CoinsSpent.StringFixed(2), vote.CreatedAt)
	return err
}

func (t *pgLedgerTx) EnqueueEvent(ctx context.Context, event domain.OutboxEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, t.exchange, strings.TrimSpace(event.RoutingKey), string(event.Payload))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}

const transactionColumns = `id, reference, user_id, type, amount::text, counterpart_id, external_reference, metadata::text, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var (
		w                        domain.Wallet
		balanceText, depositText string
	)
	if err := row.Scan(&w.AccountID, &balanceText, &depositText, &w.TotalVotesCast, &w.LoyaltyProgress, &w.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if w.Balance, err = decimal.NewFromString(balanceText); err != nil {
		return nil, fmt.Errorf("parse wallet balance: %w", err)
	}
	if w.TotalDeposited, err = decimal.NewFromString(depositText); err != nil {
		return nil, fmt.Errorf("parse wallet total deposited: %w", err)
	}
	return &w, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		txn          domain.Transaction
		kind         string
		amountText   string
		metadataText string
	)
	if err := row.Scan(
		&txn.ID,
		&txn.Reference,
		&txn.AccountID,
		&kind,
		&amountText,
		&txn.CounterpartID,
		&txn.ExternalReference,
		&metadataText,
		&txn.Status,
		&txn.CreatedAt,
	); err != nil {
		return nil, err
	}
	txn.Kind = domain.TransactionKind(kind)
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return nil, fmt.Errorf("parse transaction amount: %w", err)
	}
	txn.Amount = amount
	if metadataText != "" {
		if err := json.Unmarshal([]byte(metadataText), &txn.Metadata); err != nil {
			txn.Metadata = map[string]any{}
		}
	}
	return &txn, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgCodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// mapPgError translates lock and serialization failures into ErrLockTimeout.
// Other errors pass through unchanged so callers can match domain sentinels.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgCodeLockNotAvailable, pgCodeSerialization, pgCodeDeadlock:
		return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
	case pgCodeForeignKeyViolation:
		if strings.Contains(pgErr.ConstraintName, "user_id") {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, pgErr.Message)
		}
	}
	return err
}
