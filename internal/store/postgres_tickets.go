package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/votefest/wallet-service/internal/domain"
)

const ticketColumns = `t.id, t.user_id, t.ticket_type, t.amount::text, t.payment_reference, t.is_used, t.used_at, t.scanned_by, t.scan_action, t.created_at, u.username`

func (s *PostgresStore) CreateTicket(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO tickets (id, user_id, ticket_type, amount, payment_reference, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		ON CONFLICT (payment_reference) DO NOTHING
	`, ticket.ID, ticket.AccountID, string(ticket.Type), ticket.Amount.StringFixed(2), ticket.PaymentReference, ticket.CreatedAt)
	if err != nil {
		return nil, false, mapPgError(err)
	}
	stored, err := s.FindTicket(ctx, ticket.PaymentReference)
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) FindTicket(ctx context.Context, key string) (*domain.Ticket, error) {
	query, arg := ticketLookup(key, false)
	ticket, err := scanTicket(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return ticket, nil
}

func (s *PostgresStore) CheckInTicket(ctx context.Context, params CheckInParams, check func(*domain.Ticket) error) (*domain.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query, arg := ticketLookup(params.TicketKey, true)
	ticket, err := scanTicket(tx.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, mapPgError(err)
	}
	if check != nil {
		if err := check(ticket); err != nil {
			return ticket, err
		}
	}

	action := params.Action
	if action == "" {
		action = domain.ScanEntry
	}
	if _, err := tx.Exec(ctx, `
		UPDATE tickets
		SET is_used = TRUE, used_at = $2, scanned_by = $3, scan_action = $4
		WHERE id = $1
	`, ticket.ID, params.ScannedAt, params.ScannerID, string(action)); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO scan_logs (id, ticket_id, scanner_id, action, scanned_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), ticket.ID, params.ScannerID, string(action), params.ScannedAt); err != nil {
		return nil, fmt.Errorf("insert scan log: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(err)
	}

	usedAt := params.ScannedAt
	scanner := params.ScannerID
	ticket.IsUsed = true
	ticket.UsedAt = &usedAt
	ticket.ScannedBy = &scanner
	ticket.ScanAction = &action
	return ticket, nil
}

// ticketLookup matches by id when key is a UUID and by payment reference otherwise.
func ticketLookup(key string, forUpdate bool) (string, string) {
	key = strings.TrimSpace(key)
	where := "t.payment_reference = $1"
	if _, err := uuid.Parse(key); err == nil {
		where = "t.id = $1::uuid"
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets t JOIN users u ON u.id = t.user_id WHERE ` + where
	if forUpdate {
		query += " FOR UPDATE OF t"
	}
	return query, key
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var (
		t          domain.Ticket
		ticketType string
		amountText string
		scanAction *string
	)
	if err := row.Scan(&t.ID, &t.AccountID, &ticketType, &amountText, &t.PaymentReference, &t.IsUsed, &t.UsedAt, &t.ScannedBy, &scanAction, &t.CreatedAt, &t.HolderName); err != nil {
		return nil, err
	}
	t.Type = domain.TicketType(ticketType)
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return nil, fmt.Errorf("parse ticket amount: %w", err)
	}
	t.Amount = amount
	if scanAction != nil {
		action := domain.ScanAction(*scanAction)
		t.ScanAction = &action
	}
	return &t, nil
}
