package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FindLedgerDrift lists wallets whose balance differs from the signed sum of
// their ledger rows.
func (s *PostgresStore) FindLedgerDrift(ctx context.Context, limit int) ([]LedgerDrift, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT w.user_id, w.balance::text, COALESCE(SUM(
			CASE WHEN t.type IN ('transfer_out', 'vote_debit') THEN -t.amount ELSE t.amount END
		), 0)::text AS ledger_total
		FROM wallets w
		LEFT JOIN transactions t ON t.user_id = w.user_id
		GROUP BY w.user_id, w.balance
		HAVING w.balance <> COALESCE(SUM(
			CASE WHEN t.type IN ('transfer_out', 'vote_debit') THEN -t.amount ELSE t.amount END
		), 0)
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerDrift
	for rows.Next() {
		var (
			d                      LedgerDrift
			balanceText, totalText string
		)
		if err := rows.Scan(&d.AccountID, &balanceText, &totalText); err != nil {
			return nil, err
		}
		if d.Balance, err = decimal.NewFromString(balanceText); err != nil {
			return nil, fmt.Errorf("parse drift balance: %w", err)
		}
		if d.LedgerTotal, err = decimal.NewFromString(totalText); err != nil {
			return nil, fmt.Errorf("parse drift ledger total: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FindTallyDrift lists contestants whose tally differs from their vote records.
func (s *PostgresStore) FindTallyDrift(ctx context.Context, limit int) ([]TallyDrift, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.votes, COALESCE(SUM(v.vote_count), 0) AS recorded
		FROM contestants c
		LEFT JOIN votes v ON v.contestant_id = c.id
		GROUP BY c.id, c.votes
		HAVING c.votes <> COALESCE(SUM(v.vote_count), 0)
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TallyDrift
	for rows.Next() {
		var d TallyDrift
		if err := rows.Scan(&d.ContestantID, &d.Tally, &d.Recorded); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RepairTally resets a contestant tally to the recorded vote total, provided
// the tally still holds the value the drift was observed with.
func (s *PostgresStore) RepairTally(ctx context.Context, contestantID uuid.UUID, observedTally, recorded int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE contestants SET votes = $3 WHERE id = $1 AND votes = $2`, contestantID, observedTally, recorded)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
