/**
 * @description
 * Scheduled consistency checks. Ledger drift is reported only; wallet balances
 * are never rewritten by a job. Tally drift is repaired once the same drift
 * has been observed on two consecutive runs, which leaves in-flight post-commit
 * increments time to land.
 */
package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/votefest/wallet-service/internal/metrics"
	"github.com/votefest/wallet-service/internal/store"
)

const (
	reconcileBatch   = 500
	reconcileTimeout = 2 * time.Minute
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo    store.ReconciliationRepository
	logger  *zap.Logger
	metrics *metrics.Registry

	mu           sync.Mutex
	pendingTally map[uuid.UUID]store.TallyDrift
}

func NewJobs(repo store.ReconciliationRepository, logger *zap.Logger, m *metrics.Registry) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{
		repo:         repo,
		logger:       logger.With(zap.String("component", "jobs")),
		metrics:      m,
		pendingTally: make(map[uuid.UUID]store.TallyDrift),
	}
}

// ReconcileLedger compares every balance with the signed sum of its ledger rows.
func (j *Jobs) ReconcileLedger() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	j.logger.Info("starting ledger reconciliation job")
	if _, err := j.reconcileLedger(ctx); err != nil {
		j.logger.Error("ledger reconciliation failed", zap.Error(err))
		return
	}
	j.logger.Info("ledger reconciliation job finished")
}

// ReconcileTallies compares contestant tallies with the recorded votes.
func (j *Jobs) ReconcileTallies() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	j.logger.Info("starting tally reconciliation job")
	if _, err := j.reconcileTallies(ctx); err != nil {
		j.logger.Error("tally reconciliation failed", zap.Error(err))
		return
	}
	j.logger.Info("tally reconciliation job finished")
}

func (j *Jobs) reconcileLedger(ctx context.Context) ([]store.LedgerDrift, error) {
	drifts, err := j.repo.FindLedgerDrift(ctx, reconcileBatch)
	if err != nil {
		return nil, err
	}
	j.metrics.ReconcileMismatch("ledger", len(drifts))
	for _, d := range drifts {
		j.logger.Error("wallet balance disagrees with ledger",
			zap.String("account_id", d.AccountID.String()),
			zap.String("balance", d.Balance.StringFixed(2)),
			zap.String("ledger_total", d.LedgerTotal.StringFixed(2)),
		)
	}
	return drifts, nil
}

// reconcileTallies returns how many tallies were repaired on this run.
func (j *Jobs) reconcileTallies(ctx context.Context) (int, error) {
	drifts, err := j.repo.FindTallyDrift(ctx, reconcileBatch)
	if err != nil {
		return 0, err
	}
	j.metrics.ReconcileMismatch("tally", len(drifts))

	j.mu.Lock()
	defer j.mu.Unlock()

	next := make(map[uuid.UUID]store.TallyDrift, len(drifts))
	repaired := 0
	for _, d := range drifts {
		prev, seen := j.pendingTally[d.ContestantID]
		if !seen || prev != d {
			next[d.ContestantID] = d
			continue
		}
		ok, err := j.repo.RepairTally(ctx, d.ContestantID, d.Tally, d.Recorded)
		if err != nil {
			j.logger.Error("tally repair failed", zap.String("contestant_id", d.ContestantID.String()), zap.Error(err))
			next[d.ContestantID] = d
			continue
		}
		if ok {
			repaired++
			j.logger.Warn("contestant tally repaired",
				zap.String("contestant_id", d.ContestantID.String()),
				zap.Int64("tally", d.Tally),
				zap.Int64("recorded", d.Recorded),
			)
		}
	}
	j.pendingTally = next
	return repaired, nil
}
