package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	schedule string
	logger   *zap.Logger
}

// NewScheduler runs both reconciliation jobs on schedule.
func NewScheduler(jobs *Jobs, schedule string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	return &Scheduler{cron: c, jobs: jobs, schedule: schedule, logger: logger}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.ReconcileLedger); err != nil {
		s.logger.Error("failed to schedule ledger reconciliation", zap.Error(err))
		return err
	}
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.ReconcileTallies); err != nil {
		s.logger.Error("failed to schedule tally reconciliation", zap.Error(err))
		return err
	}
	s.logger.Info("scheduled reconciliation jobs", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
