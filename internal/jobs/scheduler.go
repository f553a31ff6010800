// internal/jobs/scheduler.go
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github-activity-sync/internal/clock"
	"github-activity-sync/internal/database"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/metrics"
	"github-activity-sync/internal/model"
)

// SchedulerConfig controls the periodic loop.
type SchedulerConfig struct {
	Tick            time.Duration
	DefaultInterval time.Duration
	JobTimeout      time.Duration
}

// Scheduler fails jobs stuck past the timeout and triggers incremental syncs
// for accounts whose interval has elapsed.
type Scheduler struct {
	db      database.Querier
	manager *Manager
	cfg     SchedulerConfig
	clock   clock.Clock
	logger  *slog.Logger
}

func NewScheduler(db database.Querier, manager *Manager, cfg SchedulerConfig, clk clock.Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{db: db, manager: manager, cfg: cfg, clock: clk, logger: logger}
}

// Start runs one cycle immediately and then one per tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler", "tick", s.cfg.Tick.String(), "default_interval", s.cfg.DefaultInterval.String())
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("Scheduler shutting down", "reason", ctx.Err())
			return
		}
	}
}

// RunOnce performs a single sweep and trigger cycle.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if err := s.sweep(ctx); err != nil {
		s.logger.Error("Failed to sweep stale sync jobs", "error", err)
	}
	if err := s.triggerDue(ctx); err != nil {
		s.logger.Error("Failed to trigger scheduled syncs", "error", err)
	}
}

func (s *Scheduler) sweep(ctx context.Context) error {
	now := s.clock.Now()
	stale, err := s.db.FailStaleSyncJobs(ctx, now.Add(-s.cfg.JobTimeout), model.ErrorDetail{
		Kind:    string(apperrors.KindTimeout),
		Message: "sync job exceeded " + s.cfg.JobTimeout.String(),
	}, now)
	if err != nil {
		return err
	}
	for _, job := range stale {
		metrics.StaleJobsSwept.Inc()
		s.logger.Warn("Stale sync job failed", "job_id", job.ID, "account_id", job.AccountID)
	}
	return nil
}

func (s *Scheduler) triggerDue(ctx context.Context) error {
	accounts, err := s.db.ListAccounts(ctx)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for _, account := range accounts {
		if !account.TokenConfigured {
			continue
		}
		var latest *model.SyncJob
		job, err := s.db.GetLatestSyncJob(ctx, account.ID)
		var nf *apperrors.NotFoundError
		switch {
		case err == nil:
			latest = &job
		case !errors.As(err, &nf):
			s.logger.Error("Failed to load latest sync job", "account_id", account.ID, "error", err)
			continue
		}
		if !s.due(account, latest, now) {
			continue
		}
		triggered, err := s.manager.Trigger(ctx, account.ID, TriggerRequest{})
		var conflict *apperrors.ConflictError
		if errors.As(err, &conflict) {
			continue
		}
		if err != nil {
			s.logger.Error("Failed to trigger scheduled sync", "account_id", account.ID, "error", err)
			continue
		}
		s.logger.Info("Scheduled sync triggered", "account_id", account.ID, "job_id", triggered.ID)
	}
	return nil
}

// due reports whether the account's interval has elapsed since its last
// attempt. A failed job counts as an attempt.
func (s *Scheduler) due(account model.Account, latest *model.SyncJob, now time.Time) bool {
	if !account.TokenConfigured {
		return false
	}
	var last time.Time
	if account.LastSyncedAt != nil {
		last = *account.LastSyncedAt
	}
	if latest != nil && latest.CreatedAt.After(last) {
		last = latest.CreatedAt
	}
	if last.IsZero() {
		return true
	}
	interval := account.SyncInterval
	if interval <= 0 {
		interval = s.cfg.DefaultInterval
	}
	return !now.Before(last.Add(interval))
}
