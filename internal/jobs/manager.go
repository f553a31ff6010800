// internal/jobs/manager.go

// Package jobs runs sync jobs: one background run per trigger, at most one
// pending or running job per account.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github-activity-sync/internal/classifier"
	"github-activity-sync/internal/clock"
	"github-activity-sync/internal/database"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/metrics"
	"github-activity-sync/internal/model"
	"github-activity-sync/internal/syncer"
)

const defaultHistoryLimit = 20

// Reconciler ingests upstream data for an account.
type Reconciler interface {
	Reconcile(ctx context.Context, account model.Account, scope syncer.Scope) (syncer.Result, error)
}

// ClassificationPass annotates persisted commits.
type ClassificationPass interface {
	Run(ctx context.Context, accountID int64) (classifier.PassResult, error)
}

// Aggregator rebuilds rollups.
type Aggregator interface {
	Recompute(ctx context.Context, accountID int64, affected model.DateRange) error
	RefreshStats(ctx context.Context, accountID int64) error
}

// TriggerRequest selects what a job syncs. No RepoIDs means every active repository.
type TriggerRequest struct {
	RepoIDs []int64 `json:"repo_ids,omitempty"`
	Full    bool    `json:"full_sync,omitempty"`
}

// Manager creates sync jobs and runs each one in the background:
// reconcile, then classify, then recompute rollups.
type Manager struct {
	db         database.Store
	reconciler Reconciler
	pass       ClassificationPass
	aggregator Aggregator
	clock      clock.Clock
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager. pass may be nil when no AI provider is configured.
func NewManager(db database.Store, reconciler Reconciler, pass ClassificationPass, aggregator Aggregator, clk clock.Clock, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		db:         db,
		reconciler: reconciler,
		pass:       pass,
		aggregator: aggregator,
		clock:      clk,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Trigger creates a pending job and starts it. It fails with
// *errors.ConflictError when the account already has a pending or running job.
func (m *Manager) Trigger(ctx context.Context, accountID int64, req TriggerRequest) (model.SyncJob, error) {
	account, err := m.db.GetAccount(ctx, accountID)
	if err != nil {
		return model.SyncJob{}, err
	}
	repoIDs := slices.Clone(req.RepoIDs)
	slices.Sort(repoIDs)
	repoIDs = slices.Compact(repoIDs)
	for _, id := range repoIDs {
		repo, err := m.db.GetRepository(ctx, id)
		var nf *apperrors.NotFoundError
		if errors.As(err, &nf) || (err == nil && repo.AccountID != accountID) {
			return model.SyncJob{}, &apperrors.InvalidArgumentError{Field: "repo_ids", Reason: fmt.Sprintf("repository %d does not belong to the account", id)}
		}
		if err != nil {
			return model.SyncJob{}, err
		}
	}

	jobType := model.JobTypeIncremental
	if req.Full {
		jobType = model.JobTypeFull
	}
	job, err := m.db.CreateSyncJob(ctx, database.CreateSyncJobParams{
		ID:            uuid.New(),
		AccountID:     accountID,
		JobType:       jobType,
		TargetRepoIDs: repoIDs,
		CreatedAt:     m.clock.Now(),
	})
	if err != nil {
		return model.SyncJob{}, err
	}
	m.logger.Info("Sync job created", "job_id", job.ID, "account_id", accountID, "job_type", jobType)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(m.ctx, job, account)
	}()
	return job, nil
}

func (m *Manager) run(ctx context.Context, job model.SyncJob, account model.Account) {
	logger := m.logger.With("job_id", job.ID, "account_id", account.ID)
	start := m.clock.Now()

	if _, err := m.db.MarkSyncJobRunning(ctx, job.ID, start); err != nil {
		logger.Error("Failed to start sync job", "error", err)
		// The pending row holds the account's active-job slot until finished.
		if !errors.Is(err, database.ErrInvalidTransition) {
			m.finish(ctx, logger, job, start, syncer.Result{}, fmt.Errorf("failed to start sync job: %w", err))
		}
		return
	}

	var res syncer.Result
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Sync job panicked", "panic", p)
			m.finish(ctx, logger, job, start, res, fmt.Errorf("panic: %v", p))
		}
	}()

	res, err := m.execute(ctx, logger, job, account)
	m.finish(ctx, logger, job, start, res, err)
}

// execute runs the pipeline. Only reconciliation and aggregation failures fail
// the job; classification is best effort.
func (m *Manager) execute(ctx context.Context, logger *slog.Logger, job model.SyncJob, account model.Account) (syncer.Result, error) {
	res, err := m.reconciler.Reconcile(ctx, account, syncer.Scope{
		RepoIDs: job.TargetRepoIDs,
		Full:    job.JobType == model.JobTypeFull,
	})
	if err != nil {
		return res, err
	}
	affected := res.Affected

	if m.pass != nil && account.AIEnabled {
		passRes, err := m.pass.Run(ctx, account.ID)
		if err != nil {
			logger.Warn("Classification pass failed", "error", err)
		}
		affected = affected.Union(passRes.Affected)
	}

	switch {
	case job.JobType == model.JobTypeFull || res.Relabeled:
		err = m.aggregator.Recompute(ctx, account.ID, model.DateRange{})
	case affected.IsZero():
		err = m.aggregator.RefreshStats(ctx, account.ID)
	default:
		err = m.aggregator.Recompute(ctx, account.ID, affected)
	}
	return res, err
}

func (m *Manager) finish(ctx context.Context, logger *slog.Logger, job model.SyncJob, start time.Time, res syncer.Result, runErr error) {
	now := m.clock.Now()
	params := database.FinishSyncJobParams{
		ID:           job.ID,
		Status:       model.JobCompleted,
		ItemsFetched: res.ItemsFetched,
		CompletedAt:  now,
	}
	if len(res.RepoErrors) > 0 {
		params.ErrorDetail = &model.ErrorDetail{Repositories: res.RepoErrors}
	}
	if runErr != nil {
		params.Status = model.JobFailed
		params.ErrorDetail = &model.ErrorDetail{
			Kind:         string(apperrors.KindOf(runErr)),
			Message:      runErr.Error(),
			Repositories: res.RepoErrors,
		}
	}

	// A job swept as stale must still be finished, even during shutdown.
	ctx = context.WithoutCancel(ctx)
	if _, err := m.db.FinishSyncJob(ctx, params); err != nil {
		logger.Error("Failed to finish sync job", "status", params.Status, "error", err)
		return
	}
	metrics.SyncJobs.WithLabelValues(string(params.Status), string(job.JobType)).Inc()
	metrics.SyncJobDuration.WithLabelValues(string(params.Status)).Observe(now.Sub(start).Seconds())

	if runErr != nil {
		logger.Error("Sync job failed", "kind", params.ErrorDetail.Kind, "error", runErr, "items", res.ItemsFetched)
		return
	}
	if err := m.db.MarkAccountSynced(ctx, job.AccountID, now); err != nil {
		logger.Error("Failed to mark account synced", "error", err)
	}
	logger.Info("Sync job completed", "items", res.ItemsFetched, "repository_errors", len(res.RepoErrors), "duration", now.Sub(start))
}

// Status returns a job by id. It has no side effects and may be polled.
func (m *Manager) Status(ctx context.Context, id uuid.UUID) (model.SyncJob, error) {
	return m.db.GetSyncJob(ctx, id)
}

// History lists an account's jobs, newest first.
func (m *Manager) History(ctx context.Context, accountID int64, limit int) ([]model.SyncJob, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return m.db.ListSyncJobs(ctx, accountID, limit)
}

// SyncStateKind is what the dashboard shows about an account's data freshness.
type SyncStateKind string

const (
	StateNeverSynced SyncStateKind = "never_synced"
	StateInProgress  SyncStateKind = "in_progress"
	StateFailed      SyncStateKind = "failed"
	StateSynced      SyncStateKind = "synced"
)

// SyncState summarizes the latest job of an account.
type SyncState struct {
	State        SyncStateKind      `json:"state"`
	LastSyncedAt *time.Time         `json:"last_synced_at,omitempty"`
	LastJob      *model.SyncJob     `json:"last_job,omitempty"`
	LastError    *model.ErrorDetail `json:"last_error,omitempty"`
}

func (m *Manager) AccountState(ctx context.Context, accountID int64) (SyncState, error) {
	account, err := m.db.GetAccount(ctx, accountID)
	if err != nil {
		return SyncState{}, err
	}
	state := SyncState{State: StateNeverSynced, LastSyncedAt: account.LastSyncedAt}

	job, err := m.db.GetLatestSyncJob(ctx, accountID)
	var nf *apperrors.NotFoundError
	if errors.As(err, &nf) {
		if account.LastSyncedAt != nil {
			state.State = StateSynced
		}
		return state, nil
	}
	if err != nil {
		return SyncState{}, err
	}
	state.LastJob = &job
	switch job.Status {
	case model.JobPending, model.JobRunning:
		state.State = StateInProgress
	case model.JobFailed:
		state.State = StateFailed
		state.LastError = job.ErrorDetail
	case model.JobCompleted:
		state.State = StateSynced
	}
	return state, nil
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown waits for running jobs until ctx expires, then cancels them.
func (m *Manager) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Cancelling running sync jobs")
		m.cancel()
		<-done
	}
	m.cancel()
}
