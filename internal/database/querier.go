// internal/database/querier.go
package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github-activity-sync/internal/model"
)

// ErrInvalidTransition is returned when a job status update finds the job in
// a state that does not allow it, for example a job already failed by the sweeper.
var ErrInvalidTransition = errors.New("sync job is not in the expected state")

// CursorKind selects which per-repository cursor is updated.
type CursorKind string

const (
	CursorCommits      CursorKind = "commits"
	CursorPullRequests CursorKind = "pull_requests"
)

type CreateAccountParams struct {
	GithubLogin  string
	SyncInterval time.Duration
	AIEnabled    bool
	Timezone     string
}

// UpdateAccountSettingsParams applies only non-nil fields.
type UpdateAccountSettingsParams struct {
	ID           int64
	GithubLogin  *string
	SyncInterval *time.Duration
	AIEnabled    *bool
	Timezone     *string
}

type UpsertRepositoryParams struct {
	AccountID       int64
	GithubRepoID    int64
	FullName        string
	Description     *string
	PrimaryLanguage *string
	IsPrivate       bool
	IsFork          bool
	PushedAt        *time.Time
}

type ListCommitsToClassifyParams struct {
	AccountID int64
	// Degraded commits classified before this instant are returned again.
	// Zero disables re-classification.
	RetryDegradedBefore time.Time
	Limit               int
}

type UpdateCommitClassificationParams struct {
	CommitID     int64
	TechTags     []string
	WorkCategory model.WorkCategory
	ClassifiedAt time.Time
}

type CreateSyncJobParams struct {
	ID            uuid.UUID
	AccountID     int64
	JobType       model.JobType
	TargetRepoIDs []int64
	CreatedAt     time.Time
}

type FinishSyncJobParams struct {
	ID           uuid.UUID
	Status       model.JobStatus
	ItemsFetched int
	ErrorDetail  *model.ErrorDetail
	CompletedAt  time.Time
}

// Querier is the full set of persistence operations. Implementations must
// report missing rows as *errors.NotFoundError and a second non-terminal job
// for an account as *errors.ConflictError.
type Querier interface {
	CreateAccount(ctx context.Context, arg CreateAccountParams) (model.Account, error)
	GetAccount(ctx context.Context, id int64) (model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	UpdateAccountSettings(ctx context.Context, arg UpdateAccountSettingsParams) (model.Account, error)
	SetAccountToken(ctx context.Context, id int64, encryptedToken string) error
	ClearAccountToken(ctx context.Context, id int64) error
	MarkAccountSynced(ctx context.Context, id int64, at time.Time) error

	UpsertRepository(ctx context.Context, arg UpsertRepositoryParams) (repo model.Repository, created bool, err error)
	GetRepository(ctx context.Context, id int64) (model.Repository, error)
	ListRepositories(ctx context.Context, accountID int64, activeOnly bool) ([]model.Repository, error)
	SetRepositoryActive(ctx context.Context, accountID, repoID int64, active bool) (model.Repository, error)
	UpdateRepositoryCursor(ctx context.Context, repoID int64, kind CursorKind, cursor model.Cursor) error
	UpdateRepositoryLanguages(ctx context.Context, repoID int64, primary *string, languages map[string]int) error
	MergeRepositoryMetadata(ctx context.Context, repoID int64, patch map[string]any) error
	MarkRepositorySynced(ctx context.Context, repoID int64, at time.Time) error

	UpsertCommit(ctx context.Context, c model.Commit) (inserted bool, err error)
	ListCommitsToClassify(ctx context.Context, arg ListCommitsToClassifyParams) ([]model.Commit, error)
	UpdateCommitClassification(ctx context.Context, arg UpdateCommitClassificationParams) error
	ListCommitFacts(ctx context.Context, accountID int64, from, to time.Time) ([]model.CommitFact, error)

	UpsertPullRequest(ctx context.Context, pr model.PullRequest) (inserted bool, err error)
	ListPullRequestFacts(ctx context.Context, accountID int64, from, to time.Time) ([]model.PullRequestFact, error)

	CreateSyncJob(ctx context.Context, arg CreateSyncJobParams) (model.SyncJob, error)
	GetSyncJob(ctx context.Context, id uuid.UUID) (model.SyncJob, error)
	MarkSyncJobRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (model.SyncJob, error)
	FinishSyncJob(ctx context.Context, arg FinishSyncJobParams) (model.SyncJob, error)
	ListSyncJobs(ctx context.Context, accountID int64, limit int) ([]model.SyncJob, error)
	GetLatestSyncJob(ctx context.Context, accountID int64) (model.SyncJob, error)
	FailStaleSyncJobs(ctx context.Context, activeBefore time.Time, detail model.ErrorDetail, at time.Time) ([]model.SyncJob, error)

	// Replace* delete every row of the account whose day lies in [fromDay, toDay]
	// and insert rows. A zero bound is open.
	ReplaceDailyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyActivity) error
	ReplaceDailyBreakdown(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyBreakdown) error
	ReplaceHourlyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.HourlyActivity) error
	ReplaceDailyTechTags(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyTechTag) error
	UpsertAccountStats(ctx context.Context, stats model.AccountStats) error

	ListDailyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time) ([]model.DailyActivity, error)
	ListDailyBreakdown(ctx context.Context, accountID int64, dim model.Dimension, fromDay, toDay time.Time) ([]model.DailyBreakdown, error)
	ListHourlyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time) ([]model.HourlyActivity, error)
	ListDailyTechTags(ctx context.Context, accountID int64, fromDay, toDay time.Time) ([]model.DailyTechTag, error)
	GetAccountStats(ctx context.Context, accountID int64) (model.AccountStats, error)
}

// Store is a Querier that can also run a function inside one transaction.
// The function's Querier must be used for every statement of the unit.
type Store interface {
	Querier
	InTx(ctx context.Context, fn func(q Querier) error) error
}

var _ Querier = (*Queries)(nil)
var _ Store = (*PgStore)(nil)
