// internal/database/queries.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Queries implements Querier on top of pgx.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db, which may be a pool or a transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

const uniqueViolation = "23505"

func notFound(err error, entity string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &apperrors.NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
	}
	return err
}

// nullTime maps the zero time to SQL NULL so open range bounds work.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// --- accounts ---

const accountColumns = `id, github_login, encrypted_token, sync_interval_seconds, ai_enabled, timezone, last_synced_at, created_at, updated_at`

func scanAccount(row scanner) (model.Account, error) {
	var a model.Account
	var seconds int64
	err := row.Scan(&a.ID, &a.GithubLogin, &a.EncryptedToken, &seconds, &a.AIEnabled, &a.Timezone, &a.LastSyncedAt, &a.CreatedAt, &a.UpdatedAt)
	a.SyncInterval = time.Duration(seconds) * time.Second
	a.TokenConfigured = a.EncryptedToken != nil && *a.EncryptedToken != ""
	return a, err
}

const createAccount = `
INSERT INTO accounts (github_login, sync_interval_seconds, ai_enabled, timezone)
VALUES ($1, $2, $3, $4)
RETURNING ` + accountColumns

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (model.Account, error) {
	row := q.db.QueryRow(ctx, createAccount, arg.GithubLogin, int64(arg.SyncInterval/time.Second), arg.AIEnabled, arg.Timezone)
	return scanAccount(row)
}

const getAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

func (q *Queries) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	a, err := scanAccount(q.db.QueryRow(ctx, getAccount, id))
	return a, notFound(err, "account", id)
}

const listAccounts = `SELECT ` + accountColumns + ` FROM accounts ORDER BY id`

func (q *Queries) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := q.db.Query(ctx, listAccounts)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Account, error) {
		return scanAccount(row)
	})
}

const updateAccountSettings = `
UPDATE accounts SET
    github_login          = COALESCE($2::text, github_login),
    sync_interval_seconds = COALESCE($3::bigint, sync_interval_seconds),
    ai_enabled            = COALESCE($4::boolean, ai_enabled),
    timezone              = COALESCE($5::text, timezone),
    updated_at            = NOW()
WHERE id = $1
RETURNING ` + accountColumns

func (q *Queries) UpdateAccountSettings(ctx context.Context, arg UpdateAccountSettingsParams) (model.Account, error) {
	var seconds *int64
	if arg.SyncInterval != nil {
		s := int64(*arg.SyncInterval / time.Second)
		seconds = &s
	}
	row := q.db.QueryRow(ctx, updateAccountSettings, arg.ID, arg.GithubLogin, seconds, arg.AIEnabled, arg.Timezone)
	a, err := scanAccount(row)
	return a, notFound(err, "account", arg.ID)
}

func (q *Queries) SetAccountToken(ctx context.Context, id int64, encryptedToken string) error {
	return q.execOne(ctx, "account", id, `UPDATE accounts SET encrypted_token = $2, updated_at = NOW() WHERE id = $1`, id, encryptedToken)
}

func (q *Queries) ClearAccountToken(ctx context.Context, id int64) error {
	return q.execOne(ctx, "account", id, `UPDATE accounts SET encrypted_token = NULL, updated_at = NOW() WHERE id = $1`, id)
}

func (q *Queries) MarkAccountSynced(ctx context.Context, id int64, at time.Time) error {
	return q.execOne(ctx, "account", id, `UPDATE accounts SET last_synced_at = $2 WHERE id = $1`, id, at)
}

func (q *Queries) execOne(ctx context.Context, entity string, id any, sql string, args ...any) error {
	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
	}
	return nil
}

// --- repositories ---

const repositoryColumns = `id, account_id, github_repo_id, full_name, description, primary_language, is_private, is_fork, is_active, metadata, commit_cursor, pr_cursor, last_synced_at, pushed_at, created_at, updated_at`

func scanRepository(row scanner, extra ...any) (model.Repository, error) {
	var r model.Repository
	dest := []any{&r.ID, &r.AccountID, &r.GithubRepoID, &r.FullName, &r.Description, &r.PrimaryLanguage,
		&r.IsPrivate, &r.IsFork, &r.IsActive, &r.Metadata, &r.CommitCursor, &r.PRCursor,
		&r.LastSyncedAt, &r.PushedAt, &r.CreatedAt, &r.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	return r, err
}

const upsertRepository = `
INSERT INTO repositories (account_id, github_repo_id, full_name, description, primary_language, is_private, is_fork, pushed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (account_id, github_repo_id) DO UPDATE SET
    full_name        = EXCLUDED.full_name,
    description      = EXCLUDED.description,
    primary_language = COALESCE(EXCLUDED.primary_language, repositories.primary_language),
    is_private       = EXCLUDED.is_private,
    is_fork          = EXCLUDED.is_fork,
    pushed_at        = EXCLUDED.pushed_at,
    updated_at       = NOW()
RETURNING ` + repositoryColumns + `, (xmax = 0) AS created`

func (q *Queries) UpsertRepository(ctx context.Context, arg UpsertRepositoryParams) (model.Repository, bool, error) {
	var created bool
	row := q.db.QueryRow(ctx, upsertRepository, arg.AccountID, arg.GithubRepoID, arg.FullName, arg.Description,
		arg.PrimaryLanguage, arg.IsPrivate, arg.IsFork, arg.PushedAt)
	r, err := scanRepository(row, &created)
	return r, created, err
}

const getRepository = `SELECT ` + repositoryColumns + ` FROM repositories WHERE id = $1`

func (q *Queries) GetRepository(ctx context.Context, id int64) (model.Repository, error) {
	r, err := scanRepository(q.db.QueryRow(ctx, getRepository, id))
	return r, notFound(err, "repository", id)
}

const listRepositories = `
SELECT ` + repositoryColumns + ` FROM repositories
WHERE account_id = $1 AND (NOT $2 OR is_active)
ORDER BY full_name`

func (q *Queries) ListRepositories(ctx context.Context, accountID int64, activeOnly bool) ([]model.Repository, error) {
	rows, err := q.db.Query(ctx, listRepositories, accountID, activeOnly)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Repository, error) {
		return scanRepository(row)
	})
}

const setRepositoryActive = `
UPDATE repositories SET is_active = $3, updated_at = NOW()
WHERE account_id = $1 AND id = $2
RETURNING ` + repositoryColumns

func (q *Queries) SetRepositoryActive(ctx context.Context, accountID, repoID int64, active bool) (model.Repository, error) {
	r, err := scanRepository(q.db.QueryRow(ctx, setRepositoryActive, accountID, repoID, active))
	return r, notFound(err, "repository", repoID)
}

func (q *Queries) UpdateRepositoryCursor(ctx context.Context, repoID int64, kind CursorKind, cursor model.Cursor) error {
	var sql string
	switch kind {
	case CursorCommits:
		sql = `UPDATE repositories SET commit_cursor = $2, updated_at = NOW() WHERE id = $1`
	case CursorPullRequests:
		sql = `UPDATE repositories SET pr_cursor = $2, updated_at = NOW() WHERE id = $1`
	default:
		return fmt.Errorf("unknown cursor kind %q", kind)
	}
	return q.execOne(ctx, "repository", repoID, sql, repoID, cursor)
}

const updateRepositoryLanguages = `
UPDATE repositories SET
    primary_language = COALESCE($2::text, primary_language),
    metadata         = metadata || jsonb_build_object('languages', $3::jsonb),
    updated_at       = NOW()
WHERE id = $1`

func (q *Queries) UpdateRepositoryLanguages(ctx context.Context, repoID int64, primary *string, languages map[string]int) error {
	return q.execOne(ctx, "repository", repoID, updateRepositoryLanguages, repoID, primary, languages)
}

func (q *Queries) MergeRepositoryMetadata(ctx context.Context, repoID int64, patch map[string]any) error {
	return q.execOne(ctx, "repository", repoID,
		`UPDATE repositories SET metadata = metadata || $2::jsonb, updated_at = NOW() WHERE id = $1`, repoID, patch)
}

func (q *Queries) MarkRepositorySynced(ctx context.Context, repoID int64, at time.Time) error {
	return q.execOne(ctx, "repository", repoID, `UPDATE repositories SET last_synced_at = $2 WHERE id = $1`, repoID, at)
}

// --- commits ---

// On conflict only the derived stats are refreshed; identity fields and
// classification are left untouched.
const upsertCommit = `
INSERT INTO commits (repository_id, sha, author_login, author_name, author_email, message, url, committed_at,
                     additions, deletions, files_changed, raw_data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (repository_id, sha) DO UPDATE SET
    additions     = EXCLUDED.additions,
    deletions     = EXCLUDED.deletions,
    files_changed = EXCLUDED.files_changed,
    raw_data      = EXCLUDED.raw_data
RETURNING (xmax = 0) AS inserted`

func (q *Queries) UpsertCommit(ctx context.Context, c model.Commit) (bool, error) {
	var inserted bool
	err := q.db.QueryRow(ctx, upsertCommit, c.RepositoryID, c.SHA, c.AuthorLogin, c.AuthorName, c.AuthorEmail,
		c.Message, c.URL, c.CommittedAt, c.Additions, c.Deletions, c.FilesChanged, c.Details).Scan(&inserted)
	return inserted, err
}

const listCommitsToClassify = `
SELECT c.id, c.repository_id, c.sha, c.author_login, c.author_name, c.author_email, c.message, c.url,
       c.committed_at, c.additions, c.deletions, c.files_changed, c.raw_data, c.tech_tags, c.work_category,
       c.classified_at, c.created_at
FROM commits c
JOIN repositories r ON r.id = c.repository_id
WHERE r.account_id = $1
  AND r.is_active
  AND (c.classified_at IS NULL
       OR ($2::timestamptz IS NOT NULL AND c.work_category = 'unclassified' AND c.classified_at < $2))
ORDER BY c.committed_at DESC, c.id
LIMIT $3`

func (q *Queries) ListCommitsToClassify(ctx context.Context, arg ListCommitsToClassifyParams) ([]model.Commit, error) {
	rows, err := q.db.Query(ctx, listCommitsToClassify, arg.AccountID, nullTime(arg.RetryDegradedBefore), arg.Limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Commit, error) {
		var c model.Commit
		err := row.Scan(&c.ID, &c.RepositoryID, &c.SHA, &c.AuthorLogin, &c.AuthorName, &c.AuthorEmail, &c.Message,
			&c.URL, &c.CommittedAt, &c.Additions, &c.Deletions, &c.FilesChanged, &c.Details, &c.TechTags,
			&c.WorkCategory, &c.ClassifiedAt, &c.CreatedAt)
		return c, err
	})
}

const updateCommitClassification = `
UPDATE commits SET tech_tags = $2, work_category = $3, classified_at = $4
WHERE id = $1`

func (q *Queries) UpdateCommitClassification(ctx context.Context, arg UpdateCommitClassificationParams) error {
	tags := arg.TechTags
	if tags == nil {
		tags = []string{}
	}
	return q.execOne(ctx, "commit", arg.CommitID, updateCommitClassification,
		arg.CommitID, tags, string(arg.WorkCategory), arg.ClassifiedAt)
}

const listCommitFacts = `
SELECT c.id, c.repository_id, r.full_name, COALESCE(r.primary_language, ''), r.is_active, c.committed_at,
       c.additions, c.deletions, COALESCE(c.tech_tags, '{}'), c.work_category
FROM commits c
JOIN repositories r ON r.id = c.repository_id
WHERE r.account_id = $1
  AND ($2::timestamptz IS NULL OR c.committed_at >= $2)
  AND ($3::timestamptz IS NULL OR c.committed_at < $3)
ORDER BY c.committed_at`

// ListCommitFacts returns commits committed in [from, to).
func (q *Queries) ListCommitFacts(ctx context.Context, accountID int64, from, to time.Time) ([]model.CommitFact, error) {
	rows, err := q.db.Query(ctx, listCommitFacts, accountID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CommitFact, error) {
		var f model.CommitFact
		err := row.Scan(&f.CommitID, &f.RepositoryID, &f.RepositoryName, &f.PrimaryLanguage, &f.RepoActive,
			&f.CommittedAt, &f.Additions, &f.Deletions, &f.TechTags, &f.WorkCategory)
		return f, err
	})
}

// --- pull requests ---

const upsertPullRequest = `
INSERT INTO pull_requests (repository_id, github_pr_id, number, title, state, additions, deletions, changed_files,
                           pr_created_at, pr_updated_at, closed_at, merged_at, raw_data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (repository_id, number) DO UPDATE SET
    title         = EXCLUDED.title,
    state         = EXCLUDED.state,
    additions     = EXCLUDED.additions,
    deletions     = EXCLUDED.deletions,
    changed_files = EXCLUDED.changed_files,
    pr_updated_at = EXCLUDED.pr_updated_at,
    closed_at     = EXCLUDED.closed_at,
    merged_at     = EXCLUDED.merged_at,
    raw_data      = EXCLUDED.raw_data
RETURNING (xmax = 0) AS inserted`

func (q *Queries) UpsertPullRequest(ctx context.Context, pr model.PullRequest) (bool, error) {
	raw := pr.RawData
	if raw == nil {
		raw = map[string]any{}
	}
	var inserted bool
	err := q.db.QueryRow(ctx, upsertPullRequest, pr.RepositoryID, pr.GithubPRID, pr.Number, pr.Title, string(pr.State),
		pr.Additions, pr.Deletions, pr.ChangedFiles, pr.PRCreatedAt, pr.PRUpdatedAt, pr.ClosedAt, pr.MergedAt, raw).Scan(&inserted)
	return inserted, err
}

const listPullRequestFacts = `
SELECT p.repository_id, r.is_active, p.pr_created_at, p.merged_at
FROM pull_requests p
JOIN repositories r ON r.id = p.repository_id
WHERE r.account_id = $1
  AND ((($2::timestamptz IS NULL OR p.pr_created_at >= $2) AND ($3::timestamptz IS NULL OR p.pr_created_at < $3))
    OR (p.merged_at IS NOT NULL AND ($2::timestamptz IS NULL OR p.merged_at >= $2) AND ($3::timestamptz IS NULL OR p.merged_at < $3)))`

// ListPullRequestFacts returns pull requests opened or merged in [from, to).
func (q *Queries) ListPullRequestFacts(ctx context.Context, accountID int64, from, to time.Time) ([]model.PullRequestFact, error) {
	rows, err := q.db.Query(ctx, listPullRequestFacts, accountID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PullRequestFact, error) {
		var f model.PullRequestFact
		err := row.Scan(&f.RepositoryID, &f.RepoActive, &f.CreatedAt, &f.MergedAt)
		return f, err
	})
}

// --- sync jobs ---

const syncJobColumns = `id, account_id, job_type, status, target_repo_ids, items_fetched, error_detail, created_at, started_at, completed_at`

func scanSyncJob(row scanner) (model.SyncJob, error) {
	var j model.SyncJob
	err := row.Scan(&j.ID, &j.AccountID, &j.JobType, &j.Status, &j.TargetRepoIDs, &j.ItemsFetched, &j.ErrorDetail,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	return j, err
}

func collectSyncJobs(rows pgx.Rows) ([]model.SyncJob, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SyncJob, error) {
		return scanSyncJob(row)
	})
}

const createSyncJob = `
INSERT INTO sync_jobs (id, account_id, job_type, status, target_repo_ids, created_at)
VALUES ($1, $2, $3, 'pending', $4, $5)
RETURNING ` + syncJobColumns

// CreateSyncJob relies on the partial unique index over non-terminal jobs, so
// two racing triggers cannot both insert.
func (q *Queries) CreateSyncJob(ctx context.Context, arg CreateSyncJobParams) (model.SyncJob, error) {
	job, err := scanSyncJob(q.db.QueryRow(ctx, createSyncJob, arg.ID, arg.AccountID, string(arg.JobType), arg.TargetRepoIDs, arg.CreatedAt))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return model.SyncJob{}, &apperrors.ConflictError{AccountID: arg.AccountID}
	}
	return job, err
}

const getSyncJob = `SELECT ` + syncJobColumns + ` FROM sync_jobs WHERE id = $1`

func (q *Queries) GetSyncJob(ctx context.Context, id uuid.UUID) (model.SyncJob, error) {
	j, err := scanSyncJob(q.db.QueryRow(ctx, getSyncJob, id))
	return j, notFound(err, "sync job", id)
}

const markSyncJobRunning = `
UPDATE sync_jobs SET status = 'running', started_at = $2
WHERE id = $1 AND status = 'pending'
RETURNING ` + syncJobColumns

func (q *Queries) MarkSyncJobRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (model.SyncJob, error) {
	j, err := scanSyncJob(q.db.QueryRow(ctx, markSyncJobRunning, id, startedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SyncJob{}, ErrInvalidTransition
	}
	return j, err
}

const finishSyncJob = `
UPDATE sync_jobs SET status = $2, items_fetched = $3, error_detail = $4, completed_at = $5
WHERE id = $1 AND status IN ('pending', 'running')
RETURNING ` + syncJobColumns

func (q *Queries) FinishSyncJob(ctx context.Context, arg FinishSyncJobParams) (model.SyncJob, error) {
	if !arg.Status.Terminal() {
		return model.SyncJob{}, fmt.Errorf("finish sync job: %q is not a terminal status", arg.Status)
	}
	j, err := scanSyncJob(q.db.QueryRow(ctx, finishSyncJob, arg.ID, string(arg.Status), arg.ItemsFetched, arg.ErrorDetail, arg.CompletedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SyncJob{}, ErrInvalidTransition
	}
	return j, err
}

const listSyncJobs = `
SELECT ` + syncJobColumns + ` FROM sync_jobs
WHERE account_id = $1
ORDER BY created_at DESC
LIMIT $2`

func (q *Queries) ListSyncJobs(ctx context.Context, accountID int64, limit int) ([]model.SyncJob, error) {
	rows, err := q.db.Query(ctx, listSyncJobs, accountID, limit)
	if err != nil {
		return nil, err
	}
	return collectSyncJobs(rows)
}

func (q *Queries) GetLatestSyncJob(ctx context.Context, accountID int64) (model.SyncJob, error) {
	jobs, err := q.ListSyncJobs(ctx, accountID, 1)
	if err != nil {
		return model.SyncJob{}, err
	}
	if len(jobs) == 0 {
		return model.SyncJob{}, &apperrors.NotFoundError{Entity: "sync job for account", ID: fmt.Sprint(accountID)}
	}
	return jobs[0], nil
}

const failStaleSyncJobs = `
UPDATE sync_jobs SET status = 'failed', error_detail = $2, completed_at = $3
WHERE status IN ('pending', 'running') AND COALESCE(started_at, created_at) < $1
RETURNING ` + syncJobColumns

func (q *Queries) FailStaleSyncJobs(ctx context.Context, activeBefore time.Time, detail model.ErrorDetail, at time.Time) ([]model.SyncJob, error) {
	rows, err := q.db.Query(ctx, failStaleSyncJobs, activeBefore, detail, at)
	if err != nil {
		return nil, err
	}
	return collectSyncJobs(rows)
}

// --- rollups ---

const dayRange = `account_id = $1 AND ($2::date IS NULL OR day >= $2) AND ($3::date IS NULL OR day <= $3)`

func (q *Queries) replace(ctx context.Context, table string, accountID int64, fromDay, toDay time.Time, columns []string, rows [][]any) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM `+table+` WHERE `+dayRange, accountID, nullTime(fromDay), nullTime(toDay)); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := q.db.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy %s: %w", table, err)
	}
	return nil
}

func (q *Queries) ReplaceDailyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyActivity) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{accountID, r.Day, r.Commits, r.Additions, r.Deletions, r.PRsOpened, r.PRsMerged}
	}
	return q.replace(ctx, "daily_activity", accountID, fromDay, toDay,
		[]string{"account_id", "day", "commits", "additions", "deletions", "prs_opened", "prs_merged"}, data)
}

func (q *Queries) ReplaceDailyBreakdown(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyBreakdown) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{accountID, r.Day, string(r.Dimension), r.Key, r.Commits, r.Additions, r.Deletions}
	}
	return q.replace(ctx, "daily_breakdown", accountID, fromDay, toDay,
		[]string{"account_id", "day", "dimension", "key", "commits", "additions", "deletions"}, data)
}

func (q *Queries) ReplaceHourlyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.HourlyActivity) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{accountID, r.Day, int16(r.Hour), r.Commits}
	}
	return q.replace(ctx, "hourly_activity", accountID, fromDay, toDay,
		[]string{"account_id", "day", "hour", "commits"}, data)
}

func (q *Queries) ReplaceDailyTechTags(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyTechTag) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{accountID, r.Day, r.Tag, r.Commits}
	}
	return q.replace(ctx, "daily_tech_tags", accountID, fromDay, toDay,
		[]string{"account_id", "day", "tag", "commits"}, data)
}

const upsertAccountStats = `
INSERT INTO account_stats (account_id, total_commits, current_streak, longest_streak, as_of, computed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (account_id) DO UPDATE SET
    total_commits  = EXCLUDED.total_commits,
    current_streak = EXCLUDED.current_streak,
    longest_streak = EXCLUDED.longest_streak,
    as_of          = EXCLUDED.as_of,
    computed_at    = EXCLUDED.computed_at`

func (q *Queries) UpsertAccountStats(ctx context.Context, s model.AccountStats) error {
	_, err := q.db.Exec(ctx, upsertAccountStats, s.AccountID, s.TotalCommits, s.CurrentStreak, s.LongestStreak, s.AsOf, s.ComputedAt)
	return err
}

func (q *Queries) ListDailyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time) ([]model.DailyActivity, error) {
	rows, err := q.db.Query(ctx, `SELECT day, commits, additions, deletions, prs_opened, prs_merged FROM daily_activity WHERE `+dayRange+` ORDER BY day`,
		accountID, nullTime(fromDay), nullTime(toDay))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DailyActivity, error) {
		var d model.DailyActivity
		err := row.Scan(&d.Day, &d.Commits, &d.Additions, &d.Deletions, &d.PRsOpened, &d.PRsMerged)
		return d, err
	})
}

func (q *Queries) ListDailyBreakdown(ctx context.Context, accountID int64, dim model.Dimension, fromDay, toDay time.Time) ([]model.DailyBreakdown, error) {
	rows, err := q.db.Query(ctx, `SELECT day, dimension, key, commits, additions, deletions FROM daily_breakdown WHERE `+dayRange+` AND dimension = $4 ORDER BY day, key`,
		accountID, nullTime(fromDay), nullTime(toDay), string(dim))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DailyBreakdown, error) {
		var d model.DailyBreakdown
		err := row.Scan(&d.Day, &d.Dimension, &d.Key, &d.Commits, &d.Additions, &d.Deletions)
		return d, err
	})
}

func (q *Queries) ListHourlyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time) ([]model.HourlyActivity, error) {
	rows, err := q.db.Query(ctx, `SELECT day, hour, commits FROM hourly_activity WHERE `+dayRange+` ORDER BY day, hour`,
		accountID, nullTime(fromDay), nullTime(toDay))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.HourlyActivity, error) {
		var h model.HourlyActivity
		var hour int16
		err := row.Scan(&h.Day, &hour, &h.Commits)
		h.Hour = int(hour)
		return h, err
	})
}

func (q *Queries) ListDailyTechTags(ctx context.Context, accountID int64, fromDay, toDay time.Time) ([]model.DailyTechTag, error) {
	rows, err := q.db.Query(ctx, `SELECT day, tag, commits FROM daily_tech_tags WHERE `+dayRange+` ORDER BY day, tag`,
		accountID, nullTime(fromDay), nullTime(toDay))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DailyTechTag, error) {
		var t model.DailyTechTag
		err := row.Scan(&t.Day, &t.Tag, &t.Commits)
		return t, err
	})
}

const getAccountStats = `
SELECT account_id, total_commits, current_streak, longest_streak, as_of, computed_at
FROM account_stats WHERE account_id = $1`

func (q *Queries) GetAccountStats(ctx context.Context, accountID int64) (model.AccountStats, error) {
	var s model.AccountStats
	err := q.db.QueryRow(ctx, getAccountStats, accountID).Scan(&s.AccountID, &s.TotalCommits, &s.CurrentStreak, &s.LongestStreak, &s.AsOf, &s.ComputedAt)
	return s, notFound(err, "account stats", accountID)
}
