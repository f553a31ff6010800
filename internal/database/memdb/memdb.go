// internal/database/memdb/memdb.go

// Package memdb is an in-memory database.Store used by tests. It enforces the
// same natural-key uniqueness and single-active-job rule as the SQL schema.
// Transactions are serialized and rolled back by restoring a snapshot.
package memdb

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github-activity-sync/internal/database"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/model"
)

type commitKey struct {
	repoID int64
	sha    string
}

type prKey struct {
	repoID int64
	number int
}

type state struct {
	nextID   int64
	accounts map[int64]model.Account
	repos    map[int64]model.Repository
	commits  map[int64]model.Commit
	shas     map[commitKey]int64
	prs      map[int64]model.PullRequest
	prNums   map[prKey]int64
	jobs     map[uuid.UUID]model.SyncJob

	daily     map[int64][]model.DailyActivity
	breakdown map[int64][]model.DailyBreakdown
	hourly    map[int64][]model.HourlyActivity
	techTags  map[int64][]model.DailyTechTag
	stats     map[int64]model.AccountStats

	failCommit func(model.Commit) error
}

func newState() *state {
	return &state{
		accounts:  map[int64]model.Account{},
		repos:     map[int64]model.Repository{},
		commits:   map[int64]model.Commit{},
		shas:      map[commitKey]int64{},
		prs:       map[int64]model.PullRequest{},
		prNums:    map[prKey]int64{},
		jobs:      map[uuid.UUID]model.SyncJob{},
		daily:     map[int64][]model.DailyActivity{},
		breakdown: map[int64][]model.DailyBreakdown{},
		hourly:    map[int64][]model.HourlyActivity{},
		techTags:  map[int64][]model.DailyTechTag{},
		stats:     map[int64]model.AccountStats{},
	}
}

// clone copies every table. Rows are replaced rather than mutated in place,
// so copying the maps is enough.
func (s *state) clone() *state {
	c := *s
	c.accounts = maps.Clone(s.accounts)
	c.repos = maps.Clone(s.repos)
	c.commits = maps.Clone(s.commits)
	c.shas = maps.Clone(s.shas)
	c.prs = maps.Clone(s.prs)
	c.prNums = maps.Clone(s.prNums)
	c.jobs = maps.Clone(s.jobs)
	c.daily = maps.Clone(s.daily)
	c.breakdown = maps.Clone(s.breakdown)
	c.hourly = maps.Clone(s.hourly)
	c.techTags = maps.Clone(s.techTags)
	c.stats = maps.Clone(s.stats)
	return &c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func notFound(entity string, id any) error {
	return &apperrors.NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

func inDayRange(day, from, to time.Time) bool {
	return (from.IsZero() || !day.Before(from)) && (to.IsZero() || !day.After(to))
}

func inInstantRange(t, from, to time.Time) bool {
	return (from.IsZero() || !t.Before(from)) && (to.IsZero() || t.Before(to))
}

func copyRepo(r model.Repository) model.Repository {
	r.Metadata = maps.Clone(r.Metadata)
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	return r
}

// --- accounts ---

func (s *state) CreateAccount(_ context.Context, arg database.CreateAccountParams) (model.Account, error) {
	now := time.Now().UTC()
	a := model.Account{
		ID:           s.id(),
		GithubLogin:  arg.GithubLogin,
		SyncInterval: arg.SyncInterval,
		AIEnabled:    arg.AIEnabled,
		Timezone:     arg.Timezone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *state) GetAccount(_ context.Context, id int64) (model.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return model.Account{}, notFound("account", id)
	}
	return a, nil
}

func (s *state) ListAccounts(_ context.Context) ([]model.Account, error) {
	out := slices.Collect(maps.Values(s.accounts))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) UpdateAccountSettings(_ context.Context, arg database.UpdateAccountSettingsParams) (model.Account, error) {
	a, ok := s.accounts[arg.ID]
	if !ok {
		return model.Account{}, notFound("account", arg.ID)
	}
	if arg.GithubLogin != nil {
		a.GithubLogin = *arg.GithubLogin
	}
	if arg.SyncInterval != nil {
		a.SyncInterval = *arg.SyncInterval
	}
	if arg.AIEnabled != nil {
		a.AIEnabled = *arg.AIEnabled
	}
	if arg.Timezone != nil {
		a.Timezone = *arg.Timezone
	}
	a.UpdatedAt = time.Now().UTC()
	s.accounts[a.ID] = a
	return a, nil
}

func (s *state) SetAccountToken(_ context.Context, id int64, encryptedToken string) error {
	a, ok := s.accounts[id]
	if !ok {
		return notFound("account", id)
	}
	a.EncryptedToken = &encryptedToken
	a.TokenConfigured = encryptedToken != ""
	s.accounts[id] = a
	return nil
}

func (s *state) ClearAccountToken(_ context.Context, id int64) error {
	a, ok := s.accounts[id]
	if !ok {
		return notFound("account", id)
	}
	a.EncryptedToken = nil
	a.TokenConfigured = false
	s.accounts[id] = a
	return nil
}

func (s *state) MarkAccountSynced(_ context.Context, id int64, at time.Time) error {
	a, ok := s.accounts[id]
	if !ok {
		return notFound("account", id)
	}
	a.LastSyncedAt = &at
	s.accounts[id] = a
	return nil
}

// --- repositories ---

func (s *state) UpsertRepository(_ context.Context, arg database.UpsertRepositoryParams) (model.Repository, bool, error) {
	now := time.Now().UTC()
	for id, r := range s.repos {
		if r.AccountID != arg.AccountID || r.GithubRepoID != arg.GithubRepoID {
			continue
		}
		r = copyRepo(r)
		r.FullName = arg.FullName
		r.Description = arg.Description
		if arg.PrimaryLanguage != nil {
			r.PrimaryLanguage = arg.PrimaryLanguage
		}
		r.IsPrivate = arg.IsPrivate
		r.IsFork = arg.IsFork
		r.PushedAt = arg.PushedAt
		r.UpdatedAt = now
		s.repos[id] = r
		return copyRepo(r), false, nil
	}
	r := model.Repository{
		ID:              s.id(),
		AccountID:       arg.AccountID,
		GithubRepoID:    arg.GithubRepoID,
		FullName:        arg.FullName,
		Description:     arg.Description,
		PrimaryLanguage: arg.PrimaryLanguage,
		IsPrivate:       arg.IsPrivate,
		IsFork:          arg.IsFork,
		IsActive:        true,
		Metadata:        map[string]any{},
		PushedAt:        arg.PushedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.repos[r.ID] = r
	return copyRepo(r), true, nil
}

func (s *state) GetRepository(_ context.Context, id int64) (model.Repository, error) {
	r, ok := s.repos[id]
	if !ok {
		return model.Repository{}, notFound("repository", id)
	}
	return copyRepo(r), nil
}

func (s *state) ListRepositories(_ context.Context, accountID int64, activeOnly bool) ([]model.Repository, error) {
	var out []model.Repository
	for _, r := range s.repos {
		if r.AccountID == accountID && (!activeOnly || r.IsActive) {
			out = append(out, copyRepo(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (s *state) SetRepositoryActive(_ context.Context, accountID, repoID int64, active bool) (model.Repository, error) {
	r, ok := s.repos[repoID]
	if !ok || r.AccountID != accountID {
		return model.Repository{}, notFound("repository", repoID)
	}
	r.IsActive = active
	r.UpdatedAt = time.Now().UTC()
	s.repos[repoID] = r
	return copyRepo(r), nil
}

func (s *state) UpdateRepositoryCursor(_ context.Context, repoID int64, kind database.CursorKind, cursor model.Cursor) error {
	r, ok := s.repos[repoID]
	if !ok {
		return notFound("repository", repoID)
	}
	switch kind {
	case database.CursorCommits:
		r.CommitCursor = &cursor
	case database.CursorPullRequests:
		r.PRCursor = &cursor
	default:
		return fmt.Errorf("unknown cursor kind %q", kind)
	}
	s.repos[repoID] = r
	return nil
}

func (s *state) UpdateRepositoryLanguages(_ context.Context, repoID int64, primary *string, languages map[string]int) error {
	r, ok := s.repos[repoID]
	if !ok {
		return notFound("repository", repoID)
	}
	r = copyRepo(r)
	if primary != nil {
		r.PrimaryLanguage = primary
	}
	langs := make(map[string]any, len(languages))
	for k, v := range languages {
		langs[k] = float64(v)
	}
	r.Metadata[model.MetaLanguages] = langs
	s.repos[repoID] = r
	return nil
}

func (s *state) MergeRepositoryMetadata(_ context.Context, repoID int64, patch map[string]any) error {
	r, ok := s.repos[repoID]
	if !ok {
		return notFound("repository", repoID)
	}
	r = copyRepo(r)
	maps.Copy(r.Metadata, patch)
	s.repos[repoID] = r
	return nil
}

func (s *state) MarkRepositorySynced(_ context.Context, repoID int64, at time.Time) error {
	r, ok := s.repos[repoID]
	if !ok {
		return notFound("repository", repoID)
	}
	r.LastSyncedAt = &at
	s.repos[repoID] = r
	return nil
}

// --- commits ---

func (s *state) UpsertCommit(_ context.Context, c model.Commit) (bool, error) {
	if s.failCommit != nil {
		if err := s.failCommit(c); err != nil {
			return false, err
		}
	}
	if _, ok := s.repos[c.RepositoryID]; !ok {
		return false, notFound("repository", c.RepositoryID)
	}
	key := commitKey{c.RepositoryID, c.SHA}
	if id, ok := s.shas[key]; ok {
		existing := s.commits[id]
		existing.Additions = c.Additions
		existing.Deletions = c.Deletions
		existing.FilesChanged = c.FilesChanged
		existing.Details = c.Details
		s.commits[id] = existing
		return false, nil
	}
	c.ID = s.id()
	c.TechTags = nil
	c.WorkCategory = nil
	c.ClassifiedAt = nil
	c.CreatedAt = time.Now().UTC()
	s.commits[c.ID] = c
	s.shas[key] = c.ID
	return true, nil
}

func (s *state) ListCommitsToClassify(_ context.Context, arg database.ListCommitsToClassifyParams) ([]model.Commit, error) {
	var out []model.Commit
	for _, c := range s.commits {
		r := s.repos[c.RepositoryID]
		if r.AccountID != arg.AccountID || !r.IsActive {
			continue
		}
		pending := c.ClassifiedAt == nil
		retry := !arg.RetryDegradedBefore.IsZero() && c.ClassifiedAt != nil &&
			c.WorkCategory != nil && *c.WorkCategory == model.CategoryUnclassified &&
			c.ClassifiedAt.Before(arg.RetryDegradedBefore)
		if pending || retry {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CommittedAt.Equal(out[j].CommittedAt) {
			return out[i].CommittedAt.After(out[j].CommittedAt)
		}
		return out[i].ID < out[j].ID
	})
	if arg.Limit > 0 && len(out) > arg.Limit {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (s *state) UpdateCommitClassification(_ context.Context, arg database.UpdateCommitClassificationParams) error {
	c, ok := s.commits[arg.CommitID]
	if !ok {
		return notFound("commit", arg.CommitID)
	}
	category := arg.WorkCategory
	at := arg.ClassifiedAt
	c.TechTags = slices.Clone(arg.TechTags)
	if c.TechTags == nil {
		c.TechTags = []string{}
	}
	c.WorkCategory = &category
	c.ClassifiedAt = &at
	s.commits[c.ID] = c
	return nil
}

func (s *state) ListCommitFacts(_ context.Context, accountID int64, from, to time.Time) ([]model.CommitFact, error) {
	var out []model.CommitFact
	for _, c := range s.commits {
		r := s.repos[c.RepositoryID]
		if r.AccountID != accountID || !inInstantRange(c.CommittedAt, from, to) {
			continue
		}
		f := model.CommitFact{
			CommitID:       c.ID,
			RepositoryID:   r.ID,
			RepositoryName: r.FullName,
			RepoActive:     r.IsActive,
			CommittedAt:    c.CommittedAt,
			Additions:      c.Additions,
			Deletions:      c.Deletions,
			TechTags:       slices.Clone(c.TechTags),
			WorkCategory:   c.WorkCategory,
		}
		if r.PrimaryLanguage != nil {
			f.PrimaryLanguage = *r.PrimaryLanguage
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommittedAt.Before(out[j].CommittedAt) })
	return out, nil
}

// countCommits returns the number of stored commits for a repository.
func (s *state) countCommits(repoID int64) int {
	n := 0
	for _, c := range s.commits {
		if c.RepositoryID == repoID {
			n++
		}
	}
	return n
}

// --- pull requests ---

func (s *state) UpsertPullRequest(_ context.Context, pr model.PullRequest) (bool, error) {
	if _, ok := s.repos[pr.RepositoryID]; !ok {
		return false, notFound("repository", pr.RepositoryID)
	}
	key := prKey{pr.RepositoryID, pr.Number}
	if id, ok := s.prNums[key]; ok {
		existing := s.prs[id]
		existing.Title = pr.Title
		existing.State = pr.State
		existing.Additions = pr.Additions
		existing.Deletions = pr.Deletions
		existing.ChangedFiles = pr.ChangedFiles
		existing.PRUpdatedAt = pr.PRUpdatedAt
		existing.ClosedAt = pr.ClosedAt
		existing.MergedAt = pr.MergedAt
		existing.RawData = maps.Clone(pr.RawData)
		s.prs[id] = existing
		return false, nil
	}
	pr.ID = s.id()
	pr.RawData = maps.Clone(pr.RawData)
	s.prs[pr.ID] = pr
	s.prNums[key] = pr.ID
	return true, nil
}

func (s *state) ListPullRequestFacts(_ context.Context, accountID int64, from, to time.Time) ([]model.PullRequestFact, error) {
	var out []model.PullRequestFact
	for _, pr := range s.prs {
		r := s.repos[pr.RepositoryID]
		if r.AccountID != accountID {
			continue
		}
		merged := pr.MergedAt != nil && inInstantRange(*pr.MergedAt, from, to)
		if !inInstantRange(pr.PRCreatedAt, from, to) && !merged {
			continue
		}
		out = append(out, model.PullRequestFact{
			RepositoryID: r.ID,
			RepoActive:   r.IsActive,
			CreatedAt:    pr.PRCreatedAt,
			MergedAt:     pr.MergedAt,
		})
	}
	return out, nil
}

// --- sync jobs ---

func (s *state) CreateSyncJob(_ context.Context, arg database.CreateSyncJobParams) (model.SyncJob, error) {
	for _, j := range s.jobs {
		if j.AccountID == arg.AccountID && !j.Status.Terminal() {
			return model.SyncJob{}, &apperrors.ConflictError{AccountID: arg.AccountID}
		}
	}
	j := model.SyncJob{
		ID:            arg.ID,
		AccountID:     arg.AccountID,
		JobType:       arg.JobType,
		Status:        model.JobPending,
		TargetRepoIDs: slices.Clone(arg.TargetRepoIDs),
		CreatedAt:     arg.CreatedAt,
	}
	s.jobs[j.ID] = j
	return j, nil
}

func (s *state) GetSyncJob(_ context.Context, id uuid.UUID) (model.SyncJob, error) {
	j, ok := s.jobs[id]
	if !ok {
		return model.SyncJob{}, notFound("sync job", id)
	}
	return j, nil
}

func (s *state) MarkSyncJobRunning(_ context.Context, id uuid.UUID, startedAt time.Time) (model.SyncJob, error) {
	j, ok := s.jobs[id]
	if !ok || j.Status != model.JobPending {
		return model.SyncJob{}, database.ErrInvalidTransition
	}
	j.Status = model.JobRunning
	j.StartedAt = &startedAt
	s.jobs[id] = j
	return j, nil
}

func (s *state) FinishSyncJob(_ context.Context, arg database.FinishSyncJobParams) (model.SyncJob, error) {
	if !arg.Status.Terminal() {
		return model.SyncJob{}, fmt.Errorf("finish sync job: %q is not a terminal status", arg.Status)
	}
	j, ok := s.jobs[arg.ID]
	if !ok || j.Status.Terminal() {
		return model.SyncJob{}, database.ErrInvalidTransition
	}
	completed := arg.CompletedAt
	j.Status = arg.Status
	j.ItemsFetched = arg.ItemsFetched
	j.ErrorDetail = arg.ErrorDetail
	j.CompletedAt = &completed
	s.jobs[j.ID] = j
	return j, nil
}

func (s *state) ListSyncJobs(_ context.Context, accountID int64, limit int) ([]model.SyncJob, error) {
	var out []model.SyncJob
	for _, j := range s.jobs {
		if j.AccountID == accountID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *state) GetLatestSyncJob(ctx context.Context, accountID int64) (model.SyncJob, error) {
	jobs, _ := s.ListSyncJobs(ctx, accountID, 1)
	if len(jobs) == 0 {
		return model.SyncJob{}, notFound("sync job for account", accountID)
	}
	return jobs[0], nil
}

func (s *state) FailStaleSyncJobs(_ context.Context, activeBefore time.Time, detail model.ErrorDetail, at time.Time) ([]model.SyncJob, error) {
	var out []model.SyncJob
	for id, j := range s.jobs {
		if j.Status.Terminal() {
			continue
		}
		since := j.CreatedAt
		if j.StartedAt != nil {
			since = *j.StartedAt
		}
		if !since.Before(activeBefore) {
			continue
		}
		d := detail
		completed := at
		j.Status = model.JobFailed
		j.ErrorDetail = &d
		j.CompletedAt = &completed
		s.jobs[id] = j
		out = append(out, j)
	}
	return out, nil
}

// --- rollups ---

func replaceRows[T any](rows []T, day func(T) time.Time, from, to time.Time, next []T) []T {
	kept := slices.DeleteFunc(slices.Clone(rows), func(r T) bool { return inDayRange(day(r), from, to) })
	return append(kept, next...)
}

func selectRows[T any](rows []T, day func(T) time.Time, from, to time.Time) []T {
	var out []T
	for _, r := range rows {
		if inDayRange(day(r), from, to) {
			out = append(out, r)
		}
	}
	return out
}

func (s *state) ReplaceDailyActivity(_ context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyActivity) error {
	s.daily[accountID] = replaceRows(s.daily[accountID], func(r model.DailyActivity) time.Time { return r.Day }, fromDay, toDay, rows)
	return nil
}

func (s *state) ReplaceDailyBreakdown(_ context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyBreakdown) error {
	s.breakdown[accountID] = replaceRows(s.breakdown[accountID], func(r model.DailyBreakdown) time.Time { return r.Day }, fromDay, toDay, rows)
	return nil
}

func (s *state) ReplaceHourlyActivity(_ context.Context, accountID int64, fromDay, toDay time.Time, rows []model.HourlyActivity) error {
	s.hourly[accountID] = replaceRows(s.hourly[accountID], func(r model.HourlyActivity) time.Time { return r.Day }, fromDay, toDay, rows)
	return nil
}

func (s *state) ReplaceDailyTechTags(_ context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyTechTag) error {
	s.techTags[accountID] = replaceRows(s.techTags[accountID], func(r model.DailyTechTag) time.Time { return r.Day }, fromDay, toDay, rows)
	return nil
}

func (s *state) UpsertAccountStats(_ context.Context, stats model.AccountStats) error {
	s.stats[stats.AccountID] = stats
	return nil
}

func (s *state) ListDailyActivity(_ context.Context, accountID int64, fromDay, toDay time.Time) ([]model.DailyActivity, error) {
	out := selectRows(s.daily[accountID], func(r model.DailyActivity) time.Time { return r.Day }, fromDay, toDay)
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *state) ListDailyBreakdown(_ context.Context, accountID int64, dim model.Dimension, fromDay, toDay time.Time) ([]model.DailyBreakdown, error) {
	var out []model.DailyBreakdown
	for _, r := range selectRows(s.breakdown[accountID], func(r model.DailyBreakdown) time.Time { return r.Day }, fromDay, toDay) {
		if r.Dimension == dim {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *state) ListHourlyActivity(_ context.Context, accountID int64, fromDay, toDay time.Time) ([]model.HourlyActivity, error) {
	out := selectRows(s.hourly[accountID], func(r model.HourlyActivity) time.Time { return r.Day }, fromDay, toDay)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].Hour < out[j].Hour
	})
	return out, nil
}

func (s *state) ListDailyTechTags(_ context.Context, accountID int64, fromDay, toDay time.Time) ([]model.DailyTechTag, error) {
	out := selectRows(s.techTags[accountID], func(r model.DailyTechTag) time.Time { return r.Day }, fromDay, toDay)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

func (s *state) GetAccountStats(_ context.Context, accountID int64) (model.AccountStats, error) {
	st, ok := s.stats[accountID]
	if !ok {
		return model.AccountStats{}, notFound("account stats", accountID)
	}
	return st, nil
}

var _ database.Querier = (*state)(nil)

// DB is the in-memory Store. Every call outside InTx is its own transaction.
type DB struct {
	mu sync.Mutex
	st *state
}

// New returns an empty DB.
func New() *DB {
	return &DB{st: newState()}
}

// InTx runs fn with exclusive access and restores the previous state if fn fails.
func (d *DB) InTx(ctx context.Context, fn func(q database.Querier) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	snapshot := d.st.clone()
	if err := fn(d.st); err != nil {
		failCommit := d.st.failCommit
		d.st = snapshot
		d.st.failCommit = failCommit
		return err
	}
	return nil
}

// FailCommitsWhen makes UpsertCommit return the error fn yields, or succeed when it yields nil.
func (d *DB) FailCommitsWhen(fn func(model.Commit) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.failCommit = fn
}

// CommitCount returns the number of stored commits of a repository.
func (d *DB) CommitCount(repoID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.countCommits(repoID)
}

// PullRequestCount returns the number of stored pull requests of a repository.
func (d *DB) PullRequestCount(repoID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, pr := range d.st.prs {
		if pr.RepositoryID == repoID {
			n++
		}
	}
	return n
}

// Commits returns stored commits of a repository ordered by SHA.
func (d *DB) Commits(repoID int64) []model.Commit {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Commit
	for _, c := range d.st.commits {
		if c.RepositoryID == repoID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SHA < out[j].SHA })
	return out
}

func run[T any](d *DB, fn func() (T, error)) (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn()
}

func (d *DB) CreateAccount(ctx context.Context, arg database.CreateAccountParams) (model.Account, error) {
	return run(d, func() (model.Account, error) { return d.st.CreateAccount(ctx, arg) })
}

func (d *DB) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	return run(d, func() (model.Account, error) { return d.st.GetAccount(ctx, id) })
}

func (d *DB) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return run(d, func() ([]model.Account, error) { return d.st.ListAccounts(ctx) })
}

func (d *DB) UpdateAccountSettings(ctx context.Context, arg database.UpdateAccountSettingsParams) (model.Account, error) {
	return run(d, func() (model.Account, error) { return d.st.UpdateAccountSettings(ctx, arg) })
}

func (d *DB) SetAccountToken(ctx context.Context, id int64, encryptedToken string) error {
	_, err := run(d, func() (struct{}, error) { return struct{}{}, d.st.SetAccountToken(ctx, id, encryptedToken) })
	return err
}

func (d *DB) ClearAccountToken(ctx context.Context, id int64) error {
	_, err := run(d, func() (struct{}, error) { return struct{}{}, d.st.ClearAccountToken(ctx, id) })
	return err
}

func (d *DB) MarkAccountSynced(ctx context.Context, id int64, at time.Time) error {
	_, err := run(d, func() (struct{}, error) { return struct{}{}, d.st.MarkAccountSynced(ctx, id, at) })
	return err
}

func (d *DB) UpsertRepository(ctx context.Context, arg database.UpsertRepositoryParams) (model.Repository, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.UpsertRepository(ctx, arg)
}

func (d *DB) GetRepository(ctx context.Context, id int64) (model.Repository, error) {
	return run(d, func() (model.Repository, error) { return d.st.GetRepository(ctx, id) })
}

func (d *DB) ListRepositories(ctx context.Context, accountID int64, activeOnly bool) ([]model.Repository, error) {
	return run(d, func() ([]model.Repository, error) { return d.st.ListRepositories(ctx, accountID, activeOnly) })
}

func (d *DB) SetRepositoryActive(ctx context.Context, accountID, repoID int64, active bool) (model.Repository, error) {
	return run(d, func() (model.Repository, error) { return d.st.SetRepositoryActive(ctx, accountID, repoID, active) })
}

func (d *DB) UpdateRepositoryCursor(ctx context.Context, repoID int64, kind database.CursorKind, cursor model.Cursor) error {
	_, err := run(d, func() (struct{}, error) { return struct{}{}, d.st.UpdateRepositoryCursor(ctx, repoID, kind, cursor) })
	return err
}

func (d *DB) UpdateRepositoryLanguages(ctx context.Context, repoID int64, primary *string, languages map[string]int) error {
	_, err := run(d, func() (struct{}, error) {
		return struct{}{}, d.st.UpdateRepositoryLanguages(ctx, repoID, primary, languages)
	})
	return err
}

func (d *DB) MergeRepositoryMetadata(ctx context.Context, repoID int64, patch map[string]any) error {
	_, err := run(d, func() (struct{}, error) { return struct{}{}, d.st.MergeRepositoryMetadata(ctx, repoID, patch) })
	return err
}

func (d *DB) MarkRepositorySynced(ctx context.Context, repoID int64, at time.Time) error {
	_, err := run(d, func() (struct{}, error) { return struct{}{}, d.st.MarkRepositorySynced(ctx, repoID, at) })
	return err
}

func (d *DB) UpsertCommit(ctx context.Context, c model.Commit) (bool, error) {
	return run(d, func() (bool, error) { return d.st.UpsertCommit(ctx, c) })
}

func (d *DB) ListCommitsToClassify(ctx context.Context, arg database.ListCommitsToClassifyParams) ([]model.Commit, error) {
	return run(d, func() ([]model.Commit, error) { return d.st.ListCommitsToClassify(ctx, arg) })
}

func (d *DB) UpdateCommitClassification(ctx context.Context, arg database.UpdateCommitClassificationParams) error {
	_, err := run(d, func() (struct{}, error) { return struct{}{}, d.st.UpdateCommitClassification(ctx, arg) })
	return err
}

func (d *DB) ListCommitFacts(ctx context.Context, accountID int64, from, to time.Time) ([]model.CommitFact, error) {
	return run(d, func() ([]model.CommitFact, error) { return d.st.ListCommitFacts(ctx, accountID, from, to) })
}

func (d *DB) UpsertPullRequest(ctx context.Context, pr model.PullRequest) (bool, error) {
	return run(d, func() (bool, error) { return d.st.UpsertPullRequest(ctx, pr) })
}

func (d *DB) ListPullRequestFacts(ctx context.Context, accountID int64, from, to time.Time) ([]model.PullRequestFact, error) {
	return run(d, func() ([]model.PullRequestFact, error) { return d.st.ListPullRequestFacts(ctx, accountID, from, to) })
}

func (d *DB) CreateSyncJob(ctx context.Context, arg database.CreateSyncJobParams) (model.SyncJob, error) {
	return run(d, func() (model.SyncJob, error) { return d.st.CreateSyncJob(ctx, arg) })
}

func (d *DB) GetSyncJob(ctx context.Context, id uuid.UUID) (model.SyncJob, error) {
	return run(d, func() (model.SyncJob, error) { return d.st.GetSyncJob(ctx, id) })
}

func (d *DB) MarkSyncJobRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (model.SyncJob, error) {
	return run(d, func() (model.SyncJob, error) { return d.st.MarkSyncJobRunning(ctx, id, startedAt) })
}

func (d *DB) FinishSyncJob(ctx context.Context, arg database.FinishSyncJobParams) (model.SyncJob, error) {
	return run(d, func() (model.SyncJob, error) { return d.st.FinishSyncJob(ctx, arg) })
}

func (d *DB) ListSyncJobs(ctx context.Context, accountID int64, limit int) ([]model.SyncJob, error) {
	return run(d, func() ([]model.SyncJob, error) { return d.st.ListSyncJobs(ctx, accountID, limit) })
}

func (d *DB) GetLatestSyncJob(ctx context.Context, accountID int64) (model.SyncJob, error) {
	return run(d, func() (model.SyncJob, error) { return d.st.GetLatestSyncJob(ctx, accountID) })
}

func (d *DB) FailStaleSyncJobs(ctx context.Context, activeBefore time.Time, detail model.ErrorDetail, at time.Time) ([]model.SyncJob, error) {
	return run(d, func() ([]model.SyncJob, error) { return d.st.FailStaleSyncJobs(ctx, activeBefore, detail, at) })
}

func (d *DB) ReplaceDailyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyActivity) error {
	_, err := run(d, func() (struct{}, error) {
		return struct{}{}, d.st.ReplaceDailyActivity(ctx, accountID, fromDay, toDay, rows)
	})
	return err
}

func (d *DB) ReplaceDailyBreakdown(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyBreakdown) error {
	_, err := run(d, func() (struct{}, error) {
		return struct{}{}, d.st.ReplaceDailyBreakdown(ctx, accountID, fromDay, toDay, rows)
	})
	return err
}

func (d *DB) ReplaceHourlyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.HourlyActivity) error {
	_, err := run(d, func() (struct{}, error) {
		return struct{}{}, d.st.ReplaceHourlyActivity(ctx, accountID, fromDay, toDay, rows)
	})
	return err
}

func (d *DB) ReplaceDailyTechTags(ctx context.Context, accountID int64, fromDay, toDay time.Time, rows []model.DailyTechTag) error {
	_, err := run(d, func() (struct{}, error) {
		return struct{}{}, d.st.ReplaceDailyTechTags(ctx, accountID, fromDay, toDay, rows)
	})
	return err
}

func (d *DB) UpsertAccountStats(ctx context.Context, stats model.AccountStats) error {
	_, err := run(d, func() (struct{}, error) { return struct{}{}, d.st.UpsertAccountStats(ctx, stats) })
	return err
}

func (d *DB) ListDailyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time) ([]model.DailyActivity, error) {
	return run(d, func() ([]model.DailyActivity, error) { return d.st.ListDailyActivity(ctx, accountID, fromDay, toDay) })
}

func (d *DB) ListDailyBreakdown(ctx context.Context, accountID int64, dim model.Dimension, fromDay, toDay time.Time) ([]model.DailyBreakdown, error) {
	return run(d, func() ([]model.DailyBreakdown, error) {
		return d.st.ListDailyBreakdown(ctx, accountID, dim, fromDay, toDay)
	})
}

func (d *DB) ListHourlyActivity(ctx context.Context, accountID int64, fromDay, toDay time.Time) ([]model.HourlyActivity, error) {
	return run(d, func() ([]model.HourlyActivity, error) { return d.st.ListHourlyActivity(ctx, accountID, fromDay, toDay) })
}

func (d *DB) ListDailyTechTags(ctx context.Context, accountID int64, fromDay, toDay time.Time) ([]model.DailyTechTag, error) {
	return run(d, func() ([]model.DailyTechTag, error) { return d.st.ListDailyTechTags(ctx, accountID, fromDay, toDay) })
}

func (d *DB) GetAccountStats(ctx context.Context, accountID int64) (model.AccountStats, error) {
	return run(d, func() (model.AccountStats, error) { return d.st.GetAccountStats(ctx, accountID) })
}

var _ database.Store = (*DB)(nil)
