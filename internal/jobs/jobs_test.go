// internal/jobs/jobs_test.go
package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github-activity-sync/internal/aggregate"
	"github-activity-sync/internal/classifier"
	"github-activity-sync/internal/clock"
	"github-activity-sync/internal/database"
	"github-activity-sync/internal/database/memdb"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/model"
	"github-activity-sync/internal/syncer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeReconciler returns a fixed result, optionally blocking until released.
type fakeReconciler struct {
	mu      sync.Mutex
	result  syncer.Result
	err     error
	release chan struct{}
	scopes  []syncer.Scope
}

func (f *fakeReconciler) Reconcile(ctx context.Context, _ model.Account, scope syncer.Scope) (syncer.Result, error) {
	f.mu.Lock()
	f.scopes = append(f.scopes, scope)
	release := f.release
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return syncer.Result{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeReconciler) Scopes() []syncer.Scope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncer.Scope(nil), f.scopes...)
}

// MockAggregator is a mock type for the Aggregator interface
type MockAggregator struct {
	mock.Mock
}

func (m *MockAggregator) Recompute(ctx context.Context, accountID int64, affected model.DateRange) error {
	args := m.Called(ctx, accountID, affected)
	return args.Error(0)
}

func (m *MockAggregator) RefreshStats(ctx context.Context, accountID int64) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

type testEnv struct {
	db      *memdb.DB
	clock   *clock.Fake
	account model.Account
	logger  *slog.Logger
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db := memdb.New()
	acct, err := db.CreateAccount(context.Background(), database.CreateAccountParams{GithubLogin: "octo", Timezone: "UTC"})
	require.NoError(t, err)
	return &testEnv{
		db:      db,
		clock:   clock.NewFake(time.Date(2026, 2, 12, 9, 0, 0, 0, time.UTC)),
		account: acct,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (e *testEnv) job(t *testing.T, m *Manager, created model.SyncJob) model.SyncJob {
	t.Helper()
	job, err := m.Status(context.Background(), created.ID)
	require.NoError(t, err)
	return job
}

func TestManager_Trigger(t *testing.T) {
	ctx := context.Background()

	t.Run("second trigger conflicts while a job is active", func(t *testing.T) {
		env := setup(t)
		rec := &fakeReconciler{release: make(chan struct{})}
		agg := new(MockAggregator)
		agg.On("RefreshStats", mock.Anything, env.account.ID).Return(nil)
		m := NewManager(env.db, rec, nil, agg, env.clock, env.logger)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = m.Trigger(ctx, env.account.ID, TriggerRequest{})
			}()
		}
		wg.Wait()

		var conflicts, ok int
		for _, err := range errs {
			var conflict *apperrors.ConflictError
			switch {
			case err == nil:
				ok++
			case assert.ErrorAs(t, err, &conflict):
				conflicts++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, conflicts)

		state, err := m.AccountState(ctx, env.account.ID)
		require.NoError(t, err)
		assert.Equal(t, StateInProgress, state.State)

		close(rec.release)
		m.Wait()

		state, err = m.AccountState(ctx, env.account.ID)
		require.NoError(t, err)
		assert.Equal(t, StateSynced, state.State)
		require.NotNil(t, state.LastSyncedAt)
		assert.Equal(t, env.clock.Now(), *state.LastSyncedAt)

		_, err = m.Trigger(ctx, env.account.ID, TriggerRequest{})
		require.NoError(t, err)
		m.Wait()
	})

	t.Run("authentication failure fails the job", func(t *testing.T) {
		env := setup(t)
		rec := &fakeReconciler{err: &apperrors.AuthenticationError{StatusCode: 401, Message: "Bad credentials"}}
		agg := new(MockAggregator)
		m := NewManager(env.db, rec, nil, agg, env.clock, env.logger)

		created, err := m.Trigger(ctx, env.account.ID, TriggerRequest{})
		require.NoError(t, err)
		assert.Equal(t, model.JobPending, created.Status)
		m.Wait()

		job := env.job(t, m, created)
		assert.Equal(t, model.JobFailed, job.Status)
		require.NotNil(t, job.ErrorDetail)
		assert.Equal(t, string(apperrors.KindAuthentication), job.ErrorDetail.Kind)
		assert.NotNil(t, job.StartedAt)
		assert.NotNil(t, job.CompletedAt)
		agg.AssertNotCalled(t, "Recompute", mock.Anything, mock.Anything, mock.Anything)

		state, err := m.AccountState(ctx, env.account.ID)
		require.NoError(t, err)
		assert.Equal(t, StateFailed, state.State)
		assert.Nil(t, state.LastSyncedAt)
		require.NotNil(t, state.LastError)
		assert.Equal(t, "authentication", state.LastError.Kind)
	})

	t.Run("repository errors do not fail the job", func(t *testing.T) {
		env := setup(t)
		affected := model.DateRange{From: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), To: time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)}
		rec := &fakeReconciler{result: syncer.Result{
			ItemsFetched: 7,
			Affected:     affected,
			RepoErrors:   []model.RepositoryError{{RepositoryID: 9, FullName: "octo/gone", Kind: "upstream_not_found", Message: "gone"}},
		}}
		agg := new(MockAggregator)
		agg.On("Recompute", mock.Anything, env.account.ID, affected).Return(nil)
		m := NewManager(env.db, rec, nil, agg, env.clock, env.logger)

		created, err := m.Trigger(ctx, env.account.ID, TriggerRequest{})
		require.NoError(t, err)
		m.Wait()

		job := env.job(t, m, created)
		assert.Equal(t, model.JobCompleted, job.Status)
		assert.Equal(t, 7, job.ItemsFetched)
		require.NotNil(t, job.ErrorDetail)
		assert.Empty(t, job.ErrorDetail.Kind)
		require.Len(t, job.ErrorDetail.Repositories, 1)
		assert.Equal(t, "octo/gone", job.ErrorDetail.Repositories[0].FullName)
		agg.AssertExpectations(t)
	})

	t.Run("full sync recomputes everything", func(t *testing.T) {
		env := setup(t)
		rec := &fakeReconciler{}
		agg := new(MockAggregator)
		agg.On("Recompute", mock.Anything, env.account.ID, model.DateRange{}).Return(nil)
		m := NewManager(env.db, rec, nil, agg, env.clock, env.logger)

		created, err := m.Trigger(ctx, env.account.ID, TriggerRequest{Full: true})
		require.NoError(t, err)
		assert.Equal(t, model.JobTypeFull, created.JobType)
		m.Wait()

		assert.Equal(t, model.JobCompleted, env.job(t, m, created).Status)
		assert.Equal(t, []syncer.Scope{{Full: true}}, rec.Scopes())
		agg.AssertExpectations(t)
	})

	t.Run("aggregation failure fails the job", func(t *testing.T) {
		env := setup(t)
		rec := &fakeReconciler{result: syncer.Result{Affected: model.DateRange{From: env.clock.Now(), To: env.clock.Now()}}}
		agg := new(MockAggregator)
		agg.On("Recompute", mock.Anything, env.account.ID, mock.Anything).Return(assert.AnError)
		m := NewManager(env.db, rec, nil, agg, env.clock, env.logger)

		created, err := m.Trigger(ctx, env.account.ID, TriggerRequest{})
		require.NoError(t, err)
		m.Wait()

		job := env.job(t, m, created)
		assert.Equal(t, model.JobFailed, job.Status)
		assert.Equal(t, string(apperrors.KindInternal), job.ErrorDetail.Kind)
	})

	t.Run("scoped to the requested repositories", func(t *testing.T) {
		env := setup(t)
		repo, _, err := env.db.UpsertRepository(ctx, database.UpsertRepositoryParams{AccountID: env.account.ID, GithubRepoID: 5, FullName: "octo/app"})
		require.NoError(t, err)
		rec := &fakeReconciler{}
		agg := new(MockAggregator)
		agg.On("RefreshStats", mock.Anything, env.account.ID).Return(nil)
		m := NewManager(env.db, rec, nil, agg, env.clock, env.logger)

		created, err := m.Trigger(ctx, env.account.ID, TriggerRequest{RepoIDs: []int64{repo.ID, repo.ID}})
		require.NoError(t, err)
		assert.Equal(t, []int64{repo.ID}, created.TargetRepoIDs)
		m.Wait()

		assert.Equal(t, []syncer.Scope{{RepoIDs: []int64{repo.ID}}}, rec.Scopes())
	})

	t.Run("foreign repository is rejected", func(t *testing.T) {
		env := setup(t)
		other, err := env.db.CreateAccount(ctx, database.CreateAccountParams{GithubLogin: "someone"})
		require.NoError(t, err)
		repo, _, err := env.db.UpsertRepository(ctx, database.UpsertRepositoryParams{AccountID: other.ID, GithubRepoID: 6, FullName: "someone/app"})
		require.NoError(t, err)
		m := NewManager(env.db, &fakeReconciler{}, nil, new(MockAggregator), env.clock, env.logger)

		_, err = m.Trigger(ctx, env.account.ID, TriggerRequest{RepoIDs: []int64{repo.ID}})
		var invalid *apperrors.InvalidArgumentError
		assert.ErrorAs(t, err, &invalid)

		jobs, err := m.History(ctx, env.account.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

// garbageLLM never returns valid JSON.
type garbageLLM struct{}

func (garbageLLM) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "I think this is a feature"}}},
	}, nil
}

func TestManager_DegradedClassificationCompletes(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	aiOn := true
	_, err := env.db.UpdateAccountSettings(ctx, database.UpdateAccountSettingsParams{ID: env.account.ID, AIEnabled: &aiOn})
	require.NoError(t, err)
	repo, _, err := env.db.UpsertRepository(ctx, database.UpsertRepositoryParams{AccountID: env.account.ID, GithubRepoID: 1, FullName: "octo/app"})
	require.NoError(t, err)
	committed := time.Date(2026, 2, 11, 15, 0, 0, 0, time.UTC)
	_, err = env.db.UpsertCommit(ctx, model.Commit{RepositoryID: repo.ID, SHA: "abc", Message: "wip", CommittedAt: committed})
	require.NoError(t, err)

	rec := &fakeReconciler{result: syncer.Result{ItemsFetched: 1, Affected: model.DateRange{From: committed, To: committed}}}
	cls := classifier.New(garbageLLM{}, classifier.Config{Model: "test"}, env.logger)
	pass := classifier.NewPass(env.db, cls, classifier.PassConfig{Concurrency: 1, RetryAfter: time.Hour}, env.clock, env.logger)
	engine := aggregate.NewEngine(env.db, env.clock, env.logger)
	m := NewManager(env.db, rec, pass, engine, env.clock, env.logger)

	created, err := m.Trigger(ctx, env.account.ID, TriggerRequest{})
	require.NoError(t, err)
	m.Wait()

	job := env.job(t, m, created)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Nil(t, job.ErrorDetail)

	commits := env.db.Commits(repo.ID)
	require.Len(t, commits, 1)
	require.NotNil(t, commits[0].WorkCategory)
	assert.Equal(t, model.CategoryUnclassified, *commits[0].WorkCategory)
	assert.Empty(t, commits[0].TechTags)

	stats, err := engine.Stats(ctx, env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCommits)

	categories, err := engine.CategoryBreakdown(ctx, env.account.ID, aggregate.Range{})
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestManager_Shutdown(t *testing.T) {
	env := setup(t)
	rec := &fakeReconciler{release: make(chan struct{})}
	m := NewManager(env.db, rec, nil, new(MockAggregator), env.clock, env.logger)

	created, err := m.Trigger(context.Background(), env.account.ID, TriggerRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	m.Shutdown(ctx)

	job := env.job(t, m, created)
	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, string(apperrors.KindInternal), job.ErrorDetail.Kind)
}

func TestScheduler_RunOnce(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	now := env.clock.Now()

	// stale: token set, running job older than the timeout and the interval
	stale := env.account
	require.NoError(t, env.db.SetAccountToken(ctx, stale.ID, "enc"))
	oldJob, err := env.db.CreateSyncJob(ctx, database.CreateSyncJobParams{
		ID: uuid.New(), AccountID: stale.ID, JobType: model.JobTypeIncremental, CreatedAt: now.Add(-7 * time.Hour),
	})
	require.NoError(t, err)
	_, err = env.db.MarkSyncJobRunning(ctx, oldJob.ID, now.Add(-7*time.Hour))
	require.NoError(t, err)

	fresh, err := env.db.CreateAccount(ctx, database.CreateAccountParams{GithubLogin: "fresh", SyncInterval: 6 * time.Hour})
	require.NoError(t, err)
	require.NoError(t, env.db.SetAccountToken(ctx, fresh.ID, "enc"))
	require.NoError(t, env.db.MarkAccountSynced(ctx, fresh.ID, now.Add(-time.Hour)))

	overdue, err := env.db.CreateAccount(ctx, database.CreateAccountParams{GithubLogin: "overdue"})
	require.NoError(t, err)
	require.NoError(t, env.db.SetAccountToken(ctx, overdue.ID, "enc"))
	require.NoError(t, env.db.MarkAccountSynced(ctx, overdue.ID, now.Add(-7*time.Hour)))

	tokenless, err := env.db.CreateAccount(ctx, database.CreateAccountParams{GithubLogin: "tokenless"})
	require.NoError(t, err)

	agg := new(MockAggregator)
	agg.On("RefreshStats", mock.Anything, mock.Anything).Return(nil)
	m := NewManager(env.db, &fakeReconciler{}, nil, agg, env.clock, env.logger)
	s := NewScheduler(env.db, m, SchedulerConfig{Tick: time.Minute, DefaultInterval: 6 * time.Hour, JobTimeout: 2 * time.Hour}, env.clock, env.logger)

	s.RunOnce(ctx)
	m.Wait()

	swept, err := env.db.GetSyncJob(ctx, oldJob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, swept.Status)
	assert.Equal(t, "timeout", swept.ErrorDetail.Kind)

	jobCount := func(accountID int64) int {
		jobs, err := m.History(ctx, accountID, 0)
		require.NoError(t, err)
		return len(jobs)
	}
	assert.Equal(t, 2, jobCount(stale.ID))
	assert.Equal(t, 0, jobCount(fresh.ID))
	assert.Equal(t, 1, jobCount(overdue.ID))
	assert.Equal(t, 0, jobCount(tokenless.ID))

	state, err := m.AccountState(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSynced, state.State)
	assert.Equal(t, now, *state.LastSyncedAt)
}

func TestScheduler_FailingAccountWaitsForInterval(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	require.NoError(t, env.db.SetAccountToken(ctx, env.account.ID, "enc"))

	rec := &fakeReconciler{err: &apperrors.TransientFetchError{Op: "list commits", Attempts: 2, Err: errors.New("502 bad gateway")}}
	m := NewManager(env.db, rec, nil, new(MockAggregator), env.clock, env.logger)
	s := NewScheduler(env.db, m, SchedulerConfig{Tick: time.Minute, DefaultInterval: 6 * time.Hour, JobTimeout: 2 * time.Hour}, env.clock, env.logger)

	for range 5 {
		s.RunOnce(ctx)
		m.Wait()
		env.clock.Advance(time.Minute)
	}

	jobs, err := m.History(ctx, env.account.ID, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobFailed, jobs[0].Status)
	assert.Len(t, rec.Scopes(), 1)

	env.clock.Advance(6 * time.Hour)
	s.RunOnce(ctx)
	m.Wait()

	jobs, err = m.History(ctx, env.account.ID, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

// startFailingStore fails every attempt to move a job to running.
type startFailingStore struct {
	*memdb.DB
}

func (s startFailingStore) MarkSyncJobRunning(context.Context, uuid.UUID, time.Time) (model.SyncJob, error) {
	return model.SyncJob{}, errors.New("connection reset by peer")
}

func TestManager_StartFailureReleasesAccount(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	rec := &fakeReconciler{}
	m := NewManager(startFailingStore{env.db}, rec, nil, new(MockAggregator), env.clock, env.logger)

	created, err := m.Trigger(ctx, env.account.ID, TriggerRequest{})
	require.NoError(t, err)
	m.Wait()

	job := env.job(t, m, created)
	assert.Equal(t, model.JobFailed, job.Status)
	require.NotNil(t, job.ErrorDetail)
	assert.Equal(t, string(apperrors.KindInternal), job.ErrorDetail.Kind)
	assert.Contains(t, job.ErrorDetail.Message, "connection reset by peer")
	assert.Empty(t, rec.Scopes())

	_, err = m.Trigger(ctx, env.account.ID, TriggerRequest{})
	require.NoError(t, err, "a failed start must not leave the account blocked")
	m.Wait()
}

func TestManager_RelabeledRepositoriesRecomputeEverything(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	rec := &fakeReconciler{result: syncer.Result{
		ItemsFetched: 1,
		Affected:     model.DateRange{From: env.clock.Now(), To: env.clock.Now()},
		Relabeled:    true,
	}}
	agg := new(MockAggregator)
	agg.On("Recompute", mock.Anything, env.account.ID, model.DateRange{}).Return(nil).Once()
	m := NewManager(env.db, rec, nil, agg, env.clock, env.logger)

	created, err := m.Trigger(ctx, env.account.ID, TriggerRequest{})
	require.NoError(t, err)
	m.Wait()

	assert.Equal(t, model.JobCompleted, env.job(t, m, created).Status)
	agg.AssertExpectations(t)
}
