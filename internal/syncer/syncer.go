// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github-activity-sync/internal/clock"
	"github-activity-sync/internal/credentials"
	"github-activity-sync/internal/database"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/github"
	"github-activity-sync/internal/metrics"
	"github-activity-sync/internal/model"
)

const (
	defaultRepoConcurrency   = 5
	defaultDetailConcurrency = 4
)

// Credentials resolves and invalidates account tokens.
type Credentials interface {
	GetDecryptedToken(ctx context.Context, accountID int64) (string, error)
	InvalidateToken(ctx context.Context, accountID int64) error
}

// Config tunes reconciliation.
type Config struct {
	GithubBaseURL     string
	MaxAttempts       int
	BackoffBase       time.Duration
	DefaultSince      time.Time
	RepoConcurrency   int
	DetailConcurrency int
	IncludeForks      bool
}

// Scope selects what a reconciliation covers. No RepoIDs means every active
// repository after discovery. Full ignores stored cursors.
type Scope struct {
	RepoIDs []int64
	Full    bool
}

// Result summarizes one reconciliation.
type Result struct {
	ItemsFetched int
	Repositories int
	Discovered   int
	// Affected spans the timestamps of every fetched commit and pull request.
	Affected model.DateRange
	// Relabeled is set when a repository's name or primary language changed,
	// which changes rollup keys outside Affected.
	Relabeled  bool
	RepoErrors []model.RepositoryError
}

// Reconciler pulls an account's repositories, commits and pull requests from
// GitHub and upserts them by natural key.
type Reconciler struct {
	db     database.Store
	creds  Credentials
	quotas *github.QuotaRegistry
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
}

// NewReconciler creates a new Reconciler instance. quotas is shared by every
// job so concurrent fetches for one account see one quota.
func NewReconciler(db database.Store, creds Credentials, quotas *github.QuotaRegistry, cfg Config, clk clock.Clock, logger *slog.Logger) *Reconciler {
	if cfg.RepoConcurrency <= 0 {
		cfg.RepoConcurrency = defaultRepoConcurrency
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = defaultDetailConcurrency
	}
	return &Reconciler{db: db, creds: creds, quotas: quotas, cfg: cfg, clock: clk, logger: logger}
}

// Reconcile syncs the repositories in scope concurrently. A failure confined
// to one repository is recorded in the result and the others continue; an
// authentication or exhausted rate-limit error aborts the whole run and is
// returned. An authentication error also invalidates the stored token.
func (r *Reconciler) Reconcile(ctx context.Context, account model.Account, scope Scope) (Result, error) {
	logger := r.logger.With("account_id", account.ID)
	res, err := r.reconcile(ctx, logger, account, scope)
	var authErr *apperrors.AuthenticationError
	if errors.As(err, &authErr) {
		if invErr := r.creds.InvalidateToken(ctx, account.ID); invErr != nil {
			logger.Error("Failed to invalidate token", "error", invErr)
		}
	}
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context, logger *slog.Logger, account model.Account, scope Scope) (Result, error) {
	var res Result

	token, err := r.creds.GetDecryptedToken(ctx, account.ID)
	if errors.Is(err, credentials.ErrTokenNotConfigured) {
		return res, &apperrors.AuthenticationError{Message: err.Error()}
	}
	if err != nil {
		return res, fmt.Errorf("failed to load token: %w", err)
	}
	client, err := github.NewClient(token, logger,
		github.WithBaseURL(r.cfg.GithubBaseURL),
		github.WithQuota(r.quotas.For(account.ID)),
		github.WithClock(r.clock),
		github.WithRetry(max(r.cfg.MaxAttempts, 1), r.cfg.BackoffBase),
	)
	if err != nil {
		return res, err
	}

	jobStart := r.clock.Now()
	repos, disc, err := r.targetRepositories(ctx, logger, client, account, scope)
	if err != nil {
		return res, err
	}
	res.Discovered = disc.created
	res.Relabeled = disc.relabeled
	res.Repositories = len(repos)
	logger.Info("Reconciling repositories", "count", len(repos), "full", scope.Full)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.RepoConcurrency)
	for _, repo := range repos {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			rs := &repoSync{r: r, client: client, account: account, repo: repo, full: scope.Full, jobStart: jobStart,
				logger: logger.With("repo", repo.FullName, "repo_id", repo.ID)}
			err := rs.run(gctx)

			mu.Lock()
			defer mu.Unlock()
			// Pages committed before a failure still need their days rebuilt.
			res.Affected = res.Affected.Union(rs.affected)
			res.Relabeled = res.Relabeled || rs.relabeled
			if err == nil {
				res.ItemsFetched += rs.fetched
				return nil
			}
			if apperrors.IsFatal(err) {
				return err
			}
			if gctx.Err() != nil {
				return nil
			}
			kind := apperrors.KindOf(err)
			metrics.SyncRepositoryErrors.WithLabelValues(string(kind)).Inc()
			rs.logger.Warn("Skipping repository after error", "kind", kind, "error", err)
			res.RepoErrors = append(res.RepoErrors, model.RepositoryError{
				RepositoryID: repo.ID,
				FullName:     repo.FullName,
				Kind:         string(kind),
				Message:      err.Error(),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// targetRepositories resolves the scope to stored repositories, running
// discovery first when no repositories are named.
func (r *Reconciler) targetRepositories(ctx context.Context, logger *slog.Logger, client *github.Client, account model.Account, scope Scope) ([]model.Repository, discovery, error) {
	if len(scope.RepoIDs) > 0 {
		repos := make([]model.Repository, 0, len(scope.RepoIDs))
		for _, id := range scope.RepoIDs {
			repo, err := r.db.GetRepository(ctx, id)
			if err != nil {
				return nil, discovery{}, err
			}
			if repo.AccountID != account.ID {
				return nil, discovery{}, &apperrors.NotFoundError{Entity: "repository", ID: fmt.Sprint(id)}
			}
			repos = append(repos, repo)
		}
		return repos, discovery{}, nil
	}

	disc, err := r.discover(ctx, logger, client, account)
	if apperrors.IsFatal(err) {
		return nil, disc, err
	}
	if err != nil {
		logger.Warn("Repository discovery failed, using stored repositories", "error", err)
	}
	repos, err := r.db.ListRepositories(ctx, account.ID, true)
	if err != nil {
		return nil, disc, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, disc, nil
}
