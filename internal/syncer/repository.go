// internal/syncer/repository.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github-activity-sync/internal/database"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/github"
	"github-activity-sync/internal/metrics"
	"github-activity-sync/internal/model"
)

// repoSync holds the state of one repository's reconciliation.
type repoSync struct {
	r        *Reconciler
	client   *github.Client
	account  model.Account
	repo     model.Repository
	full     bool
	jobStart time.Time
	logger   *slog.Logger

	fetched   int
	affected  model.DateRange
	relabeled bool
}

func (s *repoSync) run(ctx context.Context) error {
	s.logger.Info("Syncing repository")
	if err := s.syncCommits(ctx); err != nil {
		return fmt.Errorf("commits: %w", err)
	}
	if err := s.syncPullRequests(ctx); err != nil {
		return fmt.Errorf("pull requests: %w", err)
	}
	if err := s.syncLanguages(ctx); err != nil {
		if apperrors.IsFatal(err) {
			return err
		}
		s.logger.Warn("Failed to fetch languages", "error", err)
	}
	if err := s.r.db.MarkRepositorySynced(ctx, s.repo.ID, s.r.clock.Now()); err != nil {
		return err
	}
	s.logger.Info("Repository synced", "items", s.fetched)
	return nil
}

// window picks the fetch window and starting page from a stored cursor. An
// unfinished window is resumed where the last committed page left off.
func (s *repoSync) window(cursor *model.Cursor) (model.Cursor, int) {
	switch {
	case s.full:
		return model.Cursor{Until: s.jobStart}, 1
	case cursor == nil:
		return model.Cursor{Since: s.r.cfg.DefaultSince, Until: s.jobStart}, 1
	case cursor.InProgress():
		return model.Cursor{Since: cursor.Since, Until: cursor.Until}, cursor.Page
	default:
		return model.Cursor{Since: cursor.Since, Until: s.jobStart}, 1
	}
}

func (s *repoSync) syncCommits(ctx context.Context) error {
	win, start := s.window(s.repo.CommitCursor)
	query := github.CommitQuery{
		Owner:  s.repo.Owner(),
		Repo:   s.repo.Name(),
		Since:  win.Since,
		Until:  win.Until,
		Author: s.account.GithubLogin,
	}
	fetch := func(ctx context.Context, page int) (github.Page[model.Commit], error) {
		return s.client.FetchCommitsPage(ctx, query, page)
	}

	for page, err := range github.Pages[model.Commit](ctx, start, fetch) {
		if err != nil {
			return err
		}
		commits, err := s.enrich(ctx, page.Items)
		if err != nil {
			return err
		}

		next := model.Cursor{Since: win.Since, Until: win.Until, Page: page.Next}
		if page.Done() {
			next = model.Cursor{Since: win.Until}
		}
		inserted := 0
		// Rows and cursor commit together, so a crash never advances the
		// cursor past unpersisted commits.
		err = s.r.db.InTx(ctx, func(q database.Querier) error {
			for _, c := range commits {
				c.RepositoryID = s.repo.ID
				ok, err := q.UpsertCommit(ctx, c)
				if err != nil {
					return fmt.Errorf("failed to upsert commit %s: %w", c.SHA, err)
				}
				if ok {
					inserted++
				}
			}
			return q.UpdateRepositoryCursor(ctx, s.repo.ID, database.CursorCommits, next)
		})
		if err != nil {
			return err
		}

		s.fetched += len(commits)
		for _, c := range commits {
			s.affected = s.affected.Extend(c.CommittedAt)
		}
		metrics.SyncItemsFetched.WithLabelValues("commit").Add(float64(len(commits)))
		s.logger.Debug("Stored commits page", "fetched", len(commits), "inserted", inserted, "next_page", page.Next)
	}
	return nil
}

// enrich replaces listed commits with their detailed form, which carries
// stats and the file summary. Commits that vanished since listing keep
// their listed form.
func (s *repoSync) enrich(ctx context.Context, listed []model.Commit) ([]model.Commit, error) {
	out := make([]model.Commit, len(listed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.r.cfg.DetailConcurrency)
	for i, c := range listed {
		g.Go(func() error {
			detail, err := s.client.GetCommitDetail(gctx, s.repo.Owner(), s.repo.Name(), c.SHA)
			var notFound *apperrors.UpstreamNotFound
			if errors.As(err, &notFound) {
				out[i] = c
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = detail
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// syncPullRequests walks pull requests newest-updated first and stops at the
// first one not updated since the cursor.
func (s *repoSync) syncPullRequests(ctx context.Context) error {
	win, start := s.window(s.repo.PRCursor)
	fetch := func(ctx context.Context, page int) (github.Page[model.PullRequest], error) {
		return s.client.FetchPullRequestsPage(ctx, s.repo.Owner(), s.repo.Name(), page)
	}

	for page, err := range github.Pages[model.PullRequest](ctx, start, fetch) {
		if err != nil {
			return err
		}
		var prs []model.PullRequest
		reachedCursor := false
		for _, pr := range page.Items {
			if !win.Since.IsZero() && pr.PRUpdatedAt.Before(win.Since) {
				reachedCursor = true
				break
			}
			prs = append(prs, pr)
		}

		next := model.Cursor{Since: win.Since, Until: win.Until, Page: page.Next}
		if page.Done() || reachedCursor {
			next = model.Cursor{Since: win.Until}
		}
		err = s.r.db.InTx(ctx, func(q database.Querier) error {
			for _, pr := range prs {
				pr.RepositoryID = s.repo.ID
				if _, err := q.UpsertPullRequest(ctx, pr); err != nil {
					return fmt.Errorf("failed to upsert pull request #%d: %w", pr.Number, err)
				}
			}
			return q.UpdateRepositoryCursor(ctx, s.repo.ID, database.CursorPullRequests, next)
		})
		if err != nil {
			return err
		}

		s.fetched += len(prs)
		for _, pr := range prs {
			s.affected = s.affected.Extend(pr.PRCreatedAt)
			if pr.MergedAt != nil {
				s.affected = s.affected.Extend(*pr.MergedAt)
			}
		}
		metrics.SyncItemsFetched.WithLabelValues("pull_request").Add(float64(len(prs)))
		if reachedCursor {
			break
		}
	}
	return nil
}

// syncLanguages stores the language byte counts; the largest becomes the
// primary language.
func (s *repoSync) syncLanguages(ctx context.Context) error {
	langs, err := s.client.GetLanguages(ctx, s.repo.Owner(), s.repo.Name())
	if err != nil {
		return err
	}
	if len(langs) == 0 {
		return nil
	}
	var primary string
	for lang, n := range langs {
		if primary == "" || n > langs[primary] || (n == langs[primary] && lang < primary) {
			primary = lang
		}
	}
	if err := s.r.db.UpdateRepositoryLanguages(ctx, s.repo.ID, &primary, langs); err != nil {
		return err
	}
	if prev := s.repo.PrimaryLanguage; prev != nil && *prev != primary {
		s.logger.Info("Primary language changed", "previous", *prev, "primary", primary)
		s.relabeled = true
	}
	return nil
}
