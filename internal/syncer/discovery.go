// internal/syncer/discovery.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github-activity-sync/internal/database"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/github"
	"github-activity-sync/internal/model"
)

const maxManifestLength = 5000

// manifestFiles are fetched for newly discovered repositories and feed the
// tech-stack analysis.
var manifestFiles = []string{
	"go.mod",
	"package.json",
	"requirements.txt",
	"pyproject.toml",
	"Cargo.toml",
	"Gemfile",
	"pom.xml",
	"build.gradle",
	"composer.json",
}

// discovery counts new repositories and notes whether a stored one was
// renamed or changed primary language.
type discovery struct {
	created   int
	relabeled bool
}

// discover upserts every repository the account owns. Forks are skipped
// unless configured otherwise.
func (r *Reconciler) discover(ctx context.Context, logger *slog.Logger, client *github.Client, account model.Account) (discovery, error) {
	var d discovery
	stored, err := r.db.ListRepositories(ctx, account.ID, false)
	if err != nil {
		return d, fmt.Errorf("failed to list repositories: %w", err)
	}
	known := make(map[int64]model.Repository, len(stored))
	for _, repo := range stored {
		known[repo.GithubRepoID] = repo
	}

	for page, err := range github.Pages[model.Repository](ctx, 1, client.FetchRepositoriesPage) {
		if err != nil {
			return d, err
		}
		for _, gh := range page.Items {
			if gh.IsFork && !r.cfg.IncludeForks {
				continue
			}
			repo, isNew, err := r.db.UpsertRepository(ctx, database.UpsertRepositoryParams{
				AccountID:       account.ID,
				GithubRepoID:    gh.GithubRepoID,
				FullName:        gh.FullName,
				Description:     gh.Description,
				PrimaryLanguage: gh.PrimaryLanguage,
				IsPrivate:       gh.IsPrivate,
				IsFork:          gh.IsFork,
				PushedAt:        gh.PushedAt,
			})
			if err != nil {
				return d, err
			}
			if !isNew {
				if prev, ok := known[gh.GithubRepoID]; ok && relabeled(prev, repo) {
					logger.Info("Repository renamed or changed language", "repo", repo.FullName, "previous", prev.FullName)
					d.relabeled = true
				}
				continue
			}
			d.created++
			logger.Info("Discovered repository", "repo", repo.FullName, "repo_id", repo.ID)
			if err := r.storeManifests(ctx, client, repo); err != nil {
				if apperrors.IsFatal(err) {
					return d, err
				}
				logger.Warn("Failed to fetch manifests", "repo", repo.FullName, "error", err)
			}
		}
	}
	return d, nil
}

// relabeled reports whether a change between two versions of a repository
// moves its commits to another repository or language rollup key.
func relabeled(prev, next model.Repository) bool {
	if prev.FullName != next.FullName {
		return true
	}
	return prev.PrimaryLanguage != nil && next.PrimaryLanguage != nil && *prev.PrimaryLanguage != *next.PrimaryLanguage
}

// storeManifests saves the dependency manifests present in the repository root.
func (r *Reconciler) storeManifests(ctx context.Context, client *github.Client, repo model.Repository) error {
	manifests := map[string]any{}
	for _, name := range manifestFiles {
		content, err := client.GetFileContent(ctx, repo.Owner(), repo.Name(), name)
		var notFound *apperrors.UpstreamNotFound
		if errors.As(err, &notFound) {
			continue
		}
		if err != nil {
			return err
		}
		if len(content) > maxManifestLength {
			content = content[:maxManifestLength]
		}
		manifests[name] = content
	}
	if len(manifests) == 0 {
		return nil
	}
	return r.db.MergeRepositoryMetadata(ctx, repo.ID, map[string]any{model.MetaManifests: manifests})
}
