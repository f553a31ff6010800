// internal/classifier/pass.go
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github-activity-sync/internal/clock"
	"github-activity-sync/internal/database"
	"github-activity-sync/internal/model"
)

const defaultBatchSize = 100

// CommitClassifier is the part of *Classifier a Pass needs.
type CommitClassifier interface {
	Classify(ctx context.Context, in CommitInput) Result
	ClassifyRepository(ctx context.Context, in RepositoryInput) TechAnalysis
}

// PassConfig tunes a classification pass.
type PassConfig struct {
	Concurrency int
	BatchSize   int
	// RetryAfter makes commits degraded longer ago than this eligible again.
	// Zero disables re-classification.
	RetryAfter time.Duration
}

// PassResult summarizes one pass.
type PassResult struct {
	Classified   int
	Degraded     int
	Repositories int
	// Affected spans the commit timestamps whose classification changed.
	Affected model.DateRange
}

// Pass annotates already-persisted commits. It runs after reconciliation so
// an AI outage never blocks ingestion.
type Pass struct {
	db         database.Querier
	classifier CommitClassifier
	cfg        PassConfig
	clock      clock.Clock
	logger     *slog.Logger
}

func NewPass(db database.Querier, c CommitClassifier, cfg PassConfig, clk clock.Clock, logger *slog.Logger) *Pass {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Pass{db: db, classifier: c, cfg: cfg, clock: clk, logger: logger}
}

// Run classifies every pending commit of the account's active repositories,
// then analyzes repositories that have manifests but no stack analysis yet.
// Only storage failures are returned.
func (p *Pass) Run(ctx context.Context, accountID int64) (PassResult, error) {
	logger := p.logger.With("account_id", accountID)
	var res PassResult

	repos, err := p.db.ListRepositories(ctx, accountID, true)
	if err != nil {
		return res, fmt.Errorf("failed to list repositories: %w", err)
	}
	names := make(map[int64]string, len(repos))
	for _, r := range repos {
		names[r.ID] = r.FullName
	}

	var retryBefore time.Time
	if p.cfg.RetryAfter > 0 {
		retryBefore = p.clock.Now().Add(-p.cfg.RetryAfter)
	}

	// Degraded commits keep matching the retry predicate until they age
	// again, so a commit seen once in this pass is not classified twice.
	seen := make(map[int64]struct{})
	var mu sync.Mutex
	for {
		batch, err := p.db.ListCommitsToClassify(ctx, database.ListCommitsToClassifyParams{
			AccountID:           accountID,
			RetryDegradedBefore: retryBefore,
			Limit:               p.cfg.BatchSize,
		})
		if err != nil {
			return res, fmt.Errorf("failed to list commits to classify: %w", err)
		}
		var todo []model.Commit
		for _, c := range batch {
			if _, ok := seen[c.ID]; !ok {
				seen[c.ID] = struct{}{}
				todo = append(todo, c)
			}
		}
		if len(todo) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Concurrency)
		for _, c := range todo {
			g.Go(func() error {
				result := p.classifier.Classify(gctx, CommitInput{
					RepositoryName: names[c.RepositoryID],
					Message:        c.Message,
					DiffSummary:    DiffSummary(c),
				})
				if err := p.db.UpdateCommitClassification(gctx, database.UpdateCommitClassificationParams{
					CommitID:     c.ID,
					TechTags:     result.TechTags,
					WorkCategory: result.Category,
					ClassifiedAt: p.clock.Now(),
				}); err != nil {
					return fmt.Errorf("failed to store classification of %s: %w", c.SHA, err)
				}

				mu.Lock()
				defer mu.Unlock()
				if result.Degraded() {
					res.Degraded++
					logger.Debug("Commit classification degraded", "sha", c.SHA, "error", result.Err())
				} else {
					res.Classified++
				}
				res.Affected = res.Affected.Extend(c.CommittedAt)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, err
		}
		if len(batch) < p.cfg.BatchSize {
			break
		}
	}

	analyzed, err := p.analyzeRepositories(ctx, repos)
	res.Repositories = analyzed
	if err != nil {
		return res, err
	}

	if res.Degraded > 0 {
		logger.Warn("Some commits could not be classified", "degraded", res.Degraded, "classified", res.Classified)
	}
	logger.Info("Classification pass finished", "classified", res.Classified, "degraded", res.Degraded, "repositories", res.Repositories)
	return res, nil
}

func (p *Pass) analyzeRepositories(ctx context.Context, repos []model.Repository) (int, error) {
	analyzed := 0
	for _, r := range repos {
		if _, done := r.Metadata[model.MetaTechAnalysis]; done {
			continue
		}
		manifests := stringMap(r.Metadata[model.MetaManifests])
		if len(manifests) == 0 {
			continue
		}
		in := RepositoryInput{
			FullName:  r.FullName,
			Languages: intMap(r.Metadata[model.MetaLanguages]),
			Manifests: manifests,
		}
		if r.Description != nil {
			in.Description = *r.Description
		}
		analysis := p.classifier.ClassifyRepository(ctx, in)
		if analysis.Degraded {
			// Retried on the next pass.
			continue
		}
		patch, err := toMap(analysis)
		if err != nil {
			return analyzed, err
		}
		if err := p.db.MergeRepositoryMetadata(ctx, r.ID, map[string]any{model.MetaTechAnalysis: patch}); err != nil {
			return analyzed, fmt.Errorf("failed to store tech analysis of %s: %w", r.FullName, err)
		}
		analyzed++
	}
	return analyzed, nil
}

// Metadata round-trips through JSON, so nested maps arrive as map[string]any.

func stringMap(v any) map[string]string {
	out := map[string]string{}
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func intMap(v any) map[string]int {
	out := map[string]int{}
	switch m := v.(type) {
	case map[string]int:
		return m
	case map[string]any:
		for k, val := range m {
			switch n := val.(type) {
			case float64:
				out[k] = int(n)
			case int:
				out[k] = n
			case int64:
				out[k] = int(n)
			}
		}
	}
	return out
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
