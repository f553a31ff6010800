// internal/classifier/classifier_test.go
package classifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-activity-sync/internal/clock"
	"github-activity-sync/internal/database"
	"github-activity-sync/internal/database/memdb"
	"github-activity-sync/internal/model"
)

// fakeLLM replays canned replies in order; the last one repeats.
type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (f *fakeLLM) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	reply := f.replies[min(f.calls-1, len(f.replies)-1)]
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: reply}}},
	}, nil
}

func (f *fakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClassifier(llm ChatCompleter) *Classifier {
	return New(llm, Config{Model: "test-model"}, discardLogger())
}

func TestClassify(t *testing.T) {
	t.Run("valid reply is normalized", func(t *testing.T) {
		llm := &fakeLLM{replies: []string{`{"tech_tags": ["Go", "postgres", "go "], "work_category": "feature"}`}}
		res := newTestClassifier(llm).Classify(context.Background(), CommitInput{Message: "add sync"})

		assert.Equal(t, StatusClassified, res.Status)
		assert.Equal(t, []string{"go", "postgres"}, res.TechTags)
		assert.Equal(t, model.CategoryFeature, res.Category)
		assert.Equal(t, 1, res.Attempts)
		assert.NoError(t, res.Err())
	})

	t.Run("fenced JSON is accepted", func(t *testing.T) {
		llm := &fakeLLM{replies: []string{"```json\n{\"tech_tags\": [], \"work_category\": \"docs\"}\n```"}}
		res := newTestClassifier(llm).Classify(context.Background(), CommitInput{Message: "readme"})

		assert.Equal(t, StatusClassified, res.Status)
		assert.Equal(t, model.CategoryDocs, res.Category)
	})

	t.Run("malformed then valid succeeds on retry", func(t *testing.T) {
		llm := &fakeLLM{replies: []string{`not json`, `{"tech_tags": ["ci"], "work_category": "ci"}`}}
		res := newTestClassifier(llm).Classify(context.Background(), CommitInput{Message: "pipeline"})

		assert.Equal(t, StatusClassified, res.Status)
		assert.Equal(t, 2, res.Attempts)
		assert.Equal(t, 2, llm.Calls())
	})

	t.Run("malformed twice degrades to unclassified", func(t *testing.T) {
		llm := &fakeLLM{replies: []string{`{"tech_tags": "go"}`, `{"work_category": "chores"}`}}
		res := newTestClassifier(llm).Classify(context.Background(), CommitInput{Message: "wip"})

		assert.Equal(t, StatusDegraded, res.Status)
		assert.Equal(t, model.CategoryUnclassified, res.Category)
		assert.Empty(t, res.TechTags)
		assert.NotNil(t, res.TechTags)
		assert.Equal(t, 2, res.Attempts)
		assert.Equal(t, 2, llm.Calls())
		assert.Error(t, res.Err())
	})

	t.Run("too many tags is rejected", func(t *testing.T) {
		llm := &fakeLLM{replies: []string{`{"tech_tags": ["a","b","c","d","e","f","g","h","i","j","k"], "work_category": "test"}`}}
		res := newTestClassifier(llm).Classify(context.Background(), CommitInput{})

		assert.True(t, res.Degraded())
	})

	t.Run("open breaker degrades without calling the service", func(t *testing.T) {
		llm := &fakeLLM{err: errors.New("service unavailable")}
		c := newTestClassifier(llm)

		// Five consecutive failures trip the breaker.
		for range 3 {
			c.Classify(context.Background(), CommitInput{})
		}
		calls := llm.Calls()
		require.GreaterOrEqual(t, calls, 5)

		res := c.Classify(context.Background(), CommitInput{})
		assert.True(t, res.Degraded())
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, calls, llm.Calls())
	})
}

func TestClassifyRepository(t *testing.T) {
	t.Run("valid analysis", func(t *testing.T) {
		llm := &fakeLLM{replies: []string{`{"domain": "web", "frameworks": ["React", "Vite"], "project_type": "application", "tools": ["ESLint"]}`}}
		got := newTestClassifier(llm).ClassifyRepository(context.Background(), RepositoryInput{
			FullName:  "octo/site",
			Languages: map[string]int{"TypeScript": 1200},
			Manifests: map[string]string{"package.json": `{"dependencies": {"react": "^18"}}`},
		})

		assert.False(t, got.Degraded)
		assert.Equal(t, "web", got.Domain)
		assert.Equal(t, []string{"react", "vite"}, got.Frameworks)
		assert.Equal(t, []string{"eslint"}, got.Tools)
	})

	t.Run("failure degrades to general", func(t *testing.T) {
		llm := &fakeLLM{replies: []string{`{}`}}
		got := newTestClassifier(llm).ClassifyRepository(context.Background(), RepositoryInput{FullName: "octo/x"})

		assert.True(t, got.Degraded)
		assert.Equal(t, "general", got.Domain)
	})
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripFences(`  {"a":1}  `))
}

// scriptedClassifier answers by commit message.
type scriptedClassifier struct {
	mu       sync.Mutex
	degraded map[string]bool
	seen     []string
	analysis TechAnalysis
}

func (s *scriptedClassifier) Classify(_ context.Context, in CommitInput) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, in.Message)
	if s.degraded[in.Message] {
		return Result{Status: StatusDegraded, TechTags: []string{}, Category: model.CategoryUnclassified, Attempts: 2}
	}
	return Result{Status: StatusClassified, TechTags: []string{"go"}, Category: model.CategoryBugfix, Attempts: 1}
}

func (s *scriptedClassifier) ClassifyRepository(_ context.Context, _ RepositoryInput) TechAnalysis {
	return s.analysis
}

func seedCommits(t *testing.T, db *memdb.DB, messages ...string) (model.Account, model.Repository) {
	t.Helper()
	ctx := context.Background()
	acct, err := db.CreateAccount(ctx, database.CreateAccountParams{GithubLogin: "octo", Timezone: "UTC"})
	require.NoError(t, err)
	repo, _, err := db.UpsertRepository(ctx, database.UpsertRepositoryParams{AccountID: acct.ID, GithubRepoID: 1, FullName: "octo/app"})
	require.NoError(t, err)
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for i, msg := range messages {
		_, err := db.UpsertCommit(ctx, model.Commit{
			RepositoryID: repo.ID,
			SHA:          msg,
			Message:      msg,
			CommittedAt:  base.Add(time.Duration(i) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}
	return acct, repo
}

func TestPassRun(t *testing.T) {
	ctx := context.Background()

	t.Run("persists results and degraded commits", func(t *testing.T) {
		db := memdb.New()
		acct, repo := seedCommits(t, db, "fix-a", "fix-b", "bad")
		fake := &scriptedClassifier{degraded: map[string]bool{"bad": true}}
		clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		pass := NewPass(db, fake, PassConfig{Concurrency: 2, BatchSize: 2}, clk, discardLogger())

		res, err := pass.Run(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Classified)
		assert.Equal(t, 1, res.Degraded)
		assert.Equal(t, time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC), res.Affected.From)
		assert.Equal(t, time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC), res.Affected.To)

		for _, c := range db.Commits(repo.ID) {
			require.NotNil(t, c.WorkCategory, c.SHA)
			require.NotNil(t, c.ClassifiedAt, c.SHA)
			if c.SHA == "bad" {
				assert.Equal(t, model.CategoryUnclassified, *c.WorkCategory)
				assert.Empty(t, c.TechTags)
			} else {
				assert.Equal(t, model.CategoryBugfix, *c.WorkCategory)
				assert.Equal(t, []string{"go"}, c.TechTags)
			}
		}

		again, err := pass.Run(ctx, acct.ID)
		require.NoError(t, err)
		assert.Zero(t, again.Classified+again.Degraded)
	})

	t.Run("degraded commits are retried after the delay", func(t *testing.T) {
		db := memdb.New()
		acct, _ := seedCommits(t, db, "bad")
		fake := &scriptedClassifier{degraded: map[string]bool{"bad": true}}
		clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		pass := NewPass(db, fake, PassConfig{RetryAfter: time.Hour}, clk, discardLogger())

		_, err := pass.Run(ctx, acct.ID)
		require.NoError(t, err)

		res, err := pass.Run(ctx, acct.ID)
		require.NoError(t, err)
		assert.Zero(t, res.Degraded)

		clk.Advance(2 * time.Hour)
		res, err = pass.Run(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Degraded)
		assert.Len(t, fake.seen, 2)
	})

	t.Run("stores repository tech analysis", func(t *testing.T) {
		db := memdb.New()
		acct, repo := seedCommits(t, db)
		require.NoError(t, db.MergeRepositoryMetadata(ctx, repo.ID, map[string]any{
			model.MetaManifests: map[string]any{"go.mod": "module x"},
		}))
		fake := &scriptedClassifier{analysis: TechAnalysis{Domain: "cli", Frameworks: []string{"cobra"}, ProjectType: "tooling"}}
		pass := NewPass(db, fake, PassConfig{}, clock.NewFake(time.Now()), discardLogger())

		res, err := pass.Run(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Repositories)

		stored, err := db.GetRepository(ctx, repo.ID)
		require.NoError(t, err)
		analysis, ok := stored.Metadata[model.MetaTechAnalysis].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "cli", analysis["domain"])

		res, err = pass.Run(ctx, acct.ID)
		require.NoError(t, err)
		assert.Zero(t, res.Repositories)
	})
}
