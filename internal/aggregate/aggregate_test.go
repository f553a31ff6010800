// internal/aggregate/aggregate_test.go
package aggregate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-activity-sync/internal/clock"
	"github-activity-sync/internal/database"
	"github-activity-sync/internal/database/memdb"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/model"
)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func sumPercent(shares []Share) int {
	total := 0
	for _, s := range shares {
		total += s.Percent
	}
	return total
}

func TestNormalize(t *testing.T) {
	t.Run("remainder goes to the largest bucket", func(t *testing.T) {
		got := Normalize([]Share{{Key: "Go", Commits: 2}, {Key: "Rust", Commits: 1}})

		require.Len(t, got, 2)
		assert.Equal(t, Share{Key: "Go", Commits: 2, Percent: 67}, got[0])
		assert.Equal(t, Share{Key: "Rust", Commits: 1, Percent: 33}, got[1])
	})

	t.Run("ties are broken by key", func(t *testing.T) {
		got := Normalize([]Share{{Key: "c", Commits: 1}, {Key: "a", Commits: 1}, {Key: "b", Commits: 1}})

		assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Key, got[1].Key, got[2].Key})
		assert.Equal(t, []int{34, 33, 33}, []int{got[0].Percent, got[1].Percent, got[2].Percent})
	})

	t.Run("always sums to 100", func(t *testing.T) {
		for _, counts := range [][]int{{7}, {1, 1, 1, 1, 1, 1, 1}, {3, 5, 11, 13}, {1, 999}, {2, 2, 2}} {
			var buckets []Share
			for i, n := range counts {
				buckets = append(buckets, Share{Key: string(rune('a' + i)), Commits: n})
			}
			assert.Equal(t, 100, sumPercent(Normalize(buckets)), "counts %v", counts)
		}
	})

	t.Run("empty input and zero buckets", func(t *testing.T) {
		assert.Empty(t, Normalize(nil))
		assert.Empty(t, Normalize([]Share{{Key: "x"}}))
	})
}

func TestCurrentStreak(t *testing.T) {
	active := map[time.Time]bool{
		date(2026, 2, 8):  true,
		date(2026, 2, 9):  true,
		date(2026, 2, 11): true,
	}

	assert.Equal(t, 1, CurrentStreak(active, date(2026, 2, 11)), "2026-02-10 has no commits")
	assert.Equal(t, 2, CurrentStreak(active, date(2026, 2, 9)))
	assert.Equal(t, 0, CurrentStreak(active, date(2026, 2, 12)))
}

func TestLongestStreak(t *testing.T) {
	days := []time.Time{date(2026, 1, 31), date(2026, 2, 1), date(2026, 2, 2), date(2026, 2, 1), date(2026, 2, 5)}

	assert.Equal(t, 3, LongestStreak(days), "runs cross month boundaries and ignore duplicates")
	assert.Zero(t, LongestStreak(nil))
}

func TestPeriodStart(t *testing.T) {
	// 2026-02-11 is a Wednesday.
	assert.Equal(t, date(2026, 2, 9), PeriodWeek.Start(date(2026, 2, 11)))
	assert.Equal(t, date(2026, 2, 9), PeriodWeek.Start(date(2026, 2, 9)))
	assert.Equal(t, date(2026, 2, 9), PeriodWeek.Start(date(2026, 2, 15)))
	assert.Equal(t, date(2026, 2, 1), PeriodMonth.Start(date(2026, 2, 11)))

	_, err := ParsePeriod("year")
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	feature := model.CategoryFeature
	at := time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC)
	commits := []model.CommitFact{
		{RepositoryName: "octo/a", PrimaryLanguage: "Go", RepoActive: true, CommittedAt: at, Additions: 5, Deletions: 1,
			TechTags: []string{"go", "postgres"}, WorkCategory: &feature},
		{RepositoryName: "octo/b", RepoActive: true, CommittedAt: at.Add(time.Hour), Additions: 2},
		{RepositoryName: "octo/old", PrimaryLanguage: "Perl", RepoActive: false, CommittedAt: at},
	}
	merged := at.Add(48 * time.Hour)
	prs := []model.PullRequestFact{
		{RepoActive: true, CreatedAt: at, MergedAt: &merged},
		{RepoActive: false, CreatedAt: at},
	}

	t.Run("buckets by local day and hour", func(t *testing.T) {
		tokyo, err := time.LoadLocation("Asia/Tokyo")
		require.NoError(t, err)

		got := Build(commits, prs, tokyo, time.Time{}, time.Time{})

		require.Len(t, got.Daily, 2)
		assert.Equal(t, model.DailyActivity{Day: date(2026, 2, 11), Commits: 2, Additions: 7, Deletions: 1, PRsOpened: 1}, got.Daily[0])
		assert.Equal(t, model.DailyActivity{Day: date(2026, 2, 13), PRsMerged: 1}, got.Daily[1])
		assert.Equal(t, []model.HourlyActivity{
			{Day: date(2026, 2, 11), Hour: 8, Commits: 1},
			{Day: date(2026, 2, 11), Hour: 9, Commits: 1},
		}, got.Hourly)
		assert.Equal(t, []model.DailyTechTag{
			{Day: date(2026, 2, 11), Tag: "go", Commits: 1},
			{Day: date(2026, 2, 11), Tag: "postgres", Commits: 1},
		}, got.TechTags)

		var keys []string
		for _, b := range got.Breakdown {
			keys = append(keys, string(b.Dimension)+":"+b.Key)
		}
		assert.Equal(t, []string{"category:feature", "language:Go", "language:Unknown", "repository:octo/a", "repository:octo/b"}, keys)
	})

	t.Run("clips to the day range", func(t *testing.T) {
		got := Build(commits, prs, time.UTC, date(2026, 2, 12), time.Time{})

		require.Len(t, got.Daily, 1)
		assert.Equal(t, model.DailyActivity{Day: date(2026, 2, 12), PRsMerged: 1}, got.Daily[0])
		assert.Empty(t, got.Hourly)
	})

	t.Run("is independent of input order", func(t *testing.T) {
		reversed := []model.CommitFact{commits[2], commits[1], commits[0]}
		assert.Equal(t, Build(commits, prs, time.UTC, time.Time{}, time.Time{}), Build(reversed, prs, time.UTC, time.Time{}, time.Time{}))
	})
}

type fixture struct {
	db      *memdb.DB
	engine  *Engine
	clock   *clock.Fake
	account model.Account
	repos   map[string]model.Repository
}

func setupEngine(t *testing.T, timezone string) *fixture {
	t.Helper()
	ctx := context.Background()
	db := memdb.New()
	acct, err := db.CreateAccount(ctx, database.CreateAccountParams{GithubLogin: "octo", Timezone: timezone})
	require.NoError(t, err)

	f := &fixture{
		db:      db,
		clock:   clock.NewFake(time.Date(2026, 2, 11, 20, 0, 0, 0, time.UTC)),
		account: acct,
		repos:   map[string]model.Repository{},
	}
	f.engine = NewEngine(db, f.clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i, rs := range []struct{ name, lang string }{{"octo/api", "Go"}, {"octo/web", "TypeScript"}, {"octo/ml", "Python"}} {
		lang := rs.lang
		repo, _, err := db.UpsertRepository(ctx, database.UpsertRepositoryParams{
			AccountID: acct.ID, GithubRepoID: int64(i + 1), FullName: rs.name, PrimaryLanguage: &lang,
		})
		require.NoError(t, err)
		f.repos[rs.name] = repo
	}
	return f
}

func (f *fixture) commit(t *testing.T, repo, sha string, at time.Time, category *model.WorkCategory, tags ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.db.UpsertCommit(ctx, model.Commit{RepositoryID: f.repos[repo].ID, SHA: sha, CommittedAt: at, Additions: 10, Deletions: 3})
	require.NoError(t, err)
	if category == nil {
		return
	}
	for _, c := range f.db.Commits(f.repos[repo].ID) {
		if c.SHA == sha {
			require.NoError(t, f.db.UpdateCommitClassification(ctx, database.UpdateCommitClassificationParams{
				CommitID: c.ID, TechTags: tags, WorkCategory: *category, ClassifiedAt: at,
			}))
		}
	}
}

func TestEngine_Recompute(t *testing.T) {
	ctx := context.Background()
	feature, bugfix, unclassified := model.CategoryFeature, model.CategoryBugfix, model.CategoryUnclassified

	seed := func(t *testing.T) *fixture {
		f := setupEngine(t, "UTC")
		f.commit(t, "octo/api", "a1", time.Date(2026, 2, 8, 9, 0, 0, 0, time.UTC), &feature, "go")
		f.commit(t, "octo/api", "a2", time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC), &bugfix, "go", "postgres")
		f.commit(t, "octo/web", "w1", time.Date(2026, 2, 11, 14, 0, 0, 0, time.UTC), &unclassified)
		f.commit(t, "octo/ml", "m1", time.Date(2026, 2, 11, 15, 0, 0, 0, time.UTC), nil)
		return f
	}

	t.Run("builds rollups and stats", func(t *testing.T) {
		f := seed(t)
		require.NoError(t, f.engine.Recompute(ctx, f.account.ID, model.DateRange{}))

		activity, err := f.engine.CommitActivity(ctx, f.account.ID, Range{From: date(2026, 2, 8), To: date(2026, 2, 11)})
		require.NoError(t, err)
		require.Len(t, activity, 4)
		assert.Equal(t, []int{1, 1, 0, 2}, []int{activity[0].Commits, activity[1].Commits, activity[2].Commits, activity[3].Commits})

		langs, err := f.engine.LanguageBreakdown(ctx, f.account.ID, Range{})
		require.NoError(t, err)
		assert.Equal(t, 100, sumPercent(langs))
		assert.Equal(t, "Go", langs[0].Key)
		assert.Equal(t, 50, langs[0].Percent)

		categories, err := f.engine.CategoryBreakdown(ctx, f.account.ID, Range{})
		require.NoError(t, err)
		require.Len(t, categories, 2, "unclassified and pending commits are excluded")
		assert.Equal(t, 100, sumPercent(categories))

		heatmap, err := f.engine.Heatmap(ctx, f.account.ID, Range{})
		require.NoError(t, err)
		assert.Equal(t, 1, heatmap.Cells[time.Sunday][9], "2026-02-08 is a Sunday")
		assert.Equal(t, 1, heatmap.Cells[time.Wednesday][14])
		assert.Equal(t, 1, heatmap.Max)

		trends, err := f.engine.TechTrends(ctx, f.account.ID, PeriodWeek, Range{}, 0)
		require.NoError(t, err)
		assert.Equal(t, []TrendPoint{
			{Period: date(2026, 2, 2), Tag: "go", Commits: 1},
			{Period: date(2026, 2, 9), Tag: "go", Commits: 1},
			{Period: date(2026, 2, 9), Tag: "postgres", Commits: 1},
		}, trends)

		stats, err := f.engine.Stats(ctx, f.account.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.TotalCommits)
		assert.Equal(t, 1, stats.CurrentStreak)
		assert.Equal(t, 2, stats.LongestStreak)
		assert.Equal(t, 3, stats.ActiveRepositories)
		assert.Equal(t, "Go", stats.TopLanguage)
	})

	t.Run("repeated recompute is stable", func(t *testing.T) {
		f := seed(t)
		require.NoError(t, f.engine.Recompute(ctx, f.account.ID, model.DateRange{}))
		first, err := f.engine.RepositoryBreakdown(ctx, f.account.ID, Range{})
		require.NoError(t, err)

		require.NoError(t, f.engine.Recompute(ctx, f.account.ID, model.DateRange{}))
		require.NoError(t, f.engine.Recompute(ctx, f.account.ID, model.DateRange{
			From: time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2026, 2, 9, 23, 0, 0, 0, time.UTC),
		}))
		second, err := f.engine.RepositoryBreakdown(ctx, f.account.ID, Range{})
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 100, sumPercent(second))
	})

	t.Run("incremental recompute replaces only affected days", func(t *testing.T) {
		f := seed(t)
		require.NoError(t, f.engine.Recompute(ctx, f.account.ID, model.DateRange{}))

		at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
		f.commit(t, "octo/api", "a3", at, nil)
		require.NoError(t, f.engine.Recompute(ctx, f.account.ID, model.DateRange{From: at, To: at}))

		activity, err := f.engine.CommitActivity(ctx, f.account.ID, Range{})
		require.NoError(t, err)
		require.Len(t, activity, 4)
		assert.Equal(t, date(2026, 2, 10), activity[2].Day)
		assert.Equal(t, 1, activity[2].Commits)

		stats, err := f.engine.Stats(ctx, f.account.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.CurrentStreak)
		assert.Equal(t, 5, stats.TotalCommits)
	})

	t.Run("deactivated repositories drop out after a full recompute", func(t *testing.T) {
		f := seed(t)
		require.NoError(t, f.engine.Recompute(ctx, f.account.ID, model.DateRange{}))
		_, err := f.db.SetRepositoryActive(ctx, f.account.ID, f.repos["octo/api"].ID, false)
		require.NoError(t, err)
		require.NoError(t, f.engine.Recompute(ctx, f.account.ID, model.DateRange{}))

		langs, err := f.engine.LanguageBreakdown(ctx, f.account.ID, Range{})
		require.NoError(t, err)
		for _, l := range langs {
			assert.NotEqual(t, "Go", l.Key)
		}
		assert.Equal(t, 100, sumPercent(langs))
	})

	t.Run("streak follows the calendar between syncs", func(t *testing.T) {
		f := seed(t)
		require.NoError(t, f.engine.Recompute(ctx, f.account.ID, model.DateRange{}))

		f.clock.Advance(24 * time.Hour)
		stats, err := f.engine.Stats(ctx, f.account.ID)
		require.NoError(t, err)
		assert.Zero(t, stats.CurrentStreak)
	})

	t.Run("buckets in the account timezone", func(t *testing.T) {
		f := setupEngine(t, "America/New_York")
		// 03:00 UTC on the 9th is the evening of the 8th in New York.
		f.commit(t, "octo/api", "late", time.Date(2026, 2, 9, 3, 0, 0, 0, time.UTC), nil)
		require.NoError(t, f.engine.Recompute(ctx, f.account.ID, model.DateRange{}))

		activity, err := f.engine.CommitActivity(ctx, f.account.ID, Range{})
		require.NoError(t, err)
		require.Len(t, activity, 1)
		assert.Equal(t, date(2026, 2, 8), activity[0].Day)

		heatmap, err := f.engine.Heatmap(ctx, f.account.ID, Range{})
		require.NoError(t, err)
		assert.Equal(t, 1, heatmap.Cells[time.Sunday][22])
	})

	t.Run("rejects inverted ranges", func(t *testing.T) {
		f := setupEngine(t, "UTC")
		_, err := f.engine.CommitActivity(ctx, f.account.ID, Range{From: date(2026, 2, 2), To: date(2026, 2, 1)})
		assert.Error(t, err)
	})

	t.Run("bounds the zero-filled activity span", func(t *testing.T) {
		f := setupEngine(t, "UTC")
		from := date(2026, 1, 1)

		rows, err := f.engine.CommitActivity(ctx, f.account.ID, Range{From: from, To: from.AddDate(0, 0, MaxActivityDays-1)})
		require.NoError(t, err)
		assert.Len(t, rows, MaxActivityDays)

		_, err = f.engine.CommitActivity(ctx, f.account.ID, Range{From: date(1, 1, 1), To: date(9999, 12, 31)})
		var badArg *apperrors.InvalidArgumentError
		assert.ErrorAs(t, err, &badArg)
	})
}
