// internal/aggregate/queries.go
package aggregate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/model"
)

// Period is the bucket width of a trend series.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod accepts "week" and "month"; empty means week.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodWeek:
		return PeriodWeek, nil
	case PeriodMonth:
		return PeriodMonth, nil
	}
	return "", &apperrors.InvalidArgumentError{Field: "period", Reason: fmt.Sprintf("unknown period %q", s)}
}

// Start returns the first day of the period containing day. Weeks start on Monday.
func (p Period) Start(day time.Time) time.Time {
	if p == PeriodMonth {
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// Range bounds a read by local calendar day, both ends inclusive. Zero bounds are open.
type Range struct {
	From time.Time
	To   time.Time
}

// Validate rejects inverted ranges.
func (r Range) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return &apperrors.InvalidArgumentError{Field: "to", Reason: "before from"}
	}
	return nil
}

// MaxActivityDays bounds a zero-filled activity series.
const MaxActivityDays = 5 * 366

// CommitActivity returns the daily series. When both bounds are set, days
// without activity are filled with zero rows, and the span may not exceed
// MaxActivityDays.
func (e *Engine) CommitActivity(ctx context.Context, accountID int64, r Range) ([]model.DailyActivity, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Sub(r.From) >= MaxActivityDays*24*time.Hour {
		return nil, &apperrors.InvalidArgumentError{Field: "to", Reason: fmt.Sprintf("range exceeds %d days", MaxActivityDays)}
	}
	rows, err := e.db.ListDailyActivity(ctx, accountID, r.From, r.To)
	if err != nil {
		return nil, err
	}
	if r.From.IsZero() || r.To.IsZero() {
		return rows, nil
	}
	byDay := make(map[time.Time]model.DailyActivity, len(rows))
	for _, row := range rows {
		byDay[model.Day(row.Day, time.UTC)] = row
	}
	var out []model.DailyActivity
	for day := model.Day(r.From, time.UTC); !day.After(r.To); day = day.AddDate(0, 0, 1) {
		row, ok := byDay[day]
		if !ok {
			row = model.DailyActivity{Day: day}
		}
		out = append(out, row)
	}
	return out, nil
}

func (e *Engine) breakdown(ctx context.Context, accountID int64, dim model.Dimension, r Range, skip string) ([]Share, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	rows, err := e.db.ListDailyBreakdown(ctx, accountID, dim, r.From, r.To)
	if err != nil {
		return nil, err
	}
	sums := map[string]*Share{}
	for _, row := range rows {
		if row.Key == skip {
			continue
		}
		s, ok := sums[row.Key]
		if !ok {
			s = &Share{Key: row.Key}
			sums[row.Key] = s
		}
		s.Commits += row.Commits
		s.Additions += row.Additions
		s.Deletions += row.Deletions
	}
	buckets := make([]Share, 0, len(sums))
	for _, s := range sums {
		buckets = append(buckets, *s)
	}
	return Normalize(buckets), nil
}

// LanguageBreakdown returns each primary language's share of commits.
func (e *Engine) LanguageBreakdown(ctx context.Context, accountID int64, r Range) ([]Share, error) {
	return e.breakdown(ctx, accountID, model.DimensionLanguage, r, "")
}

// RepositoryBreakdown returns each repository's share of commits.
func (e *Engine) RepositoryBreakdown(ctx context.Context, accountID int64, r Range) ([]Share, error) {
	return e.breakdown(ctx, accountID, model.DimensionRepository, r, "")
}

// CategoryBreakdown returns the work-category distribution of classified commits.
func (e *Engine) CategoryBreakdown(ctx context.Context, accountID int64, r Range) ([]Share, error) {
	return e.breakdown(ctx, accountID, model.DimensionCategory, r, string(model.CategoryUnclassified))
}

// Heatmap is a weekday by hour grid of commit counts in the account timezone.
// Cells[0] is Sunday.
type Heatmap struct {
	Cells [7][24]int `json:"cells"`
	Max   int        `json:"max"`
}

func (e *Engine) Heatmap(ctx context.Context, accountID int64, r Range) (Heatmap, error) {
	var h Heatmap
	if err := r.Validate(); err != nil {
		return h, err
	}
	rows, err := e.db.ListHourlyActivity(ctx, accountID, r.From, r.To)
	if err != nil {
		return h, err
	}
	for _, row := range rows {
		cell := &h.Cells[row.Day.Weekday()][row.Hour]
		*cell += row.Commits
		h.Max = max(h.Max, *cell)
	}
	return h, nil
}

// TrendPoint counts commits carrying a tag within one period.
type TrendPoint struct {
	Period  time.Time `json:"period"`
	Tag     string    `json:"tag"`
	Commits int       `json:"commits"`
}

// TechTrends buckets technology tags by week or month, limited to the top
// tags over the whole range when top > 0.
func (e *Engine) TechTrends(ctx context.Context, accountID int64, p Period, r Range, top int) ([]TrendPoint, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	rows, err := e.db.ListDailyTechTags(ctx, accountID, r.From, r.To)
	if err != nil {
		return nil, err
	}

	totals := map[string]int{}
	for _, row := range rows {
		totals[row.Tag] += row.Commits
	}
	keep := map[string]bool{}
	tags := make([]string, 0, len(totals))
	for tag := range totals {
		tags = append(tags, tag)
	}
	slices.SortFunc(tags, func(a, b string) int {
		return cmp.Or(cmp.Compare(totals[b], totals[a]), cmp.Compare(a, b))
	})
	if top > 0 && len(tags) > top {
		tags = tags[:top]
	}
	for _, tag := range tags {
		keep[tag] = true
	}

	type key struct {
		period time.Time
		tag    string
	}
	sums := map[key]int{}
	for _, row := range rows {
		if keep[row.Tag] {
			sums[key{p.Start(model.Day(row.Day, time.UTC)), row.Tag}] += row.Commits
		}
	}
	out := make([]TrendPoint, 0, len(sums))
	for k, n := range sums {
		out = append(out, TrendPoint{Period: k.period, Tag: k.tag, Commits: n})
	}
	slices.SortFunc(out, func(a, b TrendPoint) int {
		return cmp.Or(a.Period.Compare(b.Period), cmp.Compare(a.Tag, b.Tag))
	})
	return out, nil
}

// Stats is the dashboard summary.
type Stats struct {
	TotalCommits       int        `json:"total_commits"`
	ActiveRepositories int        `json:"active_repositories"`
	CurrentStreak      int        `json:"current_streak"`
	LongestStreak      int        `json:"longest_streak"`
	TopLanguage        string     `json:"top_language,omitempty"`
	ComputedAt         *time.Time `json:"computed_at,omitempty"`
	LastSyncedAt       *time.Time `json:"last_synced_at,omitempty"`
}

// Stats reads the stored snapshot. When the snapshot was taken on an earlier
// local day, the current streak is recomputed against today.
func (e *Engine) Stats(ctx context.Context, accountID int64) (Stats, error) {
	account, err := e.db.GetAccount(ctx, accountID)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{LastSyncedAt: account.LastSyncedAt}

	repos, err := e.db.ListRepositories(ctx, accountID, true)
	if err != nil {
		return Stats{}, err
	}
	out.ActiveRepositories = len(repos)

	snapshot, err := e.db.GetAccountStats(ctx, accountID)
	var nf *apperrors.NotFoundError
	if errors.As(err, &nf) {
		return out, nil
	}
	if err != nil {
		return Stats{}, err
	}
	out.TotalCommits = snapshot.TotalCommits
	out.CurrentStreak = snapshot.CurrentStreak
	out.LongestStreak = snapshot.LongestStreak
	computed := snapshot.ComputedAt
	out.ComputedAt = &computed

	today := model.Day(e.clock.Now(), account.Location())
	if !model.Day(snapshot.AsOf, time.UTC).Equal(today) {
		days, err := e.db.ListDailyActivity(ctx, accountID, time.Time{}, time.Time{})
		if err != nil {
			return Stats{}, err
		}
		out.CurrentStreak = computeStats(days, today).CurrentStreak
	}

	langs, err := e.LanguageBreakdown(ctx, accountID, Range{})
	if err != nil {
		return Stats{}, err
	}
	if len(langs) > 0 {
		out.TopLanguage = langs[0].Key
	}
	return out, nil
}

// RepositoryStack is a repository with its stored tech-stack analysis.
type RepositoryStack struct {
	RepositoryID    int64          `json:"repository_id"`
	FullName        string         `json:"full_name"`
	PrimaryLanguage *string        `json:"primary_language,omitempty"`
	Languages       map[string]any `json:"languages,omitempty"`
	Analysis        map[string]any `json:"analysis,omitempty"`
}

// TechStacks lists active repositories with their languages and stack analysis.
func (e *Engine) TechStacks(ctx context.Context, accountID int64) ([]RepositoryStack, error) {
	repos, err := e.db.ListRepositories(ctx, accountID, true)
	if err != nil {
		return nil, err
	}
	out := make([]RepositoryStack, 0, len(repos))
	for _, r := range repos {
		s := RepositoryStack{RepositoryID: r.ID, FullName: r.FullName, PrimaryLanguage: r.PrimaryLanguage}
		s.Languages, _ = r.Metadata[model.MetaLanguages].(map[string]any)
		s.Analysis, _ = r.Metadata[model.MetaTechAnalysis].(map[string]any)
		out = append(out, s)
	}
	return out, nil
}
