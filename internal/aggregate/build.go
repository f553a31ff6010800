// internal/aggregate/build.go
package aggregate

import (
	"cmp"
	"slices"
	"time"

	"github-activity-sync/internal/model"
)

// UnknownLanguage buckets commits of repositories without a primary language.
const UnknownLanguage = "Unknown"

// Rollups is one rebuilt set of rollup rows.
type Rollups struct {
	Daily     []model.DailyActivity
	Breakdown []model.DailyBreakdown
	Hourly    []model.HourlyActivity
	TechTags  []model.DailyTechTag
}

type breakdownKey struct {
	day time.Time
	dim model.Dimension
	key string
}

type hourKey struct {
	day  time.Time
	hour int
}

type tagKey struct {
	day time.Time
	tag string
}

// Build buckets commits and pull requests into local calendar days of loc.
// Rows of inactive repositories and events outside [fromDay, toDay] are
// dropped; a zero bound is open. Output is sorted and independent of input
// order, so rebuilding the same facts always yields the same rows.
func Build(commits []model.CommitFact, prs []model.PullRequestFact, loc *time.Location, fromDay, toDay time.Time) Rollups {
	inRange := func(day time.Time) bool {
		return (fromDay.IsZero() || !day.Before(fromDay)) && (toDay.IsZero() || !day.After(toDay))
	}

	daily := map[time.Time]*model.DailyActivity{}
	dayRow := func(day time.Time) *model.DailyActivity {
		row, ok := daily[day]
		if !ok {
			row = &model.DailyActivity{Day: day}
			daily[day] = row
		}
		return row
	}
	breakdown := map[breakdownKey]*model.DailyBreakdown{}
	hourly := map[hourKey]int{}
	tags := map[tagKey]int{}

	addBreakdown := func(day time.Time, dim model.Dimension, key string, c model.CommitFact) {
		k := breakdownKey{day, dim, key}
		row, ok := breakdown[k]
		if !ok {
			row = &model.DailyBreakdown{Day: day, Dimension: dim, Key: key}
			breakdown[k] = row
		}
		row.Commits++
		row.Additions += c.Additions
		row.Deletions += c.Deletions
	}

	for _, c := range commits {
		if !c.RepoActive {
			continue
		}
		day := model.Day(c.CommittedAt, loc)
		if !inRange(day) {
			continue
		}
		row := dayRow(day)
		row.Commits++
		row.Additions += c.Additions
		row.Deletions += c.Deletions

		lang := c.PrimaryLanguage
		if lang == "" {
			lang = UnknownLanguage
		}
		addBreakdown(day, model.DimensionLanguage, lang, c)
		addBreakdown(day, model.DimensionRepository, c.RepositoryName, c)
		if c.WorkCategory != nil {
			addBreakdown(day, model.DimensionCategory, string(*c.WorkCategory), c)
		}

		hourly[hourKey{day, c.CommittedAt.In(loc).Hour()}]++
		for _, tag := range c.TechTags {
			tags[tagKey{day, tag}]++
		}
	}

	for _, pr := range prs {
		if !pr.RepoActive {
			continue
		}
		if day := model.Day(pr.CreatedAt, loc); inRange(day) {
			dayRow(day).PRsOpened++
		}
		if pr.MergedAt != nil {
			if day := model.Day(*pr.MergedAt, loc); inRange(day) {
				dayRow(day).PRsMerged++
			}
		}
	}

	var out Rollups
	for _, row := range daily {
		out.Daily = append(out.Daily, *row)
	}
	slices.SortFunc(out.Daily, func(a, b model.DailyActivity) int { return a.Day.Compare(b.Day) })

	for _, row := range breakdown {
		out.Breakdown = append(out.Breakdown, *row)
	}
	slices.SortFunc(out.Breakdown, func(a, b model.DailyBreakdown) int {
		return cmp.Or(a.Day.Compare(b.Day), cmp.Compare(a.Dimension, b.Dimension), cmp.Compare(a.Key, b.Key))
	})

	for k, n := range hourly {
		out.Hourly = append(out.Hourly, model.HourlyActivity{Day: k.day, Hour: k.hour, Commits: n})
	}
	slices.SortFunc(out.Hourly, func(a, b model.HourlyActivity) int {
		return cmp.Or(a.Day.Compare(b.Day), cmp.Compare(a.Hour, b.Hour))
	})

	for k, n := range tags {
		out.TechTags = append(out.TechTags, model.DailyTechTag{Day: k.day, Tag: k.tag, Commits: n})
	}
	slices.SortFunc(out.TechTags, func(a, b model.DailyTechTag) int {
		return cmp.Or(a.Day.Compare(b.Day), cmp.Compare(a.Tag, b.Tag))
	})
	return out
}
