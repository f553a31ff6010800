// internal/model/rollups.go
package model

import "time"

// Day truncates t to its calendar day in loc, returned as midnight UTC so it
// round-trips through a SQL DATE column unchanged.
func Day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayStart returns the instant the given calendar day begins in loc.
func DayStart(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DateRange is an inclusive range of instants. A zero bound is open.
type DateRange struct {
	From time.Time `json:"from,omitzero"`
	To   time.Time `json:"to,omitzero"`
}

// IsZero reports whether the range is unbounded on both ends.
func (r DateRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

// Extend widens r to cover t.
func (r DateRange) Extend(t time.Time) DateRange {
	if r.From.IsZero() || t.Before(r.From) {
		r.From = t
	}
	if r.To.IsZero() || t.After(r.To) {
		r.To = t
	}
	return r
}

// Union merges two ranges; an empty side is ignored.
func (r DateRange) Union(o DateRange) DateRange {
	if o.IsZero() {
		return r
	}
	if r.IsZero() {
		return o
	}
	return r.Extend(o.From).Extend(o.To)
}

// Dimension names a breakdown axis of the daily rollup.
type Dimension string

const (
	DimensionLanguage   Dimension = "language"
	DimensionRepository Dimension = "repository"
	DimensionCategory   Dimension = "category"
)

// CommitFact is the joined row the aggregation engine reads for each commit.
type CommitFact struct {
	CommitID        int64
	RepositoryID    int64
	RepositoryName  string
	PrimaryLanguage string
	RepoActive      bool
	CommittedAt     time.Time
	Additions       int
	Deletions       int
	TechTags        []string
	WorkCategory    *WorkCategory
}

// PullRequestFact is the subset of a pull request used by rollups.
type PullRequestFact struct {
	RepositoryID int64
	RepoActive   bool
	CreatedAt    time.Time
	MergedAt     *time.Time
}

// DailyActivity is the per-day commit rollup.
type DailyActivity struct {
	Day       time.Time `json:"day"`
	Commits   int       `json:"commits"`
	Additions int       `json:"additions"`
	Deletions int       `json:"deletions"`
	PRsOpened int       `json:"prs_opened"`
	PRsMerged int       `json:"prs_merged"`
}

// DailyBreakdown is a per-day count along one dimension.
type DailyBreakdown struct {
	Day       time.Time `json:"day"`
	Dimension Dimension `json:"dimension"`
	Key       string    `json:"key"`
	Commits   int       `json:"commits"`
	Additions int       `json:"additions"`
	Deletions int       `json:"deletions"`
}

// HourlyActivity counts commits per local day and hour.
type HourlyActivity struct {
	Day     time.Time `json:"day"`
	Hour    int       `json:"hour"`
	Commits int       `json:"commits"`
}

// DailyTechTag counts classified commits per day carrying a technology tag.
type DailyTechTag struct {
	Day     time.Time `json:"day"`
	Tag     string    `json:"tag"`
	Commits int       `json:"commits"`
}

// AccountStats is the per-account snapshot written at the end of each recompute.
type AccountStats struct {
	AccountID     int64     `json:"account_id"`
	TotalCommits  int       `json:"total_commits"`
	CurrentStreak int       `json:"current_streak"`
	LongestStreak int       `json:"longest_streak"`
	AsOf          time.Time `json:"as_of"`
	ComputedAt    time.Time `json:"computed_at"`
}
