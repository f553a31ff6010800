// internal/aggregate/normalize.go
package aggregate

import (
	"cmp"
	"slices"
	"time"
)

// Share is one bucket of a percentage breakdown.
type Share struct {
	Key       string `json:"key"`
	Commits   int    `json:"commits"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Percent   int    `json:"percent"`
}

// Normalize assigns integer percentages by commit count. Each bucket gets
// floor(count*100/total) and the remainder goes to the largest bucket, ties
// broken by key, so the percentages sum to exactly 100 whenever any bucket
// is non-empty. Buckets are returned largest first. Empty buckets are dropped.
func Normalize(buckets []Share) []Share {
	out := make([]Share, 0, len(buckets))
	total := 0
	for _, b := range buckets {
		if b.Commits > 0 {
			out = append(out, b)
			total += b.Commits
		}
	}
	slices.SortFunc(out, func(a, b Share) int {
		return cmp.Or(cmp.Compare(b.Commits, a.Commits), cmp.Compare(a.Key, b.Key))
	})
	if total == 0 {
		return out
	}
	assigned := 0
	for i := range out {
		out[i].Percent = out[i].Commits * 100 / total
		assigned += out[i].Percent
	}
	out[0].Percent += 100 - assigned
	return out
}

// CurrentStreak counts consecutive days with activity ending today. A day
// without activity, including today, ends the streak.
func CurrentStreak(active map[time.Time]bool, today time.Time) int {
	streak := 0
	for day := today; active[day]; day = day.AddDate(0, 0, -1) {
		streak++
	}
	return streak
}

// LongestStreak returns the longest run of consecutive active days.
func LongestStreak(days []time.Time) int {
	sorted := slices.Clone(days)
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })
	sorted = slices.CompactFunc(sorted, func(a, b time.Time) bool { return a.Equal(b) })

	longest, run := 0, 0
	for i, day := range sorted {
		if i > 0 && sorted[i-1].AddDate(0, 0, 1).Equal(day) {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
	}
	return longest
}
