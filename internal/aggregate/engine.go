// internal/aggregate/engine.go

// Package aggregate maintains the per-account rollup tables the dashboard
// reads. Only this package writes them.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github-activity-sync/internal/clock"
	"github-activity-sync/internal/database"
	"github-activity-sync/internal/metrics"
	"github-activity-sync/internal/model"
)

// Engine recomputes rollups. Recomputes of one account are serialized;
// different accounts proceed in parallel.
type Engine struct {
	db     database.Store
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewEngine(db database.Store, clk clock.Clock, logger *slog.Logger) *Engine {
	return &Engine{db: db, clock: clk, logger: logger, locks: map[int64]*sync.Mutex{}}
}

func (e *Engine) lock(accountID int64) func() {
	e.mu.Lock()
	l, ok := e.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[accountID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Recompute rebuilds every rollup bucket of the local days touched by
// affected, then refreshes the account stats. A zero range rebuilds
// everything. Buckets are replaced inside one transaction, so readers never
// see a half-written day and repeated runs are idempotent.
func (e *Engine) Recompute(ctx context.Context, accountID int64, affected model.DateRange) error {
	unlock := e.lock(accountID)
	defer unlock()
	start := time.Now()
	defer func() { metrics.AggregationDuration.Observe(time.Since(start).Seconds()) }()

	account, err := e.db.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	loc := account.Location()

	var fromDay, toDay, from, to time.Time
	if !affected.From.IsZero() {
		fromDay = model.Day(affected.From, loc)
		from = model.DayStart(fromDay, loc)
	}
	if !affected.To.IsZero() {
		toDay = model.Day(affected.To, loc)
		to = model.DayStart(toDay.AddDate(0, 0, 1), loc)
	}

	err = e.db.InTx(ctx, func(q database.Querier) error {
		commits, err := q.ListCommitFacts(ctx, accountID, from, to)
		if err != nil {
			return fmt.Errorf("failed to list commits: %w", err)
		}
		prs, err := q.ListPullRequestFacts(ctx, accountID, from, to)
		if err != nil {
			return fmt.Errorf("failed to list pull requests: %w", err)
		}
		rollups := Build(commits, prs, loc, fromDay, toDay)

		if err := q.ReplaceDailyActivity(ctx, accountID, fromDay, toDay, rollups.Daily); err != nil {
			return err
		}
		if err := q.ReplaceDailyBreakdown(ctx, accountID, fromDay, toDay, rollups.Breakdown); err != nil {
			return err
		}
		if err := q.ReplaceHourlyActivity(ctx, accountID, fromDay, toDay, rollups.Hourly); err != nil {
			return err
		}
		if err := q.ReplaceDailyTechTags(ctx, accountID, fromDay, toDay, rollups.TechTags); err != nil {
			return err
		}
		return e.refreshStats(ctx, q, account)
	})
	if err != nil {
		return fmt.Errorf("failed to recompute rollups: %w", err)
	}
	e.logger.Info("Rollups recomputed", "account_id", accountID, "from", fromDay, "to", toDay, "duration", time.Since(start))
	return nil
}

// RefreshStats recomputes the account stats snapshot without touching the
// day buckets, so the streak follows the calendar even when nothing synced.
func (e *Engine) RefreshStats(ctx context.Context, accountID int64) error {
	unlock := e.lock(accountID)
	defer unlock()
	account, err := e.db.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return e.refreshStats(ctx, e.db, account)
}

func (e *Engine) refreshStats(ctx context.Context, q database.Querier, account model.Account) error {
	days, err := q.ListDailyActivity(ctx, account.ID, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	now := e.clock.Now()
	stats := computeStats(days, model.Day(now, account.Location()))
	stats.AccountID = account.ID
	stats.ComputedAt = now
	return q.UpsertAccountStats(ctx, stats)
}

func computeStats(days []model.DailyActivity, today time.Time) model.AccountStats {
	active := map[time.Time]bool{}
	var activeDays []time.Time
	total := 0
	for _, d := range days {
		if d.Commits == 0 {
			continue
		}
		day := model.Day(d.Day, time.UTC)
		active[day] = true
		activeDays = append(activeDays, day)
		total += d.Commits
	}
	return model.AccountStats{
		TotalCommits:  total,
		CurrentStreak: CurrentStreak(active, today),
		LongestStreak: LongestStreak(activeDays),
		AsOf:          today,
	}
}
