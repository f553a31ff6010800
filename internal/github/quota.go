// internal/github/quota.go
package github

import (
	"context"
	"sync"
	"time"

	"github.com/google/go-github/v62/github"

	"github-activity-sync/internal/clock"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/metrics"
)

// QuotaTracker holds the last quota GitHub reported for one token. It is
// shared by every goroutine issuing requests with that token.
type QuotaTracker struct {
	mu        sync.Mutex
	clock     clock.Clock
	maxWait   time.Duration
	remaining int
	reset     time.Time
	known     bool
}

func NewQuotaTracker(c clock.Clock, maxWait time.Duration) *QuotaTracker {
	return &QuotaTracker{clock: c, maxWait: maxWait}
}

// Update records the quota from a response's rate headers.
func (q *QuotaTracker) Update(rate github.Rate) {
	if rate.Limit == 0 && rate.Reset.IsZero() {
		return // no rate headers on this response
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remaining = rate.Remaining
	q.reset = rate.Reset.Time
	q.known = true
	metrics.GithubQuotaRemaining.Set(float64(rate.Remaining))
}

// Exhaust marks the quota as used up until reset.
func (q *QuotaTracker) Exhaust(reset time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remaining = 0
	q.reset = reset
	q.known = true
}

// Snapshot returns the tracked state.
func (q *QuotaTracker) Snapshot() (remaining int, reset time.Time, known bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining, q.reset, q.known
}

// Wait blocks until a request may be issued. When the quota is exhausted it
// sleeps until the reset time, or fails with RateLimitExceeded if that is
// further away than the maximum wait.
func (q *QuotaTracker) Wait(ctx context.Context) error {
	q.mu.Lock()
	now := q.clock.Now()
	if !q.known || q.remaining > 0 || !now.Before(q.reset) {
		q.mu.Unlock()
		return nil
	}
	reset := q.reset
	q.mu.Unlock()

	wait := reset.Sub(now)
	if wait > q.maxWait {
		return &apperrors.RateLimitExceeded{ResetAt: reset, MaxWait: q.maxWait}
	}
	metrics.GithubQuotaWaitSeconds.Observe(wait.Seconds())
	return clock.Sleep(ctx, q.clock, wait)
}

// QuotaRegistry hands out one tracker per account, since quota is per token.
type QuotaRegistry struct {
	mu       sync.Mutex
	clock    clock.Clock
	maxWait  time.Duration
	trackers map[int64]*QuotaTracker
}

func NewQuotaRegistry(c clock.Clock, maxWait time.Duration) *QuotaRegistry {
	return &QuotaRegistry{clock: c, maxWait: maxWait, trackers: map[int64]*QuotaTracker{}}
}

// For returns the tracker of an account, creating it on first use.
func (r *QuotaRegistry) For(accountID int64) *QuotaTracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[accountID]
	if !ok {
		t = NewQuotaTracker(r.clock, r.maxWait)
		r.trackers[accountID] = t
	}
	return t
}
