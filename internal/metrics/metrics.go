// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync job metrics
	SyncJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_jobs_total",
			Help: "Sync jobs by terminal status and type",
		},
		[]string{"status", "job_type"},
	)

	SyncJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_job_duration_seconds",
			Help:    "Wall time from job start to terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2.3h
		},
		[]string{"status"},
	)

	SyncItemsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_items_fetched_total",
			Help: "Commits and pull requests durably upserted",
		},
		[]string{"kind"}, // "commit", "pull_request"
	)

	SyncRepositoryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_repository_errors_total",
			Help: "Per-repository failures recorded without aborting the job",
		},
		[]string{"kind"},
	)

	StaleJobsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_stale_jobs_swept_total",
			Help: "Jobs failed by the timeout sweeper",
		},
	)

	// GitHub client metrics
	GithubRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "github_requests_total",
			Help: "GitHub API calls by operation and outcome",
		},
		[]string{"operation", "outcome"}, // "ok", "retry", "auth", "not_found", "rate_limited", "failed"
	)

	GithubQuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "github_quota_remaining",
			Help: "Most recently reported remaining GitHub quota",
		},
	)

	GithubQuotaWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "github_quota_wait_seconds",
			Help:    "Time spent waiting for the GitHub quota to reset",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11),
		},
	)

	// Classification metrics
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifications_total",
			Help: "Commit classifications by result",
		},
		[]string{"result"}, // "classified", "degraded"
	)

	ClassifierBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classifier_breaker_state",
			Help: "AI circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Aggregation metrics
	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregation_recompute_duration_seconds",
			Help:    "Duration of rollup recomputation",
			Buckets: prometheus.DefBuckets,
		},
	)
)
