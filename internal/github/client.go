// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github-activity-sync/internal/clock"
	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/metrics"
	"github-activity-sync/internal/model"
)

const (
	perPage = 100

	defaultMaxAttempts = 5
	defaultBackoffBase = time.Second
	defaultMaxWait     = 15 * time.Minute

	// Consecutive rate-limit responses tolerated for one call.
	maxRateLimitWaits = 3

	maxDetailFiles = 50
	maxPatchLength = 500
)

// errEmptyRepository is GitHub's 409 for listing commits of a repository with no commits.
var errEmptyRepository = errors.New("repository is empty")

// Client is a wrapper around the go-github client that adds quota tracking
// and retries. It is safe for concurrent use.
type Client struct {
	gh          *github.Client
	logger      *slog.Logger
	clock       clock.Clock
	quota       *QuotaTracker
	maxAttempts int
	backoffBase time.Duration
}

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		if baseURL == "" {
			return nil
		}
		gh, err := c.gh.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return fmt.Errorf("invalid github base url: %w", err)
		}
		c.gh = gh
		return nil
	}
}

// WithQuota shares a quota tracker between clients using the same token.
func WithQuota(q *QuotaTracker) Option {
	return func(c *Client) error {
		c.quota = q
		return nil
	}
}

// WithClock sets the clock used for quota waits and backoff sleeps.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) error {
		c.clock = clk
		return nil
	}
}

// WithRetry sets the attempt cap and the exponential backoff base for transient failures.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(c *Client) error {
		if maxAttempts < 1 {
			return errors.New("max attempts must be at least 1")
		}
		c.maxAttempts = maxAttempts
		c.backoffBase = base
		return nil
	}
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger, opts ...Option) (*Client, error) {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	c := &Client{
		gh:          github.NewClient(tc),
		logger:      logger,
		clock:       clock.Real{},
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.quota == nil {
		c.quota = NewQuotaTracker(c.clock, defaultMaxWait)
	}
	return c, nil
}

// Page is one page of a listing. Next is the page to request after this one;
// zero means the listing is exhausted.
type Page[T any] struct {
	Items []T
	Next  int
}

// Done reports whether this was the last page.
func (p Page[T]) Done() bool { return p.Next == 0 }

// FetchRepositoriesPage lists repositories owned by the authenticated user.
func (c *Client) FetchRepositoriesPage(ctx context.Context, page int) (Page[model.Repository], error) {
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Affiliation: "owner",
		Sort:        "pushed",
		Direction:   "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}
	var repos []*github.Repository
	var resp *github.Response
	err := c.do(ctx, "list repositories", func(ctx context.Context) (*github.Response, error) {
		var err error
		repos, resp, err = c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		return resp, err
	})
	if err != nil {
		return Page[model.Repository]{}, err
	}
	items := make([]model.Repository, 0, len(repos))
	for _, r := range repos {
		items = append(items, toInternalRepository(r))
	}
	return Page[model.Repository]{Items: items, Next: resp.NextPage}, nil
}

// CommitQuery bounds a commit listing.
type CommitQuery struct {
	Owner  string
	Repo   string
	Since  time.Time
	Until  time.Time
	Author string
}

// FetchCommitsPage lists commits newest first. Listed commits carry no stats;
// use GetCommitDetail for those.
func (c *Client) FetchCommitsPage(ctx context.Context, q CommitQuery, page int) (Page[model.Commit], error) {
	opts := &github.CommitsListOptions{
		Since:       q.Since,
		Until:       q.Until,
		Author:      q.Author,
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}
	c.logger.Debug("Fetching commits page", "owner", q.Owner, "repo", q.Repo, "page", page)

	var commits []*github.RepositoryCommit
	var resp *github.Response
	err := c.do(ctx, "list commits", func(ctx context.Context) (*github.Response, error) {
		var err error
		commits, resp, err = c.gh.Repositories.ListCommits(ctx, q.Owner, q.Repo, opts)
		return resp, err
	})
	if errors.Is(err, errEmptyRepository) {
		return Page[model.Commit]{}, nil
	}
	if err != nil {
		return Page[model.Commit]{}, err
	}
	items := make([]model.Commit, 0, len(commits))
	for _, commit := range commits {
		items = append(items, toInternalCommit(commit))
	}
	return Page[model.Commit]{Items: items, Next: resp.NextPage}, nil
}

// GetCommitDetail fetches one commit with its stats and a truncated file list.
func (c *Client) GetCommitDetail(ctx context.Context, owner, repo, sha string) (model.Commit, error) {
	var commit *github.RepositoryCommit
	err := c.do(ctx, "get commit", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		commit, resp, err = c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
		return resp, err
	})
	if err != nil {
		return model.Commit{}, err
	}
	out := toInternalCommit(commit)
	out.Additions = commit.GetStats().GetAdditions()
	out.Deletions = commit.GetStats().GetDeletions()
	out.FilesChanged = len(commit.Files)
	for i, f := range commit.Files {
		if i == maxDetailFiles {
			break
		}
		out.Details.Files = append(out.Details.Files, model.FileChange{
			Filename:  f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			Patch:     truncate(f.GetPatch(), maxPatchLength),
		})
	}
	return out, nil
}

// FetchPullRequestsPage lists pull requests of every state, most recently updated first.
func (c *Client) FetchPullRequestsPage(ctx context.Context, owner, repo string, page int) (Page[model.PullRequest], error) {
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}
	var prs []*github.PullRequest
	var resp *github.Response
	err := c.do(ctx, "list pull requests", func(ctx context.Context) (*github.Response, error) {
		var err error
		prs, resp, err = c.gh.PullRequests.List(ctx, owner, repo, opts)
		return resp, err
	})
	if err != nil {
		return Page[model.PullRequest]{}, err
	}
	items := make([]model.PullRequest, 0, len(prs))
	for _, pr := range prs {
		items = append(items, toInternalPullRequest(pr))
	}
	return Page[model.PullRequest]{Items: items, Next: resp.NextPage}, nil
}

// GetLanguages returns bytes of code per language.
func (c *Client) GetLanguages(ctx context.Context, owner, repo string) (map[string]int, error) {
	var langs map[string]int
	err := c.do(ctx, "list languages", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		langs, resp, err = c.gh.Repositories.ListLanguages(ctx, owner, repo)
		return resp, err
	})
	return langs, err
}

// GetFileContent returns the decoded content of a file on the default branch.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	var file *github.RepositoryContent
	err := c.do(ctx, "get content", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		file, _, resp, err = c.gh.Repositories.GetContents(ctx, owner, repo, path, nil)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", &apperrors.UpstreamNotFound{Resource: owner + "/" + repo + "/" + path}
	}
	return file.GetContent()
}

// do runs call with quota waits and bounded exponential backoff for
// transient failures. Authentication, not-found and exhausted quota errors
// are returned without retrying.
func (c *Client) do(ctx context.Context, op string, call func(ctx context.Context) (*github.Response, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffBase
	b.Multiplier = 2
	b.MaxInterval = 32 * c.backoffBase
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := 0
	operation := func() error {
		attempts++
		for rateLimited := 0; ; rateLimited++ {
			if err := c.quota.Wait(ctx); err != nil {
				metrics.GithubRequests.WithLabelValues(op, "rate_limited").Inc()
				return backoff.Permanent(err)
			}
			resp, err := call(ctx)
			if resp != nil {
				c.quota.Update(resp.Rate)
			}
			if err == nil {
				metrics.GithubRequests.WithLabelValues(op, "ok").Inc()
				return nil
			}
			if reset, ok := rateLimitReset(err, c.clock.Now()); ok && rateLimited < maxRateLimitWaits {
				c.logger.Warn("GitHub rate limit hit, waiting for reset", "op", op, "reset", reset)
				c.quota.Exhaust(reset)
				continue
			}
			return c.classify(op, err)
		}
	}
	notify := func(err error, wait time.Duration) {
		metrics.GithubRequests.WithLabelValues(op, "retry").Inc()
		c.logger.Warn("Retrying GitHub request", "op", op, "attempt", attempts, "wait", wait, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, policy, notify, &clockTimer{clock: c.clock})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var (
		authErr  *apperrors.AuthenticationError
		notFound *apperrors.UpstreamNotFound
		rlErr    *apperrors.RateLimitExceeded
		permErr  *permanentError
	)
	switch {
	case errors.As(err, &authErr), errors.As(err, &notFound), errors.As(err, &rlErr), errors.Is(err, errEmptyRepository):
		return err
	case errors.As(err, &permErr):
		metrics.GithubRequests.WithLabelValues(op, "failed").Inc()
		return fmt.Errorf("%s: %w", op, permErr.err)
	default:
		metrics.GithubRequests.WithLabelValues(op, "failed").Inc()
		return &apperrors.TransientFetchError{Op: op, Attempts: attempts, Err: err}
	}
}

// permanentError marks a client error that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// classify maps a go-github error onto the error taxonomy. Errors wrapped in
// backoff.Permanent stop the retry loop.
func (c *Client) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil {
		return err // network failure, retry
	}
	status := ghErr.Response.StatusCode
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		metrics.GithubRequests.WithLabelValues(op, "auth").Inc()
		return backoff.Permanent(&apperrors.AuthenticationError{StatusCode: status, Message: ghErr.Message})
	case status == http.StatusNotFound || status == http.StatusGone:
		metrics.GithubRequests.WithLabelValues(op, "not_found").Inc()
		resource := ""
		if ghErr.Response.Request != nil {
			resource = ghErr.Response.Request.URL.Path
		}
		return backoff.Permanent(&apperrors.UpstreamNotFound{Resource: resource})
	case status == http.StatusConflict:
		return backoff.Permanent(errEmptyRepository)
	case status >= 500:
		return err
	default:
		return backoff.Permanent(&permanentError{err: err})
	}
}

// rateLimitReset extracts the instant a rate-limit error clears.
func rateLimitReset(err error, now time.Time) (time.Time, bool) {
	var rlErr *github.RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.Rate.Reset.Time, true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		if abuseErr.RetryAfter != nil {
			return now.Add(*abuseErr.RetryAfter), true
		}
		return now.Add(time.Minute), true
	}
	return time.Time{}, false
}

// clockTimer drives backoff waits from a clock.Clock.
type clockTimer struct {
	clock clock.Clock
	c     <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) { t.c = t.clock.After(d) }
func (t *clockTimer) Stop()                 {}
func (t *clockTimer) C() <-chan time.Time   { return t.c }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// toInternalRepository translates a github.Repository object to our internal model.Repository.
func toInternalRepository(r *github.Repository) model.Repository {
	repo := model.Repository{
		GithubRepoID:    r.GetID(),
		FullName:        r.GetFullName(),
		Description:     r.Description,
		PrimaryLanguage: r.Language,
		IsPrivate:       r.GetPrivate(),
		IsFork:          r.GetFork(),
	}
	if r.PushedAt != nil {
		t := r.PushedAt.Time
		repo.PushedAt = &t
	}
	return repo
}

// toInternalCommit translates a github.RepositoryCommit object to our internal model.Commit.
func toInternalCommit(c *github.RepositoryCommit) model.Commit {
	return model.Commit{
		SHA:         c.GetSHA(),
		AuthorLogin: c.GetAuthor().GetLogin(),
		AuthorName:  c.GetCommit().GetAuthor().GetName(),
		AuthorEmail: c.GetCommit().GetAuthor().GetEmail(),
		Message:     c.GetCommit().GetMessage(),
		URL:         c.GetHTMLURL(),
		CommittedAt: c.GetCommit().GetAuthor().GetDate().Time,
	}
}

func toInternalPullRequest(pr *github.PullRequest) model.PullRequest {
	out := model.PullRequest{
		GithubPRID:   pr.GetID(),
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		State:        model.PRState(pr.GetState()),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		PRCreatedAt:  pr.GetCreatedAt().Time,
		PRUpdatedAt:  pr.GetUpdatedAt().Time,
		RawData: map[string]any{
			"html_url": pr.GetHTMLURL(),
			"draft":    pr.GetDraft(),
			"user":     pr.GetUser().GetLogin(),
		},
	}
	if pr.ClosedAt != nil {
		t := pr.ClosedAt.Time
		out.ClosedAt = &t
	}
	if pr.MergedAt != nil {
		t := pr.MergedAt.Time
		out.MergedAt = &t
		out.State = model.PRStateMerged
	}
	return out
}
